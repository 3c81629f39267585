package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// AuditStore writes audit entries to the audit_logs table.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) RecordAccess(ctx context.Context, e AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs
			(tenant_id, user_id, action, table_name, record_id, ip_address, user_agent, status, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		nullUUID(e.TenantID), parseUserID(e.UserID), e.Action, e.TableName, nullString(e.RecordID),
		e.IPAddress, e.UserAgent, e.StatusCode, nullString(e.RequestID), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", db.Classify(err))
	}
	return nil
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// parseUserID drops subjects that are not uuids, such as dev users.
func parseUserID(raw string) *uuid.UUID {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
