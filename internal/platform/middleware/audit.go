package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
)

// AuditRecordKey lets a handler name the record it created, for routes
// whose path carries no id.
const AuditRecordKey = "audit_record_id"

const auditWriteTimeout = 2 * time.Second

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	TenantID   uuid.UUID
	UserID     string
	UserRoles  []string
	Action     string // create, update, delete
	TableName  string
	RecordID   string
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	StatusCode int
	RequestID  string
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// Audit records every mutating /api/v1 request after the handler ran. Reads
// are not audited. A failing recorder is logged and never fails the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req.Method, req.URL.Path) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				TenantID:   db.TenantFromContext(ctx),
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Action:     httpMethodToAction(req.Method),
				TableName:  tableForPath(req.URL.Path),
				RecordID:   recordID(c),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Path:       req.URL.Path,
				Method:     req.Method,
				StatusCode: responseStatus(c, err),
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			// The request context may already be cancelled by a timeout.
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
			defer cancel()
			for _, rec := range recorders {
				if rec == nil {
					continue
				}
				if recErr := rec.RecordAccess(wctx, entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID.String()).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("action", entry.Action).
				Str("table", entry.TableName).
				Str("record_id", entry.RecordID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("audit")

			return err
		}
	}
}

func isAuditable(method, path string) bool {
	if !strings.HasPrefix(path, "/api/v1/") {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// tableForPath maps a route to the table it writes:
//
//	/api/v1/patients                    -> patients
//	/api/v1/appointments/<id>/cancel    -> appointments
//	/api/v1/opd/check-in                -> opd_visits
//	/api/v1/opd/visits/<id>/transition  -> opd_visits
func tableForPath(path string) string {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown"
	}
	if segments[0] == "opd" {
		return "opd_visits"
	}
	return strings.ReplaceAll(segments[0], "-", "_")
}

// recordID prefers the first uuid in the path, then the id the handler set.
func recordID(c echo.Context) string {
	for _, seg := range strings.Split(c.Request().URL.Path, "/") {
		if _, err := uuid.Parse(seg); err == nil {
			return seg
		}
	}
	id, _ := c.Get(AuditRecordKey).(string)
	return id
}

func responseStatus(c echo.Context, err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	if err != nil {
		return http.StatusInternalServerError
	}
	return c.Response().Status
}
