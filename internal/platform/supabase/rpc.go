// Package supabase calls the sequence functions of a hosted PostgREST
// (Supabase) database instead of a direct PostgreSQL connection.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/supabase-community/postgrest-go"

	"github.com/hms/hms/internal/platform/db"
)

// RPCClient issues tokens and UHIDs through the get_next_token and
// generate_uhid RPCs.
type RPCClient struct {
	url     string
	headers map[string]string
	logger  zerolog.Logger
}

// NewRPCClient targets baseURL (the project URL, without /rest/v1) using the
// service role key.
func NewRPCClient(baseURL, serviceKey string, logger zerolog.Logger) *RPCClient {
	return &RPCClient{
		url: strings.TrimRight(baseURL, "/") + "/rest/v1",
		headers: map[string]string{
			"apikey":        serviceKey,
			"Authorization": "Bearer " + serviceKey,
		},
		logger: logger.With().Str("component", "supabase-rpc").Logger(),
	}
}

// rpcError is the PostgREST error body.
type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

var constraintPattern = regexp.MustCompile(`constraint "([^"]+)"`)

// classify maps a PostgREST error onto the same kinds as a direct pgx error.
func classify(e rpcError) error {
	// PGRST000-PGRST003: PostgREST cannot reach or use its database.
	if strings.HasPrefix(e.Code, "PGRST00") {
		return fmt.Errorf("%w: %s", db.ErrStoreUnavailable, e.Message)
	}
	pgErr := &pgconn.PgError{Code: e.Code, Message: e.Message, Detail: e.Details, Hint: e.Hint}
	if m := constraintPattern.FindStringSubmatch(e.Message); m != nil {
		pgErr.ConstraintName = m[1]
	} else if e.Code == "23503" {
		// generate_uhid raises a bare foreign key violation for unknown tenants.
		pgErr.ColumnName = "tenant_id"
	}
	return db.Classify(pgErr)
}

// call runs one RPC. postgrest-go has no context support, so the call is
// abandoned (not cancelled) when ctx ends. A fresh client per call keeps
// ClientError private to it.
func (c *RPCClient) call(ctx context.Context, name string, body interface{}) (json.RawMessage, error) {
	type result struct {
		raw string
		err error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		client := postgrest.NewClient(c.url, "public", c.headers)
		if client.ClientError != nil {
			done <- result{err: client.ClientError}
			return
		}
		raw := client.Rpc(name, "", body)
		done <- result{raw: raw, err: client.ClientError}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("rpc %s: %w", name, db.Classify(ctx.Err()))
	case res = <-done:
	}

	c.logger.Debug().Str("rpc", name).Dur("latency", time.Since(start)).Err(res.err).Msg("rpc call")
	if res.err != nil {
		return nil, fmt.Errorf("rpc %s: %w", name, db.Classify(res.err))
	}

	var e rpcError
	if err := json.Unmarshal([]byte(res.raw), &e); err == nil && e.Code != "" {
		return nil, fmt.Errorf("rpc %s: %s: %w", name, e.Message, classify(e))
	}
	if !json.Valid([]byte(res.raw)) {
		return nil, fmt.Errorf("rpc %s: unexpected response %q: %w", name, truncate(res.raw, 120), db.ErrStoreUnavailable)
	}
	return json.RawMessage(res.raw), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IssueNextToken implements the token counter over get_next_token.
func (c *RPCClient) IssueNextToken(ctx context.Context, tenantID uuid.UUID, departmentID *uuid.UUID, date time.Time) (int, error) {
	raw, err := c.call(ctx, "get_next_token", map[string]interface{}{
		"_tenant_id":     tenantID,
		"_department_id": departmentID,
		"_counter_date":  date.Format(time.DateOnly),
	})
	if err != nil {
		return 0, err
	}
	var token int
	if err := json.Unmarshal(raw, &token); err != nil {
		return 0, fmt.Errorf("rpc get_next_token: decode %s: %w", raw, err)
	}
	if token <= 0 {
		return 0, errors.New("rpc get_next_token: non-positive token")
	}
	return token, nil
}

// GenerateUHID implements the patient UHID generator over generate_uhid.
func (c *RPCClient) GenerateUHID(ctx context.Context, tenantID uuid.UUID) (string, error) {
	raw, err := c.call(ctx, "generate_uhid", map[string]interface{}{"_tenant_id": tenantID})
	if err != nil {
		return "", err
	}
	var uhid string
	if err := json.Unmarshal(raw, &uhid); err != nil {
		return "", fmt.Errorf("rpc generate_uhid: decode %s: %w", raw, err)
	}
	if uhid == "" {
		return "", errors.New("rpc generate_uhid: empty uhid")
	}
	return uhid, nil
}
