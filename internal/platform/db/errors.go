package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrStoreUnavailable means the database could not be reached or did not
	// answer in time. The operation is safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConcurrencyConflict means the database aborted the statement because
	// of a serialization failure, deadlock or lock timeout.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrInvalidTenant means a tenant reference did not resolve.
	ErrInvalidTenant = errors.New("invalid tenant")
	// ErrNotFound is returned when a single-row lookup matches nothing.
	ErrNotFound = errors.New("not found")
)

const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateLockNotAvailable     = "55P03"
	sqlstateQueryCanceled        = "57014"
	sqlstateForeignKeyViolation  = "23503"
	sqlstateUniqueViolation      = "23505"
)

// Classify maps a pgx error onto the sentinel errors above, wrapping the
// driver error so its detail stays in logs. Errors that are not store
// conditions are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrInvalidTenant) || errors.Is(err, ErrNotFound) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateSerializationFailure, sqlstateDeadlockDetected, sqlstateLockNotAvailable:
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		case sqlstateQueryCanceled:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		case sqlstateForeignKeyViolation:
			if pgErr.ColumnName == "tenant_id" || isTenantConstraint(pgErr.ConstraintName) {
				return fmt.Errorf("%w: %v", ErrInvalidTenant, err)
			}
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return err
}

// IsUniqueViolation reports whether err is a unique constraint failure on constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != sqlstateUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func isTenantConstraint(name string) bool {
	return strings.HasSuffix(name, "_tenant_id_fkey")
}
