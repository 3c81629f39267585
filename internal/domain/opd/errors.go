package opd

import (
	"errors"

	"github.com/hms/hms/internal/platform/db"
)

// Store-level kinds are shared with the db package so repository errors
// classified there match with errors.Is here.
var (
	ErrInvalidTenant       = db.ErrInvalidTenant
	ErrConcurrencyConflict = db.ErrConcurrencyConflict
	ErrStoreUnavailable    = db.ErrStoreUnavailable
	ErrNotFound            = db.ErrNotFound
)

var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrForbidden         = errors.New("forbidden")
	ErrAlreadyCheckedIn  = errors.New("appointment already checked in")
	ErrValidation        = errors.New("validation failed")
)

// ErrorKind names err for API responses.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTenant):
		return "InvalidTenant"
	case errors.Is(err, ErrConcurrencyConflict):
		return "ConcurrencyConflict"
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrAlreadyCheckedIn):
		return "IllegalTransition"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	default:
		return ""
	}
}
