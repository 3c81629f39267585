// Package httperr renders domain errors as {"error": kind, "message": ...}.
package httperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/db"
)

const (
	KindValidation          = "ValidationError"
	KindInvalidTenant       = "InvalidTenant"
	KindConcurrencyConflict = "ConcurrencyConflict"
	KindIllegalTransition   = "IllegalTransition"
	KindForbidden           = "Forbidden"
	KindStoreUnavailable    = "StoreUnavailable"
	KindNotFound            = "NotFound"
	KindUnauthorized        = "Unauthorized"
	KindInternal            = "InternalError"
	KindRateLimited         = "RateLimited"
	KindTimeout             = "Timeout"
)

var statusByKind = map[string]int{
	KindValidation:          http.StatusBadRequest,
	KindInvalidTenant:       http.StatusUnprocessableEntity,
	KindConcurrencyConflict: http.StatusConflict,
	KindIllegalTransition:   http.StatusConflict,
	KindForbidden:           http.StatusForbidden,
	KindStoreUnavailable:    http.StatusServiceUnavailable,
	KindNotFound:            http.StatusNotFound,
	KindUnauthorized:        http.StatusUnauthorized,
	KindInternal:            http.StatusInternalServerError,
	KindRateLimited:         http.StatusTooManyRequests,
	KindTimeout:             http.StatusGatewayTimeout,
}

// Body is the JSON error envelope.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// New builds an echo error whose message serialises as Body.
func New(kind, message string) *echo.HTTPError {
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return echo.NewHTTPError(status, Body{Error: kind, Message: message})
}

// StoreKind names the db sentinel wrapped by err, or "".
func StoreKind(err error) string {
	switch {
	case errors.Is(err, db.ErrInvalidTenant):
		return KindInvalidTenant
	case errors.Is(err, db.ErrConcurrencyConflict):
		return KindConcurrencyConflict
	case errors.Is(err, db.ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, db.ErrNotFound):
		return KindNotFound
	default:
		return ""
	}
}

// Respond converts err into an HTTP error. kind comes from the domain's own
// classifier; an empty kind is treated as an internal error and its detail
// is not leaked. Retryable kinds get a Retry-After hint.
func Respond(c echo.Context, kind string, err error) error {
	if kind == "" {
		kind = StoreKind(err)
	}
	switch kind {
	case "":
		c.Logger().Error(err)
		return New(KindInternal, "internal server error")
	case KindConcurrencyConflict, KindStoreUnavailable:
		c.Response().Header().Set("Retry-After", "1")
	}
	return New(kind, err.Error())
}
