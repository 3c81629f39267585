package tenancy

import (
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/httperr"
)

// RequireActiveTenant rejects requests whose resolved tenant is unknown or
// inactive. Must run after db.TenantMiddleware.
func (s *Service) RequireActiveTenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := s.ResolveActive(c.Request().Context(), db.TenantFromContext(c.Request().Context())); err != nil {
				return httperr.Respond(c, "", err)
			}
			return next(c)
		}
	}
}
