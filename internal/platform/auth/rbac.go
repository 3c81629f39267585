package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/httperr"
)

// RequireRole allows the request when the caller holds at least one of roles.
// No role implies another.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return httperr.New(httperr.KindForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func HasAnyRole(have []string, want ...string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// RoleLookup returns the roles a user holds in a tenant.
type RoleLookup interface {
	GetCallerRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]string, error)
}

// LoadRoles resolves the caller's roles for the request tenant. Roles already
// present (development auth) are kept. Must run after the tenant middleware.
func LoadRoles(lookup RoleLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if RolesFromContext(ctx) != nil {
				return next(c)
			}

			userID, err := uuid.Parse(UserIDFromContext(ctx))
			if err != nil {
				return httperr.New(httperr.KindUnauthorized, "token subject is not a user id")
			}
			tenantID := db.TenantFromContext(ctx)
			if tenantID == uuid.Nil {
				return httperr.New(httperr.KindInvalidTenant, "tenant not resolved")
			}

			roles, err := lookup.GetCallerRoles(ctx, userID, tenantID)
			if err != nil {
				return httperr.Respond(c, "", err)
			}
			c.SetRequest(c.Request().WithContext(WithRoles(ctx, roles)))
			return next(c)
		}
	}
}
