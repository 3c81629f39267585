package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/httperr"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// Dev-mode headers.
const (
	DevUserHeader  = "X-Dev-User"
	DevRolesHeader = "X-Dev-Roles"
)

// DevUserID is the caller identity when development auth has no X-Dev-User.
const DevUserID = "00000000-0000-0000-0000-00000000d0e0"

// Claims is the access token payload. Supabase puts the tenant under
// app_metadata; a top-level tenant_id claim is also honoured.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string `json:"tenant_id,omitempty"`
	AppMetadata struct {
		TenantID string `json:"tenant_id,omitempty"`
	} `json:"app_metadata"`
}

func (c *Claims) Tenant() string {
	if c.TenantID != "" {
		return c.TenantID
	}
	return c.AppMetadata.TenantID
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// Secret verifies HS256 tokens (the Supabase project JWT secret).
	Secret []byte
}

// JWTMiddleware authenticates bearer tokens. Role claims are ignored; roles
// are loaded from the database by LoadRoles.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var cache *JWKSCache
	if cfg.JWKSURL != "" {
		cache = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, ok := bearerToken(c)
			if !ok {
				return httperr.New(httperr.KindUnauthorized, "missing or malformed bearer token")
			}

			ctx := c.Request().Context()
			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, keyFunc(ctx, cfg.Secret, cache))
			if err != nil || !token.Valid || claims.Subject == "" {
				return httperr.New(httperr.KindUnauthorized, "invalid token")
			}

			c.Set("jwt_tenant_id", claims.Tenant())
			c.SetRequest(c.Request().WithContext(context.WithValue(ctx, UserIDKey, claims.Subject)))
			return next(c)
		}
	}
}

// bearerToken reads the Authorization header. WebSocket upgrades may pass
// the token as ?access_token= since browsers cannot set headers on them.
func bearerToken(c echo.Context) (string, bool) {
	req := c.Request()
	if h := req.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		tok = strings.TrimSpace(tok)
		return tok, ok && strings.EqualFold(scheme, "bearer") && tok != ""
	}
	if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		tok := c.QueryParam("access_token")
		return tok, tok != ""
	}
	return "", false
}

// DevAuthMiddleware trusts X-Dev-User and X-Dev-Roles (comma separated,
// default "admin"). It must never run in production.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.Request().Header.Get(DevUserHeader)
			if user == "" {
				user = DevUserID
			}
			roles := []string{"admin"}
			if raw := c.Request().Header.Get(DevRolesHeader); raw != "" {
				roles = splitRoles(raw)
			}

			ctx := context.WithValue(c.Request().Context(), UserIDKey, user)
			ctx = context.WithValue(ctx, UserRolesKey, roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func splitRoles(raw string) []string {
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// RolesFromContext returns the caller's roles; nil means they were never loaded.
func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// WithRoles returns ctx carrying roles.
func WithRoles(ctx context.Context, roles []string) context.Context {
	if roles == nil {
		roles = []string{}
	}
	return context.WithValue(ctx, UserRolesKey, roles)
}
