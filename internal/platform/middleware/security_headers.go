package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeadersConfig controls the per-route header policy.
type SecurityHeadersConfig struct {
	// HSTS adds Strict-Transport-Security. Enable it only behind TLS.
	HSTS bool
	// NoStorePrefixes are paths whose responses carry patient or live queue
	// data and must never be cached.
	NoStorePrefixes []string
	// Skip lists exact paths that keep their own headers, such as /metrics.
	Skip []string
}

// DefaultSecurityHeadersConfig marks the whole API as no-store and leaves the
// metrics endpoint to the scraper's defaults.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		NoStorePrefixes: []string{"/api/v1/"},
		Skip:            []string{"/metrics"},
	}
}

// SecurityHeaders sets the response headers of a JSON API. Websocket
// upgrades are passed through untouched: the upgrader writes its own
// handshake response.
func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	skip := make(map[string]bool, len(cfg.Skip))
	for _, p := range cfg.Skip {
		skip[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if skip[path] || c.IsWebSocket() || isWebSocketPath(path) {
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			h.Set("Cache-Control", "no-cache")
			for _, prefix := range cfg.NoStorePrefixes {
				if strings.HasPrefix(path, prefix) {
					h.Set("Cache-Control", "no-store")
					h.Set("Pragma", "no-cache")
					break
				}
			}

			return next(c)
		}
	}
}
