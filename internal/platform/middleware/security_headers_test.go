package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func serveWithHeaders(cfg SecurityHeadersConfig, req *http.Request, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, SecurityHeaders(cfg)(handler)(c)
}

func TestSecurityHeaders_CachePolicyByRoute(t *testing.T) {
	tests := []struct {
		path      string
		wantCache string
	}{
		{"/api/v1/opd/queue", "no-store"},
		{"/api/v1/opd/stats", "no-store"},
		{"/api/v1/patients", "no-store"},
		{"/health", "no-cache"},
		{"/metrics", ""},
	}
	for _, tt := range tests {
		rec, err := serveWithHeaders(DefaultSecurityHeadersConfig(), httptest.NewRequest(http.MethodGet, tt.path, nil), okHandler)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.path, err)
		}
		if got := rec.Header().Get("Cache-Control"); got != tt.wantCache {
			t.Errorf("%s: Cache-Control = %q, want %q", tt.path, got, tt.wantCache)
		}
	}
}

func TestSecurityHeaders_MetricsKeepsScraperDefaults(t *testing.T) {
	rec, _ := serveWithHeaders(DefaultSecurityHeadersConfig(), httptest.NewRequest(http.MethodGet, "/metrics", nil), okHandler)
	for _, h := range []string{"Content-Security-Policy", "X-Frame-Options", "Cache-Control", "Pragma"} {
		if rec.Header().Get(h) != "" {
			t.Errorf("/metrics must not carry %s", h)
		}
	}
}

func TestSecurityHeaders_SkipsWebSocketUpgrade(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")

	rec, _ := serveWithHeaders(DefaultSecurityHeadersConfig(), req, okHandler)
	for _, h := range []string{"Content-Security-Policy", "X-Frame-Options", "Cache-Control"} {
		if rec.Header().Get(h) != "" {
			t.Errorf("websocket upgrade must not carry %s", h)
		}
	}
}

func TestSecurityHeaders_HSTSOnlyWhenEnabled(t *testing.T) {
	cfg := DefaultSecurityHeadersConfig()
	rec, _ := serveWithHeaders(cfg, httptest.NewRequest(http.MethodGet, "/api/v1/opd/queue", nil), okHandler)
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must be off by default")
	}

	cfg.HSTS = true
	rec, _ = serveWithHeaders(cfg, httptest.NewRequest(http.MethodGet, "/api/v1/opd/queue", nil), okHandler)
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS when enabled")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff")
	}
}

func TestSecurityHeaders_SetOnErrorResponses(t *testing.T) {
	rec, err := serveWithHeaders(DefaultSecurityHeadersConfig(), httptest.NewRequest(http.MethodPost, "/api/v1/opd/check-in", nil),
		func(c echo.Context) error { return echo.NewHTTPError(http.StatusForbidden) })
	if he, isHTTP := err.(*echo.HTTPError); !isHTTP || he.Code != http.StatusForbidden {
		t.Fatalf("expected the handler error, got %v", err)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected headers before the handler runs")
	}
}
