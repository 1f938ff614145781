package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roomboard/passledger/internal/config"
)

// TestRouteTableCoversEveryKind guards against a kind being added without a route.
func TestRouteTableCoversEveryKind(t *testing.T) {
	seen := map[RequestKind]bool{}
	paths := map[string]RequestKind{}
	for _, rt := range routeTable {
		if seen[rt.Kind] {
			t.Errorf("kind %s routed twice", rt.Kind)
		}
		seen[rt.Kind] = true
		key := rt.Method + " " + rt.Path
		if other, dup := paths[key]; dup {
			t.Errorf("%s bound to both %s and %s", key, other, rt.Kind)
		}
		paths[key] = rt.Kind
		if rt.Timeout <= 0 {
			t.Errorf("kind %s has no timeout", rt.Kind)
		}
	}
	for k := KindInitialize; k <= KindHealth; k++ {
		if !seen[k] {
			t.Errorf("kind %s has no route", k)
		}
		if k.String() == "unknown" {
			t.Errorf("kind %d has no name", k)
		}
	}
	if RequestKind(0).String() != "unknown" {
		t.Error("zero kind must be unknown")
	}
}

// TestRouteDispatch verifies each path reaches the handler for its kind and
// that near-miss paths do not.
func TestRouteDispatch(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"verify malformed key", http.MethodGet, "/verify?idempotency_key=x", http.StatusBadRequest},
		{"status anonymous", http.MethodGet, "/status", http.StatusOK},
		{"history anonymous", http.MethodGet, "/entitlements/history", http.StatusUnauthorized},
		{"trailing segment", http.MethodGet, "/status/verify", http.StatusNotFound},
		{"suffix lookalike", http.MethodPost, "/v2/webhook", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/webhook", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestRoutePrefix(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Deps) { c.Server.RoutePrefix = "/passes" })

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/passes/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("prefixed status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unprefixed status = %d, want 404", rec.Code)
	}
}

func TestMetricsAdminAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Deps) { c.Server.AdminMetricsAPIKey = "admin-key" })

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("metrics without key = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("metrics with key = %d, want 200", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	router := chi.NewRouter()
	router.Use(securityHeadersMiddleware)
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must only be set over TLS")
	}
}

func TestGatewayCallbacksSkipRateLimits(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Deps) {
		c.RateLimit.GlobalEnabled = true
		c.RateLimit.GlobalLimit = 1
		c.RateLimit.GlobalWindow = config.Duration{Duration: time.Minute}
	})

	for i := 0; i < 3; i++ {
		for _, path := range []string{"/webhook", "/webhook/stripe"} {
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}")))
			if rec.Code == http.StatusTooManyRequests {
				t.Fatalf("%s attempt %d throttled", path, i+1)
			}
		}
	}

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 429]", codes)
	}
}
