package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "", RedactEmail(""))
	assert.Equal(t, "th***@example.com", RedactEmail("thandi@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("jo@example.com"))
	assert.Equal(t, "[redacted]", RedactEmail("not-an-email"))
}

func TestTruncateKey(t *testing.T) {
	assert.Equal(t, "short", TruncateKey("short"))
	key := "RB-6f1c1f5e-8a3e-4a4b-9a53-0b7f7d2c9e11-1718000000000"
	assert.Equal(t, "RB-6f1c1...0000", TruncateKey(key))
}

func TestFromContext_NoLogger(t *testing.T) {
	l := FromContext(nil) //nolint:staticcheck // nil context is handled explicitly
	l.Info().Msg("discarded")
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Service: "passledger", Output: &buf})

	var seenID string
	handler := Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		l := FromContext(r.Context())
		l.Info().Msg("handler.ran")
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req_fixed", seenID)
	assert.Equal(t, "req_fixed", rec.Header().Get("X-Request-ID"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)

	var completed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &completed))
	assert.Equal(t, "request.completed", completed["message"])
	assert.Equal(t, float64(http.StatusAccepted), completed["status"])
	assert.Equal(t, "req_fixed", completed["request_id"])
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	log := New(Config{Level: "error", Output: &bytes.Buffer{}})
	handler := Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Request-ID"), "req_"))
}
