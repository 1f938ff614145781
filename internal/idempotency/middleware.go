package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	apierrors "github.com/roomboard/passledger/internal/errors"
)

const (
	// HeaderKey is the standard idempotency key header
	HeaderKey = "Idempotency-Key"

	// ReplayHeader marks responses served from the cache
	ReplayHeader = "X-Idempotency-Replay"

	// DefaultTTL is the default cache duration for idempotent responses (24 hours)
	DefaultTTL = 24 * time.Hour

	// maxFingerprintBody bounds how much of the request body is hashed and buffered.
	maxFingerprintBody = 64 << 10
)

// responseWriter wraps http.ResponseWriter to capture response details
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        *bytes.Buffer
	headers     map[string]string
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
		headers:        make(map[string]string),
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = statusCode
	// Headers are final once WriteHeader runs
	for key := range rw.ResponseWriter.Header() {
		rw.headers[key] = rw.ResponseWriter.Header().Get(key)
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// fingerprint hashes the request body and restores it for the next handler.
func fingerprint(r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBody+1))
	if err != nil {
		return "", err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Middleware replays cached 2xx responses for repeated Idempotency-Key headers.
//
// Keys are scoped by method and path. Reusing a key with a different body, or while
// the first request is still running, is rejected with 409.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	var inFlight sync.Map

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Method + ":" + r.URL.Path + ":" + rawKey

			bodyHash, err := fingerprint(r)
			if err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPayload, "failed to read request body")
				return
			}

			if cached, found := store.Get(r.Context(), key); found {
				if cached.BodyHash != "" && cached.BodyHash != bodyHash {
					apierrors.WriteSimpleError(w, apierrors.ErrCodeIdempotencyKeyConflict,
						"idempotency key was already used with a different request body")
					return
				}
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(ReplayHeader, "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			if _, busy := inFlight.LoadOrStore(key, struct{}{}); busy {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeIdempotencyKeyConflict,
					"a request with this idempotency key is already in progress")
				return
			}
			defer inFlight.Delete(key)

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				_ = store.Set(r.Context(), key, &Response{
					StatusCode: rw.statusCode,
					Headers:    rw.headers,
					Body:       rw.body.Bytes(),
					BodyHash:   bodyHash,
					CachedAt:   time.Now(),
				}, ttl)
			}
		})
	}
}
