package httpserver

import (
	"crypto/subtle"
	"net/http"

	apierrors "github.com/roomboard/passledger/internal/errors"
)

// adminMetricsAuth protects /metrics with an optional bearer key.
// With no key configured the endpoint is open.
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			expected := "Bearer " + apiKey
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(expected)) != 1 {
				apierrors.WriteRequestError(w, r, apierrors.ErrCodeUnauthorized, "invalid or missing admin API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
