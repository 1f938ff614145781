package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidSignature, http.StatusBadRequest},
		{ErrCodeInvalidPayload, http.StatusBadRequest},
		{ErrCodeUnknownPlan, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeIdempotencyKeyConflict, http.StatusConflict},
		{ErrCodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{ErrCodeStripeError, http.StatusBadGateway},
		{ErrCodeServiceNotConfigured, http.StatusServiceUnavailable},
		{ErrCodeStoreError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStoreErrorIsRetryable(t *testing.T) {
	if !ErrCodeStoreError.IsRetryable() {
		t.Error("store errors should be retryable so the gateway redelivers")
	}
	if ErrCodeInvalidSignature.IsRetryable() {
		t.Error("signature failures must not be retryable")
	}
}

func TestWriteRequestError_IncludesRequestID(t *testing.T) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteRequestError(w, r, ErrCodeInvalidSignature, "signature mismatch")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != ErrCodeInvalidSignature {
		t.Errorf("unexpected code %q", resp.Error.Code)
	}
	if resp.Error.RequestID == "" {
		t.Error("expected request id in error body")
	}
}
