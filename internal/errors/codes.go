package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// Webhook verification errors
const (
	ErrCodeInvalidPayload   ErrorCode = "invalid_payload"
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
	ErrCodePayloadTooLarge  ErrorCode = "payload_too_large"
)

// Validation Errors (Request input validation)
const (
	ErrCodeMissingField           ErrorCode = "missing_field"
	ErrCodeInvalidField           ErrorCode = "invalid_field"
	ErrCodeInvalidEmail           ErrorCode = "invalid_email"
	ErrCodeInvalidUserID          ErrorCode = "invalid_user_id"
	ErrCodeInvalidIdempotencyKey  ErrorCode = "invalid_idempotency_key"
	ErrCodeUnknownPlan            ErrorCode = "unknown_plan"
	ErrCodeUnsupportedProvider    ErrorCode = "unsupported_provider"
	ErrCodeIdempotencyKeyConflict ErrorCode = "idempotency_key_conflict"
)

// Authentication errors
const (
	ErrCodeUnauthorized ErrorCode = "unauthorized"
)

// Resource/State Errors
const (
	ErrCodeResourceNotFound ErrorCode = "resource_not_found"
)

// External Service Errors (gateway, Stripe, identity provider)
const (
	ErrCodeGatewayError         ErrorCode = "gateway_error"
	ErrCodeStripeError          ErrorCode = "stripe_error"
	ErrCodeIdentityUnavailable  ErrorCode = "identity_unavailable"
	ErrCodeNetworkError         ErrorCode = "network_error"
	ErrCodeServiceNotConfigured ErrorCode = "service_not_configured"
)

// Internal/System Errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeStoreError    ErrorCode = "store_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient store or upstream issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeStoreError,
		ErrCodeNetworkError,
		ErrCodeGatewayError,
		ErrCodeStripeError,
		ErrCodeIdentityUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation errors and rejected webhooks
	case ErrCodeInvalidPayload,
		ErrCodeInvalidSignature,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidEmail,
		ErrCodeInvalidUserID,
		ErrCodeInvalidIdempotencyKey,
		ErrCodeUnknownPlan,
		ErrCodeUnsupportedProvider:
		return 400

	case ErrCodeUnauthorized:
		return 401

	case ErrCodeResourceNotFound:
		return 404

	case ErrCodeIdempotencyKeyConflict:
		return 409

	case ErrCodePayloadTooLarge:
		return 413

	// 502 Bad Gateway - External service errors
	case ErrCodeGatewayError,
		ErrCodeStripeError,
		ErrCodeIdentityUnavailable,
		ErrCodeNetworkError:
		return 502

	case ErrCodeServiceNotConfigured:
		return 503

	// 500 Internal Server Error - store and system errors
	default:
		return 500
	}
}
