package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// Payment errors (x402 gating)
const (
	ErrCodePaymentRequired      ErrorCode = "payment_required"
	ErrCodeInvalidPaymentHeader ErrorCode = "invalid_payment_header"
	ErrCodePaymentNotVerified   ErrorCode = "payment_not_verified"
	ErrCodeSettlementFailed     ErrorCode = "settlement_failed"
	ErrCodeAutoSignFailed       ErrorCode = "auto_sign_failed"
)

// Request validation errors
const (
	ErrCodeInvalidJSONRPC  ErrorCode = "invalid_jsonrpc"
	ErrCodeInvalidAccept   ErrorCode = "invalid_accept_header"
	ErrCodeBodyTooLarge    ErrorCode = "body_too_large"
	ErrCodeMissingField    ErrorCode = "missing_field"
	ErrCodeInvalidField    ErrorCode = "invalid_field"
)

// Resource errors
const (
	ErrCodeServerNotFound ErrorCode = "server_not_found"
	ErrCodeToolNotFound   ErrorCode = "tool_not_found"
)

// Upstream and external service errors
const (
	ErrCodeUpstreamUnreachable ErrorCode = "upstream_unreachable"
	ErrCodeUpstreamTimeout     ErrorCode = "upstream_timeout"
	ErrCodeFacilitatorError    ErrorCode = "facilitator_error"
	ErrCodeRateLimited         ErrorCode = "rate_limit_exceeded"
)

// Internal errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeUpstreamUnreachable,
		ErrCodeUpstreamTimeout,
		ErrCodeFacilitatorError,
		ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeInvalidJSONRPC,
		ErrCodeInvalidAccept,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidPaymentHeader:
		return 400

	case ErrCodePaymentRequired,
		ErrCodePaymentNotVerified,
		ErrCodeSettlementFailed,
		ErrCodeAutoSignFailed:
		return 402

	case ErrCodeServerNotFound,
		ErrCodeToolNotFound:
		return 404

	case ErrCodeBodyTooLarge:
		return 413

	case ErrCodeRateLimited:
		return 429

	case ErrCodeUpstreamUnreachable,
		ErrCodeFacilitatorError:
		return 502

	case ErrCodeUpstreamTimeout:
		return 504

	default:
		return 500
	}
}
