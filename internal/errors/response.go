package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standardized error format returned to clients on
// non-pipeline surfaces (admin auth, rate limiting, config problems).
// Pipeline terminal responses keep their protocol-mandated shapes instead
// ({x402Version,error,accepts} for 402, {error,stage} for 500).
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code, message, and optional context.
type ErrorDetail struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewErrorResponse creates a standardized error response.
func NewErrorResponse(code ErrorCode, message string, details map[string]any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: code.IsRetryable(),
			Details:   details,
		},
	}
}

// WriteError writes an ErrorResponse with the code's canonical HTTP status.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]any) {
	resp := NewErrorResponse(code, message, details)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(resp)
}
