package errors

import "testing"

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidAccept, 400},
		{ErrCodePaymentRequired, 402},
		{ErrCodeSettlementFailed, 402},
		{ErrCodeServerNotFound, 404},
		{ErrCodeBodyTooLarge, 413},
		{ErrCodeRateLimited, 429},
		{ErrCodeUpstreamUnreachable, 502},
		{ErrCodeUpstreamTimeout, 504},
		{ErrCodeInternalError, 500},
		{ErrorCode("unknown_code"), 500},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !ErrCodeUpstreamUnreachable.IsRetryable() {
		t.Error("upstream_unreachable should be retryable")
	}
	if ErrCodePaymentRequired.IsRetryable() {
		t.Error("payment_required should not be retryable")
	}
}
