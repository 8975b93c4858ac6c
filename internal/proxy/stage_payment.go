package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcpay/gateway/internal/autosign"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/facilitator"
	"github.com/mcpay/gateway/internal/identity"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
	"github.com/mcpay/gateway/internal/money"
	"github.com/mcpay/gateway/internal/store"
	"github.com/mcpay/gateway/pkg/x402"
)

// paymentPreAuthStage verifies the payment before any upstream call.
// Settlement is deferred to paymentCaptureStage so upstream failures
// never charge the caller.
type paymentPreAuthStage struct {
	facilitator facilitator.Client
	signer      autosign.Signer
	resolver    *identity.Resolver
	metrics     *metrics.Metrics
}

func (s *paymentPreAuthStage) Name() string { return "payment_preauth" }

func (s *paymentPreAuthStage) Run(ctx context.Context, rc *RequestContext) (Outcome, error) {
	if rc.ToolCall == nil || !rc.ToolCall.IsPaid || rc.PickedPricing == nil || rc.ToolCall.PayTo == "" {
		return OutcomeContinue, nil
	}
	log := logger.FromContext(ctx)

	rc.Payment.Requirements = []x402.PaymentRequirements{
		requirementsFromPricing(*rc.PickedPricing, rc.ToolCall),
	}

	rawHeader := rc.Header.Get("X-Payment")
	if rawHeader == "" && s.canAutoSign(rc) {
		rawHeader = s.autoSign(ctx, rc)
	}
	if rawHeader == "" {
		return s.paymentRequired(rc, "payment required"), nil
	}

	decoded, err := x402.ParsePayment(rawHeader)
	if err != nil {
		log.Debug().Err(err).Msg("proxy: invalid payment header")
		return s.paymentRequired(rc, "invalid payment header: "+err.Error()), nil
	}
	rc.Payment.RawHeader = rawHeader
	rc.Payment.Decoded = &decoded

	if rc.Identity.User == nil {
		if id, err := s.resolver.ResolveWallet(ctx, decoded.Payload.Authorization.From); err == nil {
			user, wallet, method := id.User, id.Wallet, rc.Identity.Method
			rc.Identity = identity.Identity{User: user, Wallet: wallet, Method: method}
		} else {
			log.Warn().Err(err).Msg("proxy: payer wallet resolution failed")
		}
	}

	verify, err := s.facilitator.Verify(ctx, decoded, rc.Payment.Requirements[0])
	if err != nil {
		var terminal *facilitator.TerminalError
		if errors.As(err, &terminal) {
			header := http.Header{}
			if terminal.ContentType != "" {
				header.Set("Content-Type", terminal.ContentType)
			}
			rc.Payment.Failed = true
			return rc.Terminal(terminal.Status, header, terminal.Body), nil
		}
		log.Error().Err(err).Msg("proxy: payment verification unavailable")
		return s.paymentRequired(rc, "payment verification unavailable"), nil
	}
	s.metrics.ObserveVerify(decoded.Network, verify.IsValid)
	if !verify.IsValid {
		reason := verify.InvalidReason
		if reason == "" {
			reason = "payment not verified"
		}
		return s.paymentRequired(rc, reason), nil
	}

	rc.Payment.Authorized = true
	return OutcomeContinue, nil
}

// canAutoSign limits auto-signing to callers with a managed wallet or
// an API key; session-only users are excluded unless their wallet is
// flagged managed.
func (s *paymentPreAuthStage) canAutoSign(rc *RequestContext) bool {
	if s.signer == nil {
		return false
	}
	if strings.EqualFold(rc.Header.Get("X-Wallet-Provider"), "coinbase-cdp") &&
		strings.EqualFold(rc.Header.Get("X-Wallet-Type"), "managed") {
		return true
	}
	if rc.Identity.Method == identity.MethodAPIKey {
		return true
	}
	return rc.Identity.Wallet != nil && rc.Identity.Wallet.WalletType == "managed"
}

// autoSign asks the signing service for an X-PAYMENT header and injects
// it into the inbound header set. Returns "" when signing fails.
func (s *paymentPreAuthStage) autoSign(ctx context.Context, rc *RequestContext) string {
	log := logger.FromContext(ctx)
	intent := autosign.Intent{
		MaxAmountRequired: x402.HumanAmount(rc.PickedPricing.MaxAmountRequiredRaw, rc.PickedPricing.TokenDecimals),
		Network:           rc.PickedPricing.Network,
		Asset:             rc.PickedPricing.AssetAddress,
		PayTo:             rc.ToolCall.PayTo,
		Resource:          "mcpay://" + rc.ToolCall.Name,
		Description:       "Execution of " + rc.ToolCall.Name,
		WalletAddress:     rc.Identity.WalletAddress(),
	}
	if rc.Identity.User != nil {
		intent.UserID = rc.Identity.User.ID
	}

	result, err := s.signer.Sign(ctx, intent)
	if err != nil {
		s.metrics.ObserveAutoSign(false)
		log.Warn().Err(err).Msg("proxy: auto-sign failed")
		return ""
	}
	s.metrics.ObserveAutoSign(result.Success)
	if !result.Success {
		log.Info().Str("reason", result.Error).Msg("proxy: auto-sign declined")
		return ""
	}

	rc.Header.Set("X-Payment", result.SignedPaymentHeader)
	if rc.Identity.User == nil && result.WalletAddress != "" {
		if id, err := s.resolver.ResolveWallet(ctx, result.WalletAddress); err == nil {
			rc.Identity = id
		}
	}
	return result.SignedPaymentHeader
}

func (s *paymentPreAuthStage) paymentRequired(rc *RequestContext, reason string) Outcome {
	rc.Payment.Failed = true
	s.metrics.PaymentsFailedTotal.WithLabelValues("preauth", reason).Inc()
	return rc.TerminalJSON(http.StatusPaymentRequired, x402.PaymentRequiredBody{
		X402Version: x402.Version,
		Error:       reason,
		Accepts:     rc.Payment.Requirements,
	})
}

// paymentCaptureStage settles an authorized payment after the upstream
// call succeeded. Cached responses and upstream 5xx never settle.
type paymentCaptureStage struct {
	facilitator   facilitator.Client
	store         store.Store
	metrics       *metrics.Metrics
	policy        config.CaptureFailurePolicy
	retryAttempts int
	retryDelay    time.Duration
}

func (s *paymentCaptureStage) Name() string { return "payment_capture" }

func (s *paymentCaptureStage) Run(ctx context.Context, rc *RequestContext) (Outcome, error) {
	if !rc.Payment.Authorized || rc.CacheHit {
		return OutcomeContinue, nil
	}
	if rc.Response == nil || rc.Response.Status >= 500 {
		return OutcomeContinue, nil
	}

	// Decode the header again: it is the authoritative payload, and
	// PreAuth may have injected an auto-signed value after decoding.
	decoded, err := x402.ParsePayment(rc.Payment.RawHeader)
	if err != nil {
		return OutcomeContinue, err
	}
	requirement := rc.Payment.Requirements[0]

	start := time.Now()
	settle, err := s.facilitator.Settle(ctx, decoded, requirement)
	if err != nil {
		s.metrics.ObserveSettle(decoded.Network, false, "network_error", time.Since(start))
		return s.settleErrored(ctx, rc, decoded, requirement, err), nil
	}
	if !settle.Success {
		reason := settle.ErrorReason
		if reason == "" {
			reason = "settlement failed"
		}
		s.metrics.ObserveSettle(decoded.Network, false, reason, time.Since(start))
		rc.Payment.Failed = true
		return rc.TerminalJSON(http.StatusPaymentRequired, x402.PaymentRequiredBody{
			X402Version: x402.Version,
			Error:       reason,
			Accepts:     rc.Payment.Requirements,
		}), nil
	}
	s.metrics.ObserveSettle(decoded.Network, true, "", time.Since(start))

	if header, err := x402.EncodeSettleResponse(settle); err == nil {
		rc.Payment.SettleHeader = header
	}
	s.persistPayment(ctx, rc, decoded, settle)
	return OutcomeContinue, nil
}

// settleErrored applies the configured capture failure policy when the
// facilitator cannot be reached after the upstream side effects already
// happened.
func (s *paymentCaptureStage) settleErrored(ctx context.Context, rc *RequestContext, decoded x402.PaymentPayload, requirement x402.PaymentRequirements, cause error) Outcome {
	log := logger.FromContext(ctx)
	log.Error().Err(cause).
		Str("policy", string(s.policy)).
		Msg("proxy: settlement unreachable after upstream success")

	switch s.policy {
	case config.CaptureFailOpen:
		// The caller gets the result they paid for; revenue is lost.
		return OutcomeContinue
	case config.CaptureQueueRetry:
		s.retrySettleAsync(decoded, requirement, log)
		return OutcomeContinue
	default: // fail_closed
		rc.Payment.Failed = true
		return rc.TerminalJSON(http.StatusInternalServerError, map[string]string{
			"error": "settlement_failed",
			"stage": s.Name(),
		})
	}
}

// retrySettleAsync retries settlement in the background. The queue is
// in-memory only; a process restart drops pending retries.
func (s *paymentCaptureStage) retrySettleAsync(decoded x402.PaymentPayload, requirement x402.PaymentRequirements, log zerolog.Logger) {
	go func() {
		for attempt := 0; attempt < s.retryAttempts; attempt++ {
			time.Sleep(time.Duration(attempt+1) * s.retryDelay)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			settle, err := s.facilitator.Settle(ctx, decoded, requirement)
			cancel()
			if err == nil && settle.Success {
				log.Info().Str("transaction", settle.Transaction).Msg("proxy: deferred settlement succeeded")
				return
			}
		}
		log.Error().Msg("proxy: deferred settlement exhausted retries")
	}()
}

func (s *paymentCaptureStage) persistPayment(ctx context.Context, rc *RequestContext, decoded x402.PaymentPayload, settle x402.SettleResponse) {
	paymentData, _ := json.Marshal(map[string]any{
		"decoded":        decoded,
		"settleResponse": settle,
		"pricingInfo":    rc.PickedPricing,
		"currencySymbol": money.Symbol(rc.PickedPricing.Network, rc.PickedPricing.AssetAddress),
	})
	payment := store.Payment{
		AmountRaw:       rc.PickedPricing.MaxAmountRequiredRaw,
		TokenDecimals:   rc.PickedPricing.TokenDecimals,
		Currency:        rc.PickedPricing.AssetAddress,
		Network:         rc.PickedPricing.Network,
		TransactionHash: settle.Transaction,
		Status:          "completed",
		Signature:       rc.Payment.RawHeader,
		PaymentData:     paymentData,
	}
	if rc.Tool != nil {
		payment.ToolID = rc.Tool.ID
	}
	if rc.Identity.User != nil {
		payment.UserID = rc.Identity.User.ID
	}
	if _, err := s.store.CreatePayment(ctx, payment); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("proxy: payment record write failed")
	}
}

func requirementsFromPricing(pricing store.PricingEntry, call *ToolCall) x402.PaymentRequirements {
	req := x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           pricing.Network,
		MaxAmountRequired: x402.HumanAmount(pricing.MaxAmountRequiredRaw, pricing.TokenDecimals),
		Resource:          "mcpay://" + call.Name,
		Description:       "Execution of " + call.Name,
		MimeType:          "application/json",
		PayTo:             call.PayTo,
		MaxTimeoutSeconds: 60,
		Asset:             pricing.AssetAddress,
		X402Version:       x402.Version,
	}
	// EVM facilitators verify EIP-3009 signatures off-chain and need the
	// token's EIP-712 domain for that.
	if symbol := money.Symbol(pricing.Network, pricing.AssetAddress); symbol != "" && strings.HasPrefix(pricing.AssetAddress, "0x") {
		req.Extra = map[string]any{"name": symbol, "version": "2"}
	}
	return req
}
