package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParsePayment decodes the X-PAYMENT header into a PaymentPayload.
// The header is base64-encoded JSON; raw JSON is accepted too so tests and
// curl sessions can skip the encoding step.
func ParsePayment(header string) (PaymentPayload, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return PaymentPayload{}, errors.New("x402: empty payment header")
	}

	var data []byte
	if strings.HasPrefix(raw, "{") {
		data = []byte(raw)
	} else {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(raw)
			if err != nil {
				return PaymentPayload{}, fmt.Errorf("x402: decode base64: %w", err)
			}
		}
		data = decoded
	}

	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("x402: parse payment payload: %w", err)
	}

	if payload.Scheme != SchemeExact {
		return payload, fmt.Errorf("x402: unsupported scheme %q (supported: exact)", payload.Scheme)
	}
	auth := payload.Payload.Authorization
	if auth.From == "" || auth.To == "" {
		return payload, errors.New("x402: authorization missing from/to")
	}
	if !common.IsHexAddress(auth.From) {
		return payload, fmt.Errorf("x402: invalid payer address %q", auth.From)
	}
	if _, ok := new(big.Int).SetString(auth.Value, 10); !ok {
		return payload, fmt.Errorf("x402: invalid authorization value %q", auth.Value)
	}
	if payload.Payload.Signature == "" {
		return payload, errors.New("x402: payment payload missing signature")
	}

	return payload, nil
}

// EncodePayment renders a PaymentPayload as a base64 X-PAYMENT header value.
func EncodePayment(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("x402: marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeSettleResponse renders a SettleResponse as the base64 value of the
// X-PAYMENT-RESPONSE header.
func EncodeSettleResponse(resp SettleResponse) (string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("x402: marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// HumanAmount converts base units to a human-readable decimal string,
// e.g. ("50000", 6) -> "0.05". Decimals beyond 77 are rejected upstream by
// pricing validation; this helper trusts its inputs.
func HumanAmount(baseUnits string, decimals int) string {
	v, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok || decimals < 0 {
		return "0"
	}
	if decimals == 0 {
		return v.String()
	}
	s := v.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for len(s) <= decimals {
		s = "0" + s
	}
	whole := s[:len(s)-decimals]
	frac := strings.TrimRight(s[len(s)-decimals:], "0")
	out := whole
	if frac != "" {
		out = whole + "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
