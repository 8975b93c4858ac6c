package x402

// Version is the x402 protocol version this gateway speaks.
const Version = 1

// Scheme identifiers supported by the gateway.
const (
	SchemeExact = "exact"
)

// PaymentPayload follows the x402 specification for the X-PAYMENT header.
// Reference: https://github.com/coinbase/x402
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// ExactPayload is the scheme-specific payload for the "exact" EVM scheme:
// an EIP-3009 transferWithAuthorization signed by the payer.
type ExactPayload struct {
	Authorization Authorization `json:"authorization"`
	Signature     string        `json:"signature"`
}

// Authorization carries the EIP-3009 transfer authorization fields.
// Value is a decimal string of token base units.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PaymentRequirements describes one acceptable way to pay for a resource.
// Returned to clients in 402 responses and submitted to the facilitator
// alongside the payment for verification and settlement.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
	X402Version       int            `json:"x402Version"`
}

// VerifyResponse is the facilitator's answer to a verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settle call.
// Transaction is the on-chain transaction hash on success.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// PaymentRequiredBody is the JSON body of a 402 response.
type PaymentRequiredBody struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}
