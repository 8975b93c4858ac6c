package store

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"time"
)

// Server is a registered upstream MCP server reachable through the gateway.
type Server struct {
	InternalID      string            `json:"internalId" bson:"_id"`
	PublicID        string            `json:"publicId" bson:"public_id"`
	MCPOrigin       string            `json:"mcpOrigin" bson:"mcp_origin"`
	ReceiverAddress string            `json:"receiverAddress" bson:"receiver_address"`
	RequireAuth     bool              `json:"requireAuth" bson:"require_auth"`
	AuthHeaders     map[string]string `json:"authHeaders,omitempty" bson:"auth_headers,omitempty"`
	CreatorID       string            `json:"creatorId,omitempty" bson:"creator_id,omitempty"`
}

// Validate enforces the Server invariants.
func (s Server) Validate() error {
	if s.PublicID == "" {
		return fmt.Errorf("store: server missing public id")
	}
	u, err := url.Parse(s.MCPOrigin)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("store: server %s: mcpOrigin %q is not an absolute http(s) URL", s.PublicID, s.MCPOrigin)
	}
	if s.RequireAuth && len(s.AuthHeaders) == 0 {
		return fmt.Errorf("store: server %s requires auth but has no auth headers", s.PublicID)
	}
	return nil
}

// PricingEntry is a (token, network, amount, active) tuple attached to a tool.
// MaxAmountRequiredRaw is integer token base units kept as a decimal string.
type PricingEntry struct {
	ID                   string    `json:"id" bson:"id"`
	MaxAmountRequiredRaw string    `json:"maxAmountRequiredRaw" bson:"max_amount_required_raw"`
	TokenDecimals        int       `json:"tokenDecimals" bson:"token_decimals"`
	Network              string    `json:"network" bson:"network"`
	AssetAddress         string    `json:"assetAddress" bson:"asset_address"`
	Active               bool      `json:"active" bson:"active"`
	CreatedAt            time.Time `json:"createdAt" bson:"created_at"`
}

// Validate enforces the PricingEntry invariants.
func (p PricingEntry) Validate() error {
	if p.TokenDecimals < 0 || p.TokenDecimals > 77 {
		return fmt.Errorf("store: pricing %s: tokenDecimals %d out of range [0,77]", p.ID, p.TokenDecimals)
	}
	v, ok := new(big.Int).SetString(p.MaxAmountRequiredRaw, 10)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("store: pricing %s: maxAmountRequiredRaw %q is not a non-negative integer", p.ID, p.MaxAmountRequiredRaw)
	}
	return nil
}

// Tool is a named MCP tool exposed by a server. (ServerInternalID, Name) is unique.
type Tool struct {
	ID               string          `json:"id" bson:"_id"`
	ServerInternalID string          `json:"serverInternalId" bson:"server_internal_id"`
	Name             string          `json:"name" bson:"name"`
	InputSchema      json.RawMessage `json:"inputSchema,omitempty" bson:"input_schema,omitempty"`
	IsMonetized      bool            `json:"isMonetized" bson:"is_monetized"`
	Pricing          []PricingEntry  `json:"pricing,omitempty" bson:"pricing,omitempty"`
}

// User is a gateway caller, keyed by API key, session, or wallet.
type User struct {
	ID            string    `json:"id" bson:"_id"`
	WalletAddress string    `json:"walletAddress,omitempty" bson:"wallet_address,omitempty"`
	Email         string    `json:"email,omitempty" bson:"email,omitempty"`
	DisplayName   string    `json:"displayName,omitempty" bson:"display_name,omitempty"`
	LastLoginAt   time.Time `json:"lastLoginAt,omitempty" bson:"last_login_at,omitempty"`
	CreatedAt     time.Time `json:"createdAt" bson:"created_at"`
}

// Wallet is a blockchain wallet attached to a user.
type Wallet struct {
	ID         string    `json:"id" bson:"_id"`
	UserID     string    `json:"userId" bson:"user_id"`
	Address    string    `json:"address" bson:"address"`
	IsPrimary  bool      `json:"isPrimary" bson:"is_primary"`
	Active     bool      `json:"active" bson:"active"`
	WalletType string    `json:"walletType,omitempty" bson:"wallet_type,omitempty"` // external | managed
	Provider   string    `json:"provider,omitempty" bson:"provider,omitempty"`     // e.g. coinbase-cdp
	Blockchain string    `json:"blockchain,omitempty" bson:"blockchain,omitempty"` // evm | solana | near
	Legacy     bool      `json:"legacy,omitempty" bson:"legacy,omitempty"`
	LastUsedAt time.Time `json:"lastUsedAt,omitempty" bson:"last_used_at,omitempty"`
}

// APIKey stores only the hash of an issued key.
type APIKey struct {
	ID         string    `json:"id" bson:"_id"`
	UserID     string    `json:"userId" bson:"user_id"`
	KeyHash    string    `json:"keyHash" bson:"key_hash"`
	Name       string    `json:"name,omitempty" bson:"name,omitempty"`
	Active     bool      `json:"active" bson:"active"`
	LastUsedAt time.Time `json:"lastUsedAt,omitempty" bson:"last_used_at,omitempty"`
}

// Payment is one settled (or failed) x402 payment for a tool call.
type Payment struct {
	ID              string          `json:"id" bson:"_id"`
	ToolID          string          `json:"toolId" bson:"tool_id"`
	UserID          string          `json:"userId,omitempty" bson:"user_id,omitempty"`
	AmountRaw       string          `json:"amountRaw" bson:"amount_raw"`
	TokenDecimals   int             `json:"tokenDecimals" bson:"token_decimals"`
	Currency        string          `json:"currency" bson:"currency"` // asset address
	Network         string          `json:"network" bson:"network"`
	TransactionHash string          `json:"transactionHash,omitempty" bson:"transaction_hash,omitempty"`
	Status          string          `json:"status" bson:"status"` // completed | failed
	Signature       string          `json:"signature,omitempty" bson:"signature,omitempty"` // raw X-PAYMENT header
	PaymentData     json.RawMessage `json:"paymentData,omitempty" bson:"payment_data,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" bson:"created_at"`
}

// ToolUsage is one analytics row per proxied request.
type ToolUsage struct {
	ID              string          `json:"id" bson:"_id"`
	ToolID          string          `json:"toolId" bson:"tool_id"`
	UserID          string          `json:"userId,omitempty" bson:"user_id,omitempty"`
	ResponseStatus  string          `json:"responseStatus" bson:"response_status"` // numeric status or "payment_failed"
	ExecutionTimeMs int64           `json:"executionTimeMs" bson:"execution_time_ms"`
	IPAddress       string          `json:"ipAddress,omitempty" bson:"ip_address,omitempty"`
	UserAgent       string          `json:"userAgent,omitempty" bson:"user_agent,omitempty"`
	RequestData     json.RawMessage `json:"requestData,omitempty" bson:"request_data,omitempty"`
	Result          json.RawMessage `json:"result,omitempty" bson:"result,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" bson:"created_at"`
}
