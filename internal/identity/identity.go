// Package identity resolves the calling user for a gateway request.
//
// Resolution walks three sources in priority order: API key, session,
// then the bare X-Wallet-Address header. The first source that yields a
// user wins. A failing source is logged and skipped; it never aborts
// the request.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/store"
)

// Method tags how the caller authenticated.
type Method string

const (
	MethodAPIKey       Method = "api_key"
	MethodSession      Method = "session"
	MethodWalletHeader Method = "wallet_header"
	MethodNone         Method = "none"
)

// Identity is the result of resolution. User and Wallet are nil for
// unauthenticated callers.
type Identity struct {
	User   *store.User
	Wallet *store.Wallet
	Method Method
}

// WalletAddress returns the resolved wallet address, or "" when the
// caller has no wallet on file.
func (id Identity) WalletAddress() string {
	if id.Wallet != nil {
		return id.Wallet.Address
	}
	if id.User != nil {
		return id.User.WalletAddress
	}
	return ""
}

// SessionCookie is the cookie checked by the JWT session resolver,
// alongside the X-Session-Token header.
const SessionCookie = "mcpay_session"

// HashKey is the deterministic transform applied to API keys before
// store lookup. Issuance must use the same function.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// Resolver resolves identities against the store. A zero JWT secret
// disables the session source.
type Resolver struct {
	store     store.Store
	jwtSecret []byte
}

func NewResolver(st store.Store, cfg config.SessionConfig) *Resolver {
	r := &Resolver{store: st}
	if cfg.JWTSecret != "" {
		r.jwtSecret = []byte(cfg.JWTSecret)
	}
	return r
}

// Resolve determines the caller identity from the inbound request
// parts. body is the raw request body snapshot and may be nil.
func (r *Resolver) Resolve(ctx context.Context, header http.Header, u *url.URL, body []byte) Identity {
	log := logger.FromContext(ctx)

	if rawKey := extractAPIKey(header, u, body); rawKey != "" {
		id, err := r.resolveAPIKey(ctx, rawKey)
		if err == nil {
			return id
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Msg("identity: api key validation failed")
		}
	}

	if r.jwtSecret != nil {
		if token := extractSessionToken(header); token != "" {
			id, err := r.resolveSession(ctx, token)
			if err == nil {
				return id
			}
			log.Debug().Err(err).Msg("identity: session resolution failed")
		}
	}

	if addr := strings.TrimSpace(header.Get("X-Wallet-Address")); addr != "" {
		id, err := r.resolveWallet(ctx, addr)
		if err == nil {
			return id
		}
		log.Warn().Err(err).Str("address", logger.TruncateAddress(addr)).
			Msg("identity: wallet resolution failed")
	}

	return Identity{Method: MethodNone}
}

// ResolveWallet resolves or creates the user for a wallet address.
// PaymentPreAuth uses it when a payment arrives for an otherwise
// anonymous caller.
func (r *Resolver) ResolveWallet(ctx context.Context, address string) (Identity, error) {
	return r.resolveWallet(ctx, address)
}

func (r *Resolver) resolveAPIKey(ctx context.Context, rawKey string) (Identity, error) {
	keyID, err := r.store.ValidateAPIKey(ctx, HashKey(rawKey))
	if err != nil {
		return Identity{}, err
	}
	user := keyID.User
	wallet := r.primaryWallet(ctx, user.ID)
	return Identity{User: &user, Wallet: wallet, Method: MethodAPIKey}, nil
}

func (r *Resolver) resolveSession(ctx context.Context, token string) (Identity, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, fmt.Errorf("parse session token: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("session token has no subject")
	}
	user, err := r.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Identity{}, err
	}
	_ = r.store.UpdateUserLastLogin(ctx, user.ID)
	wallet := r.primaryWallet(ctx, user.ID)
	return Identity{User: &user, Wallet: wallet, Method: MethodSession}, nil
}

func (r *Resolver) resolveWallet(ctx context.Context, address string) (Identity, error) {
	wi, err := r.store.GetWalletByAddress(ctx, address)
	if err == nil {
		_ = r.store.UpdateWalletLastUsed(ctx, wi.Wallet.ID)
		return Identity{User: &wi.User, Wallet: &wi.Wallet, Method: MethodWalletHeader}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Identity{}, err
	}

	// Users created before the wallets table keep the address on the
	// user row only; migrate on first sight.
	if user, err := r.store.GetUserByWalletAddress(ctx, address); err == nil {
		if err := r.store.MigrateLegacyWallet(ctx, user.ID); err != nil {
			return Identity{}, err
		}
		wallet := r.primaryWallet(ctx, user.ID)
		return Identity{User: &user, Wallet: wallet, Method: MethodWalletHeader}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Identity{}, err
	}

	chain := DetectChain(address)
	if chain == ChainUnknown {
		return Identity{}, fmt.Errorf("unrecognized wallet address shape: %s", logger.TruncateAddress(address))
	}
	user, err := r.store.CreateUser(ctx, store.CreateUserParams{
		WalletAddress: address,
		DisplayName:   logger.TruncateAddress(address),
		WalletType:    "external",
		Blockchain:    string(chain),
	})
	if err != nil {
		return Identity{}, err
	}
	wallet := r.primaryWallet(ctx, user.ID)
	return Identity{User: &user, Wallet: wallet, Method: MethodWalletHeader}, nil
}

// primaryWallet picks isPrimary first, then the first remaining active
// wallet. Lookup failures degrade to a nil wallet.
func (r *Resolver) primaryWallet(ctx context.Context, userID string) *store.Wallet {
	wallets, err := r.store.GetUserWallets(ctx, userID, true)
	if err != nil || len(wallets) == 0 {
		return nil
	}
	for i := range wallets {
		if wallets[i].IsPrimary {
			return &wallets[i]
		}
	}
	return &wallets[0]
}

func extractAPIKey(header http.Header, u *url.URL, body []byte) string {
	if k := strings.TrimSpace(header.Get("X-API-KEY")); k != "" {
		return k
	}
	if auth := header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if k := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); k != "" {
			return k
		}
	}
	if u != nil {
		if k := u.Query().Get("api_key"); k != "" {
			return k
		}
	}
	if len(body) > 0 {
		var fields struct {
			APIKey string `json:"api_key"`
		}
		if err := json.Unmarshal(body, &fields); err == nil && fields.APIKey != "" {
			return fields.APIKey
		}
	}
	return ""
}

func extractSessionToken(header http.Header) string {
	if t := strings.TrimSpace(header.Get("X-Session-Token")); t != "" {
		return t
	}
	req := http.Request{Header: header}
	if c, err := req.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}
