package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcpay/gateway/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("store: not found")

// APIKeyIdentity pairs a validated API key with its owning user.
type APIKeyIdentity struct {
	User   User
	APIKey APIKey
}

// WalletIdentity pairs a wallet with its owning user.
type WalletIdentity struct {
	Wallet Wallet
	User   User
}

// CreateUserParams are the fields accepted when resolving-or-creating a
// user from a wallet address.
type CreateUserParams struct {
	WalletAddress  string
	DisplayName    string
	WalletType     string
	WalletProvider string
	Blockchain     string
}

// Store captures the persistence surface the pipeline consumes. All
// operations are short transactions; no transaction spans pipeline stages.
type Store interface {
	// Registry reads (Inspect stage)
	GetServerByPublicID(ctx context.Context, publicID string) (Server, error)
	ListToolsByServer(ctx context.Context, serverInternalID string) ([]Tool, error)
	GetToolByID(ctx context.Context, id string) (Tool, error)

	// Identity (AuthResolve stage)
	ValidateAPIKey(ctx context.Context, keyHash string) (APIKeyIdentity, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserWallets(ctx context.Context, userID string, activeOnly bool) ([]Wallet, error)
	GetWalletByAddress(ctx context.Context, address string) (WalletIdentity, error)
	GetUserByWalletAddress(ctx context.Context, address string) (User, error) // legacy users.wallet_address path
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	UpdateUserLastLogin(ctx context.Context, userID string) error
	UpdateWalletLastUsed(ctx context.Context, walletID string) error
	MigrateLegacyWallet(ctx context.Context, userID string) error

	// Analytics and payments
	RecordToolUsage(ctx context.Context, usage ToolUsage) error
	CreatePayment(ctx context.Context, payment Payment) (string, error)

	Close(ctx context.Context) error
}

// Open builds a Store from configuration. The memory backend is always
// available; postgres and mongodb require their connection settings.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return OpenPostgres(ctx, cfg)
	case "mongodb":
		return OpenMongo(ctx, cfg)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
