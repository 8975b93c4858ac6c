package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/dbpool"
)

// PostgresStore implements Store using PostgreSQL via database/sql.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// OpenPostgres connects via the shared pool helper and ensures the schema.
func OpenPostgres(ctx context.Context, cfg config.StorageConfig) (*PostgresStore, error) {
	db, err := dbpool.Open(ctx, cfg.PostgresURL, cfg.PostgresPool)
	if err != nil {
		return nil, err
	}

	s := &PostgresStore{db: db, ownsDB: true}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS mcp_servers (
			internal_id TEXT PRIMARY KEY,
			public_id TEXT UNIQUE NOT NULL,
			mcp_origin TEXT NOT NULL,
			receiver_address TEXT NOT NULL DEFAULT '',
			require_auth BOOLEAN NOT NULL DEFAULT FALSE,
			auth_headers JSONB,
			creator_id TEXT
		);
		CREATE TABLE IF NOT EXISTS mcp_tools (
			id TEXT PRIMARY KEY,
			server_internal_id TEXT NOT NULL REFERENCES mcp_servers(internal_id),
			name TEXT NOT NULL,
			input_schema JSONB,
			is_monetized BOOLEAN NOT NULL DEFAULT FALSE,
			pricing JSONB,
			UNIQUE (server_internal_id, name)
		);
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			wallet_address TEXT,
			email TEXT,
			display_name TEXT,
			last_login_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS wallets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			address TEXT NOT NULL,
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			wallet_type TEXT,
			provider TEXT,
			blockchain TEXT,
			legacy BOOLEAN NOT NULL DEFAULT FALSE,
			last_used_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS wallets_address_idx ON wallets(address);
		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			key_hash TEXT UNIQUE NOT NULL,
			name TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			last_used_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			tool_id TEXT NOT NULL,
			user_id TEXT,
			amount_raw TEXT NOT NULL,
			token_decimals INT NOT NULL,
			currency TEXT NOT NULL,
			network TEXT NOT NULL,
			transaction_hash TEXT,
			status TEXT NOT NULL,
			signature TEXT,
			payment_data JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS tool_usage (
			id TEXT PRIMARY KEY,
			tool_id TEXT NOT NULL,
			user_id TEXT,
			response_status TEXT NOT NULL,
			execution_time_ms BIGINT NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			request_data JSONB,
			result JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: create tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetServerByPublicID(ctx context.Context, publicID string) (Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT internal_id, public_id, mcp_origin, receiver_address, require_auth, auth_headers, COALESCE(creator_id, '')
		FROM mcp_servers WHERE public_id = $1`, publicID)

	var srv Server
	var authHeaders []byte
	err := row.Scan(&srv.InternalID, &srv.PublicID, &srv.MCPOrigin, &srv.ReceiverAddress, &srv.RequireAuth, &authHeaders, &srv.CreatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, ErrNotFound
	}
	if err != nil {
		return Server{}, fmt.Errorf("store: get server: %w", err)
	}
	if len(authHeaders) > 0 {
		if err := json.Unmarshal(authHeaders, &srv.AuthHeaders); err != nil {
			return Server{}, fmt.Errorf("store: decode auth headers: %w", err)
		}
	}
	return srv, nil
}

func (s *PostgresStore) ListToolsByServer(ctx context.Context, serverInternalID string) ([]Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server_internal_id, name, input_schema, is_monetized, pricing
		FROM mcp_tools WHERE server_internal_id = $1`, serverInternalID)
	if err != nil {
		return nil, fmt.Errorf("store: list tools: %w", err)
	}
	defer rows.Close()

	var tools []Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

func (s *PostgresStore) GetToolByID(ctx context.Context, id string) (Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server_internal_id, name, input_schema, is_monetized, pricing
		FROM mcp_tools WHERE id = $1`, id)
	if err != nil {
		return Tool{}, fmt.Errorf("store: get tool: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return Tool{}, ErrNotFound
	}
	return scanTool(rows)
}

func scanTool(rows *sql.Rows) (Tool, error) {
	var t Tool
	var inputSchema, pricing []byte
	if err := rows.Scan(&t.ID, &t.ServerInternalID, &t.Name, &inputSchema, &t.IsMonetized, &pricing); err != nil {
		return Tool{}, fmt.Errorf("store: scan tool: %w", err)
	}
	t.InputSchema = inputSchema
	if len(pricing) > 0 {
		if err := json.Unmarshal(pricing, &t.Pricing); err != nil {
			return Tool{}, fmt.Errorf("store: decode pricing: %w", err)
		}
	}
	return t, nil
}

func (s *PostgresStore) ValidateAPIKey(ctx context.Context, keyHash string) (APIKeyIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT k.id, k.user_id, k.key_hash, COALESCE(k.name, ''), k.active,
		       u.id, COALESCE(u.wallet_address, ''), COALESCE(u.email, ''), COALESCE(u.display_name, ''), u.created_at
		FROM api_keys k JOIN users u ON u.id = k.user_id
		WHERE k.key_hash = $1 AND k.active`, keyHash)

	var out APIKeyIdentity
	err := row.Scan(&out.APIKey.ID, &out.APIKey.UserID, &out.APIKey.KeyHash, &out.APIKey.Name, &out.APIKey.Active,
		&out.User.ID, &out.User.WalletAddress, &out.User.Email, &out.User.DisplayName, &out.User.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return APIKeyIdentity{}, ErrNotFound
	}
	if err != nil {
		return APIKeyIdentity{}, fmt.Errorf("store: validate api key: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, out.APIKey.ID)
	return out, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(wallet_address, ''), COALESCE(email, ''), COALESCE(display_name, ''), created_at
		FROM users WHERE id = $1`, id)
	var u User
	err := row.Scan(&u.ID, &u.WalletAddress, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserWallets(ctx context.Context, userID string, activeOnly bool) ([]Wallet, error) {
	query := `
		SELECT id, user_id, address, is_primary, active, COALESCE(wallet_type, ''), COALESCE(provider, ''), COALESCE(blockchain, ''), legacy
		FROM wallets WHERE user_id = $1`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY is_primary DESC, id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: get user wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Address, &w.IsPrimary, &w.Active, &w.WalletType, &w.Provider, &w.Blockchain, &w.Legacy); err != nil {
			return nil, fmt.Errorf("store: scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (s *PostgresStore) GetWalletByAddress(ctx context.Context, address string) (WalletIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT w.id, w.user_id, w.address, w.is_primary, w.active, COALESCE(w.wallet_type, ''), COALESCE(w.provider, ''), COALESCE(w.blockchain, ''), w.legacy,
		       u.id, COALESCE(u.wallet_address, ''), COALESCE(u.email, ''), COALESCE(u.display_name, ''), u.created_at
		FROM wallets w JOIN users u ON u.id = w.user_id
		WHERE w.address = $1 LIMIT 1`, address)

	var out WalletIdentity
	err := row.Scan(&out.Wallet.ID, &out.Wallet.UserID, &out.Wallet.Address, &out.Wallet.IsPrimary, &out.Wallet.Active,
		&out.Wallet.WalletType, &out.Wallet.Provider, &out.Wallet.Blockchain, &out.Wallet.Legacy,
		&out.User.ID, &out.User.WalletAddress, &out.User.Email, &out.User.DisplayName, &out.User.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WalletIdentity{}, ErrNotFound
	}
	if err != nil {
		return WalletIdentity{}, fmt.Errorf("store: get wallet by address: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetUserByWalletAddress(ctx context.Context, address string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(wallet_address, ''), COALESCE(email, ''), COALESCE(display_name, ''), created_at
		FROM users WHERE wallet_address = $1 LIMIT 1`, address)
	var u User
	err := row.Scan(&u.ID, &u.WalletAddress, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user by wallet: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("store: begin create user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	user := User{
		ID:            newID(),
		WalletAddress: params.WalletAddress,
		DisplayName:   params.DisplayName,
		CreatedAt:     now,
		LastLoginAt:   now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, wallet_address, display_name, last_login_at, created_at)
		VALUES ($1, $2, $3, $4, $4)`,
		user.ID, nullable(user.WalletAddress), nullable(user.DisplayName), now); err != nil {
		return User{}, fmt.Errorf("store: insert user: %w", err)
	}
	if params.WalletAddress != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (id, user_id, address, is_primary, active, wallet_type, provider, blockchain)
			VALUES ($1, $2, $3, TRUE, TRUE, $4, $5, $6)`,
			newID(), user.ID, params.WalletAddress,
			nullable(params.WalletType), nullable(params.WalletProvider), nullable(params.Blockchain)); err != nil {
			return User{}, fmt.Errorf("store: insert wallet: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("store: commit create user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = now() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("store: update last login: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWalletLastUsed(ctx context.Context, walletID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE wallets SET last_used_at = now() WHERE id = $1`, walletID)
	if err != nil {
		return fmt.Errorf("store: update wallet last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) MigrateLegacyWallet(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, address, is_primary, active, legacy)
		SELECT $1, u.id, u.wallet_address, TRUE, TRUE, TRUE
		FROM users u
		WHERE u.id = $2 AND u.wallet_address IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM wallets w WHERE w.user_id = u.id AND w.address = u.wallet_address)`,
		newID(), userID)
	if err != nil {
		return fmt.Errorf("store: migrate legacy wallet: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordToolUsage(ctx context.Context, usage ToolUsage) error {
	if usage.ID == "" {
		usage.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_usage (id, tool_id, user_id, response_status, execution_time_ms, ip_address, user_agent, request_data, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		usage.ID, usage.ToolID, nullable(usage.UserID), usage.ResponseStatus, usage.ExecutionTimeMs,
		nullable(usage.IPAddress), nullable(usage.UserAgent), nullableJSON(usage.RequestData), nullableJSON(usage.Result))
	if err != nil {
		return fmt.Errorf("store: record tool usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePayment(ctx context.Context, payment Payment) (string, error) {
	if payment.ID == "" {
		payment.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, tool_id, user_id, amount_raw, token_decimals, currency, network, transaction_hash, status, signature, payment_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		payment.ID, payment.ToolID, nullable(payment.UserID), payment.AmountRaw, payment.TokenDecimals,
		payment.Currency, payment.Network, nullable(payment.TransactionHash), payment.Status,
		nullable(payment.Signature), nullableJSON(payment.PaymentData))
	if err != nil {
		return "", fmt.Errorf("store: create payment: %w", err)
	}
	return payment.ID, nil
}

func (s *PostgresStore) Close(context.Context) error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
