package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used for development and tests.
// All maps are guarded by a single mutex; operations are short.
type MemoryStore struct {
	mu       sync.RWMutex
	servers  map[string]Server // by internal id
	tools    map[string]Tool   // by id
	users    map[string]User   // by id
	wallets  map[string]Wallet // by id
	apiKeys  map[string]APIKey // by key hash
	usages   []ToolUsage
	payments []Payment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		servers: make(map[string]Server),
		tools:   make(map[string]Tool),
		users:   make(map[string]User),
		wallets: make(map[string]Wallet),
		apiKeys: make(map[string]APIKey),
	}
}

// Seed helpers. Administrative surfaces live outside the gateway; tests and
// dev setups populate the registry through these.

func (m *MemoryStore) AddServer(s Server) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.InternalID == "" {
		s.InternalID = uuid.NewString()
	}
	m.servers[s.InternalID] = s
	return nil
}

func (m *MemoryStore) AddTool(t Tool) error {
	for _, p := range t.Pricing {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	m.tools[t.ID] = t
	return nil
}

func (m *MemoryStore) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.users[u.ID] = u
}

func (m *MemoryStore) AddWallet(w Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	m.wallets[w.ID] = w
}

func (m *MemoryStore) AddAPIKey(k APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	m.apiKeys[k.KeyHash] = k
}

// Store interface implementation.

func (m *MemoryStore) GetServerByPublicID(_ context.Context, publicID string) (Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.servers {
		if s.PublicID == publicID {
			return s, nil
		}
	}
	return Server{}, ErrNotFound
}

func (m *MemoryStore) ListToolsByServer(_ context.Context, serverInternalID string) ([]Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Tool
	for _, t := range m.tools {
		if t.ServerInternalID == serverInternalID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetToolByID(_ context.Context, id string) (Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tools[id]; ok {
		return t, nil
	}
	return Tool{}, ErrNotFound
}

func (m *MemoryStore) ValidateAPIKey(_ context.Context, keyHash string) (APIKeyIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.apiKeys[keyHash]
	if !ok || !key.Active {
		return APIKeyIdentity{}, ErrNotFound
	}
	user, ok := m.users[key.UserID]
	if !ok {
		return APIKeyIdentity{}, ErrNotFound
	}
	return APIKeyIdentity{User: user, APIKey: key}, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return User{}, ErrNotFound
}

func (m *MemoryStore) GetUserWallets(_ context.Context, userID string, activeOnly bool) ([]Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Wallet
	for _, w := range m.wallets {
		if w.UserID != userID {
			continue
		}
		if activeOnly && !w.Active {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (m *MemoryStore) GetWalletByAddress(_ context.Context, address string) (WalletIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.wallets {
		if w.Address == address {
			user, ok := m.users[w.UserID]
			if !ok {
				return WalletIdentity{}, ErrNotFound
			}
			return WalletIdentity{Wallet: w, User: user}, nil
		}
	}
	return WalletIdentity{}, ErrNotFound
}

func (m *MemoryStore) GetUserByWalletAddress(_ context.Context, address string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.WalletAddress == address && u.WalletAddress != "" {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *MemoryStore) CreateUser(_ context.Context, params CreateUserParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	user := User{
		ID:            uuid.NewString(),
		WalletAddress: params.WalletAddress,
		DisplayName:   params.DisplayName,
		CreatedAt:     now,
		LastLoginAt:   now,
	}
	m.users[user.ID] = user
	if params.WalletAddress != "" {
		wallet := Wallet{
			ID:         uuid.NewString(),
			UserID:     user.ID,
			Address:    params.WalletAddress,
			IsPrimary:  true,
			Active:     true,
			WalletType: params.WalletType,
			Provider:   params.WalletProvider,
			Blockchain: params.Blockchain,
		}
		m.wallets[wallet.ID] = wallet
	}
	return user, nil
}

func (m *MemoryStore) UpdateUserLastLogin(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) UpdateWalletLastUsed(_ context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return ErrNotFound
	}
	w.LastUsedAt = time.Now().UTC()
	m.wallets[walletID] = w
	return nil
}

func (m *MemoryStore) MigrateLegacyWallet(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if u.WalletAddress == "" {
		return nil
	}
	for _, w := range m.wallets {
		if w.UserID == userID && w.Address == u.WalletAddress {
			return nil // already migrated
		}
	}
	wallet := Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Address:   u.WalletAddress,
		IsPrimary: true,
		Active:    true,
		Legacy:    true,
	}
	m.wallets[wallet.ID] = wallet
	return nil
}

func (m *MemoryStore) RecordToolUsage(_ context.Context, usage ToolUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	m.usages = append(m.usages, usage)
	return nil
}

func (m *MemoryStore) CreatePayment(_ context.Context, payment Payment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	m.payments = append(m.payments, payment)
	return payment.ID, nil
}

func (m *MemoryStore) Close(context.Context) error { return nil }

// Test inspection helpers.

func (m *MemoryStore) Usages() []ToolUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ToolUsage, len(m.usages))
	copy(out, m.usages)
	return out
}

func (m *MemoryStore) Payments() []Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Payment, len(m.payments))
	copy(out, m.payments)
	return out
}
