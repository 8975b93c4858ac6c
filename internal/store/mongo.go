package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mcpay/gateway/internal/config"
)

// MongoStore implements Store using MongoDB.
type MongoStore struct {
	client   *mongo.Client
	servers  *mongo.Collection
	tools    *mongo.Collection
	users    *mongo.Collection
	wallets  *mongo.Collection
	apiKeys  *mongo.Collection
	payments *mongo.Collection
	usage    *mongo.Collection
}

// OpenMongo connects and prepares the collections and indexes.
func OpenMongo(ctx context.Context, cfg config.StorageConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURL))
	if err != nil {
		return nil, fmt.Errorf("store: connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("store: ping mongodb: %w", err)
	}

	db := client.Database(cfg.MongoDBDatabase)
	s := &MongoStore{
		client:   client,
		servers:  db.Collection("mcp_servers"),
		tools:    db.Collection("mcp_tools"),
		users:    db.Collection("users"),
		wallets:  db.Collection("wallets"),
		apiKeys:  db.Collection("api_keys"),
		payments: db.Collection("payments"),
		usage:    db.Collection("tool_usage"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.servers, mongo.IndexModel{Keys: bson.D{{Key: "public_id", Value: 1}}, Options: unique}},
		{s.tools, mongo.IndexModel{Keys: bson.D{{Key: "server_internal_id", Value: 1}, {Key: "name", Value: 1}}, Options: unique}},
		{s.wallets, mongo.IndexModel{Keys: bson.D{{Key: "address", Value: 1}}}},
		{s.apiKeys, mongo.IndexModel{Keys: bson.D{{Key: "key_hash", Value: 1}}, Options: unique}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("store: create index: %w", err)
		}
	}
	return nil
}

func (s *MongoStore) GetServerByPublicID(ctx context.Context, publicID string) (Server, error) {
	var srv Server
	err := s.servers.FindOne(ctx, bson.M{"public_id": publicID}).Decode(&srv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Server{}, ErrNotFound
	}
	if err != nil {
		return Server{}, fmt.Errorf("store: get server: %w", err)
	}
	return srv, nil
}

func (s *MongoStore) ListToolsByServer(ctx context.Context, serverInternalID string) ([]Tool, error) {
	cursor, err := s.tools.Find(ctx, bson.M{"server_internal_id": serverInternalID})
	if err != nil {
		return nil, fmt.Errorf("store: list tools: %w", err)
	}
	var tools []Tool
	if err := cursor.All(ctx, &tools); err != nil {
		return nil, fmt.Errorf("store: decode tools: %w", err)
	}
	return tools, nil
}

func (s *MongoStore) GetToolByID(ctx context.Context, id string) (Tool, error) {
	var t Tool
	err := s.tools.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Tool{}, ErrNotFound
	}
	if err != nil {
		return Tool{}, fmt.Errorf("store: get tool: %w", err)
	}
	return t, nil
}

func (s *MongoStore) ValidateAPIKey(ctx context.Context, keyHash string) (APIKeyIdentity, error) {
	var key APIKey
	err := s.apiKeys.FindOne(ctx, bson.M{"key_hash": keyHash, "active": true}).Decode(&key)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return APIKeyIdentity{}, ErrNotFound
	}
	if err != nil {
		return APIKeyIdentity{}, fmt.Errorf("store: validate api key: %w", err)
	}
	user, err := s.GetUserByID(ctx, key.UserID)
	if err != nil {
		return APIKeyIdentity{}, err
	}
	_, _ = s.apiKeys.UpdateByID(ctx, key.ID, bson.M{"$set": bson.M{"last_used_at": time.Now().UTC()}})
	return APIKeyIdentity{User: user, APIKey: key}, nil
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

func (s *MongoStore) GetUserWallets(ctx context.Context, userID string, activeOnly bool) ([]Wallet, error) {
	filter := bson.M{"user_id": userID}
	if activeOnly {
		filter["active"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "is_primary", Value: -1}})
	cursor, err := s.wallets.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("store: get user wallets: %w", err)
	}
	var wallets []Wallet
	if err := cursor.All(ctx, &wallets); err != nil {
		return nil, fmt.Errorf("store: decode wallets: %w", err)
	}
	return wallets, nil
}

func (s *MongoStore) GetWalletByAddress(ctx context.Context, address string) (WalletIdentity, error) {
	var w Wallet
	err := s.wallets.FindOne(ctx, bson.M{"address": address}).Decode(&w)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return WalletIdentity{}, ErrNotFound
	}
	if err != nil {
		return WalletIdentity{}, fmt.Errorf("store: get wallet by address: %w", err)
	}
	user, err := s.GetUserByID(ctx, w.UserID)
	if err != nil {
		return WalletIdentity{}, err
	}
	return WalletIdentity{Wallet: w, User: user}, nil
}

func (s *MongoStore) GetUserByWalletAddress(ctx context.Context, address string) (User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"wallet_address": address}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user by wallet: %w", err)
	}
	return u, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	now := time.Now().UTC()
	user := User{
		ID:            newID(),
		WalletAddress: params.WalletAddress,
		DisplayName:   params.DisplayName,
		CreatedAt:     now,
		LastLoginAt:   now,
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return User{}, fmt.Errorf("store: insert user: %w", err)
	}
	if params.WalletAddress != "" {
		wallet := Wallet{
			ID:         newID(),
			UserID:     user.ID,
			Address:    params.WalletAddress,
			IsPrimary:  true,
			Active:     true,
			WalletType: params.WalletType,
			Provider:   params.WalletProvider,
			Blockchain: params.Blockchain,
		}
		if _, err := s.wallets.InsertOne(ctx, wallet); err != nil {
			return User{}, fmt.Errorf("store: insert wallet: %w", err)
		}
	}
	return user, nil
}

func (s *MongoStore) UpdateUserLastLogin(ctx context.Context, userID string) error {
	_, err := s.users.UpdateByID(ctx, userID, bson.M{"$set": bson.M{"last_login_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("store: update last login: %w", err)
	}
	return nil
}

func (s *MongoStore) UpdateWalletLastUsed(ctx context.Context, walletID string) error {
	_, err := s.wallets.UpdateByID(ctx, walletID, bson.M{"$set": bson.M{"last_used_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("store: update wallet last used: %w", err)
	}
	return nil
}

func (s *MongoStore) MigrateLegacyWallet(ctx context.Context, userID string) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.WalletAddress == "" {
		return nil
	}
	count, err := s.wallets.CountDocuments(ctx, bson.M{"user_id": userID, "address": user.WalletAddress})
	if err != nil {
		return fmt.Errorf("store: check legacy wallet: %w", err)
	}
	if count > 0 {
		return nil
	}
	wallet := Wallet{
		ID:        newID(),
		UserID:    userID,
		Address:   user.WalletAddress,
		IsPrimary: true,
		Active:    true,
		Legacy:    true,
	}
	if _, err := s.wallets.InsertOne(ctx, wallet); err != nil {
		return fmt.Errorf("store: migrate legacy wallet: %w", err)
	}
	return nil
}

func (s *MongoStore) RecordToolUsage(ctx context.Context, usage ToolUsage) error {
	if usage.ID == "" {
		usage.ID = newID()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	if _, err := s.usage.InsertOne(ctx, usage); err != nil {
		return fmt.Errorf("store: record tool usage: %w", err)
	}
	return nil
}

func (s *MongoStore) CreatePayment(ctx context.Context, payment Payment) (string, error) {
	if payment.ID == "" {
		payment.ID = newID()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	if _, err := s.payments.InsertOne(ctx, payment); err != nil {
		return "", fmt.Errorf("store: create payment: %w", err)
	}
	return payment.ID, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
