// Package dbpool opens PostgreSQL connection pools with the configured
// sizing applied. The store and any future repositories share one pool.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mcpay/gateway/internal/config"
)

// Open connects to PostgreSQL, verifies the connection, and applies the
// pool limits from configuration.
func Open(ctx context.Context, connectionString string, poolConfig config.PostgresPoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dbpool: ping postgres: %w", err)
	}

	db.SetMaxOpenConns(poolConfig.MaxOpenConns)
	db.SetMaxIdleConns(poolConfig.MaxIdleConns)
	db.SetConnMaxLifetime(poolConfig.ConnMaxLifetime.Duration)

	return db, nil
}
