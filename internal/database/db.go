// Package database persists signals and trigger traces to PostgreSQL and
// implements the engine's sink boundary.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool and verifies it with a ping
func NewDB(cfg Config, logger *logging.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.WithComponent("database")
	log.Info("Connected to PostgreSQL", "database", cfg.Database)

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// RunMigrations executes the schema migrations in order
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			symbol VARCHAR(64) NOT NULL,
			direction VARCHAR(8) NOT NULL,
			timeframe VARCHAR(64) NOT NULL,
			entry_min DOUBLE PRECISION NOT NULL,
			entry_max DOUBLE PRECISION NOT NULL,
			current_price DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			target1 DOUBLE PRECISION NOT NULL,
			target2 DOUBLE PRECISION NOT NULL,
			target3 DOUBLE PRECISION NOT NULL,
			confidence INTEGER NOT NULL,
			strength VARCHAR(16) NOT NULL,
			risk_level VARCHAR(16) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
			reasoning TEXT,
			selection_reason TEXT,
			market_condition VARCHAR(16),
			outcome VARCHAR(24),
			return_pct DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_signals_symbol_created
			ON signals(symbol, created_at DESC)`,

		`CREATE INDEX IF NOT EXISTS idx_signals_status
			ON signals(status) WHERE status = 'ACTIVE'`,

		`CREATE TABLE IF NOT EXISTS strategy_triggers (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(64) NOT NULL,
			strategy VARCHAR(64),
			reason TEXT NOT NULL,
			priority VARCHAR(8) NOT NULL,
			market_price DOUBLE PRECISION NOT NULL,
			change_1h DOUBLE PRECISION,
			volume_24h DOUBLE PRECISION,
			signal_generated BOOLEAN NOT NULL DEFAULT FALSE,
			rejected BOOLEAN NOT NULL DEFAULT FALSE,
			rejection_reason TEXT,
			reasoning TEXT,
			indicators JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_triggers_symbol_created
			ON strategy_triggers(symbol, created_at DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("Database migrations complete", "count", len(migrations))
	return nil
}
