// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS strategies (
			strategy_id BIGSERIAL PRIMARY KEY,
			user_id BIGINT,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			trigger_type VARCHAR(20) NOT NULL,
			conditions JSONB NOT NULL,
			actions JSONB NOT NULL,
			target_protocols TEXT[] NOT NULL,
			target_networks TEXT[] NOT NULL,
			max_gas_fee DECIMAL(30, 18),
			schedule_spec VARCHAR(100),
			rearm_interval_seconds BIGINT NOT NULL DEFAULT 0,
			next_execution TIMESTAMPTZ,
			lease_owner UUID,
			lease_expires_at TIMESTAMPTZ,
			total_executions INTEGER NOT NULL DEFAULT 0,
			total_invested DECIMAL(30, 8) NOT NULL DEFAULT 0,
			total_return DECIMAL(30, 8) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT chk_strategies_status CHECK (status IN ('active', 'paused', 'completed')),
			CONSTRAINT chk_strategies_trigger CHECK (trigger_type IN ('time-based', 'price-based', 'apy-based'))
		);
		CREATE INDEX IF NOT EXISTS idx_strategies_due ON strategies(status, next_execution);
		CREATE INDEX IF NOT EXISTS idx_strategies_user ON strategies(user_id);

		CREATE TABLE IF NOT EXISTS strategy_executions (
			execution_id BIGSERIAL PRIMARY KEY,
			strategy_id BIGINT NOT NULL REFERENCES strategies(strategy_id) ON DELETE CASCADE,
			status VARCHAR(10) NOT NULL DEFAULT 'pending',
			executed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action_type VARCHAR(20) NOT NULL,
			opportunity_id BIGINT,
			transaction_hash VARCHAR(80),
			gas_used BIGINT,
			gas_fee DECIMAL(30, 18),
			error_message TEXT,
			needs_reconciliation BOOLEAN NOT NULL DEFAULT FALSE,
			CONSTRAINT chk_executions_status CHECK (status IN ('pending', 'success', 'failed'))
		);
		CREATE INDEX IF NOT EXISTS idx_executions_strategy ON strategy_executions(strategy_id, executed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_executions_status ON strategy_executions(status);
		CREATE INDEX IF NOT EXISTS idx_executions_timestamp ON strategy_executions(executed_at DESC);

		CREATE TABLE IF NOT EXISTS opportunities (
			opportunity_id BIGSERIAL PRIMARY KEY,
			protocol VARCHAR(100) NOT NULL,
			network VARCHAR(100) NOT NULL,
			asset VARCHAR(50) NOT NULL,
			apy DECIMAL(10, 4) NOT NULL,
			tvl_usd DECIMAL(20, 2) NOT NULL,
			risk_level SMALLINT NOT NULL,
			refreshed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_opportunities_position UNIQUE (protocol, network, asset)
		);
		CREATE INDEX IF NOT EXISTS idx_opportunities_lookup ON opportunities(protocol, network);
		CREATE INDEX IF NOT EXISTS idx_opportunities_refreshed ON opportunities(refreshed_at DESC);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
