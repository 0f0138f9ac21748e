package config

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Workers is the number of concurrent strategy workers in the scheduler pool.
	Workers int
	// PollInterval is how often the scheduler wakes to pull due strategies.
	PollInterval time.Duration
	// DueBatchSize is the maximum number of due strategies pulled per wake.
	DueBatchSize int

	// LeaseTTL bounds how long a worker may hold a strategy before another
	// worker is allowed to take it over.
	LeaseTTL time.Duration
	// FreshnessBound is the maximum age of opportunity data the evaluator
	// will act upon.
	FreshnessBound time.Duration
	// ConfirmTimeout is the hard bound on waiting for on-chain confirmation.
	ConfirmTimeout time.Duration
	// PendingRecoveryTimeout is the age past which a pending execution row is
	// considered orphaned and failed during crash recovery.
	PendingRecoveryTimeout time.Duration
	// DefaultRearmInterval is the fallback re-arm interval for time-based
	// strategies that carry neither a cron spec nor their own interval.
	DefaultRearmInterval time.Duration
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Workers, err = getEnvAsInt("ENGINE_WORKERS")
	if err != nil {
		return err
	}
	if Workers <= 0 {
		return errors.New("ENGINE_WORKERS must be positive")
	}

	PollInterval, err = getEnvAsDuration("ENGINE_POLL_INTERVAL")
	if err != nil {
		return err
	}

	DueBatchSize, err = getEnvAsInt("ENGINE_DUE_BATCH_SIZE")
	if err != nil {
		return err
	}
	if DueBatchSize <= 0 {
		return errors.New("ENGINE_DUE_BATCH_SIZE must be positive")
	}

	LeaseTTL, err = getEnvAsDuration("ENGINE_LEASE_TTL")
	if err != nil {
		return err
	}

	FreshnessBound, err = getEnvAsDuration("ENGINE_FRESHNESS_BOUND")
	if err != nil {
		return err
	}

	ConfirmTimeout, err = getEnvAsDuration("ENGINE_CONFIRM_TIMEOUT")
	if err != nil {
		return err
	}

	PendingRecoveryTimeout, err = getEnvAsDuration("ENGINE_PENDING_RECOVERY_TIMEOUT")
	if err != nil {
		return err
	}

	DefaultRearmInterval, err = getEnvAsDuration("ENGINE_DEFAULT_REARM_INTERVAL")
	if err != nil {
		return err
	}

	// A lease must outlive a full confirmation wait, otherwise a worker stuck
	// in AwaitConfirmation loses its claim while alive and a second worker
	// can run the same due strategy.
	if LeaseTTL <= ConfirmTimeout {
		return errors.New("ENGINE_LEASE_TTL must be greater than ENGINE_CONFIRM_TIMEOUT")
	}

	// Load chain and endpoint configuration
	if err := loadChainConfig(); err != nil {
		return err
	}
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Int("Workers", Workers).
		Dur("PollInterval", PollInterval).
		Dur("LeaseTTL", LeaseTTL).
		Dur("FreshnessBound", FreshnessBound).
		Msg("Configuration loaded successfully.")

	return nil
}
