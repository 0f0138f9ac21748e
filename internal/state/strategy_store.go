// ./internal/state/strategy_store.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/yieldloop/engine/internal/types"
)

// Store is the persistence boundary for strategies and their execution
// history. It owns the rows; the engine holds only transient copies.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store backed by the global connection pool.
func NewStore() *Store {
	return &Store{db: DB}
}

const strategyColumns = `
	strategy_id, user_id, name, description, status, trigger_type,
	conditions, actions, target_protocols, target_networks,
	max_gas_fee, schedule_spec, rearm_interval_seconds, next_execution,
	total_executions, total_invested, total_return, created_at, updated_at`

// ListDue returns active strategies whose next execution has passed and that
// are not currently held under a live lease. Strategies in paused or
// completed state are never returned.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]types.Strategy, error) {
	if s.db == nil {
		return nil, types.ErrRepositoryUnavailable
	}

	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE status = 'active'
		  AND next_execution IS NOT NULL
		  AND next_execution <= $1
		  AND (lease_owner IS NULL OR lease_expires_at < CURRENT_TIMESTAMP)
		ORDER BY next_execution ASC
		LIMIT $2;`

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due strategies: %w", err)
	}
	defer rows.Close()

	var due []types.Strategy
	for rows.Next() {
		strategy, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		// Rows that fail validation are skipped rather than handed to the
		// scheduler; the definition is the user's to fix.
		if err := strategy.Validate(); err != nil {
			log.Error().Err(err).Int64("strategyID", strategy.ID).Msg("Skipping invalid strategy definition")
			continue
		}
		due = append(due, strategy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due strategies: %w", err)
	}
	return due, nil
}

// Lease attempts to take an exclusive time-bounded claim on a strategy.
// Returns false when another worker already holds a live lease, which the
// caller must treat as a no-op (no duplicate execution rows). The holding
// owner may call again to extend its own lease. Expiry is computed on the
// database clock, the same clock the expiry is later compared against, so
// engine/database clock skew cannot shorten or stretch a lease.
func (s *Store) Lease(ctx context.Context, strategyID int64, owner uuid.UUID, ttl time.Duration) (bool, error) {
	if s.db == nil {
		return false, types.ErrRepositoryUnavailable
	}

	query := `
		UPDATE strategies
		SET lease_owner = $2, lease_expires_at = CURRENT_TIMESTAMP + make_interval(secs => $3)
		WHERE strategy_id = $1
		  AND status = 'active'
		  AND (lease_owner IS NULL OR lease_owner = $2 OR lease_expires_at < CURRENT_TIMESTAMP);`

	result, err := s.db.ExecContext(ctx, query, strategyID, owner, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to lease strategy %d: %w", strategyID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check lease result for strategy %d: %w", strategyID, err)
	}
	return affected == 1, nil
}

// Release drops the lease if it is still held by the given owner. Releasing a
// lease that was taken over by another worker is a no-op.
func (s *Store) Release(ctx context.Context, strategyID int64, owner uuid.UUID) error {
	if s.db == nil {
		return types.ErrRepositoryUnavailable
	}

	query := `
		UPDATE strategies
		SET lease_owner = NULL, lease_expires_at = NULL
		WHERE strategy_id = $1 AND lease_owner = $2;`

	if _, err := s.db.ExecContext(ctx, query, strategyID, owner); err != nil {
		return fmt.Errorf("failed to release strategy %d: %w", strategyID, err)
	}
	return nil
}

// Reschedule persists the recomputed next execution time. Called both on a
// skipped cycle and after recording a fired one.
func (s *Store) Reschedule(ctx context.Context, strategyID int64, next time.Time) error {
	if s.db == nil {
		return types.ErrRepositoryUnavailable
	}

	query := `
		UPDATE strategies
		SET next_execution = $2, updated_at = CURRENT_TIMESTAMP
		WHERE strategy_id = $1;`

	result, err := s.db.ExecContext(ctx, query, strategyID, next)
	if err != nil {
		return fmt.Errorf("failed to reschedule strategy %d: %w", strategyID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check reschedule result for strategy %d: %w", strategyID, err)
	}
	if affected == 0 {
		return fmt.Errorf("strategy %d not found for reschedule", strategyID)
	}
	return nil
}

// InsertStrategy validates and persists a new strategy definition.
// Conditions and actions are validated here, at the repository boundary,
// not interpreted ad hoc downstream.
func (s *Store) InsertStrategy(ctx context.Context, strategy *types.Strategy) (int64, error) {
	if s.db == nil {
		return 0, types.ErrRepositoryUnavailable
	}
	if err := strategy.Validate(); err != nil {
		return 0, fmt.Errorf("strategy rejected at repository boundary: %w", err)
	}

	conditionsJSON, err := json.Marshal(strategy.Conditions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actionsJSON, err := json.Marshal(strategy.Actions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal actions: %w", err)
	}

	var maxGasFee sql.NullString
	if strategy.MaxGasFee != nil {
		maxGasFee = sql.NullString{String: strategy.MaxGasFee.String(), Valid: true}
	}

	query := `
		INSERT INTO strategies (
			user_id, name, description, status, trigger_type,
			conditions, actions, target_protocols, target_networks,
			max_gas_fee, schedule_spec, rearm_interval_seconds, next_execution
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING strategy_id;`

	var strategyID int64
	err = s.db.QueryRowContext(
		ctx, query,
		strategy.UserID, strategy.Name, strategy.Description, strategy.Status, strategy.Trigger,
		conditionsJSON, actionsJSON,
		pq.Array(strategy.TargetProtocols), pq.Array(strategy.TargetNetworks),
		maxGasFee, nullIfEmpty(strategy.ScheduleSpec), int64(strategy.RearmInterval/time.Second),
		strategy.NextExecution,
	).Scan(&strategyID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert strategy: %w", err)
	}

	log.Info().
		Int64("strategyID", strategyID).
		Str("name", strategy.Name).
		Str("trigger", string(strategy.Trigger)).
		Msg("Strategy saved")
	return strategyID, nil
}

// GetStrategy loads a single strategy by id.
func (s *Store) GetStrategy(ctx context.Context, strategyID int64) (*types.Strategy, error) {
	if s.db == nil {
		return nil, types.ErrRepositoryUnavailable
	}

	query := `SELECT ` + strategyColumns + ` FROM strategies WHERE strategy_id = $1;`
	row := s.db.QueryRowContext(ctx, query, strategyID)
	strategy, err := scanStrategy(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("strategy %d not found", strategyID)
		}
		return nil, err
	}
	return &strategy, nil
}

// ListStrategies returns the most recently updated strategies.
func (s *Store) ListStrategies(ctx context.Context, limit int) ([]types.Strategy, error) {
	if s.db == nil {
		return nil, types.ErrRepositoryUnavailable
	}

	query := `SELECT ` + strategyColumns + ` FROM strategies ORDER BY updated_at DESC LIMIT $1;`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	defer rows.Close()

	var strategies []types.Strategy
	for rows.Next() {
		strategy, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, strategy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate strategies: %w", err)
	}
	return strategies, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStrategy(row rowScanner) (types.Strategy, error) {
	var (
		strategy        types.Strategy
		userID          sql.NullInt64
		description     sql.NullString
		conditionsJSON  []byte
		actionsJSON     []byte
		maxGasFee       sql.NullString
		scheduleSpec    sql.NullString
		rearmSeconds    int64
		nextExecution   sql.NullTime
		totalInvested   string
		totalReturn     string
	)

	err := row.Scan(
		&strategy.ID, &userID, &strategy.Name, &description, &strategy.Status, &strategy.Trigger,
		&conditionsJSON, &actionsJSON,
		pq.Array(&strategy.TargetProtocols), pq.Array(&strategy.TargetNetworks),
		&maxGasFee, &scheduleSpec, &rearmSeconds, &nextExecution,
		&strategy.TotalExecutions, &totalInvested, &totalReturn,
		&strategy.CreatedAt, &strategy.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Strategy{}, err
		}
		return types.Strategy{}, fmt.Errorf("failed to scan strategy row: %w", err)
	}

	if userID.Valid {
		strategy.UserID = &userID.Int64
	}
	strategy.Description = description.String
	if err := json.Unmarshal(conditionsJSON, &strategy.Conditions); err != nil {
		return types.Strategy{}, fmt.Errorf("failed to unmarshal conditions for strategy %d: %w", strategy.ID, err)
	}
	if err := json.Unmarshal(actionsJSON, &strategy.Actions); err != nil {
		return types.Strategy{}, fmt.Errorf("failed to unmarshal actions for strategy %d: %w", strategy.ID, err)
	}
	if maxGasFee.Valid {
		fee, err := decimal.NewFromString(maxGasFee.String)
		if err != nil {
			return types.Strategy{}, fmt.Errorf("invalid max_gas_fee for strategy %d: %w", strategy.ID, err)
		}
		strategy.MaxGasFee = &fee
	}
	strategy.ScheduleSpec = scheduleSpec.String
	strategy.RearmInterval = time.Duration(rearmSeconds) * time.Second
	if nextExecution.Valid {
		strategy.NextExecution = nextExecution.Time
	}
	strategy.TotalInvested, err = decimal.NewFromString(totalInvested)
	if err != nil {
		return types.Strategy{}, fmt.Errorf("invalid total_invested for strategy %d: %w", strategy.ID, err)
	}
	strategy.TotalReturn, err = decimal.NewFromString(totalReturn)
	if err != nil {
		return types.Strategy{}, fmt.Errorf("invalid total_return for strategy %d: %w", strategy.ID, err)
	}

	return strategy, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
