// ./internal/state/execution_store.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/yieldloop/engine/internal/types"
)

// WriteExecution inserts a pending execution row and returns its id. The row
// is committed BEFORE any chain submission is made so a crash between insert
// and submission leaves a recoverable trace instead of an invisible action.
func (s *Store) WriteExecution(ctx context.Context, strategyID int64, actionType types.ActionType, opportunityID *int64) (int64, error) {
	if s.db == nil {
		return 0, types.ErrRepositoryUnavailable
	}

	query := `
		INSERT INTO strategy_executions (strategy_id, status, action_type, opportunity_id)
		VALUES ($1, 'pending', $2, $3)
		RETURNING execution_id;`

	var executionID int64
	err := s.db.QueryRowContext(ctx, query, strategyID, actionType, opportunityID).Scan(&executionID)
	if err != nil {
		return 0, fmt.Errorf("failed to write pending execution for strategy %d: %w", strategyID, err)
	}

	log.Debug().
		Int64("executionID", executionID).
		Int64("strategyID", strategyID).
		Str("actionType", string(actionType)).
		Msg("Pending execution row written")
	return executionID, nil
}

// FinalizeExecution moves a pending row to its terminal state and updates the
// strategy counters in the same transaction, so a crash can never leave the
// counters and the log disagreeing.
func (s *Store) FinalizeExecution(
	ctx context.Context,
	executionID, strategyID int64,
	result types.ExecutionResult,
	investedDelta, returnDelta decimal.Decimal,
) error {
	if s.db == nil {
		return types.ErrRepositoryUnavailable
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin finalize transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		txHash  sql.NullString
		gasUsed sql.NullInt64
		gasFee  sql.NullString
		errMsg  sql.NullString
	)
	if result.Submitted() {
		txHash = sql.NullString{String: result.TransactionHash, Valid: true}
		gasUsed = sql.NullInt64{Int64: result.GasUsed, Valid: true}
		gasFee = sql.NullString{String: result.GasFee.String(), Valid: true}
	}
	if result.ErrorMessage != "" {
		errMsg = sql.NullString{String: result.ErrorMessage, Valid: true}
	}

	updateExecution := `
		UPDATE strategy_executions
		SET status = $2, transaction_hash = $3, gas_used = $4, gas_fee = $5,
		    error_message = $6, needs_reconciliation = $7
		WHERE execution_id = $1 AND status = 'pending';`

	res, err := tx.ExecContext(ctx, updateExecution,
		executionID, result.Status, txHash, gasUsed, gasFee, errMsg, result.NeedsReconciliation)
	if err != nil {
		return fmt.Errorf("failed to finalize execution %d: %w", executionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finalize result for execution %d: %w", executionID, err)
	}
	if affected == 0 {
		// The row was already finalized, most likely by crash recovery after
		// a lease takeover. Abort without touching the counters.
		return fmt.Errorf("execution %d is no longer pending: %w", executionID, types.ErrLeaseLost)
	}

	updateCounters := `
		UPDATE strategies
		SET total_executions = total_executions + 1,
		    total_invested = total_invested + $2,
		    total_return = total_return + $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE strategy_id = $1;`

	if _, err := tx.ExecContext(ctx, updateCounters, strategyID, investedDelta, returnDelta); err != nil {
		return fmt.Errorf("failed to update counters for strategy %d: %w", strategyID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit finalize transaction: %w", err)
	}

	log.Info().
		Int64("executionID", executionID).
		Int64("strategyID", strategyID).
		Str("status", string(result.Status)).
		Str("txHash", result.TransactionHash).
		Msg("Execution finalized")
	return nil
}

// RecoverStalePending fails pending rows older than the given timeout. Run at
// startup so no execution remains pending indefinitely after a crash. The
// rows are flagged for reconciliation since their transactions may have
// confirmed after the crash.
func (s *Store) RecoverStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s.db == nil {
		return 0, types.ErrRepositoryUnavailable
	}

	query := `
		UPDATE strategy_executions
		SET status = 'failed',
		    error_message = 'orphaned pending execution recovered at startup',
		    needs_reconciliation = TRUE
		WHERE status = 'pending' AND executed_at < $1;`

	result, err := s.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale pending executions: %w", err)
	}
	recovered, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count recovered executions: %w", err)
	}
	if recovered > 0 {
		log.Warn().Int64("recovered", recovered).Msg("Recovered orphaned pending executions; manual reconciliation against chain state required")
	}
	return recovered, nil
}

// ListExecutions returns the most recent executions for one strategy.
func (s *Store) ListExecutions(ctx context.Context, strategyID int64, limit int) ([]types.StrategyExecution, error) {
	if s.db == nil {
		return nil, types.ErrRepositoryUnavailable
	}

	query := `
		SELECT execution_id, strategy_id, status, executed_at, action_type,
		       opportunity_id, transaction_hash, gas_used, gas_fee,
		       error_message, needs_reconciliation
		FROM strategy_executions
		WHERE strategy_id = $1
		ORDER BY executed_at DESC
		LIMIT $2;`

	return s.queryExecutions(ctx, query, strategyID, limit)
}

// ListRecentExecutions returns the most recent executions across all strategies.
func (s *Store) ListRecentExecutions(ctx context.Context, limit int) ([]types.StrategyExecution, error) {
	if s.db == nil {
		return nil, types.ErrRepositoryUnavailable
	}

	query := `
		SELECT execution_id, strategy_id, status, executed_at, action_type,
		       opportunity_id, transaction_hash, gas_used, gas_fee,
		       error_message, needs_reconciliation
		FROM strategy_executions
		ORDER BY executed_at DESC
		LIMIT $1;`

	return s.queryExecutions(ctx, query, limit)
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]types.StrategyExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []types.StrategyExecution
	for rows.Next() {
		var (
			execution     types.StrategyExecution
			opportunityID sql.NullInt64
			txHash        sql.NullString
			gasUsed       sql.NullInt64
			gasFee        sql.NullString
			errMsg        sql.NullString
		)
		err := rows.Scan(
			&execution.ID, &execution.StrategyID, &execution.Status, &execution.ExecutedAt,
			&execution.ActionType, &opportunityID, &txHash, &gasUsed, &gasFee,
			&errMsg, &execution.NeedsReconciliation,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		if opportunityID.Valid {
			execution.OpportunityID = &opportunityID.Int64
		}
		if txHash.Valid {
			execution.TransactionHash = &txHash.String
		}
		if gasUsed.Valid {
			execution.GasUsed = &gasUsed.Int64
		}
		if gasFee.Valid {
			fee, err := decimal.NewFromString(gasFee.String)
			if err != nil {
				return nil, fmt.Errorf("invalid gas_fee for execution %d: %w", execution.ID, err)
			}
			execution.GasFee = &fee
		}
		if errMsg.Valid {
			execution.ErrorMessage = &errMsg.String
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return executions, nil
}
