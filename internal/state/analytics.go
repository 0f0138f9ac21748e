// ./internal/state/analytics.go
package state

import (
	"database/sql"
	"fmt"
	"time"
)

// EngineSummary aggregates strategy and execution history for the dashboard.
type EngineSummary struct {
	TotalStrategies     int        `json:"total_strategies"`
	ActiveStrategies    int        `json:"active_strategies"`
	TotalExecutions     int        `json:"total_executions"`
	SuccessfulCount     int        `json:"successful_count"`
	FailedCount         int        `json:"failed_count"`
	PendingCount        int        `json:"pending_count"`
	NeedsReconciliation int        `json:"needs_reconciliation"`
	TotalGasFee         string     `json:"total_gas_fee"`
	SuccessRatePercent  float64    `json:"success_rate_percent"`
	LastExecutionAt     *time.Time `json:"last_execution_at,omitempty"`
}

// GetEngineSummary computes the dashboard summary from the current tables.
func GetEngineSummary() (*EngineSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	summary := &EngineSummary{}

	strategyQuery := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'active')
		FROM strategies;`
	if err := DB.QueryRow(strategyQuery).Scan(&summary.TotalStrategies, &summary.ActiveStrategies); err != nil {
		return nil, fmt.Errorf("failed to count strategies: %w", err)
	}

	executionQuery := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'success'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE needs_reconciliation),
		       COALESCE(SUM(gas_fee), 0),
		       MAX(executed_at)
		FROM strategy_executions;`

	var lastExecution sql.NullTime
	err := DB.QueryRow(executionQuery).Scan(
		&summary.TotalExecutions, &summary.SuccessfulCount, &summary.FailedCount,
		&summary.PendingCount, &summary.NeedsReconciliation, &summary.TotalGasFee,
		&lastExecution,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate executions: %w", err)
	}
	if lastExecution.Valid {
		summary.LastExecutionAt = &lastExecution.Time
	}

	terminal := summary.SuccessfulCount + summary.FailedCount
	if terminal > 0 {
		summary.SuccessRatePercent = float64(summary.SuccessfulCount) / float64(terminal) * 100.0
	}

	return summary, nil
}
