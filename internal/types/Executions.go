/*

This file contains the execution log types. A StrategyExecution row is
immutable once terminal; the scheduler owns the pending -> terminal
transition.

*/

package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus is the lifecycle state of a single execution attempt.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// StrategyExecution is one log row of an executed (or attempted) action.
type StrategyExecution struct {
	ID         int64           `json:"execution_id"`
	StrategyID int64           `json:"strategy_id"`
	Status     ExecutionStatus `json:"status"`
	ExecutedAt time.Time       `json:"executed_at"`

	ActionType    ActionType `json:"action_type"`
	OpportunityID *int64     `json:"opportunity_id,omitempty"`

	// Present iff a transaction was actually submitted.
	TransactionHash *string          `json:"transaction_hash,omitempty"`
	GasUsed         *int64           `json:"gas_used,omitempty"`
	GasFee          *decimal.Decimal `json:"gas_fee,omitempty"`

	// Present iff the execution failed.
	ErrorMessage *string `json:"error_message,omitempty"`

	// Set when the terminal outcome is ambiguous (confirmation timeout,
	// orphaned pending row) and a human must reconcile against chain state.
	NeedsReconciliation bool `json:"needs_reconciliation"`
}

// ExecutionResult is the executor's terminal verdict for one action.
type ExecutionResult struct {
	Status              ExecutionStatus `json:"status"`
	TransactionHash     string          `json:"transaction_hash,omitempty"`
	GasUsed             int64           `json:"gas_used,omitempty"`
	GasFee              decimal.Decimal `json:"gas_fee"`
	ErrorMessage        string          `json:"error_message,omitempty"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
}

// Submitted reports whether a transaction actually reached the chain.
func (r ExecutionResult) Submitted() bool {
	return r.TransactionHash != ""
}
