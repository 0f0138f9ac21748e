package types

import "errors"

// Engine error taxonomy. Retry semantics: StaleData and GasCeilingExceeded
// resolve by waiting for the next scheduled cycle; SubmissionFailed is
// recorded and never auto-retried; ConfirmationTimeout is recorded as failed
// and flagged for manual reconciliation since the transaction may still
// confirm later; LeaseLost aborts the current worker without writing;
// RepositoryUnavailable leaves the strategy due for the next wake.
var (
	ErrStaleData             = errors.New("opportunity snapshot exceeds freshness bound")
	ErrGasCeilingExceeded    = errors.New("gas ceiling exceeded")
	ErrSubmissionFailed      = errors.New("transaction submission failed")
	ErrConfirmationTimeout   = errors.New("confirmation timeout")
	ErrLeaseLost             = errors.New("strategy lease lost to another worker")
	ErrRepositoryUnavailable = errors.New("strategy repository unavailable")
)
