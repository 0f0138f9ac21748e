package notifier

import (
	"fmt"
	"strings"

	"github.com/yieldloop/engine/internal/types"
)

// FormatExecutionReport renders one execution result as a Telegram HTML message.
// A confirmation timeout is surfaced distinctly so the owner knows to
// reconcile against chain state instead of assuming the action is lost.
func FormatExecutionReport(strategy types.Strategy, execution types.StrategyExecution) string {
	var b strings.Builder

	switch {
	case execution.Status == types.ExecutionSuccess:
		b.WriteString("✅ <b>Strategy executed</b>\n\n")
	case execution.NeedsReconciliation:
		b.WriteString("⚠️ <b>Strategy execution unresolved</b>\n\n")
	default:
		b.WriteString("❌ <b>Strategy execution failed</b>\n\n")
	}

	fmt.Fprintf(&b, "Strategy: %s (#%d)\n", strategy.Name, strategy.ID)
	fmt.Fprintf(&b, "Action: %s\n", execution.ActionType)
	fmt.Fprintf(&b, "Status: %s\n", execution.Status)

	if execution.TransactionHash != nil {
		fmt.Fprintf(&b, "Tx: <code>%s</code>\n", *execution.TransactionHash)
	}
	if execution.GasFee != nil {
		fmt.Fprintf(&b, "Gas fee: %s\n", execution.GasFee.String())
	}
	if execution.ErrorMessage != nil {
		fmt.Fprintf(&b, "Error: %s\n", *execution.ErrorMessage)
	}
	if execution.NeedsReconciliation {
		b.WriteString("\nThe outcome is ambiguous: the transaction may still confirm. Please verify against chain state.")
	}

	return b.String()
}
