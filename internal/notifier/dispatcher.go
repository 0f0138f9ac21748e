package notifier

import (
	"context"

	"github.com/yieldloop/engine/internal/types"
)

// Dispatcher informs the strategy owner of execution results. Calls are
// fire-and-forget from the scheduler's point of view: a delivery failure is
// logged and never rolls back a recorded execution.
type Dispatcher interface {
	Notify(ctx context.Context, strategy types.Strategy, execution types.StrategyExecution) error
}

// Noop is the Dispatcher used when no notification channel is configured.
type Noop struct{}

func (Noop) Notify(ctx context.Context, strategy types.Strategy, execution types.StrategyExecution) error {
	return nil
}
