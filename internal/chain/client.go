package chain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yieldloop/engine/internal/types"
)

// TxRequest describes one on-chain action the executor wants performed.
type TxRequest struct {
	Network    string          // selects the router contract
	Protocol   string          // target protocol, informational
	ActionType types.ActionType
	Asset      string
	Amount     decimal.Decimal // native asset units
}

// Confirmation is the terminal outcome of a submitted transaction.
type Confirmation struct {
	Success bool
	GasUsed int64
	GasFee  decimal.Decimal // native units
}

// Client defines the interface to the chain submission layer. Implementations
// must never block the caller indefinitely: AwaitConfirmation resolves within
// the given timeout or returns an error wrapping types.ErrConfirmationTimeout.
type Client interface {
	// EstimateFee returns the estimated total fee for the request in native units.
	EstimateFee(ctx context.Context, req TxRequest) (decimal.Decimal, error)

	// Submit broadcasts a single transaction and returns its hash.
	Submit(ctx context.Context, req TxRequest) (string, error)

	// AwaitConfirmation waits for the transaction to be mined, bounded by timeout.
	AwaitConfirmation(ctx context.Context, txHash string, timeout time.Duration) (Confirmation, error)

	// Close cleans up any resources held by the client.
	Close() error
}
