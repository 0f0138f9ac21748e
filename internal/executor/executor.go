/*

This file contains the action executor: estimate the gas fee, enforce the
strategy's gas ceiling before anything touches the chain, submit exactly one
transaction, and wait (bounded) for its terminal confirmation.

*/

package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yieldloop/engine/internal/chain"
	"github.com/yieldloop/engine/internal/logger"
	"github.com/yieldloop/engine/internal/types"
)

// Executor performs a fired strategy's actions through the chain submission
// layer. It never retries a submitted-but-unconfirmed transaction itself.
type Executor struct {
	log            zerolog.Logger
	chain          chain.Client
	confirmTimeout time.Duration
}

// New creates an Executor over the given chain client.
func New(chainClient chain.Client, confirmTimeout time.Duration) (*Executor, error) {
	if chainClient == nil {
		return nil, errors.New("chain client cannot be nil")
	}
	if confirmTimeout <= 0 {
		return nil, errors.New("confirmation timeout must be positive")
	}
	return &Executor{
		log:            logger.GetForComponent("action_executor"),
		chain:          chainClient,
		confirmTimeout: confirmTimeout,
	}, nil
}

// Execute performs one action against the selected opportunity and returns a
// terminal result. Exactly one transaction is submitted on the success path;
// zero when the gas ceiling rejects the action early.
func (e *Executor) Execute(ctx context.Context, strategy types.Strategy, action types.Action, opportunity types.Opportunity) types.ExecutionResult {
	req := chain.TxRequest{
		Network:    opportunity.Network,
		Protocol:   opportunity.Protocol,
		ActionType: action.Type,
		Asset:      action.Asset,
		Amount:     action.Amount,
	}

	estimatedFee, err := e.chain.EstimateFee(ctx, req)
	if err != nil {
		e.log.Error().Err(err).
			Int64("strategyID", strategy.ID).
			Str("actionType", string(action.Type)).
			Msg("Gas estimation failed")
		return types.ExecutionResult{
			Status:       types.ExecutionFailed,
			ErrorMessage: fmt.Sprintf("gas estimation failed: %v", err),
		}
	}

	// Fail fast on the ceiling, before any submission is made.
	if strategy.MaxGasFee != nil && estimatedFee.GreaterThan(*strategy.MaxGasFee) {
		e.log.Warn().
			Int64("strategyID", strategy.ID).
			Str("estimatedFee", estimatedFee.String()).
			Str("maxGasFee", strategy.MaxGasFee.String()).
			Msg("Gas ceiling exceeded, action aborted before submission")
		return types.ExecutionResult{
			Status: types.ExecutionFailed,
			ErrorMessage: fmt.Sprintf("%s: estimated %s exceeds ceiling %s",
				types.ErrGasCeilingExceeded.Error(), estimatedFee.String(), strategy.MaxGasFee.String()),
		}
	}

	txHash, err := e.chain.Submit(ctx, req)
	if err != nil {
		e.log.Error().Err(err).
			Int64("strategyID", strategy.ID).
			Str("actionType", string(action.Type)).
			Msg("Transaction submission failed")
		return types.ExecutionResult{
			Status:       types.ExecutionFailed,
			ErrorMessage: fmt.Sprintf("%s: %v", types.ErrSubmissionFailed.Error(), err),
		}
	}

	confirmation, err := e.chain.AwaitConfirmation(ctx, txHash, e.confirmTimeout)
	if err != nil {
		if errors.Is(err, types.ErrConfirmationTimeout) {
			// Ambiguous outcome: the transaction may still confirm later.
			e.log.Warn().
				Int64("strategyID", strategy.ID).
				Str("txHash", txHash).
				Dur("timeout", e.confirmTimeout).
				Msg("Confirmation timed out, flagging for manual reconciliation")
			return types.ExecutionResult{
				Status:              types.ExecutionFailed,
				TransactionHash:     txHash,
				ErrorMessage:        types.ErrConfirmationTimeout.Error(),
				NeedsReconciliation: true,
			}
		}
		e.log.Error().Err(err).
			Int64("strategyID", strategy.ID).
			Str("txHash", txHash).
			Msg("Confirmation check failed")
		return types.ExecutionResult{
			Status:              types.ExecutionFailed,
			TransactionHash:     txHash,
			ErrorMessage:        fmt.Sprintf("confirmation check failed: %v", err),
			NeedsReconciliation: true,
		}
	}

	if !confirmation.Success {
		e.log.Error().
			Int64("strategyID", strategy.ID).
			Str("txHash", txHash).
			Int64("gasUsed", confirmation.GasUsed).
			Msg("Transaction reverted on-chain")
		return types.ExecutionResult{
			Status:          types.ExecutionFailed,
			TransactionHash: txHash,
			GasUsed:         confirmation.GasUsed,
			GasFee:          confirmation.GasFee,
			ErrorMessage:    "transaction reverted on-chain",
		}
	}

	e.log.Info().
		Int64("strategyID", strategy.ID).
		Str("txHash", txHash).
		Str("actionType", string(action.Type)).
		Str("asset", action.Asset).
		Int64("gasUsed", confirmation.GasUsed).
		Str("gasFee", confirmation.GasFee.String()).
		Msg("Action executed successfully")
	return types.ExecutionResult{
		Status:          types.ExecutionSuccess,
		TransactionHash: txHash,
		GasUsed:         confirmation.GasUsed,
		GasFee:          confirmation.GasFee,
	}
}
