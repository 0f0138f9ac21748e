package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yieldloop/engine/internal/chain"
	"github.com/yieldloop/engine/internal/types"
)

// fakeChain records calls so tests can assert on submission ordering and counts.
type fakeChain struct {
	estimatedFee decimal.Decimal
	estimateErr  error
	submitErr    error
	confirmation chain.Confirmation
	confirmErr   error

	estimateCalls int
	submitCalls   int
	confirmCalls  int
}

func (f *fakeChain) EstimateFee(ctx context.Context, req chain.TxRequest) (decimal.Decimal, error) {
	f.estimateCalls++
	return f.estimatedFee, f.estimateErr
}

func (f *fakeChain) Submit(ctx context.Context, req chain.TxRequest) (string, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "0xabc123", nil
}

func (f *fakeChain) AwaitConfirmation(ctx context.Context, txHash string, timeout time.Duration) (chain.Confirmation, error) {
	f.confirmCalls++
	return f.confirmation, f.confirmErr
}

func (f *fakeChain) Close() error { return nil }

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testStrategy(maxGasFee string) types.Strategy {
	strategy := types.Strategy{
		ID:              7,
		Status:          types.StrategyActive,
		Trigger:         types.TriggerAPYBased,
		TargetProtocols: []string{"aave"},
		TargetNetworks:  []string{"ethereum"},
	}
	if maxGasFee != "" {
		fee := dec(maxGasFee)
		strategy.MaxGasFee = &fee
	}
	return strategy
}

var (
	testAction = types.Action{
		Type:         types.ActionDeposit,
		Asset:        "USDC",
		AmountPolicy: types.AmountFixed,
		Amount:       dec("500"),
	}
	testOpportunity = types.Opportunity{
		ID:       1,
		Protocol: "aave",
		Network:  "ethereum",
		Asset:    "USDC",
		APY:      dec("6.2"),
	}
)

func TestExecuteSuccess(t *testing.T) {
	fake := &fakeChain{
		estimatedFee: dec("0.008"),
		confirmation: chain.Confirmation{Success: true, GasUsed: 21000, GasFee: dec("0.0079")},
	}
	exec, err := New(fake, time.Minute)
	require.NoError(t, err)

	result := exec.Execute(context.Background(), testStrategy("0.01"), testAction, testOpportunity)

	assert.Equal(t, types.ExecutionSuccess, result.Status)
	assert.Equal(t, "0xabc123", result.TransactionHash)
	assert.Equal(t, int64(21000), result.GasUsed)
	assert.True(t, result.GasFee.Equal(dec("0.0079")))
	assert.False(t, result.NeedsReconciliation)
	assert.Equal(t, 1, fake.submitCalls, "exactly one submission per successful execution")
}

func TestExecuteGasCeilingExceededNeverSubmits(t *testing.T) {
	fake := &fakeChain{estimatedFee: dec("0.02")}
	exec, err := New(fake, time.Minute)
	require.NoError(t, err)

	result := exec.Execute(context.Background(), testStrategy("0.01"), testAction, testOpportunity)

	assert.Equal(t, types.ExecutionFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "gas ceiling exceeded")
	assert.Empty(t, result.TransactionHash)
	assert.Zero(t, fake.submitCalls, "ceiling rejection must not submit")
	assert.Zero(t, fake.confirmCalls)
}

func TestExecuteNoCeilingSubmits(t *testing.T) {
	fake := &fakeChain{
		estimatedFee: dec("5"),
		confirmation: chain.Confirmation{Success: true, GasUsed: 21000, GasFee: dec("4.9")},
	}
	exec, err := New(fake, time.Minute)
	require.NoError(t, err)

	result := exec.Execute(context.Background(), testStrategy(""), testAction, testOpportunity)

	assert.Equal(t, types.ExecutionSuccess, result.Status)
	assert.Equal(t, 1, fake.submitCalls)
}

func TestExecuteEstimationFailure(t *testing.T) {
	fake := &fakeChain{estimateErr: errors.New("node unreachable")}
	exec, err := New(fake, time.Minute)
	require.NoError(t, err)

	result := exec.Execute(context.Background(), testStrategy("0.01"), testAction, testOpportunity)

	assert.Equal(t, types.ExecutionFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "gas estimation failed")
	assert.Zero(t, fake.submitCalls)
}

func TestExecuteSubmissionFailure(t *testing.T) {
	fake := &fakeChain{
		estimatedFee: dec("0.005"),
		submitErr:    errors.New("nonce too low"),
	}
	exec, err := New(fake, time.Minute)
	require.NoError(t, err)

	result := exec.Execute(context.Background(), testStrategy("0.01"), testAction, testOpportunity)

	assert.Equal(t, types.ExecutionFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "transaction submission failed")
	assert.Empty(t, result.TransactionHash)
	assert.Zero(t, fake.confirmCalls)
}

func TestExecuteConfirmationTimeoutFlagsReconciliation(t *testing.T) {
	fake := &fakeChain{
		estimatedFee: dec("0.005"),
		confirmErr:   types.ErrConfirmationTimeout,
	}
	exec, err := New(fake, time.Minute)
	require.NoError(t, err)

	result := exec.Execute(context.Background(), testStrategy("0.01"), testAction, testOpportunity)

	assert.Equal(t, types.ExecutionFailed, result.Status)
	assert.Equal(t, "0xabc123", result.TransactionHash, "hash must be recorded for reconciliation")
	assert.True(t, result.NeedsReconciliation)
	assert.Contains(t, result.ErrorMessage, "confirmation timeout")
}

func TestExecuteRevertedTransaction(t *testing.T) {
	fake := &fakeChain{
		estimatedFee: dec("0.005"),
		confirmation: chain.Confirmation{Success: false, GasUsed: 30000, GasFee: dec("0.004")},
	}
	exec, err := New(fake, time.Minute)
	require.NoError(t, err)

	result := exec.Execute(context.Background(), testStrategy("0.01"), testAction, testOpportunity)

	assert.Equal(t, types.ExecutionFailed, result.Status)
	assert.Equal(t, "0xabc123", result.TransactionHash)
	assert.Equal(t, int64(30000), result.GasUsed)
	assert.Contains(t, result.ErrorMessage, "reverted")
	assert.False(t, result.NeedsReconciliation)
}

func TestNewRejectsInvalidArguments(t *testing.T) {
	_, err := New(nil, time.Minute)
	assert.Error(t, err)

	_, err = New(&fakeChain{}, 0)
	assert.Error(t, err)
}
