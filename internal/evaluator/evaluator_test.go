package evaluator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yieldloop/engine/internal/types"
)

var (
	testNow       = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	testFreshness = 15 * time.Minute
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func apyStrategy(threshold string) types.Strategy {
	return types.Strategy{
		ID:              1,
		Status:          types.StrategyActive,
		Trigger:         types.TriggerAPYBased,
		Conditions:      types.Conditions{MinAPY: decPtr(threshold)},
		TargetProtocols: []string{"aave"},
		TargetNetworks:  []string{"ethereum"},
	}
}

func freshOpp(id int64, protocol, asset, apy string, risk int) types.Opportunity {
	return types.Opportunity{
		ID:          id,
		Protocol:    protocol,
		Network:     "ethereum",
		Asset:       asset,
		APY:         dec(apy),
		TVLUSD:      dec("1000000"),
		RiskLevel:   risk,
		RefreshedAt: testNow.Add(-time.Minute),
	}
}

func TestEvaluateAPYThresholdMet(t *testing.T) {
	strategy := apyStrategy("5")
	snapshot := []types.Opportunity{freshOpp(1, "aave", "USDC", "6.2", 2)}

	decision := Evaluate(strategy, snapshot, nil, testNow, testFreshness)

	require.True(t, decision.Fire)
	require.NotNil(t, decision.Selected)
	assert.Equal(t, "aave", decision.Selected.Protocol)
	assert.Equal(t, "USDC", decision.Selected.Asset)
}

func TestEvaluateAPYThresholdNotMet(t *testing.T) {
	strategy := apyStrategy("8")
	snapshot := []types.Opportunity{freshOpp(1, "aave", "USDC", "6.2", 2)}

	decision := Evaluate(strategy, snapshot, nil, testNow, testFreshness)

	assert.False(t, decision.Fire)
	assert.Nil(t, decision.Selected)
	assert.Contains(t, decision.Reason, "below threshold")
}

func TestEvaluateStaleSnapshot(t *testing.T) {
	strategy := apyStrategy("5")
	stale := freshOpp(1, "aave", "USDC", "6.2", 2)
	stale.RefreshedAt = testNow.Add(-time.Hour)

	decision := Evaluate(strategy, []types.Opportunity{stale}, nil, testNow, testFreshness)

	assert.False(t, decision.Fire)
	assert.Equal(t, ReasonStaleData, decision.Reason)
}

func TestEvaluateNoAllowListMatch(t *testing.T) {
	strategy := apyStrategy("5")
	snapshot := []types.Opportunity{freshOpp(1, "compound", "USDC", "9.0", 2)}

	decision := Evaluate(strategy, snapshot, nil, testNow, testFreshness)

	assert.False(t, decision.Fire)
	assert.Equal(t, ReasonNoMatch, decision.Reason)
}

func TestEvaluateTieBreakDeterminism(t *testing.T) {
	strategy := apyStrategy("5")
	strategy.TargetProtocols = []string{"aave", "compound"}

	// Equal APY: lower risk level wins.
	snapshot := []types.Opportunity{
		freshOpp(1, "compound", "USDC", "6.0", 3),
		freshOpp(2, "aave", "USDC", "6.0", 1),
	}
	for i := 0; i < 50; i++ {
		decision := Evaluate(strategy, snapshot, nil, testNow, testFreshness)
		require.True(t, decision.Fire)
		require.Equal(t, int64(2), decision.Selected.ID, "lower risk must win the tie on every run")
	}

	// Equal APY and risk: lower protocol id wins.
	snapshot = []types.Opportunity{
		freshOpp(3, "compound", "USDC", "6.0", 2),
		freshOpp(4, "aave", "USDC", "6.0", 2),
	}
	for i := 0; i < 50; i++ {
		decision := Evaluate(strategy, snapshot, nil, testNow, testFreshness)
		require.True(t, decision.Fire)
		require.Equal(t, "aave", decision.Selected.Protocol)
	}
}

func TestEvaluateSelectsHighestAPY(t *testing.T) {
	strategy := apyStrategy("5")
	strategy.TargetProtocols = []string{"aave", "compound", "curve"}
	snapshot := []types.Opportunity{
		freshOpp(1, "aave", "USDC", "5.5", 1),
		freshOpp(2, "compound", "DAI", "7.1", 2),
		freshOpp(3, "curve", "USDT", "6.4", 1),
	}

	decision := Evaluate(strategy, snapshot, nil, testNow, testFreshness)

	require.True(t, decision.Fire)
	assert.Equal(t, int64(2), decision.Selected.ID)
}

func TestEvaluatePriceBounds(t *testing.T) {
	strategy := types.Strategy{
		ID:      2,
		Trigger: types.TriggerPriceBased,
		Conditions: types.Conditions{
			Asset:      "ETH",
			PriceBelow: decPtr("2000"),
		},
		TargetProtocols: []string{"aave"},
		TargetNetworks:  []string{"ethereum"},
	}
	snapshot := []types.Opportunity{freshOpp(1, "aave", "ETH", "4.0", 2)}

	tests := []struct {
		name     string
		price    string
		wantFire bool
	}{
		{"below bound fires", "1900", true},
		{"at bound fires", "2000", true},
		{"above bound skips", "2100", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			prices := map[string]decimal.Decimal{"ETH": dec(tc.price)}
			decision := Evaluate(strategy, snapshot, prices, testNow, testFreshness)
			assert.Equal(t, tc.wantFire, decision.Fire)
		})
	}
}

func TestEvaluatePriceAboveBound(t *testing.T) {
	strategy := types.Strategy{
		Trigger: types.TriggerPriceBased,
		Conditions: types.Conditions{
			Asset:      "ETH",
			PriceAbove: decPtr("3000"),
		},
		TargetProtocols: []string{"aave"},
		TargetNetworks:  []string{"ethereum"},
	}
	snapshot := []types.Opportunity{freshOpp(1, "aave", "ETH", "4.0", 2)}
	prices := map[string]decimal.Decimal{"ETH": dec("3100")}

	decision := Evaluate(strategy, snapshot, prices, testNow, testFreshness)

	require.True(t, decision.Fire)
	assert.Contains(t, decision.Reason, "crossed above")
}

func TestEvaluatePriceUnavailable(t *testing.T) {
	strategy := types.Strategy{
		Trigger: types.TriggerPriceBased,
		Conditions: types.Conditions{
			Asset:      "ETH",
			PriceBelow: decPtr("2000"),
		},
		TargetProtocols: []string{"aave"},
		TargetNetworks:  []string{"ethereum"},
	}

	decision := Evaluate(strategy, nil, map[string]decimal.Decimal{}, testNow, testFreshness)

	assert.False(t, decision.Fire)
	assert.Equal(t, ReasonPriceUnavailable, decision.Reason)
}

func TestEvaluatePriceCrossedButStaleSnapshot(t *testing.T) {
	strategy := types.Strategy{
		Trigger: types.TriggerPriceBased,
		Conditions: types.Conditions{
			Asset:      "ETH",
			PriceBelow: decPtr("2000"),
		},
		TargetProtocols: []string{"aave"},
		TargetNetworks:  []string{"ethereum"},
	}
	stale := freshOpp(1, "aave", "ETH", "4.0", 2)
	stale.RefreshedAt = testNow.Add(-2 * time.Hour)
	prices := map[string]decimal.Decimal{"ETH": dec("1500")}

	decision := Evaluate(strategy, []types.Opportunity{stale}, prices, testNow, testFreshness)

	assert.False(t, decision.Fire)
	assert.Equal(t, ReasonStaleData, decision.Reason)
}

func TestEvaluateTimeBased(t *testing.T) {
	strategy := types.Strategy{
		Trigger:         types.TriggerTimeBased,
		NextExecution:   testNow.Add(-time.Minute),
		TargetProtocols: []string{"aave"},
		TargetNetworks:  []string{"ethereum"},
	}
	snapshot := []types.Opportunity{
		freshOpp(1, "aave", "USDC", "3.0", 2),
		freshOpp(2, "aave", "DAI", "4.5", 2),
	}

	decision := Evaluate(strategy, snapshot, nil, testNow, testFreshness)

	require.True(t, decision.Fire)
	// Selection falls back to the APY ranking.
	assert.Equal(t, int64(2), decision.Selected.ID)
}

func TestEvaluateTimeBasedNotDue(t *testing.T) {
	strategy := types.Strategy{
		Trigger:         types.TriggerTimeBased,
		NextExecution:   testNow.Add(time.Hour),
		TargetProtocols: []string{"aave"},
		TargetNetworks:  []string{"ethereum"},
	}

	decision := Evaluate(strategy, nil, nil, testNow, testFreshness)

	assert.False(t, decision.Fire)
	assert.Equal(t, ReasonNotDue, decision.Reason)
}

func TestEvaluateDoesNotMutateInputs(t *testing.T) {
	strategy := apyStrategy("5")
	snapshot := []types.Opportunity{
		freshOpp(1, "aave", "USDC", "6.0", 3),
		freshOpp(2, "aave", "DAI", "7.0", 1),
	}
	first := snapshot[0]

	Evaluate(strategy, snapshot, nil, testNow, testFreshness)

	assert.Equal(t, first, snapshot[0], "evaluator must not reorder the caller's snapshot")
}
