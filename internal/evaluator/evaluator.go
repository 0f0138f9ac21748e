/*

This file contains the condition evaluator: a pure mapping from a strategy's
declared conditions and an opportunity snapshot to a fire/skip decision. It
never mutates strategy state and never fetches anything itself, so recorded
snapshots can be replayed deterministically in tests.

*/

package evaluator

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yieldloop/engine/internal/types"
)

// Skip reasons surfaced in Decision.Reason. StaleData and PriceUnavailable
// are retryable: the strategy simply waits for the next cycle.
var ReasonStaleData = types.ErrStaleData.Error()

const (
	ReasonNoMatch          = "no opportunity matches the target allow-lists"
	ReasonPriceUnavailable = "price unavailable"
	ReasonNotDue           = "not due"
)

// Evaluate maps a strategy's conditions against the given snapshot and spot
// prices to a decision. The snapshot is expected to already be restricted to
// the strategy's target protocols and networks by the caller; the evaluator
// re-checks the allow-lists regardless so a wider snapshot is also safe.
func Evaluate(
	strategy types.Strategy,
	snapshot []types.Opportunity,
	prices map[string]decimal.Decimal,
	now time.Time,
	freshnessBound time.Duration,
) types.Decision {
	switch strategy.Trigger {
	case types.TriggerAPYBased:
		return evaluateAPY(strategy, snapshot, now, freshnessBound)
	case types.TriggerPriceBased:
		return evaluatePrice(strategy, snapshot, prices, now, freshnessBound)
	case types.TriggerTimeBased:
		return evaluateTime(strategy, snapshot, now, freshnessBound)
	default:
		return types.Decision{Fire: false, Reason: fmt.Sprintf("unknown trigger type %q", strategy.Trigger)}
	}
}

func evaluateAPY(strategy types.Strategy, snapshot []types.Opportunity, now time.Time, bound time.Duration) types.Decision {
	selected, reason := selectOpportunity(strategy, snapshot, now, bound)
	if selected == nil {
		return types.Decision{Fire: false, Reason: reason}
	}
	if strategy.Conditions.MinAPY != nil && selected.APY.LessThan(*strategy.Conditions.MinAPY) {
		return types.Decision{
			Fire: false,
			Reason: fmt.Sprintf("best APY %s%% below threshold %s%%",
				selected.APY.String(), strategy.Conditions.MinAPY.String()),
		}
	}
	return types.Decision{
		Fire:     true,
		Selected: selected,
		Reason: fmt.Sprintf("%s/%s %s APY %s%% meets threshold",
			selected.Protocol, selected.Network, selected.Asset, selected.APY.String()),
	}
}

func evaluatePrice(strategy types.Strategy, snapshot []types.Opportunity, prices map[string]decimal.Decimal, now time.Time, bound time.Duration) types.Decision {
	conditions := strategy.Conditions
	price, ok := prices[conditions.Asset]
	if !ok {
		return types.Decision{Fire: false, Reason: ReasonPriceUnavailable}
	}

	crossed := false
	var direction string
	if conditions.PriceAbove != nil && price.GreaterThanOrEqual(*conditions.PriceAbove) {
		crossed = true
		direction = fmt.Sprintf("above %s", conditions.PriceAbove.String())
	}
	if !crossed && conditions.PriceBelow != nil && price.LessThanOrEqual(*conditions.PriceBelow) {
		crossed = true
		direction = fmt.Sprintf("below %s", conditions.PriceBelow.String())
	}
	if !crossed {
		return types.Decision{
			Fire:   false,
			Reason: fmt.Sprintf("%s price %s has not crossed a configured bound", conditions.Asset, price.String()),
		}
	}

	// A crossed bound still needs a fresh opportunity to act upon.
	selected, reason := selectOpportunity(strategy, snapshot, now, bound)
	if selected == nil {
		return types.Decision{Fire: false, Reason: reason}
	}
	return types.Decision{
		Fire:     true,
		Selected: selected,
		Reason:   fmt.Sprintf("%s price %s crossed %s", conditions.Asset, price.String(), direction),
	}
}

func evaluateTime(strategy types.Strategy, snapshot []types.Opportunity, now time.Time, bound time.Duration) types.Decision {
	if now.Before(strategy.NextExecution) {
		return types.Decision{Fire: false, Reason: ReasonNotDue}
	}
	// Fires unconditionally when due; opportunity selection falls back to the
	// APY ranking over the strategy's target set.
	selected, reason := selectOpportunity(strategy, snapshot, now, bound)
	if selected == nil {
		return types.Decision{Fire: false, Reason: reason}
	}
	return types.Decision{
		Fire:     true,
		Selected: selected,
		Reason:   "scheduled execution due",
	}
}

// selectOpportunity filters the snapshot to the strategy's allow-lists and
// the freshness bound, then ranks the qualifying opportunities: highest APY
// first, ties broken by lowest risk level, then lowest protocol id, then
// lowest opportunity id. The ordering is total, so repeated runs with
// identical input always select the same opportunity.
func selectOpportunity(strategy types.Strategy, snapshot []types.Opportunity, now time.Time, bound time.Duration) (*types.Opportunity, string) {
	matched := 0
	candidates := make([]types.Opportunity, 0, len(snapshot))
	for _, opp := range snapshot {
		if !inAllowList(opp.Protocol, strategy.TargetProtocols) {
			continue
		}
		if !inAllowList(opp.Network, strategy.TargetNetworks) {
			continue
		}
		matched++
		if !opp.Fresh(now, bound) {
			continue
		}
		candidates = append(candidates, opp)
	}

	if matched == 0 {
		return nil, ReasonNoMatch
	}
	if len(candidates) == 0 {
		return nil, ReasonStaleData
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.APY.Equal(b.APY) {
			return a.APY.GreaterThan(b.APY)
		}
		if a.RiskLevel != b.RiskLevel {
			return a.RiskLevel < b.RiskLevel
		}
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		return a.ID < b.ID
	})

	best := candidates[0]
	return &best, ""
}

func inAllowList(value string, allowList []string) bool {
	for _, allowed := range allowList {
		if value == allowed {
			return true
		}
	}
	return false
}
