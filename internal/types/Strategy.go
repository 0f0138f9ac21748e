/*

This file contains the strategy types: the persisted strategy definition, its
tagged condition/action variants, and the validation applied at the
repository boundary before a row is accepted.

*/

package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// StrategyStatus is the lifecycle state of a strategy.
type StrategyStatus string

const (
	StrategyActive    StrategyStatus = "active"
	StrategyPaused    StrategyStatus = "paused"
	StrategyCompleted StrategyStatus = "completed"
)

// TriggerType discriminates the condition variant a strategy evaluates.
type TriggerType string

const (
	TriggerTimeBased  TriggerType = "time-based"
	TriggerPriceBased TriggerType = "price-based"
	TriggerAPYBased   TriggerType = "apy-based"
)

// ActionType defines the on-chain operations a strategy can perform.
type ActionType string

const (
	ActionDeposit   ActionType = "deposit"
	ActionWithdraw  ActionType = "withdraw"
	ActionRebalance ActionType = "rebalance"
)

// AmountPolicy defines how an action's amount is interpreted.
type AmountPolicy string

const (
	AmountFixed      AmountPolicy = "fixed"      // Amount is an absolute USD amount
	AmountPercentage AmountPolicy = "percentage" // Amount is a percentage of the position
	AmountAll        AmountPolicy = "all"        // Entire position, Amount ignored
)

// Conditions is the tagged predicate variant discriminated by the strategy's
// TriggerType. Only the fields of the active variant may be set.
type Conditions struct {
	// apy-based: fire when a qualifying opportunity has APY >= MinAPY.
	MinAPY *decimal.Decimal `json:"min_apy,omitempty"`

	// price-based: fire when Asset's price crosses a configured bound.
	Asset      string           `json:"asset,omitempty"`
	PriceAbove *decimal.Decimal `json:"price_above,omitempty"`
	PriceBelow *decimal.Decimal `json:"price_below,omitempty"`
}

// Action represents a single executable step of a fired strategy.
type Action struct {
	Type         ActionType      `json:"type"`
	Asset        string          `json:"asset"`
	AmountPolicy AmountPolicy    `json:"amount_policy"`
	Amount       decimal.Decimal `json:"amount"`
}

// Strategy is a user-defined rule pairing a trigger condition with an ordered
// list of on-chain actions. The engine holds only transient copies for the
// duration of one cycle.
type Strategy struct {
	ID          int64          `json:"strategy_id"`
	UserID      *int64         `json:"user_id,omitempty"` // nil for unowned/system strategies
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      StrategyStatus `json:"status"`
	Trigger     TriggerType    `json:"trigger_type"`
	Conditions  Conditions     `json:"conditions"`
	Actions     []Action       `json:"actions"`

	TargetProtocols []string `json:"target_protocols"`
	TargetNetworks  []string `json:"target_networks"`

	// MaxGasFee is an optional ceiling in native units. Execution aborts
	// before submission when the estimated fee exceeds it.
	MaxGasFee *decimal.Decimal `json:"max_gas_fee,omitempty"`

	// ScheduleSpec is an optional cron expression for time-based triggers.
	// When empty, RearmInterval (or the engine default) applies.
	ScheduleSpec  string        `json:"schedule_spec,omitempty"`
	RearmInterval time.Duration `json:"rearm_interval,omitempty"`

	NextExecution time.Time `json:"next_execution"`

	TotalExecutions int             `json:"total_executions"`
	TotalInvested   decimal.Decimal `json:"total_invested"`
	TotalReturn     decimal.Decimal `json:"total_return"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// cronParser accepts the standard 5-field spec plus descriptors ("@hourly").
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the strategy definition at the repository boundary.
// A strategy that fails validation is never handed to the scheduler.
func (s *Strategy) Validate() error {
	switch s.Status {
	case StrategyActive, StrategyPaused, StrategyCompleted:
	default:
		return fmt.Errorf("invalid strategy status: %q", s.Status)
	}

	if len(s.TargetProtocols) == 0 {
		return errors.New("target protocol allow-list cannot be empty")
	}
	if len(s.TargetNetworks) == 0 {
		return errors.New("target network allow-list cannot be empty")
	}
	if len(s.Actions) == 0 {
		return errors.New("strategy must declare at least one action")
	}
	for i, action := range s.Actions {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	if s.MaxGasFee != nil && s.MaxGasFee.IsNegative() {
		return errors.New("max gas fee cannot be negative")
	}

	if err := s.Conditions.Validate(s.Trigger); err != nil {
		return fmt.Errorf("conditions: %w", err)
	}

	if s.ScheduleSpec != "" {
		if _, err := cronParser.Parse(s.ScheduleSpec); err != nil {
			return fmt.Errorf("invalid schedule spec %q: %w", s.ScheduleSpec, err)
		}
	}
	if s.RearmInterval < 0 {
		return errors.New("re-arm interval cannot be negative")
	}

	return nil
}

// Validate checks the condition variant against the discriminating trigger type.
func (c *Conditions) Validate(trigger TriggerType) error {
	switch trigger {
	case TriggerAPYBased:
		if c.MinAPY == nil {
			return errors.New("apy-based trigger requires min_apy")
		}
		if c.MinAPY.IsNegative() {
			return errors.New("min_apy cannot be negative")
		}
		if c.Asset != "" || c.PriceAbove != nil || c.PriceBelow != nil {
			return errors.New("apy-based trigger must not set price fields")
		}
	case TriggerPriceBased:
		if c.Asset == "" {
			return errors.New("price-based trigger requires an asset")
		}
		if c.PriceAbove == nil && c.PriceBelow == nil {
			return errors.New("price-based trigger requires price_above or price_below")
		}
		if c.MinAPY != nil {
			return errors.New("price-based trigger must not set min_apy")
		}
	case TriggerTimeBased:
		if c.Asset != "" || c.PriceAbove != nil || c.PriceBelow != nil {
			return errors.New("time-based trigger must not set price fields")
		}
	default:
		return fmt.Errorf("unknown trigger type: %q", trigger)
	}
	return nil
}

// Validate checks a single action definition.
func (a *Action) Validate() error {
	switch a.Type {
	case ActionDeposit, ActionWithdraw, ActionRebalance:
	default:
		return fmt.Errorf("unknown action type: %q", a.Type)
	}
	if a.Asset == "" {
		return errors.New("action requires an asset")
	}
	switch a.AmountPolicy {
	case AmountFixed:
		if !a.Amount.IsPositive() {
			return errors.New("fixed amount must be positive")
		}
	case AmountPercentage:
		if !a.Amount.IsPositive() || a.Amount.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("percentage amount must be in (0, 100]")
		}
	case AmountAll:
		if !a.Amount.IsZero() {
			return errors.New("amount must be zero for policy 'all'")
		}
	default:
		return fmt.Errorf("unknown amount policy: %q", a.AmountPolicy)
	}
	return nil
}

// NextRun computes the strategy's next scheduled execution from the given
// time. Re-arming is always from now, never from the missed due time, so an
// overdue strategy cannot cascade catch-up firings.
func (s *Strategy) NextRun(now time.Time, defaultInterval time.Duration) time.Time {
	if s.ScheduleSpec != "" {
		if schedule, err := cronParser.Parse(s.ScheduleSpec); err == nil {
			return schedule.Next(now)
		}
	}
	if s.RearmInterval > 0 {
		return now.Add(s.RearmInterval)
	}
	return now.Add(defaultInterval)
}
