/*

This file contains the execution scheduler, the orchestration core of the
engine. It polls for due strategies, distributes them across a worker pool,
and drives each one through a guarded cycle: lease, evaluate, execute,
record, re-arm, release. A strategy is only ever processed while its lease
is held, so multiple engine instances can share one database safely.

*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yieldloop/engine/internal/logger"
	"github.com/yieldloop/engine/internal/notifier"
	"github.com/yieldloop/engine/internal/types"
)

// Repository is the strategy persistence surface the scheduler depends on.
type Repository interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]types.Strategy, error)
	Lease(ctx context.Context, strategyID int64, owner uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, strategyID int64, owner uuid.UUID) error
	Reschedule(ctx context.Context, strategyID int64, next time.Time) error
	WriteExecution(ctx context.Context, strategyID int64, actionType types.ActionType, opportunityID *int64) (int64, error)
	FinalizeExecution(ctx context.Context, executionID int64, strategyID int64, result types.ExecutionResult, investedDelta decimal.Decimal, returnDelta decimal.Decimal) error
}

// SnapshotSource provides opportunity snapshots for evaluation.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, protocols []string, networks []string) ([]types.Opportunity, error)
}

// PriceSource provides spot prices for price-based triggers.
type PriceSource interface {
	GetPrices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error)
}

// ActionExecutor submits a single strategy action on-chain.
type ActionExecutor interface {
	Execute(ctx context.Context, strategy types.Strategy, action types.Action, opportunity types.Opportunity) types.ExecutionResult
}

// Evaluator decides whether a due strategy should fire.
type Evaluator func(strategy types.Strategy, snapshot []types.Opportunity, prices map[string]decimal.Decimal, now time.Time, freshnessBound time.Duration) types.Decision

// Config holds the tunables for a Scheduler instance.
type Config struct {
	Workers              int
	PollInterval         time.Duration
	DueBatchSize         int
	LeaseTTL             time.Duration
	FreshnessBound       time.Duration
	DefaultRearmInterval time.Duration
}

// Scheduler owns the polling loop and the worker pool.
type Scheduler struct {
	logger     zerolog.Logger
	cfg        Config
	instanceID uuid.UUID

	repo      Repository
	snapshots SnapshotSource
	prices    PriceSource
	executor  ActionExecutor
	evaluate  Evaluator
	notify    notifier.Dispatcher

	cycleCount int
}

// New creates a scheduler with dependency injection. Every dependency is
// required; the notifier may be notifier.Noop but not nil.
func New(cfg Config, repo Repository, snapshots SnapshotSource, prices PriceSource, executor ActionExecutor, evaluate Evaluator, notify notifier.Dispatcher) (*Scheduler, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("scheduler configuration validation failed: %w", err)
	}
	if repo == nil {
		return nil, errors.New("repository cannot be nil")
	}
	if snapshots == nil {
		return nil, errors.New("snapshot source cannot be nil")
	}
	if prices == nil {
		return nil, errors.New("price source cannot be nil")
	}
	if executor == nil {
		return nil, errors.New("action executor cannot be nil")
	}
	if evaluate == nil {
		return nil, errors.New("evaluator cannot be nil")
	}
	if notify == nil {
		return nil, errors.New("notifier cannot be nil")
	}

	s := &Scheduler{
		logger:     logger.GetForComponent("scheduler"),
		cfg:        cfg,
		instanceID: uuid.New(),
		repo:       repo,
		snapshots:  snapshots,
		prices:     prices,
		executor:   executor,
		evaluate:   evaluate,
		notify:     notify,
	}

	s.logger.Info().
		Str("instanceID", s.instanceID.String()).
		Int("workers", cfg.Workers).
		Dur("pollInterval", cfg.PollInterval).
		Msg("Scheduler instance created")

	return s, nil
}

func validateConfig(cfg Config) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if cfg.DueBatchSize <= 0 {
		return errors.New("due batch size must be positive")
	}
	if cfg.LeaseTTL <= 0 {
		return errors.New("lease TTL must be positive")
	}
	if cfg.FreshnessBound <= 0 {
		return errors.New("freshness bound must be positive")
	}
	if cfg.DefaultRearmInterval <= 0 {
		return errors.New("default re-arm interval must be positive")
	}
	return nil
}

// RunLoop starts the polling loop and blocks until the context is cancelled.
// In-flight strategy cycles are drained before it returns.
func (s *Scheduler) RunLoop(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.cfg.PollInterval).
		Msg("Starting scheduler main loop")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// Run first poll immediately
	s.cycleCount++
	s.runPoll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler loop stopped due to context cancellation")
			return
		case <-ticker.C:
			s.cycleCount++
			s.runPoll(ctx)
		}
	}
}

// runPoll fetches the due batch and fans it out across the worker pool. It
// returns once every strategy in the batch has finished its cycle.
func (s *Scheduler) runPoll(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.repo.ListDue(ctx, now, s.cfg.DueBatchSize)
	if err != nil {
		s.logger.Error().Err(err).Int("poll", s.cycleCount).Msg("Failed to list due strategies")
		return
	}
	if len(due) == 0 {
		s.logger.Debug().Int("poll", s.cycleCount).Msg("No strategies due")
		return
	}

	s.logger.Info().Int("poll", s.cycleCount).Int("due", len(due)).Msg("Processing due strategies")

	work := make(chan types.Strategy)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for strategy := range work {
				s.runStrategyCycle(ctx, strategy)
			}
		}()
	}

	for _, strategy := range due {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return
		case work <- strategy:
		}
	}
	close(work)
	wg.Wait()
}

// runStrategyCycle drives one strategy through a full guarded cycle.
func (s *Scheduler) runStrategyCycle(ctx context.Context, strategy types.Strategy) {
	cycleID := uuid.New().String()
	log := s.logger.With().
		Str("cycle_id", cycleID).
		Int64("strategyID", strategy.ID).
		Str("trigger", string(strategy.Trigger)).
		Logger()

	acquired, err := s.repo.Lease(ctx, strategy.ID, s.instanceID, s.cfg.LeaseTTL)
	if err != nil {
		log.Error().Err(err).Msg("Lease acquisition failed")
		return
	}
	if !acquired {
		log.Debug().Msg("Strategy leased elsewhere, skipping")
		return
	}
	defer func() {
		if err := s.repo.Release(ctx, strategy.ID, s.instanceID); err != nil {
			log.Warn().Err(err).Msg("Failed to release strategy lease")
		}
	}()

	now := time.Now().UTC()
	decision, err := s.decide(ctx, strategy, now, log)
	if err != nil {
		// Evaluation inputs unavailable. Leave next_execution untouched so the
		// strategy comes back on the next poll.
		log.Warn().Err(err).Msg("Evaluation inputs unavailable, will retry next poll")
		return
	}

	if !decision.Fire {
		log.Info().Str("reason", decision.Reason).Msg("Strategy skipped")
		s.rearm(ctx, strategy, now, log)
		return
	}

	if decision.Selected == nil {
		log.Error().Str("reason", decision.Reason).Msg("Firing decision carries no opportunity, skipping")
		s.rearm(ctx, strategy, now, log)
		return
	}
	opportunity := *decision.Selected
	log.Info().
		Str("reason", decision.Reason).
		Str("protocol", opportunity.Protocol).
		Str("asset", opportunity.Asset).
		Msg("Strategy firing")

	for i, action := range strategy.Actions {
		// Re-extend the lease before each action so a slow confirmation wait
		// cannot outlive the claim mid-chain. Lease is re-entrant for the
		// holding owner.
		if i > 0 {
			held, err := s.repo.Lease(ctx, strategy.ID, s.instanceID, s.cfg.LeaseTTL)
			if err != nil {
				log.Error().Err(err).Msg("Lease extension failed, stopping action chain")
				break
			}
			if !held {
				log.Error().Str("error", types.ErrLeaseLost.Error()).Msg("Lease lost mid-chain, stopping without writing")
				return
			}
		}
		if !s.runAction(ctx, strategy, action, opportunity, log) {
			break
		}
	}

	s.rearm(ctx, strategy, now, log)
}

// decide gathers the evaluation inputs and runs the condition evaluator.
func (s *Scheduler) decide(ctx context.Context, strategy types.Strategy, now time.Time, log zerolog.Logger) (types.Decision, error) {
	snapshot, err := s.snapshots.GetSnapshot(ctx, strategy.TargetProtocols, strategy.TargetNetworks)
	if err != nil {
		return types.Decision{}, fmt.Errorf("fetch opportunity snapshot: %w", err)
	}

	var prices map[string]decimal.Decimal
	if strategy.Trigger == types.TriggerPriceBased {
		prices, err = s.prices.GetPrices(ctx, []string{strategy.Conditions.Asset})
		if err != nil {
			return types.Decision{}, fmt.Errorf("fetch prices: %w", err)
		}
	}

	decision := s.evaluate(strategy, snapshot, prices, now, s.cfg.FreshnessBound)
	log.Debug().
		Bool("fire", decision.Fire).
		Str("reason", decision.Reason).
		Int("candidates", len(snapshot)).
		Msg("Evaluation complete")
	return decision, nil
}

// runAction records, executes, and finalizes a single action. The pending
// execution row is written before anything is submitted on-chain, so a crash
// mid-submit leaves a recoverable record rather than an untracked transaction.
// The return value reports whether the action chain should continue.
func (s *Scheduler) runAction(ctx context.Context, strategy types.Strategy, action types.Action, opportunity types.Opportunity, log zerolog.Logger) bool {
	var opportunityID *int64
	if opportunity.ID != 0 {
		opportunityID = &opportunity.ID
	}

	executionID, err := s.repo.WriteExecution(ctx, strategy.ID, action.Type, opportunityID)
	if err != nil {
		log.Error().Err(err).Str("action", string(action.Type)).Msg("Failed to record pending execution, action not submitted")
		return false
	}

	result := s.executor.Execute(ctx, strategy, action, opportunity)

	investedDelta, returnDelta := counterDeltas(action, result)
	if err := s.repo.FinalizeExecution(ctx, executionID, strategy.ID, result, investedDelta, returnDelta); err != nil {
		log.Error().Err(err).Int64("executionID", executionID).Msg("Failed to finalize execution record")
		return false
	}

	s.dispatchNotification(strategy, executionRecord(executionID, strategy.ID, action, opportunityID, result), log)

	if result.Status != types.ExecutionSuccess {
		log.Warn().
			Str("action", string(action.Type)).
			Str("error", result.ErrorMessage).
			Msg("Action failed, stopping action chain")
		return false
	}

	log.Info().
		Str("action", string(action.Type)).
		Str("txHash", result.TransactionHash).
		Msg("Action executed successfully")
	return true
}

// dispatchNotification sends the execution report without blocking the cycle.
func (s *Scheduler) dispatchNotification(strategy types.Strategy, execution types.StrategyExecution, log zerolog.Logger) {
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notify.Notify(notifyCtx, strategy, execution); err != nil {
			log.Warn().Err(err).Msg("Failed to dispatch execution notification")
		}
	}()
}

// rearm computes the next execution time from now, never from the stale
// scheduled time, so a strategy that was overdue does not fire in a burst.
func (s *Scheduler) rearm(ctx context.Context, strategy types.Strategy, now time.Time, log zerolog.Logger) {
	next := strategy.NextRun(now, s.cfg.DefaultRearmInterval)
	if err := s.repo.Reschedule(ctx, strategy.ID, next); err != nil {
		log.Error().Err(err).Msg("Failed to reschedule strategy")
		return
	}
	log.Debug().Time("nextExecution", next).Msg("Strategy re-armed")
}

// counterDeltas maps a terminal result to the strategy counter updates. Only
// fixed amounts feed the counters: percentage and all-position amounts
// resolve against the position on-chain, so the engine does not know the
// moved value and must not guess one into total_invested/total_return.
func counterDeltas(action types.Action, result types.ExecutionResult) (invested decimal.Decimal, returned decimal.Decimal) {
	if result.Status != types.ExecutionSuccess || action.AmountPolicy != types.AmountFixed {
		return decimal.Zero, decimal.Zero
	}
	switch action.Type {
	case types.ActionDeposit:
		return action.Amount, decimal.Zero
	case types.ActionWithdraw:
		return decimal.Zero, action.Amount
	default:
		return decimal.Zero, decimal.Zero
	}
}

// executionRecord reconstructs the finalized row for notification purposes,
// sparing a read-back from the repository.
func executionRecord(executionID int64, strategyID int64, action types.Action, opportunityID *int64, result types.ExecutionResult) types.StrategyExecution {
	execution := types.StrategyExecution{
		ID:                  executionID,
		StrategyID:          strategyID,
		Status:              result.Status,
		ExecutedAt:          time.Now().UTC(),
		ActionType:          action.Type,
		OpportunityID:       opportunityID,
		NeedsReconciliation: result.NeedsReconciliation,
	}
	if result.TransactionHash != "" {
		execution.TransactionHash = &result.TransactionHash
	}
	if result.GasUsed > 0 {
		execution.GasUsed = &result.GasUsed
		execution.GasFee = &result.GasFee
	}
	if result.ErrorMessage != "" {
		execution.ErrorMessage = &result.ErrorMessage
	}
	return execution
}
