// internal/scheduler/scheduler.go

// Package scheduler drives pending transfers: every tick it expires overdue
// transfers, re-evaluates the rest and hands satisfied ones to a running solver.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solver-engine/internal/condition"
	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/metrics"
	"github.com/rovshanmuradov/solver-engine/internal/solver"
	"github.com/rovshanmuradov/solver-engine/internal/transfer"
)

type Config struct {
	Interval        time.Duration
	Concurrency     int
	DispatchRetries int
	RetryInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:        time.Second,
		Concurrency:     8,
		DispatchRetries: 2,
		RetryInterval:   100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.DispatchRetries < 0 {
		c.DispatchRetries = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	return c
}

// Transfers is the part of transfer.Manager the scheduler drives.
type Transfers interface {
	ListPending(ctx context.Context) ([]*transfer.Transfer, error)
	CheckExpiration(ctx context.Context, id string) (bool, error)
	MarkFulfilledBy(ctx context.Context, id string, requestID common.Hash, fulfilledAt time.Time, solverID string) (*transfer.Transfer, error)
}

// Solvers is the part of solver.Supervisor the scheduler drives.
type Solvers interface {
	Running(ctx context.Context) ([]*solver.Instance, error)
	RecordTrade(ctx context.Context, id string, volume *big.Int, risk float64) (*solver.Instance, error)
}

// Conditions reports whether a transfer's conditions hold right now.
type Conditions interface {
	AllMet(ctx context.Context, conditions []condition.Condition, owner string) (bool, error)
}

// Summary counts what one tick did.
type Summary struct {
	Pending        int
	Expired        int
	Unmet          int
	NoSolver       int
	DispatchFailed int
	Fulfilled      int
	Superseded     int
	Skipped        bool
}

type outcome int

const (
	outcomeUnmet outcome = iota
	outcomeNoSolver
	outcomeDispatchFailed
	outcomeFulfilled
	outcomeExpired
	outcomeSuperseded
	outcomeFailed
)

type Scheduler struct {
	cfg        Config
	transfers  Transfers
	solvers    Solvers
	conditions Conditions
	dispatcher Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics

	sweeping sync.Mutex
	cursor   atomic.Uint64
}

func New(cfg Config, transfers Transfers, solvers Solvers, conditions Conditions, dispatcher Dispatcher, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		transfers:  transfers,
		solvers:    solvers,
		conditions: conditions,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger.Named("scheduler"),
		metrics:    m,
	}
}

// Run ticks until ctx is cancelled. A tick that is still sweeping when the
// next one fires absorbs it.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("concurrency", s.cfg.Concurrency))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one sweep. Overdue transfers are expired before any condition is
// evaluated or any dispatch is attempted. Concurrent calls do not overlap: a
// call made while a sweep is running returns a Summary with Skipped set.
func (s *Scheduler) Tick(ctx context.Context) (Summary, error) {
	if !s.sweeping.TryLock() {
		return Summary{Skipped: true}, nil
	}
	defer s.sweeping.Unlock()

	start := s.clock.Now()
	var sum Summary

	pending, err := s.transfers.ListPending(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to list pending transfers: %w", err)
	}
	sum.Pending = len(pending)

	live := make([]*transfer.Transfer, 0, len(pending))
	for _, t := range pending {
		expired, err := s.transfers.CheckExpiration(ctx, t.ID)
		if err != nil {
			s.logger.Warn("Expiration check failed", zap.String("transfer_id", t.ID), zap.Error(err))
			continue
		}
		if expired {
			sum.Expired++
			continue
		}
		live = append(live, t)
	}

	if len(live) > 0 {
		running, err := s.solvers.Running(ctx)
		if err != nil {
			return sum, fmt.Errorf("failed to list running solvers: %w", err)
		}

		outcomes := make([]outcome, len(live))
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for i, t := range live {
			g.Go(func() error {
				outcomes[i] = s.process(gCtx, t, running)
				return nil
			})
		}
		_ = g.Wait()

		for _, o := range outcomes {
			sum.add(o)
		}
	}

	took := s.clock.Since(start)
	s.metrics.SweepFinished(took, sum.Pending-sum.Expired-sum.Fulfilled)
	if sum.Expired > 0 || sum.Fulfilled > 0 || sum.DispatchFailed > 0 {
		s.logger.Info("Sweep finished",
			zap.Int("pending", sum.Pending),
			zap.Int("expired", sum.Expired),
			zap.Int("fulfilled", sum.Fulfilled),
			zap.Int("dispatch_failed", sum.DispatchFailed),
			zap.Duration("took", took))
	}
	return sum, ctx.Err()
}

func (sum *Summary) add(o outcome) {
	switch o {
	case outcomeUnmet, outcomeFailed:
		sum.Unmet++
	case outcomeNoSolver:
		sum.NoSolver++
	case outcomeDispatchFailed:
		sum.DispatchFailed++
	case outcomeFulfilled:
		sum.Fulfilled++
	case outcomeExpired:
		sum.Expired++
	case outcomeSuperseded:
		sum.Superseded++
	}
}

func (s *Scheduler) process(ctx context.Context, t *transfer.Transfer, running []*solver.Instance) outcome {
	logger := s.logger.With(zap.String("transfer_id", t.ID))

	met, err := s.conditions.AllMet(ctx, t.Conditions, t.Owner)
	if err != nil {
		logger.Debug("Conditions not checkable yet", zap.Error(err))
	}
	if !met {
		return outcomeUnmet
	}

	inst := s.pick(t, running)
	if inst == nil {
		logger.Debug("No eligible solver",
			zap.String("dest_chain_id", t.DestChainID.String()),
			zap.String("fee", t.Fee.String()))
		return outcomeNoSolver
	}

	requestID, err := s.dispatch(ctx, t, inst)
	if err != nil {
		s.metrics.Dispatched("failed")
		logger.Warn("Dispatch failed, transfer stays pending",
			zap.String("solver_id", inst.ID),
			zap.Error(err))
		return outcomeDispatchFailed
	}
	s.metrics.Dispatched("ok")

	updated, err := s.transfers.MarkFulfilledBy(ctx, t.ID, requestID, s.clock.Now(), inst.ID)
	switch {
	case errors.Is(err, errs.ErrInvalidTransition):
		if updated != nil && updated.Status == transfer.StatusExpired {
			logger.Info("Transfer expired before fulfillment", zap.String("request_id", requestID.Hex()))
			return outcomeExpired
		}
		logger.Info("Transfer left pending before fulfillment", zap.Error(err))
		return outcomeSuperseded
	case err != nil:
		logger.Error("Failed to record fulfillment", zap.Error(err))
		return outcomeFailed
	}

	if _, err := s.solvers.RecordTrade(ctx, inst.ID, t.Amount, 0); err != nil {
		logger.Warn("Failed to record solver trade", zap.String("solver_id", inst.ID), zap.Error(err))
	}
	logger.Info("Transfer fulfilled",
		zap.String("solver_id", inst.ID),
		zap.String("request_id", requestID.Hex()))
	return outcomeFulfilled
}

// pick returns the next eligible solver in round-robin order, or nil.
func (s *Scheduler) pick(t *transfer.Transfer, running []*solver.Instance) *solver.Instance {
	eligible := make([]*solver.Instance, 0, len(running))
	for _, inst := range running {
		if inst.Config.Supports(t.DestChainID) && inst.Config.Accepts(t.Fee) {
			eligible = append(eligible, inst)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	n := s.cursor.Add(1) - 1
	return eligible[n%uint64(len(eligible))]
}

func (s *Scheduler) dispatch(ctx context.Context, t *transfer.Transfer, inst *solver.Instance) (common.Hash, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryInterval
	policy.MaxInterval = s.cfg.RetryInterval * 10

	operation := func() (common.Hash, error) {
		h, err := s.dispatcher.Dispatch(ctx, t, inst)
		if err != nil && (errs.IsValidation(err) || errors.Is(err, context.Canceled)) {
			return h, backoff.Permanent(err)
		}
		return h, err
	}
	notify := func(err error, d time.Duration) {
		s.logger.Debug("Retrying dispatch",
			zap.String("transfer_id", t.ID),
			zap.String("solver_id", inst.ID),
			zap.Error(err),
			zap.Duration("backoff", d))
	}

	h, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.cfg.DispatchRetries+1)),
		backoff.WithNotify(notify))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: transfer %s to solver %s: %w", ErrDispatch, t.ID, inst.ID, err)
	}
	return h, nil
}
