// internal/solver/supervisor.go

package solver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/events"
	"github.com/rovshanmuradov/solver-engine/internal/metrics"
)

const idPrefix = "solver-"

var errNoChange = errors.New("no change")

type worker struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopping atomic.Bool
}

type Option func(*Supervisor)

func WithRunner(r Runner) Option {
	return func(s *Supervisor) { s.runner = r }
}

func WithEvents(p events.Publisher) Option {
	return func(s *Supervisor) { s.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// Supervisor owns the solver lifecycle: stopped -> running -> stopped | error.
// Every running solver has exactly one worker goroutine. Lifecycle operations
// on the same id are serialized; different ids proceed independently.
type Supervisor struct {
	registry Registry
	runner   Runner
	clock    clock.Clock
	logger   *zap.Logger
	events   events.Publisher
	metrics  *metrics.Metrics

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu      sync.Mutex
	closed  bool
	locks   map[string]*sync.Mutex
	workers map[string]*worker
}

func NewSupervisor(registry Registry, clk clock.Clock, logger *zap.Logger, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		registry:  registry,
		clock:     clk,
		logger:    logger.Named("solvers"),
		baseCtx:   ctx,
		cancelAll: cancel,
		locks:     make(map[string]*sync.Mutex),
		workers:   make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = NewIdleRunner(clk, 30*time.Second, logger)
	}
	return s
}

func (s *Supervisor) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Supervisor) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Create validates cfg, applies defaults and registers a stopped solver.
func (s *Supervisor) Create(ctx context.Context, cfg Config) (*Instance, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = idPrefix + uuid.NewString()
	}
	cfg.ID = id
	cfg.Enabled = false
	cfg.CreatedAt = s.now()
	cfg.StartedAt = nil

	inst := &Instance{
		ID:     id,
		Config: cfg.Clone(),
		Status: StatusStopped,
		Stats:  Stats{TotalVolume: new(big.Int)},
	}
	if err := s.registry.Insert(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to register solver: %w", err)
	}

	s.publish(events.SolverCreated, inst, "")
	s.logger.Info("Solver created",
		zap.String("solver_id", id),
		zap.String("name", cfg.Name),
		zap.Int("networks", len(cfg.Networks)))
	return inst, nil
}

// Start launches the solver's worker. It fails with ErrAlreadyRunning when
// the solver is running. Solvers in StatusError may be restarted.
func (s *Supervisor) Start(ctx context.Context, id string) (*Instance, error) {
	unlock := s.lock(id)
	defer unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	now := s.now()
	inst, err := s.registry.Update(ctx, id, func(i *Instance) error {
		if i.Status == StatusRunning {
			return fmt.Errorf("solver %s: %w", id, ErrAlreadyRunning)
		}
		i.Status = StatusRunning
		i.Config.Enabled = true
		i.Config.StartedAt = &now
		i.LastError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.spawn(inst)
	s.transitioned(events.SolverStarted, inst, "")
	return s.project(inst, now), nil
}

// Stop cancels the worker, waits for it to exit and folds the running
// interval into Stats.Uptime. It fails with ErrNotRunning when the solver is
// not running.
func (s *Supervisor) Stop(ctx context.Context, id string) (*Instance, error) {
	unlock := s.lock(id)
	defer unlock()
	return s.stopLocked(ctx, id)
}

func (s *Supervisor) stopLocked(ctx context.Context, id string) (*Instance, error) {
	inst, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusRunning {
		return nil, fmt.Errorf("solver %s is %s: %w", id, inst.Status, ErrNotRunning)
	}

	s.mu.Lock()
	w := s.workers[id]
	s.mu.Unlock()

	if w != nil {
		w.stopping.Store(true)
		w.cancel()
		select {
		case <-w.done:
		case <-ctx.Done():
			return nil, fmt.Errorf("solver %s did not stop: %w", id, ctx.Err())
		}
		s.mu.Lock()
		if s.workers[id] == w {
			delete(s.workers, id)
		}
		s.mu.Unlock()
	}

	now := s.now()
	updated, err := s.registry.Update(ctx, id, func(i *Instance) error {
		if i.Status != StatusRunning {
			return fmt.Errorf("solver %s is %s: %w", id, i.Status, ErrNotRunning)
		}
		closeInterval(i, now)
		i.Status = StatusStopped
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(events.SolverStopped, updated, "")
	return updated, nil
}

// Delete stops the solver if it is running and removes it.
func (s *Supervisor) Delete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	inst, err := s.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status == StatusRunning {
		if inst, err = s.stopLocked(ctx, id); err != nil {
			return err
		}
	}
	if err := s.registry.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()

	s.publish(events.SolverDeleted, inst, "")
	s.logger.Info("Solver deleted", zap.String("solver_id", id))
	return nil
}

// UpdateStats merges a partial stats update and returns the instance with
// live uptime.
func (s *Supervisor) UpdateStats(ctx context.Context, id string, upd StatsUpdate) (*Instance, error) {
	if upd.AverageRisk != nil && (*upd.AverageRisk < 0 || *upd.AverageRisk > 1) {
		return nil, errs.Invalid("averageRisk", "must be within [0, 1], got %v", *upd.AverageRisk)
	}
	if upd.TotalVolume != nil && upd.TotalVolume.Sign() < 0 {
		return nil, errs.Invalid("totalVolume", "must not be negative")
	}

	inst, err := s.registry.Update(ctx, id, func(i *Instance) error {
		if upd.TradesExecuted != nil {
			if *upd.TradesExecuted < i.Stats.TradesExecuted {
				return errs.Invalid("tradesExecuted", "must not decrease from %d to %d", i.Stats.TradesExecuted, *upd.TradesExecuted)
			}
			i.Stats.TradesExecuted = *upd.TradesExecuted
		}
		if upd.TotalVolume != nil {
			if i.Stats.TotalVolume != nil && upd.TotalVolume.Cmp(i.Stats.TotalVolume) < 0 {
				return errs.Invalid("totalVolume", "must not decrease")
			}
			i.Stats.TotalVolume = new(big.Int).Set(upd.TotalVolume)
		}
		if upd.AverageRisk != nil {
			i.Stats.AverageRisk = *upd.AverageRisk
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.project(inst, s.now()), nil
}

// RecordTrade counts one executed trade: volume is added and risk is folded
// into the running mean.
func (s *Supervisor) RecordTrade(ctx context.Context, id string, volume *big.Int, risk float64) (*Instance, error) {
	if volume == nil {
		volume = new(big.Int)
	}
	if volume.Sign() < 0 {
		return nil, errs.Invalid("volume", "must not be negative")
	}
	if risk < 0 || risk > 1 {
		return nil, errs.Invalid("risk", "must be within [0, 1], got %v", risk)
	}

	inst, err := s.registry.Update(ctx, id, func(i *Instance) error {
		i.Stats.TradesExecuted++
		if i.Stats.TotalVolume == nil {
			i.Stats.TotalVolume = new(big.Int)
		}
		i.Stats.TotalVolume.Add(i.Stats.TotalVolume, volume)
		i.Stats.AverageRisk += (risk - i.Stats.AverageRisk) / float64(i.Stats.TradesExecuted)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SolverTrade(id)
	return s.project(inst, s.now()), nil
}

// Status returns the instance with live uptime.
func (s *Supervisor) Status(ctx context.Context, id string) (*Instance, error) {
	inst, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.project(inst, s.now()), nil
}

// List returns every instance, oldest first, with live uptime.
func (s *Supervisor) List(ctx context.Context) ([]*Instance, error) {
	list, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list solvers: %w", err)
	}
	now := s.now()
	for i, inst := range list {
		list[i] = s.project(inst, now)
	}
	return list, nil
}

// Running returns the running instances, oldest first.
func (s *Supervisor) Running(ctx context.Context) ([]*Instance, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, inst := range list {
		if inst.Status == StatusRunning {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Resume gives a worker to every solver recorded as running that has none,
// as happens after a restart with a durable registry. The interval before the
// restart is not counted as uptime.
func (s *Supervisor) Resume(ctx context.Context) (int, error) {
	list, err := s.registry.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list solvers: %w", err)
	}

	resumed := 0
	for _, inst := range list {
		if inst.Status != StatusRunning {
			continue
		}
		ok, err := s.resume(ctx, inst.ID)
		if err != nil {
			return resumed, err
		}
		if ok {
			resumed++
		}
	}
	return resumed, nil
}

func (s *Supervisor) resume(ctx context.Context, id string) (bool, error) {
	unlock := s.lock(id)
	defer unlock()

	s.mu.Lock()
	_, has := s.workers[id]
	s.mu.Unlock()
	if has {
		return false, nil
	}

	now := s.now()
	inst, err := s.registry.Update(ctx, id, func(i *Instance) error {
		if i.Status != StatusRunning {
			return errNoChange
		}
		i.Config.Enabled = true
		i.Config.StartedAt = &now
		return nil
	})
	if errors.Is(err, errNoChange) || errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.spawn(inst)
	s.logger.Warn("Resumed solver without a worker", zap.String("solver_id", id))
	return true, nil
}

// Shutdown stops every running worker, finalizing uptime. Start fails with
// ErrClosed afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var failed []error
	for _, id := range ids {
		unlock := s.lock(id)
		_, err := s.stopLocked(ctx, id)
		unlock()
		if err != nil && !errors.Is(err, ErrNotRunning) && !errors.Is(err, errs.ErrNotFound) {
			failed = append(failed, err)
		}
	}
	s.cancelAll()

	if len(failed) > 0 {
		return fmt.Errorf("failed to stop solvers: %w", errors.Join(failed...))
	}
	s.logger.Info("All solver workers stopped", zap.Int("count", len(ids)))
	return nil
}

func (s *Supervisor) spawn(inst *Instance) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	w := &worker{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.workers[inst.ID] = w
	s.mu.Unlock()

	snapshot := inst.Clone()
	go func() {
		err := s.run(ctx, snapshot)
		close(w.done)
		if w.stopping.Load() {
			// Stop finalizes the record
			return
		}
		if ctx.Err() != nil {
			err = nil
		}
		s.workerExited(snapshot.ID, w, err)
	}()
}

func (s *Supervisor) run(ctx context.Context, inst *Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return s.runner.Run(ctx, inst)
}

// workerExited reconciles a worker that returned without being asked to.
func (s *Supervisor) workerExited(id string, w *worker, runErr error) {
	unlock := s.lock(id)
	defer unlock()

	s.mu.Lock()
	current := s.workers[id] == w
	if current {
		delete(s.workers, id)
	}
	s.mu.Unlock()
	if !current {
		return
	}

	status, reason := StatusStopped, ""
	if runErr != nil {
		status, reason = StatusError, runErr.Error()
	}

	now := s.now()
	inst, err := s.registry.Update(context.Background(), id, func(i *Instance) error {
		if i.Status != StatusRunning {
			return errNoChange
		}
		closeInterval(i, now)
		i.Status = status
		i.LastError = reason
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNoChange) {
			s.logger.Error("Failed to record worker exit", zap.String("solver_id", id), zap.Error(err))
		}
		return
	}

	eventType := events.SolverStopped
	if status == StatusError {
		eventType = events.SolverFailed
	}
	s.transitioned(eventType, inst, reason)
}

// closeInterval folds the open running interval into Uptime.
func closeInterval(i *Instance, now time.Time) {
	if i.Config.StartedAt != nil {
		if d := now.Sub(*i.Config.StartedAt); d > 0 {
			i.Stats.Uptime += d
		}
	}
	i.Config.StartedAt = nil
	i.Config.Enabled = false
}

// project returns a copy whose Uptime includes the open interval.
func (s *Supervisor) project(inst *Instance, now time.Time) *Instance {
	out := inst.Clone()
	if out.Status == StatusRunning && out.Config.StartedAt != nil {
		if d := now.Sub(*out.Config.StartedAt); d > 0 {
			out.Stats.Uptime += d
		}
	}
	return out
}

func (s *Supervisor) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *Supervisor) transitioned(eventType events.EventType, inst *Instance, reason string) {
	s.metrics.SolverTransition(string(inst.Status), s.runningCount())
	s.publish(eventType, inst, reason)

	fields := []zap.Field{
		zap.String("solver_id", inst.ID),
		zap.String("status", string(inst.Status)),
		zap.Duration("uptime", inst.Stats.Uptime),
	}
	if reason != "" {
		s.logger.Warn("Solver worker failed", append(fields, zap.String("reason", reason))...)
		return
	}
	s.logger.Info("Solver "+string(inst.Status), fields...)
}

func (s *Supervisor) publish(eventType events.EventType, inst *Instance, reason string) {
	if s.events == nil {
		return
	}
	ev := events.SolverEvent{
		BaseEvent: events.BaseEvent{EventType: eventType, EventTime: s.now()},
		SolverID:  inst.ID,
		Name:      inst.Config.Name,
		Status:    string(inst.Status),
		Reason:    reason,
	}
	if err := s.events.Publish(ev); err != nil {
		s.logger.Debug("Solver event not published", zap.String("solver_id", inst.ID), zap.Error(err))
	}
}
