// internal/solver/runner.go

package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Runner is the body of a solver worker. Run must return once ctx is
// cancelled. A non-nil error while the solver is meant to be running moves it
// to StatusError.
type Runner interface {
	Run(ctx context.Context, inst *Instance) error
}

type RunnerFunc func(ctx context.Context, inst *Instance) error

func (f RunnerFunc) Run(ctx context.Context, inst *Instance) error {
	return f(ctx, inst)
}

// IdleRunner keeps a solver alive and reports its health-check endpoint at a
// fixed interval. Execution happens through the scheduler's dispatcher.
type IdleRunner struct {
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
}

func NewIdleRunner(clk clock.Clock, interval time.Duration, logger *zap.Logger) *IdleRunner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &IdleRunner{clock: clk, interval: interval, logger: logger.Named("solver_worker")}
}

func (r *IdleRunner) Run(ctx context.Context, inst *Instance) error {
	logger := r.logger.With(
		zap.String("solver_id", inst.ID),
		zap.String("name", inst.Config.Name))
	healthcheck := fmt.Sprintf("%s:%d", inst.Config.Agent.HealthcheckListenAddr, inst.Config.Agent.HealthcheckPort)
	logger.Info("Worker started",
		zap.String("healthcheck", healthcheck),
		zap.Int("networks", len(inst.Config.Networks)))

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker shutting down due to context cancellation")
			return nil
		case <-ticker.C:
			logger.Debug("Worker heartbeat", zap.String("healthcheck", healthcheck))
		}
	}
}
