// internal/scheduler/pruner.go

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Prunable removes terminal transfers that closed more than retention ago.
type Prunable interface {
	Prune(ctx context.Context, retention time.Duration) (int, error)
}

// Pruner runs retention pruning on a cron schedule.
type Pruner struct {
	cron      *cron.Cron
	target    Prunable
	retention time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

func NewPruner(target Prunable, schedule string, retention time.Duration, logger *zap.Logger) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}

	logger = logger.Named("pruner")
	cl := cronLogger{logger: logger.Sugar()}
	p := &Pruner{
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		target:    target,
		retention: retention,
		timeout:   time.Minute,
		logger:    logger,
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

func (p *Pruner) Start() {
	p.cron.Start()
	p.logger.Info("Pruner started", zap.Duration("retention", p.retention))
}

// Stop unschedules pruning and waits for a running prune, bounded by ctx.
func (p *Pruner) Stop(ctx context.Context) error {
	done := p.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce prunes immediately.
func (p *Pruner) RunOnce(ctx context.Context) (int, error) {
	return p.target.Prune(ctx, p.retention)
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if _, err := p.RunOnce(ctx); err != nil {
		p.logger.Error("Prune failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
