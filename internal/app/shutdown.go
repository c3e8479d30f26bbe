// internal/app/shutdown.go

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultShutdownTimeout = 30 * time.Second

// Closer is a component that stops within the deadline of ctx.
type Closer interface {
	Close(ctx context.Context) error
}

// CloseFunc allows using a function as a Closer
type CloseFunc func(ctx context.Context) error

func (f CloseFunc) Close(ctx context.Context) error {
	return f(ctx)
}

// ShutdownHandler closes registered components in reverse registration
// order, so a component is closed before the ones it depends on.
type ShutdownHandler struct {
	logger   *zap.Logger
	services []namedService
	mu       sync.Mutex
	timeout  time.Duration
	once     sync.Once
	err      error
}

type namedService struct {
	name   string
	closer Closer
}

func NewShutdownHandler(logger *zap.Logger, timeout time.Duration) *ShutdownHandler {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &ShutdownHandler{
		logger:  logger.Named("shutdown"),
		timeout: timeout,
	}
}

func (sh *ShutdownHandler) Add(name string, closer Closer) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.services = append(sh.services, namedService{name: name, closer: closer})
	sh.logger.Debug("Registered service for shutdown", zap.String("service", name))
}

func (sh *ShutdownHandler) AddFunc(name string, fn func(ctx context.Context) error) {
	sh.Add(name, CloseFunc(fn))
}

// Shutdown closes every service once; later calls return the first result.
// Each service gets what is left of the overall timeout.
func (sh *ShutdownHandler) Shutdown(ctx context.Context) error {
	sh.once.Do(func() {
		sh.err = sh.shutdown(ctx)
	})
	return sh.err
}

func (sh *ShutdownHandler) shutdown(ctx context.Context) error {
	sh.mu.Lock()
	services := make([]namedService, len(sh.services))
	copy(services, sh.services)
	sh.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, sh.timeout)
	defer cancel()

	sh.logger.Info("Starting graceful shutdown", zap.Int("services", len(services)))

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		start := time.Now()
		if err := svc.closer.Close(ctx); err != nil {
			sh.logger.Error("Failed to shutdown service",
				zap.String("service", svc.name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", svc.name, err))
			continue
		}
		sh.logger.Info("Service shutdown complete",
			zap.String("service", svc.name),
			zap.Duration("took", time.Since(start)))
	}

	if len(errs) > 0 {
		sh.logger.Error("Shutdown completed with errors", zap.Int("errorCount", len(errs)))
		return errors.Join(errs...)
	}
	sh.logger.Info("Graceful shutdown completed successfully")
	return nil
}
