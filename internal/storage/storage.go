// internal/storage/storage.go

// Package storage selects where transfers and solvers are kept.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solver-engine/internal/solver"
	"github.com/rovshanmuradov/solver-engine/internal/storage/postgres"
	"github.com/rovshanmuradov/solver-engine/internal/transfer"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Storage bundles the transfer store and the solver registry of one backend.
type Storage interface {
	Transfers() transfer.Store
	Solvers() solver.Registry

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the backend named by driver, migrated and ready for use.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (Storage, error) {
	switch driver {
	case DriverMemory, "":
		logger.Info("Using in-memory storage; state is lost on restart")
		return NewMemory(), nil
	case DriverPostgres:
		pg, err := postgres.NewStorage(dsn, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}

type memoryStorage struct {
	transfers *transfer.MemoryStore
	solvers   *solver.MemoryRegistry
}

func NewMemory() Storage {
	return &memoryStorage{
		transfers: transfer.NewMemoryStore(),
		solvers:   solver.NewMemoryRegistry(),
	}
}

func (m *memoryStorage) Transfers() transfer.Store { return m.transfers }

func (m *memoryStorage) Solvers() solver.Registry { return m.solvers }

func (m *memoryStorage) Migrate(context.Context) error { return nil }

func (m *memoryStorage) Close() error { return nil }
