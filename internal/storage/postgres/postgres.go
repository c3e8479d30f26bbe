// internal/storage/postgres/postgres.go

// Package postgres persists transfers and solvers with gorm. Update runs its
// callback inside a transaction holding a row lock (SELECT ... FOR UPDATE).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/solver"
	"github.com/rovshanmuradov/solver-engine/internal/storage/models"
	"github.com/rovshanmuradov/solver-engine/internal/transfer"
)

const migrationLockID = 101

type Storage struct {
	db        *gorm.DB
	transfers *TransferStore
	solvers   *SolverRegistry
	logger    *zap.Logger
}

func NewStorage(dsn string, zapLogger *zap.Logger) (*Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Storage{
		db:        db,
		transfers: &TransferStore{db: db},
		solvers:   &SolverRegistry{db: db},
		logger:    zapLogger,
	}, nil
}

func (s *Storage) Transfers() transfer.Store { return s.transfers }

func (s *Storage) Solvers() solver.Registry { return s.solvers }

// Migrate creates or updates the schema. Concurrent migrations are excluded
// with an advisory lock.
func (s *Storage) Migrate(ctx context.Context) error {
	// the advisory lock is per session, so lock, migrate and unlock share one connection
	err := s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var lockObtained bool
		if err := conn.Raw("SELECT pg_try_advisory_lock(?)", migrationLockID).Scan(&lockObtained).Error; err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !lockObtained {
			return errors.New("another migration is in progress")
		}
		defer conn.Exec("SELECT pg_advisory_unlock(?)", migrationLockID)

		if err := conn.AutoMigrate(&models.Transfer{}, &models.Solver{}); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("Database schema up to date")
	return nil
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps gorm errors onto the shared error kinds.
func translate(err error, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", id, errs.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", id, errs.ErrAlreadyExists)
	}
	return err
}
