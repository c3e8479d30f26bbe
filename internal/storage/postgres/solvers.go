// internal/storage/postgres/solvers.go

package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rovshanmuradov/solver-engine/internal/solver"
	"github.com/rovshanmuradov/solver-engine/internal/storage/models"
	"github.com/rovshanmuradov/solver-engine/internal/types"
)

type SolverRegistry struct {
	db *gorm.DB
}

var _ solver.Registry = (*SolverRegistry)(nil)

func (r *SolverRegistry) Insert(ctx context.Context, inst *solver.Instance) error {
	rec := solverRecord(inst)
	return translate(r.db.WithContext(ctx).Create(&rec).Error, inst.ID)
}

func (r *SolverRegistry) Get(ctx context.Context, id string) (*solver.Instance, error) {
	var rec models.Solver
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err, id)
	}
	return solverFromRecord(&rec)
}

func (r *SolverRegistry) List(ctx context.Context) ([]*solver.Instance, error) {
	var recs []models.Solver
	if err := r.db.WithContext(ctx).Order("created_at asc").Order("id asc").Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]*solver.Instance, 0, len(recs))
	for i := range recs {
		inst, err := solverFromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (r *SolverRegistry) Update(ctx context.Context, id string, fn func(*solver.Instance) error) (*solver.Instance, error) {
	var out *solver.Instance
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Solver
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", id).Error; err != nil {
			return translate(err, id)
		}
		inst, err := solverFromRecord(&rec)
		if err != nil {
			return err
		}
		if err := fn(inst); err != nil {
			return err
		}

		next := solverRecord(inst)
		next.CreatedAt = rec.CreatedAt
		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("failed to save solver %s: %w", id, err)
		}
		out = inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

func (r *SolverRegistry) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.Solver{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, id)
	}
	return nil
}

func solverRecord(inst *solver.Instance) models.Solver {
	volume := inst.Stats.TotalVolume
	if volume == nil {
		volume = new(big.Int)
	}
	return models.Solver{
		BaseModel:      models.BaseModel{ID: inst.ID, CreatedAt: inst.Config.CreatedAt.UTC()},
		Name:           inst.Config.Name,
		Config:         inst.Config.Clone(),
		Status:         string(inst.Status),
		TradesExecuted: inst.Stats.TradesExecuted,
		TotalVolume:    types.NewBigInt(new(big.Int).Set(volume)),
		AverageRisk:    inst.Stats.AverageRisk,
		UptimeMs:       inst.Stats.Uptime.Milliseconds(),
		LastError:      inst.LastError,
	}
}

func solverFromRecord(rec *models.Solver) (*solver.Instance, error) {
	status := solver.Status(rec.Status)
	switch status {
	case solver.StatusStopped, solver.StatusRunning, solver.StatusError:
	default:
		return nil, fmt.Errorf("solver %s has unknown status %q", rec.ID, rec.Status)
	}

	cfg := rec.Config.Clone()
	cfg.ID = rec.ID
	cfg.CreatedAt = rec.CreatedAt.UTC()
	cfg.StartedAt = utcPtr(cfg.StartedAt)

	volume := new(big.Int)
	if !rec.TotalVolume.IsNil() {
		volume.Set(rec.TotalVolume.Int)
	}
	return &solver.Instance{
		ID:     rec.ID,
		Config: cfg,
		Status: status,
		Stats: solver.Stats{
			TradesExecuted: rec.TradesExecuted,
			TotalVolume:    volume,
			AverageRisk:    rec.AverageRisk,
			Uptime:         time.Duration(rec.UptimeMs) * time.Millisecond,
		},
		LastError: rec.LastError,
	}, nil
}
