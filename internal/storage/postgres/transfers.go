// internal/storage/postgres/transfers.go

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rovshanmuradov/solver-engine/internal/address"
	"github.com/rovshanmuradov/solver-engine/internal/condition"
	"github.com/rovshanmuradov/solver-engine/internal/storage/models"
	"github.com/rovshanmuradov/solver-engine/internal/transfer"
	"github.com/rovshanmuradov/solver-engine/internal/types"
)

type TransferStore struct {
	db *gorm.DB
}

var _ transfer.Store = (*TransferStore)(nil)

func (s *TransferStore) Insert(ctx context.Context, t *transfer.Transfer) error {
	rec := transferRecord(t)
	return translate(s.db.WithContext(ctx).Create(&rec).Error, t.ID)
}

func (s *TransferStore) Get(ctx context.Context, id string) (*transfer.Transfer, error) {
	var rec models.Transfer
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err, id)
	}
	return transferFromRecord(&rec)
}

func (s *TransferStore) ListByOwner(ctx context.Context, owner string) ([]*transfer.Transfer, error) {
	return s.list(ctx, "owner_key = ?", address.Key(owner))
}

func (s *TransferStore) ListByStatus(ctx context.Context, status transfer.Status) ([]*transfer.Transfer, error) {
	return s.list(ctx, "status = ?", string(status))
}

func (s *TransferStore) list(ctx context.Context, query string, arg interface{}) ([]*transfer.Transfer, error) {
	var recs []models.Transfer
	err := s.db.WithContext(ctx).
		Where(query, arg).
		Order("created_at asc").
		Order("id asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]*transfer.Transfer, 0, len(recs))
	for i := range recs {
		t, err := transferFromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *TransferStore) Update(ctx context.Context, id string, fn func(*transfer.Transfer) error) (*transfer.Transfer, error) {
	var out *transfer.Transfer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Transfer
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", id).Error; err != nil {
			return translate(err, id)
		}
		t, err := transferFromRecord(&rec)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}

		next := transferRecord(t)
		next.CreatedAt = rec.CreatedAt
		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("failed to save transfer %s: %w", id, err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

func (s *TransferStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Transfer{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, id)
	}
	return nil
}

func transferRecord(t *transfer.Transfer) models.Transfer {
	rec := models.Transfer{
		BaseModel:       models.BaseModel{ID: t.ID, CreatedAt: t.CreatedAt.UTC()},
		Owner:           t.Owner,
		OwnerKey:        address.Key(t.Owner),
		Recipient:       t.Recipient,
		SrcToken:        t.SrcToken,
		DestToken:       t.DestToken,
		Amount:          types.NewBigInt(t.Amount).Copy(),
		Fee:             types.NewBigInt(t.Fee).Copy(),
		DestChainID:     types.NewBigInt(t.DestChainID).Copy(),
		Conditions:      condition.CloneAll(t.Conditions),
		MaxWaitMs:       t.MaxWaitTime.Milliseconds(),
		Priority:        t.Priority,
		Status:          string(t.Status),
		ConditionsMetAt: utcPtr(t.ConditionsMetAt),
		FulfilledAt:     utcPtr(t.FulfilledAt),
		ExpiredAt:       utcPtr(t.ExpiredAt),
		CancelledAt:     utcPtr(t.CancelledAt),
	}
	if t.RequestID != nil {
		h := t.RequestID.Hex()
		rec.RequestID = &h
	}
	return rec
}

func transferFromRecord(rec *models.Transfer) (*transfer.Transfer, error) {
	status := transfer.Status(rec.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("transfer %s has unknown status %q", rec.ID, rec.Status)
	}

	t := &transfer.Transfer{
		ID:              rec.ID,
		Owner:           rec.Owner,
		Recipient:       rec.Recipient,
		SrcToken:        rec.SrcToken,
		DestToken:       rec.DestToken,
		Amount:          rec.Amount.Copy().Int,
		Fee:             rec.Fee.Copy().Int,
		DestChainID:     rec.DestChainID.Copy().Int,
		Conditions:      condition.CloneAll(rec.Conditions),
		MaxWaitTime:     time.Duration(rec.MaxWaitMs) * time.Millisecond,
		Priority:        rec.Priority,
		CreatedAt:       rec.CreatedAt.UTC(),
		Status:          status,
		ConditionsMetAt: utcPtr(rec.ConditionsMetAt),
		FulfilledAt:     utcPtr(rec.FulfilledAt),
		ExpiredAt:       utcPtr(rec.ExpiredAt),
		CancelledAt:     utcPtr(rec.CancelledAt),
	}
	if rec.RequestID != nil {
		h := common.HexToHash(*rec.RequestID)
		t.RequestID = &h
	}
	return t, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
