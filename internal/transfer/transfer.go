// internal/transfer/transfer.go

// Package transfer owns conditional transfers: their records, their storage
// contract and the lifecycle manager that moves them between states.
package transfer

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rovshanmuradov/solver-engine/internal/condition"
)

// Status of a transfer. Every status except StatusPending is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s != StatusPending
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusFulfilled, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Transfer is a deferred transfer gated on Conditions. Recipient, Amount,
// Conditions and CreatedAt never change after creation.
type Transfer struct {
	ID          string
	Owner       string
	Recipient   string
	SrcToken    string
	DestToken   string
	Amount      *big.Int
	Fee         *big.Int
	DestChainID *big.Int
	Conditions  []condition.Condition
	MaxWaitTime time.Duration
	Priority    int
	CreatedAt   time.Time

	Status          Status
	RequestID       *common.Hash
	ConditionsMetAt *time.Time
	FulfilledAt     *time.Time
	ExpiredAt       *time.Time
	CancelledAt     *time.Time
}

// Deadline is the last instant at which the transfer is still live.
func (t *Transfer) Deadline() time.Time {
	return t.CreatedAt.Add(t.MaxWaitTime)
}

// Overdue reports whether now - CreatedAt > MaxWaitTime.
func (t *Transfer) Overdue(now time.Time) bool {
	return now.Sub(t.CreatedAt) > t.MaxWaitTime
}

// TimeRemaining is the time left before expiry, floored at zero.
func (t *Transfer) TimeRemaining(now time.Time) time.Duration {
	left := t.MaxWaitTime - now.Sub(t.CreatedAt)
	if left < 0 {
		return 0
	}
	return left
}

// ClosedAt is when the transfer reached its terminal status, or nil while pending.
func (t *Transfer) ClosedAt() *time.Time {
	switch t.Status {
	case StatusFulfilled:
		return t.FulfilledAt
	case StatusExpired:
		return t.ExpiredAt
	case StatusCancelled:
		return t.CancelledAt
	}
	return nil
}

// Clone returns a deep copy.
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Amount = copyInt(t.Amount)
	cp.Fee = copyInt(t.Fee)
	cp.DestChainID = copyInt(t.DestChainID)
	cp.Conditions = condition.CloneAll(t.Conditions)
	if t.RequestID != nil {
		h := *t.RequestID
		cp.RequestID = &h
	}
	cp.ConditionsMetAt = copyTime(t.ConditionsMetAt)
	cp.FulfilledAt = copyTime(t.FulfilledAt)
	cp.ExpiredAt = copyTime(t.ExpiredAt)
	cp.CancelledAt = copyTime(t.CancelledAt)
	return &cp
}

func copyInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StatusReport is the read-only view returned by Manager.Status.
type StatusReport struct {
	ID            string
	Status        Status
	ConditionsMet bool
	TimeRemaining time.Duration
	Expired       bool
	Conditions    []condition.Condition
	CreatedAt     time.Time
	FulfilledAt   *time.Time
	RequestID     *common.Hash
}
