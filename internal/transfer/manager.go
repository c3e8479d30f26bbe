// internal/transfer/manager.go

package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solver-engine/internal/address"
	"github.com/rovshanmuradov/solver-engine/internal/condition"
	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/events"
	"github.com/rovshanmuradov/solver-engine/internal/metrics"
)

const (
	DefaultMaxWaitTime = 5 * time.Minute
	DefaultPriority    = 5
	MinPriority        = 1
	MaxPriority        = 10

	idPrefix = "ct-"
)

// DefaultFee is 0.01 of an 18-decimal token in base units.
func DefaultFee() *big.Int {
	return big.NewInt(10_000_000_000_000_000)
}

// errNoChange aborts an Update without writing.
var errNoChange = errors.New("no change")

// Request carries the caller-supplied fields of a new transfer. Zero Fee,
// MaxWaitTime and Priority take the manager's defaults.
type Request struct {
	Recipient   string
	SrcToken    string
	DestToken   string
	Amount      *big.Int
	Fee         *big.Int
	DestChainID *big.Int
	Conditions  []condition.Condition
	MaxWaitTime time.Duration
	Priority    int
}

// Defaults fills the optional request fields.
type Defaults struct {
	MaxWaitTime time.Duration
	Priority    int
	Fee         *big.Int
}

type Option func(*Manager)

func WithDefaults(d Defaults) Option {
	return func(m *Manager) {
		if d.MaxWaitTime > 0 {
			m.defaults.MaxWaitTime = d.MaxWaitTime
		}
		if d.Priority >= MinPriority && d.Priority <= MaxPriority {
			m.defaults.Priority = d.Priority
		}
		if d.Fee != nil && d.Fee.Sign() >= 0 {
			m.defaults.Fee = new(big.Int).Set(d.Fee)
		}
	}
}

func WithEvents(p events.Publisher) Option {
	return func(m *Manager) { m.events = p }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager applies the transfer state machine on top of a Store:
// pending -> fulfilled | expired | cancelled. Terminal states never change.
// A pending transfer counts as expired the moment now - CreatedAt exceeds
// MaxWaitTime, whether or not a sweep has run yet.
type Manager struct {
	store    Store
	clock    clock.Clock
	logger   *zap.Logger
	events   events.Publisher
	metrics  *metrics.Metrics
	defaults Defaults
}

func NewManager(store Store, clk clock.Clock, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		clock:  clk,
		logger: logger.Named("transfers"),
		defaults: Defaults{
			MaxWaitTime: DefaultMaxWaitTime,
			Priority:    DefaultPriority,
			Fee:         DefaultFee(),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC()
}

// Create validates req and stores a new pending transfer owned by owner.
func (m *Manager) Create(ctx context.Context, req Request, owner string) (*Transfer, error) {
	t, err := m.build(req, owner)
	if err != nil {
		return nil, err
	}

	if err := m.store.Insert(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to store transfer: %w", err)
	}

	m.metrics.TransferCreated()
	m.publish(events.TransferCreated, t, "")
	m.logger.Info("Transfer created",
		zap.String("transfer_id", t.ID),
		zap.String("owner", t.Owner),
		zap.Int("conditions", len(t.Conditions)),
		zap.Duration("max_wait", t.MaxWaitTime))

	return t.Clone(), nil
}

func (m *Manager) build(req Request, owner string) (*Transfer, error) {
	ownerAddr, err := address.Normalize(owner)
	if err != nil {
		return nil, errs.Invalid("userAddress", "%q is not a valid address", owner)
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return nil, errs.Invalid("recipient", "is required")
	}
	recipient, err := address.Normalize(req.Recipient)
	if err != nil {
		return nil, errs.Invalid("recipient", "%q is not a valid address", req.Recipient)
	}
	if strings.TrimSpace(req.SrcToken) == "" {
		return nil, errs.Invalid("srcToken", "is required")
	}
	if strings.TrimSpace(req.DestToken) == "" {
		return nil, errs.Invalid("destToken", "is required")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, errs.Invalid("amount", "must be a positive integer")
	}
	if req.DestChainID == nil || req.DestChainID.Sign() <= 0 {
		return nil, errs.Invalid("destChainId", "must be a positive integer")
	}
	if len(req.Conditions) == 0 {
		return nil, errs.Invalid("conditions", "at least one condition is required")
	}
	for i, c := range req.Conditions {
		if err := c.Validate(); err != nil {
			var ve *errs.ValidationError
			if errors.As(err, &ve) {
				return nil, errs.Invalid(fmt.Sprintf("conditions[%d].%s", i, ve.Field), "%s", ve.Reason)
			}
			return nil, err
		}
	}

	fee := req.Fee
	switch {
	case fee == nil:
		fee = m.defaults.Fee
	case fee.Sign() < 0:
		return nil, errs.Invalid("fee", "must not be negative")
	}

	maxWait := req.MaxWaitTime
	switch {
	case maxWait == 0:
		maxWait = m.defaults.MaxWaitTime
	case maxWait < 0:
		return nil, errs.Invalid("maxWaitTime", "must not be negative")
	}

	priority := req.Priority
	switch {
	case priority == 0:
		priority = m.defaults.Priority
	case priority < MinPriority || priority > MaxPriority:
		return nil, errs.Invalid("priority", "must be between %d and %d", MinPriority, MaxPriority)
	}

	return &Transfer{
		ID:          idPrefix + uuid.NewString(),
		Owner:       ownerAddr,
		Recipient:   recipient,
		SrcToken:    strings.TrimSpace(req.SrcToken),
		DestToken:   strings.TrimSpace(req.DestToken),
		Amount:      copyInt(req.Amount),
		Fee:         copyInt(fee),
		DestChainID: copyInt(req.DestChainID),
		Conditions:  condition.CloneAll(req.Conditions),
		MaxWaitTime: maxWait,
		Priority:    priority,
		CreatedAt:   m.now(),
		Status:      StatusPending,
	}, nil
}

// Get returns the transfer, expiring it first if it is overdue.
func (m *Manager) Get(ctx context.Context, id string) (*Transfer, error) {
	t, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusPending && t.Overdue(m.now()) {
		t, _, err = m.expireIfOverdue(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ListByOwner returns the owner's transfers ordered by creation time, with
// overdue ones expired.
func (m *Manager) ListByOwner(ctx context.Context, owner string) ([]*Transfer, error) {
	ts, err := m.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	now := m.now()
	for i, t := range ts {
		if t.Status != StatusPending || !t.Overdue(now) {
			continue
		}
		updated, _, err := m.expireIfOverdue(ctx, t.ID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		ts[i] = updated
	}
	return ts, nil
}

// ListPending returns every pending transfer, oldest first.
func (m *Manager) ListPending(ctx context.Context) ([]*Transfer, error) {
	return m.store.ListByStatus(ctx, StatusPending)
}

// CheckExpiration expires the transfer if it is pending and overdue and
// reports whether it did. Repeated calls, and calls for unknown ids, return false.
func (m *Manager) CheckExpiration(ctx context.Context, id string) (bool, error) {
	_, changed, err := m.expireIfOverdue(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return changed, err
}

func (m *Manager) expireIfOverdue(ctx context.Context, id string) (*Transfer, bool, error) {
	var current *Transfer
	updated, err := m.update(ctx, id, func(t *Transfer) error {
		now := m.now()
		if t.Status != StatusPending || !t.Overdue(now) {
			current = t
			return errNoChange
		}
		t.Status = StatusExpired
		t.ExpiredAt = &now
		return nil
	})
	switch {
	case errors.Is(err, errNoChange):
		return current, false, nil
	case err != nil:
		return nil, false, err
	}

	m.transitioned(updated, "")
	return updated, true, nil
}

// Cancel cancels a pending transfer. Outside pending it changes nothing and
// returns the transfer as it is. An overdue transfer expires instead.
func (m *Manager) Cancel(ctx context.Context, id string) (*Transfer, error) {
	var current *Transfer
	updated, err := m.update(ctx, id, func(t *Transfer) error {
		if t.Status != StatusPending {
			current = t
			return errNoChange
		}
		now := m.now()
		if t.Overdue(now) {
			t.Status = StatusExpired
			t.ExpiredAt = &now
			return nil
		}
		t.Status = StatusCancelled
		t.CancelledAt = &now
		return nil
	})
	switch {
	case errors.Is(err, errNoChange):
		return current, nil
	case err != nil:
		return nil, err
	}

	m.transitioned(updated, "")
	return updated, nil
}

// MarkFulfilled records a completed hand-off. The transfer is re-checked under
// its lock: a transfer that is no longer pending yields ErrInvalidTransition,
// and one that has become overdue is expired and also yields ErrInvalidTransition.
func (m *Manager) MarkFulfilled(ctx context.Context, id string, requestID common.Hash, fulfilledAt time.Time) (*Transfer, error) {
	return m.markFulfilled(ctx, id, requestID, fulfilledAt, "")
}

// MarkFulfilledBy is MarkFulfilled with the executing solver recorded on the event.
func (m *Manager) MarkFulfilledBy(ctx context.Context, id string, requestID common.Hash, fulfilledAt time.Time, solverID string) (*Transfer, error) {
	return m.markFulfilled(ctx, id, requestID, fulfilledAt, solverID)
}

func (m *Manager) markFulfilled(ctx context.Context, id string, requestID common.Hash, fulfilledAt time.Time, solverID string) (*Transfer, error) {
	expired := false
	updated, err := m.update(ctx, id, func(t *Transfer) error {
		if t.Status != StatusPending {
			return fmt.Errorf("transfer %s is %s: %w", id, t.Status, errs.ErrInvalidTransition)
		}
		now := m.now()
		if t.Overdue(now) {
			t.Status = StatusExpired
			t.ExpiredAt = &now
			expired = true
			return nil
		}
		at := fulfilledAt.UTC()
		if fulfilledAt.IsZero() {
			at = now
		}
		h := requestID
		t.Status = StatusFulfilled
		t.RequestID = &h
		t.FulfilledAt = &at
		t.ConditionsMetAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.transitioned(updated, solverID)
	if expired {
		return updated, fmt.Errorf("transfer %s expired before fulfillment: %w", id, errs.ErrInvalidTransition)
	}
	return updated, nil
}

// Status reports the transfer's state after applying lazy expiration.
func (m *Manager) Status(ctx context.Context, id string) (*StatusReport, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		ID:            t.ID,
		Status:        t.Status,
		ConditionsMet: t.Status == StatusFulfilled,
		TimeRemaining: t.TimeRemaining(m.now()),
		Expired:       t.Status == StatusExpired,
		Conditions:    t.Conditions,
		CreatedAt:     t.CreatedAt,
		FulfilledAt:   t.FulfilledAt,
		RequestID:     t.RequestID,
	}, nil
}

// Prune deletes terminal transfers that closed more than retention ago.
func (m *Manager) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := m.now().Add(-retention)
	removed := 0
	for _, status := range []Status{StatusFulfilled, StatusExpired, StatusCancelled} {
		ts, err := m.store.ListByStatus(ctx, status)
		if err != nil {
			return removed, fmt.Errorf("failed to list %s transfers: %w", status, err)
		}
		for _, t := range ts {
			closed := t.ClosedAt()
			if closed == nil || !closed.Before(cutoff) {
				continue
			}
			if err := m.store.Delete(ctx, t.ID); err != nil {
				if errors.Is(err, errs.ErrNotFound) {
					continue
				}
				return removed, fmt.Errorf("failed to delete transfer %s: %w", t.ID, err)
			}
			removed++
		}
	}

	if removed > 0 {
		m.metrics.Pruned(removed)
		m.logger.Info("Pruned terminal transfers",
			zap.Int("removed", removed),
			zap.Duration("retention", retention))
	}
	return removed, nil
}

// update wraps Store.Update and rejects changes to immutable fields.
func (m *Manager) update(ctx context.Context, id string, fn func(*Transfer) error) (*Transfer, error) {
	return m.store.Update(ctx, id, func(t *Transfer) error {
		before := t.Clone()
		if err := fn(t); err != nil {
			return err
		}
		return checkImmutable(before, t)
	})
}

func checkImmutable(before, after *Transfer) error {
	switch {
	case before.ID != after.ID:
		return fmt.Errorf("transfer %s: id is immutable", before.ID)
	case before.Recipient != after.Recipient:
		return fmt.Errorf("transfer %s: recipient is immutable", before.ID)
	case before.Amount.Cmp(after.Amount) != 0:
		return fmt.Errorf("transfer %s: amount is immutable", before.ID)
	case !before.CreatedAt.Equal(after.CreatedAt):
		return fmt.Errorf("transfer %s: createdAt is immutable", before.ID)
	case len(before.Conditions) != len(after.Conditions):
		return fmt.Errorf("transfer %s: conditions are immutable", before.ID)
	}
	return nil
}

func (m *Manager) transitioned(t *Transfer, solverID string) {
	m.metrics.TransferTransition(string(t.Status))

	var eventType events.EventType
	switch t.Status {
	case StatusFulfilled:
		eventType = events.TransferFulfilled
	case StatusExpired:
		eventType = events.TransferExpired
	case StatusCancelled:
		eventType = events.TransferCancelled
	default:
		return
	}

	requestID := ""
	if t.RequestID != nil {
		requestID = t.RequestID.Hex()
	}
	m.publish(eventType, t, solverID)
	m.logger.Info("Transfer "+string(t.Status),
		zap.String("transfer_id", t.ID),
		zap.String("request_id", requestID),
		zap.String("solver_id", solverID))
}

func (m *Manager) publish(eventType events.EventType, t *Transfer, solverID string) {
	if m.events == nil {
		return
	}
	ev := events.TransferEvent{
		BaseEvent:  events.BaseEvent{EventType: eventType, EventTime: m.now()},
		TransferID: t.ID,
		Owner:      t.Owner,
		Status:     string(t.Status),
		SolverID:   solverID,
	}
	if t.RequestID != nil {
		ev.RequestID = t.RequestID.Hex()
	}
	if err := m.events.Publish(ev); err != nil {
		m.logger.Debug("Transfer event not published",
			zap.String("transfer_id", t.ID),
			zap.Error(err))
	}
}
