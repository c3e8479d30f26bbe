package transfer

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solver-engine/internal/condition"
	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/events"
)

const (
	alice = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	bob   = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []events.TransferEvent
}

func (r *recordedEvents) Publish(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.(events.TransferEvent))
	return nil
}

func (r *recordedEvents) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

type fixture struct {
	clock   *clock.Mock
	store   *MemoryStore
	events  *recordedEvents
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	rec := &recordedEvents{}
	return &fixture{
		clock:   mock,
		store:   store,
		events:  rec,
		manager: NewManager(store, mock, zaptest.NewLogger(t), WithEvents(rec)),
	}
}

func timeCondition(t *testing.T, at time.Time) condition.Condition {
	t.Helper()
	c, err := condition.Time(condition.OpLTE, condition.TimeParams{Timestamp: at.UnixMilli()})
	require.NoError(t, err)
	return c
}

func (f *fixture) request(t *testing.T) Request {
	return Request{
		Recipient:   alice,
		SrcToken:    "USDC",
		DestToken:   "USDC",
		Amount:      big.NewInt(1_000_000),
		DestChainID: big.NewInt(137),
		Conditions:  []condition.Condition{timeCondition(t, f.clock.Now().Add(time.Second))},
	}
}

func (f *fixture) create(t *testing.T, maxWait time.Duration) *Transfer {
	t.Helper()
	req := f.request(t)
	req.MaxWaitTime = maxWait
	tr, err := f.manager.Create(context.Background(), req, alice)
	require.NoError(t, err)
	return tr
}

func TestCreateAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	tr, err := f.manager.Create(context.Background(), f.request(t), "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)

	assert.Regexp(t, `^ct-[0-9a-f-]{36}$`, tr.ID)
	assert.Equal(t, alice, tr.Owner, "owner is stored checksummed")
	assert.Equal(t, StatusPending, tr.Status)
	assert.Equal(t, DefaultMaxWaitTime, tr.MaxWaitTime)
	assert.Equal(t, DefaultPriority, tr.Priority)
	assert.Equal(t, DefaultFee(), tr.Fee)
	assert.Equal(t, f.clock.Now().UTC(), tr.CreatedAt)
	assert.Equal(t, []events.EventType{events.TransferCreated}, f.events.types())
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*Request)
		owner  string
		field  string
	}{
		{name: "bad owner", owner: "nobody", field: "userAddress"},
		{name: "missing recipient", mutate: func(r *Request) { r.Recipient = "" }, field: "recipient"},
		{name: "bad recipient", mutate: func(r *Request) { r.Recipient = "0x12" }, field: "recipient"},
		{name: "missing src token", mutate: func(r *Request) { r.SrcToken = " " }, field: "srcToken"},
		{name: "zero amount", mutate: func(r *Request) { r.Amount = big.NewInt(0) }, field: "amount"},
		{name: "nil amount", mutate: func(r *Request) { r.Amount = nil }, field: "amount"},
		{name: "missing chain", mutate: func(r *Request) { r.DestChainID = nil }, field: "destChainId"},
		{name: "no conditions", mutate: func(r *Request) { r.Conditions = nil }, field: "conditions"},
		{name: "invalid condition", mutate: func(r *Request) {
			r.Conditions = []condition.Condition{{Type: condition.TypeTime, Operator: "ne", Time: &condition.TimeParams{Timestamp: 1}}}
		}, field: "conditions[0].operator"},
		{name: "negative fee", mutate: func(r *Request) { r.Fee = big.NewInt(-1) }, field: "fee"},
		{name: "negative wait", mutate: func(r *Request) { r.MaxWaitTime = -time.Second }, field: "maxWaitTime"},
		{name: "priority too high", mutate: func(r *Request) { r.Priority = 11 }, field: "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(t)
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			owner := tt.owner
			if owner == "" {
				owner = alice
			}

			_, err := f.manager.Create(context.Background(), req, owner)
			require.Error(t, err)
			var ve *errs.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assert.Equal(t, 0, f.store.rows.Len(), "rejected requests store nothing")
}

func TestCheckExpiration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.create(t, 500*time.Millisecond)

	f.clock.Add(500 * time.Millisecond)
	expired, err := f.manager.CheckExpiration(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, expired, "elapsed == maxWait is still live")

	f.clock.Add(time.Millisecond)
	expired, err = f.manager.CheckExpiration(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, expired)

	expired, err = f.manager.CheckExpiration(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, expired, "second call is a no-op")

	got, err := f.manager.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	require.NotNil(t, got.ExpiredAt)
	assert.Equal(t, f.clock.Now().UTC(), *got.ExpiredAt)

	expired, err = f.manager.CheckExpiration(ctx, "ct-missing")
	require.NoError(t, err)
	assert.False(t, expired)

	assert.Equal(t, []events.EventType{events.TransferCreated, events.TransferExpired}, f.events.types())
}

func TestGetExpiresLazily(t *testing.T) {
	f := newFixture(t)
	tr := f.create(t, time.Second)

	f.clock.Add(2 * time.Second)
	got, err := f.manager.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	_, err = f.manager.Get(context.Background(), "ct-missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.create(t, time.Minute)

	first, err := f.manager.Cancel(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, first.Status)
	require.NotNil(t, first.CancelledAt)

	f.clock.Add(time.Second)
	second, err := f.manager.Cancel(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second, "second cancel changes nothing")

	_, err = f.manager.Cancel(ctx, "ct-missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCancelTerminalIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.create(t, time.Minute)

	_, err := f.manager.MarkFulfilled(ctx, tr.ID, common.HexToHash("0x01"), time.Time{})
	require.NoError(t, err)

	got, err := f.manager.Cancel(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, got.Status)
	assert.Nil(t, got.CancelledAt)
}

func TestCancelOverdueExpires(t *testing.T) {
	f := newFixture(t)
	tr := f.create(t, time.Second)
	f.clock.Add(1500 * time.Millisecond)

	got, err := f.manager.Cancel(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestMarkFulfilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.create(t, time.Minute)
	requestID := common.HexToHash("0xbeef")

	f.clock.Add(time.Second)
	at := f.clock.Now()
	got, err := f.manager.MarkFulfilledBy(ctx, tr.ID, requestID, at, "solver-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, got.Status)
	assert.Equal(t, requestID, *got.RequestID)
	assert.Equal(t, at.UTC(), *got.FulfilledAt)
	assert.Equal(t, at.UTC(), *got.ConditionsMetAt)

	_, err = f.manager.MarkFulfilled(ctx, tr.ID, requestID, at)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	cancelled := f.create(t, time.Minute)
	_, err = f.manager.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	_, err = f.manager.MarkFulfilled(ctx, cancelled.ID, requestID, at)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = f.manager.MarkFulfilled(ctx, "ct-missing", requestID, at)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	var fulfilled events.TransferEvent
	for _, e := range f.events.events {
		if e.Type() == events.TransferFulfilled {
			fulfilled = e
		}
	}
	assert.Equal(t, "solver-1", fulfilled.SolverID)
	assert.Equal(t, requestID.Hex(), fulfilled.RequestID)
}

func TestMarkFulfilledOverdueExpires(t *testing.T) {
	f := newFixture(t)
	tr := f.create(t, 500*time.Millisecond)
	f.clock.Add(600 * time.Millisecond)

	got, err := f.manager.MarkFulfilled(context.Background(), tr.ID, common.HexToHash("0x01"), f.clock.Now())
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	require.NotNil(t, got)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Nil(t, got.RequestID)
}

func TestListByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, time.Second)
	f.clock.Add(time.Millisecond)
	second := f.create(t, time.Hour)

	req := f.request(t)
	_, err := f.manager.Create(ctx, req, bob)
	require.NoError(t, err)

	f.clock.Add(2 * time.Second)
	list, err := f.manager.ListByOwner(ctx, "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, StatusExpired, list[0].Status, "overdue transfers are expired on read")
	assert.Equal(t, StatusPending, list[1].Status)

	none, err := f.manager.ListByOwner(ctx, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListByOwnerSolanaCaseSensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const (
		upper = "So11111111111111111111111111111111111111112"
		lower = "so11111111111111111111111111111111111111112"
	)
	tr, err := f.manager.Create(ctx, f.request(t), lower)
	require.NoError(t, err)

	list, err := f.manager.ListByOwner(ctx, upper)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.manager.ListByOwner(ctx, lower)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tr.ID, list[0].ID)
}

func TestListPendingOrder(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.create(t, time.Hour).ID)
		f.clock.Add(time.Millisecond)
	}
	_, err := f.manager.Cancel(context.Background(), ids[1])
	require.NoError(t, err)

	pending, err := f.manager.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[0], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)
}

func TestStatusReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.create(t, 5*time.Second)

	f.clock.Add(2 * time.Second)
	report, err := f.manager.Status(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, report.Status)
	assert.Equal(t, 3*time.Second, report.TimeRemaining)
	assert.False(t, report.ConditionsMet)
	assert.False(t, report.Expired)

	f.clock.Add(4 * time.Second)
	report, err = f.manager.Status(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, report.Status)
	assert.True(t, report.Expired)
	assert.Zero(t, report.TimeRemaining)

	_, err = f.manager.Status(ctx, "ct-missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPrune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.create(t, time.Minute)
	_, err := f.manager.Cancel(ctx, old.ID)
	require.NoError(t, err)

	f.clock.Add(2 * time.Hour)
	recent := f.create(t, time.Minute)
	_, err = f.manager.Cancel(ctx, recent.ID)
	require.NoError(t, err)
	pending := f.create(t, 24*time.Hour)

	removed, err := f.manager.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.manager.Get(ctx, old.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.manager.Get(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = f.manager.Get(ctx, pending.ID)
	assert.NoError(t, err)

	list, err := f.manager.ListByOwner(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func terminalEvents(r *recordedEvents) int {
	n := 0
	for _, et := range r.types() {
		if et != events.TransferCreated {
			n++
		}
	}
	return n
}

func TestConcurrentCancelAndExpiration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.create(t, time.Second)
	f.clock.Add(time.Second + time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.manager.Cancel(ctx, tr.ID)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.manager.CheckExpiration(ctx, tr.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.manager.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status, "an overdue transfer can only expire")
	assert.Nil(t, got.CancelledAt)
	assert.Equal(t, 1, terminalEvents(f.events))
}

func TestConcurrentCancelAndFulfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.create(t, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	fulfilled := 0
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.manager.Cancel(ctx, tr.ID)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.manager.MarkFulfilled(ctx, tr.ID, common.HexToHash("0x01"), time.Time{})
			if err == nil {
				mu.Lock()
				fulfilled++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, errs.ErrInvalidTransition)
		}()
	}
	wg.Wait()

	got, err := f.manager.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Contains(t, []Status{StatusCancelled, StatusFulfilled}, got.Status)
	if got.Status == StatusFulfilled {
		assert.Equal(t, 1, fulfilled)
		assert.Nil(t, got.CancelledAt)
	} else {
		assert.Equal(t, 0, fulfilled)
		assert.Nil(t, got.RequestID)
	}
	assert.Equal(t, 1, terminalEvents(f.events))
}

func TestCheckImmutable(t *testing.T) {
	f := newFixture(t)
	tr := f.create(t, time.Minute)

	_, err := f.manager.update(context.Background(), tr.ID, func(t *Transfer) error {
		t.Amount = big.NewInt(1)
		return nil
	})
	assert.ErrorContains(t, err, "amount is immutable")

	got, err := f.manager.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), got.Amount.Int64())
}
