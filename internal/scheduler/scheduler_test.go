package scheduler

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solver-engine/internal/condition"
	"github.com/rovshanmuradov/solver-engine/internal/metrics"
	"github.com/rovshanmuradov/solver-engine/internal/oracle"
	"github.com/rovshanmuradov/solver-engine/internal/solver"
	"github.com/rovshanmuradov/solver-engine/internal/transfer"
)

const (
	owner     = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	recipient = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

type env struct {
	clock      *clock.Mock
	transfers  *transfer.Manager
	solvers    *solver.Supervisor
	observer   *oracle.Observer
	metrics    *metrics.Metrics
	dispatcher Dispatcher
	cfg        Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := zaptest.NewLogger(t)
	m := metrics.New(prometheus.NewRegistry())

	idle := solver.RunnerFunc(func(ctx context.Context, _ *solver.Instance) error {
		<-ctx.Done()
		return nil
	})
	sup := solver.NewSupervisor(solver.NewMemoryRegistry(), mock, logger, solver.WithRunner(idle))
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })

	return &env{
		clock:      mock,
		transfers:  transfer.NewManager(transfer.NewMemoryStore(), mock, logger, transfer.WithMetrics(m)),
		solvers:    sup,
		observer:   oracle.NewObserver(oracle.Set{Clock: mock}, logger, m),
		metrics:    m,
		dispatcher: NewLogDispatcher(logger),
		cfg:        Config{Interval: time.Second, Concurrency: 4, DispatchRetries: 2, RetryInterval: time.Millisecond},
	}
}

func (e *env) scheduler(t *testing.T) *Scheduler {
	return New(e.cfg, e.transfers, e.solvers, e.observer, e.dispatcher, e.clock, zaptest.NewLogger(t), e.metrics)
}

func (e *env) startSolver(t *testing.T, name string, chainID uint64) *solver.Instance {
	t.Helper()
	ctx := context.Background()
	inst, err := e.solvers.Create(ctx, solver.Config{
		Name:     name,
		Networks: []solver.NetworkConfig{{ChainID: chainID, RPCURL: "https://rpc.example.org"}},
	})
	require.NoError(t, err)
	inst, err = e.solvers.Start(ctx, inst.ID)
	require.NoError(t, err)
	return inst
}

// createTransfer submits a transfer whose only condition holds once the clock
// reaches createdAt+unlockAfter.
func (e *env) createTransfer(t *testing.T, unlockAfter, maxWait time.Duration) *transfer.Transfer {
	t.Helper()
	c, err := condition.Time(condition.OpLTE, condition.TimeParams{
		Timestamp: e.clock.Now().Add(unlockAfter).UnixMilli(),
	})
	require.NoError(t, err)

	tr, err := e.transfers.Create(context.Background(), transfer.Request{
		Recipient:   recipient,
		SrcToken:    "USDC",
		DestToken:   "USDC",
		Amount:      big.NewInt(1_000_000),
		DestChainID: big.NewInt(137),
		Conditions:  []condition.Condition{c},
		MaxWaitTime: maxWait,
	}, owner)
	require.NoError(t, err)
	return tr
}

func (e *env) status(t *testing.T, id string) transfer.Status {
	t.Helper()
	tr, err := e.transfers.Get(context.Background(), id)
	require.NoError(t, err)
	return tr.Status
}

func TestTimeConditionFulfilledAfterUnlock(t *testing.T) {
	e := newEnv(t)
	inst := e.startSolver(t, "polygon", 137)
	s := e.scheduler(t)
	ctx := context.Background()

	tr := e.createTransfer(t, time.Second, 5*time.Second)

	sum, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Unmet)
	assert.Equal(t, transfer.StatusPending, e.status(t, tr.ID))

	e.clock.Add(1100 * time.Millisecond)
	sum, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Fulfilled)

	got, err := e.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusFulfilled, got.Status)
	require.NotNil(t, got.RequestID)
	assert.Equal(t, RequestID(tr.ID, inst.ID), *got.RequestID)
	require.NotNil(t, got.FulfilledAt)
	assert.True(t, got.FulfilledAt.Equal(e.clock.Now()))

	stats, err := e.solvers.Status(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Stats.TradesExecuted)
	assert.Equal(t, int64(1_000_000), stats.Stats.TotalVolume.Int64())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Dispatches.WithLabelValues("ok")))
}

func TestOverdueTransferExpiresBeforeEvaluation(t *testing.T) {
	e := newEnv(t)
	e.startSolver(t, "polygon", 137)
	var calls atomic.Int32
	e.dispatcher = DispatcherFunc(func(context.Context, *transfer.Transfer, *solver.Instance) (common.Hash, error) {
		calls.Add(1)
		return common.Hash{}, nil
	})
	s := e.scheduler(t)

	// the condition would hold at 600ms, but the transfer is already overdue
	tr := e.createTransfer(t, 0, 500*time.Millisecond)
	e.clock.Add(600 * time.Millisecond)

	sum, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Expired)
	assert.Zero(t, sum.Fulfilled)
	assert.Zero(t, calls.Load())
	assert.Equal(t, transfer.StatusExpired, e.status(t, tr.ID))
}

func TestUnlockAfterDeadlineExpires(t *testing.T) {
	e := newEnv(t)
	e.startSolver(t, "polygon", 137)
	s := e.scheduler(t)

	tr := e.createTransfer(t, time.Second, 500*time.Millisecond)
	e.clock.Add(600 * time.Millisecond)

	sum, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Expired)
	assert.Equal(t, transfer.StatusExpired, e.status(t, tr.ID))
}

func TestNoEligibleSolver(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, e *env)
	}{
		{name: "none running", setup: func(t *testing.T, e *env) {}},
		{name: "wrong chain", setup: func(t *testing.T, e *env) { e.startSolver(t, "mainnet", 1) }},
		{name: "stopped", setup: func(t *testing.T, e *env) {
			inst := e.startSolver(t, "polygon", 137)
			_, err := e.solvers.Stop(context.Background(), inst.ID)
			require.NoError(t, err)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			tt.setup(t, e)
			s := e.scheduler(t)
			tr := e.createTransfer(t, 0, time.Minute)

			sum, err := s.Tick(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, sum.NoSolver)
			assert.Equal(t, transfer.StatusPending, e.status(t, tr.ID))
		})
	}
}

func TestFeeBelowSolverMinimum(t *testing.T) {
	e := newEnv(t)
	e.startSolver(t, "polygon", 137)
	s := e.scheduler(t)

	c, err := condition.Time(condition.OpLTE, condition.TimeParams{Timestamp: e.clock.Now().UnixMilli()})
	require.NoError(t, err)
	tr, err := e.transfers.Create(context.Background(), transfer.Request{
		Recipient:   recipient,
		SrcToken:    "USDC",
		DestToken:   "USDC",
		Amount:      big.NewInt(10),
		Fee:         big.NewInt(1),
		DestChainID: big.NewInt(137),
		Conditions:  []condition.Condition{c},
	}, owner)
	require.NoError(t, err)

	sum, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.NoSolver)
	assert.Equal(t, transfer.StatusPending, e.status(t, tr.ID))
}

func TestRoundRobinAcrossSolvers(t *testing.T) {
	e := newEnv(t)
	a := e.startSolver(t, "a", 137)
	e.clock.Add(time.Millisecond)
	b := e.startSolver(t, "b", 137)
	s := e.scheduler(t)

	for i := 0; i < 4; i++ {
		e.createTransfer(t, 0, time.Minute)
	}
	sum, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Fulfilled)

	for _, id := range []string{a.ID, b.ID} {
		inst, err := e.solvers.Status(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), inst.Stats.TradesExecuted)
	}
}

func TestDispatchRetries(t *testing.T) {
	e := newEnv(t)
	e.startSolver(t, "polygon", 137)
	var attempts atomic.Int32
	e.dispatcher = DispatcherFunc(func(_ context.Context, tr *transfer.Transfer, inst *solver.Instance) (common.Hash, error) {
		if attempts.Add(1) < 3 {
			return common.Hash{}, errors.New("solver busy")
		}
		return RequestID(tr.ID, inst.ID), nil
	})
	s := e.scheduler(t)
	tr := e.createTransfer(t, 0, time.Minute)

	sum, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Fulfilled)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, transfer.StatusFulfilled, e.status(t, tr.ID))
}

func TestDispatchFailureLeavesPending(t *testing.T) {
	e := newEnv(t)
	e.startSolver(t, "polygon", 137)
	var attempts atomic.Int32
	e.dispatcher = DispatcherFunc(func(context.Context, *transfer.Transfer, *solver.Instance) (common.Hash, error) {
		attempts.Add(1)
		return common.Hash{}, errors.New("solver unreachable")
	})
	s := e.scheduler(t)
	tr := e.createTransfer(t, 0, time.Minute)

	sum, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DispatchFailed)
	assert.Equal(t, int32(3), attempts.Load(), "one attempt plus two retries")
	assert.Equal(t, transfer.StatusPending, e.status(t, tr.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Dispatches.WithLabelValues("failed")))

	// retried on a later tick, bounded by the deadline
	e.clock.Add(time.Minute + time.Millisecond)
	sum, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Expired)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDispatchErrorWrapsErrDispatch(t *testing.T) {
	e := newEnv(t)
	cause := errors.New("rejected")
	e.cfg.DispatchRetries = 0
	e.dispatcher = DispatcherFunc(func(context.Context, *transfer.Transfer, *solver.Instance) (common.Hash, error) {
		return common.Hash{}, cause
	})
	s := e.scheduler(t)
	tr := e.createTransfer(t, 0, time.Minute)

	_, err := s.dispatch(context.Background(), tr, &solver.Instance{ID: "solver-x"})
	assert.ErrorIs(t, err, ErrDispatch)
	assert.ErrorIs(t, err, cause)
}

func TestCancelledDuringDispatch(t *testing.T) {
	e := newEnv(t)
	e.startSolver(t, "polygon", 137)
	e.dispatcher = DispatcherFunc(func(ctx context.Context, tr *transfer.Transfer, inst *solver.Instance) (common.Hash, error) {
		_, err := e.transfers.Cancel(ctx, tr.ID)
		return RequestID(tr.ID, inst.ID), err
	})
	s := e.scheduler(t)
	tr := e.createTransfer(t, 0, time.Minute)

	sum, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Superseded)
	assert.Equal(t, transfer.StatusCancelled, e.status(t, tr.ID))
}

func TestDeadlinePassesDuringDispatch(t *testing.T) {
	e := newEnv(t)
	inst := e.startSolver(t, "polygon", 137)
	e.dispatcher = DispatcherFunc(func(_ context.Context, tr *transfer.Transfer, s *solver.Instance) (common.Hash, error) {
		e.clock.Add(2 * time.Second)
		return RequestID(tr.ID, s.ID), nil
	})
	s := e.scheduler(t)
	tr := e.createTransfer(t, 0, time.Second)

	sum, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Expired)
	assert.Equal(t, transfer.StatusExpired, e.status(t, tr.ID))

	stats, err := e.solvers.Status(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.Stats.TradesExecuted)
}

func TestConcurrentTickIsSkipped(t *testing.T) {
	e := newEnv(t)
	e.startSolver(t, "polygon", 137)
	entered := make(chan struct{})
	release := make(chan struct{})
	e.dispatcher = DispatcherFunc(func(_ context.Context, tr *transfer.Transfer, inst *solver.Instance) (common.Hash, error) {
		close(entered)
		<-release
		return RequestID(tr.ID, inst.ID), nil
	})
	s := e.scheduler(t)
	e.createTransfer(t, 0, time.Minute)

	done := make(chan Summary, 1)
	go func() {
		sum, _ := s.Tick(context.Background())
		done <- sum
	}()

	<-entered
	sum, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Skipped)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Fulfilled)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	e := newEnv(t)
	e.startSolver(t, "polygon", 137)
	s := e.scheduler(t)
	tr := e.createTransfer(t, 0, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		e.clock.Add(time.Second)
		got, err := e.transfers.Get(context.Background(), tr.ID)
		return err == nil && got.Status == transfer.StatusFulfilled
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRequestIDIsDeterministic(t *testing.T) {
	a := RequestID("ct-1", "solver-1")
	assert.Equal(t, a, RequestID("ct-1", "solver-1"))
	assert.NotEqual(t, a, RequestID("ct-1", "solver-2"))
	assert.Len(t, a.Hex(), 66)
}
