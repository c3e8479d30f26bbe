package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type pruneRecorder struct {
	retention time.Duration
	calls     int
}

func (p *pruneRecorder) Prune(_ context.Context, retention time.Duration) (int, error) {
	p.retention = retention
	p.calls++
	return 3, nil
}

func TestNewPrunerValidates(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewPruner(&pruneRecorder{}, "not a schedule", time.Hour, logger)
	assert.ErrorContains(t, err, "invalid prune schedule")

	_, err = NewPruner(&pruneRecorder{}, "@hourly", 0, logger)
	assert.ErrorContains(t, err, "retention must be positive")
}

func TestPrunerRunOnce(t *testing.T) {
	rec := &pruneRecorder{}
	p, err := NewPruner(rec, "@every 1h", 24*time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 24*time.Hour, rec.retention)
	assert.Equal(t, 1, rec.calls)

	p.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, p.Stop(ctx))
}
