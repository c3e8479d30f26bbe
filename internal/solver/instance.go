// internal/solver/instance.go

package solver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/storage/memory"
)

type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

var (
	ErrAlreadyRunning = fmt.Errorf("solver already running: %w", errs.ErrInvalidTransition)
	ErrNotRunning     = fmt.Errorf("solver not running: %w", errs.ErrInvalidTransition)
	ErrClosed         = errors.New("solver supervisor is shut down")
)

// Stats are cumulative. Uptime covers closed running intervals only; the
// supervisor adds the open interval when it reports an instance.
type Stats struct {
	TradesExecuted uint64
	TotalVolume    *big.Int
	AverageRisk    float64
	Uptime         time.Duration
}

// StatsUpdate merges the non-nil fields into Stats. Counters may not go backwards.
type StatsUpdate struct {
	TradesExecuted *uint64
	TotalVolume    *big.Int
	AverageRisk    *float64
}

type Instance struct {
	ID        string
	Config    Config
	Status    Status
	Stats     Stats
	LastError string
}

func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Config = i.Config.Clone()
	if i.Stats.TotalVolume != nil {
		cp.Stats.TotalVolume = new(big.Int).Set(i.Stats.TotalVolume)
	}
	return &cp
}

// Registry persists solver instances. It has the same copy and locking
// contract as transfer.Store.
type Registry interface {
	Insert(ctx context.Context, inst *Instance) error
	Get(ctx context.Context, id string) (*Instance, error)
	List(ctx context.Context) ([]*Instance, error)
	Update(ctx context.Context, id string, fn func(*Instance) error) (*Instance, error)
	Delete(ctx context.Context, id string) error
}

// SortByCreation orders instances by CreatedAt, then ID.
func SortByCreation(list []*Instance) {
	sort.SliceStable(list, func(a, b int) bool {
		ca, cb := list[a].Config.CreatedAt, list[b].Config.CreatedAt
		if !ca.Equal(cb) {
			return ca.Before(cb)
		}
		return list[a].ID < list[b].ID
	})
}

type MemoryRegistry struct {
	rows *memory.Table[*Instance]
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rows: memory.NewTable((*Instance).Clone)}
}

func (r *MemoryRegistry) Insert(_ context.Context, inst *Instance) error {
	return r.rows.Insert(inst.ID, inst)
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (*Instance, error) {
	return r.rows.Get(id)
}

func (r *MemoryRegistry) List(_ context.Context) ([]*Instance, error) {
	out := r.rows.Snapshot(nil)
	SortByCreation(out)
	return out, nil
}

func (r *MemoryRegistry) Update(_ context.Context, id string, fn func(*Instance) error) (*Instance, error) {
	return r.rows.Update(id, fn)
}

func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	_, err := r.rows.Delete(id)
	return err
}

var _ Registry = (*MemoryRegistry)(nil)
