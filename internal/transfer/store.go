// internal/transfer/store.go

package transfer

import (
	"context"
	"sort"
	"sync"

	"github.com/rovshanmuradov/solver-engine/internal/address"
	"github.com/rovshanmuradov/solver-engine/internal/storage/memory"
)

// Store persists transfers. Implementations return copies, never shared
// memory, and report unknown ids with errs.ErrNotFound.
type Store interface {
	Insert(ctx context.Context, t *Transfer) error
	Get(ctx context.Context, id string) (*Transfer, error)
	// ListByOwner matches owner case-insensitively.
	ListByOwner(ctx context.Context, owner string) ([]*Transfer, error)
	ListByStatus(ctx context.Context, status Status) ([]*Transfer, error)
	// Update runs fn on the current committed state of id with exclusive
	// access to that id. The modified transfer is written only if fn returns
	// nil; fn's error is returned as is.
	Update(ctx context.Context, id string, fn func(*Transfer) error) (*Transfer, error)
	Delete(ctx context.Context, id string) error
}

// SortByCreation orders transfers by CreatedAt, then ID.
func SortByCreation(ts []*Transfer) {
	sort.SliceStable(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

// MemoryStore keeps transfers in process memory with a secondary owner index.
type MemoryStore struct {
	rows *memory.Table[*Transfer]

	mu     sync.RWMutex
	owners map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   memory.NewTable((*Transfer).Clone),
		owners: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Insert(_ context.Context, t *Transfer) error {
	if err := s.rows.Insert(t.ID, t); err != nil {
		return err
	}

	key := address.Key(t.Owner)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[key] == nil {
		s.owners[key] = make(map[string]struct{})
	}
	s.owners[key][t.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Transfer, error) {
	return s.rows.Get(id)
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner string) ([]*Transfer, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.owners[address.Key(owner)]))
	for id := range s.owners[address.Key(owner)] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]*Transfer, 0, len(ids))
	for _, id := range ids {
		t, err := s.rows.Get(id)
		if err != nil {
			// deleted since the index was read
			continue
		}
		out = append(out, t)
	}
	SortByCreation(out)
	return out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status) ([]*Transfer, error) {
	out := s.rows.Snapshot(func(t *Transfer) bool { return t.Status == status })
	SortByCreation(out)
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Transfer) error) (*Transfer, error) {
	return s.rows.Update(id, fn)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	t, err := s.rows.Delete(id)
	if err != nil {
		return err
	}

	key := address.Key(t.Owner)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners[key], id)
	if len(s.owners[key]) == 0 {
		delete(s.owners, key)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
