// internal/storage/memory/table.go

// Package memory provides the in-process keyed table behind the memory
// stores. Each row has its own lock so updates to different ids never wait on
// each other, while updates to the same id are serialized.
package memory

import (
	"fmt"
	"sync"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
)

type row[T any] struct {
	mu      sync.Mutex
	val     T
	removed bool
}

// Table stores values of T by id. Values go in and come out through clone,
// so callers never share memory with the table.
type Table[T any] struct {
	mu    sync.RWMutex
	rows  map[string]*row[T]
	clone func(T) T
}

func NewTable[T any](clone func(T) T) *Table[T] {
	return &Table[T]{
		rows:  make(map[string]*row[T]),
		clone: clone,
	}
}

// Insert adds a new row. It fails with errs.ErrAlreadyExists when id is taken.
func (t *Table[T]) Insert(id string, v T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; ok {
		return fmt.Errorf("%s: %w", id, errs.ErrAlreadyExists)
	}
	t.rows[id] = &row[T]{val: t.clone(v)}
	return nil
}

func (t *Table[T]) lookup(id string) (*row[T], error) {
	t.mu.RLock()
	r, ok := t.rows[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, errs.ErrNotFound)
	}
	return r, nil
}

func (t *Table[T]) Get(id string) (T, error) {
	var zero T
	r, err := t.lookup(id)
	if err != nil {
		return zero, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return zero, fmt.Errorf("%s: %w", id, errs.ErrNotFound)
	}
	return t.clone(r.val), nil
}

// Update runs fn on a copy of the row while holding the row lock. The copy
// replaces the row only when fn returns nil; any error from fn is returned
// unchanged and nothing is written.
func (t *Table[T]) Update(id string, fn func(T) error) (T, error) {
	var zero T
	r, err := t.lookup(id)
	if err != nil {
		return zero, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return zero, fmt.Errorf("%s: %w", id, errs.ErrNotFound)
	}

	next := t.clone(r.val)
	if err := fn(next); err != nil {
		return zero, err
	}
	r.val = next
	return t.clone(next), nil
}

// Delete removes a row and returns its last value.
func (t *Table[T]) Delete(id string) (T, error) {
	var zero T
	t.mu.Lock()
	r, ok := t.rows[id]
	if ok {
		delete(t.rows, id)
	}
	t.mu.Unlock()
	if !ok {
		return zero, fmt.Errorf("%s: %w", id, errs.ErrNotFound)
	}

	// wait for an in-flight Update on this row
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = true
	return t.clone(r.val), nil
}

// Snapshot copies every row that matches keep. keep may be nil.
func (t *Table[T]) Snapshot(keep func(T) bool) []T {
	t.mu.RLock()
	rows := make([]*row[T], 0, len(t.rows))
	for _, r := range t.rows {
		rows = append(rows, r)
	}
	t.mu.RUnlock()

	out := make([]T, 0, len(rows))
	for _, r := range rows {
		r.mu.Lock()
		if !r.removed && (keep == nil || keep(r.val)) {
			out = append(out, t.clone(r.val))
		}
		r.mu.Unlock()
	}
	return out
}

func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}
