package refcount

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Tracker creates Refs and keeps every one of them until it is freed, so
// leaks can be reported by ID.
type Tracker[T any] struct {
	mu      sync.Mutex
	live    map[uuid.UUID]*Ref[T]
	created int
	freed   int
	free    func(T)
}

// NewTracker returns a Tracker. free, if not nil, runs with the value of each
// Ref after its last reference is released.
func NewTracker[T any](free func(T)) *Tracker[T] {
	return &Tracker[T]{
		live: make(map[uuid.UUID]*Ref[T]),
		free: free,
	}
}

// New creates a tracked Ref holding one reference.
func (t *Tracker[T]) New(value T) *Ref[T] {
	r := New(value, t.release)

	t.mu.Lock()
	t.live[r.ID()] = r
	t.created++
	t.mu.Unlock()

	return r
}

func (t *Tracker[T]) release(r *Ref[T]) {
	t.mu.Lock()
	delete(t.live, r.ID())
	t.freed++
	t.mu.Unlock()

	if t.free != nil {
		t.free(r.Value())
	}
}

// Live returns the number of Refs created and not yet freed.
func (t *Tracker[T]) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.live)
}

func (t *Tracker[T]) Created() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.created
}

func (t *Tracker[T]) Freed() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.freed
}

// Leaked returns the Refs that are still live, ordered by ID.
func (t *Tracker[T]) Leaked() []*Ref[T] {
	t.mu.Lock()
	out := make([]*Ref[T], 0, len(t.live))
	for _, r := range t.live {
		out = append(out, r)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID().String() < out[j].ID().String()
	})
	return out
}

// Check returns an error naming every live Ref and its count.
func (t *Tracker[T]) Check() error {
	leaked := t.Leaked()
	if len(leaked) == 0 {
		return nil
	}

	ids := make([]string, len(leaked))
	for i, r := range leaked {
		ids[i] = fmt.Sprintf("%s(refs=%d)", r.ID(), r.Count())
	}
	return fmt.Errorf("refcount: %d live references: %s", len(leaked), strings.Join(ids, ", "))
}
