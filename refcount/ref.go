// Package refcount implements explicitly reference-counted values, and a
// Tracker that remembers every value it handed out until its last reference
// is released.
package refcount

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Ref is a value shared by several owners. It starts out with one reference;
// free runs once, when the last reference is released.
type Ref[T any] struct {
	id    uuid.UUID
	value T
	refs  atomic.Int64
	free  func(*Ref[T])
}

// New wraps value in a Ref holding one reference. free may be nil.
func New[T any](value T, free func(*Ref[T])) *Ref[T] {
	r := &Ref[T]{id: uuid.New(), value: value, free: free}
	r.refs.Store(1)
	return r
}

func (r *Ref[T]) ID() uuid.UUID {
	return r.id
}

func (r *Ref[T]) Value() T {
	return r.value
}

// Count returns the current number of references.
func (r *Ref[T]) Count() int64 {
	return r.refs.Load()
}

// Retain adds a reference. Retaining a value that was already freed is a bug
// and panics.
func (r *Ref[T]) Retain() {
	if r.refs.Add(1) <= 1 {
		panic("refcount: retain of freed reference " + r.id.String())
	}
}

// Release drops a reference. Releasing more often than retained panics.
func (r *Ref[T]) Release() {
	n := r.refs.Add(-1)
	switch {
	case n == 0:
		if r.free != nil {
			r.free(r)
		}
	case n < 0:
		panic("refcount: release of freed reference " + r.id.String())
	}
}
