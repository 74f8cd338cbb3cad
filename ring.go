package chanhub

// Ring is a fixed-size FIFO queue. Unlike a log buffer it never overwrites:
// Push reports false once the ring is full.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("capacity must be > 0")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

func (r *Ring[T]) Len() int {
	return r.size
}

func (r *Ring[T]) Full() bool {
	return r.size == len(r.buf)
}

// Push appends x at the tail. It returns false, leaving the ring untouched,
// when there is no room.
func (r *Ring[T]) Push(x T) bool {
	if r.Full() {
		return false
	}

	tail := r.head + r.size
	if tail >= len(r.buf) {
		tail -= len(r.buf)
	}
	r.buf[tail] = x
	r.size++
	return true
}

// Pop removes and returns the oldest element.
func (r *Ring[T]) Pop() (x T, ok bool) {
	if r.size == 0 {
		return x, false
	}

	var zero T
	x = r.buf[r.head]
	r.buf[r.head] = zero
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
	}
	r.size--
	return x, true
}

// Slices returns a view of the data in logical order as two slices.
// Join them if you really need one contiguous slice.
func (r *Ring[T]) Slices() (a, b []T) {
	if r.size == 0 {
		return nil, nil
	}
	end := r.head + r.size
	if end <= len(r.buf) {
		return r.buf[r.head:end], nil
	}

	a = r.buf[r.head:]
	b = r.buf[:end-len(r.buf)]
	return
}

// Slice returns a copy of the data in logical order.
func (r *Ring[T]) Slice() []T {
	a, b := r.Slices()

	out := make([]T, 0, r.Len())
	out = append(out, a...)
	out = append(out, b...)

	return out
}

// Drain empties the ring and returns everything it held, oldest first.
func (r *Ring[T]) Drain() []T {
	out := r.Slice()
	clear(r.buf)
	r.head = 0
	r.size = 0
	return out
}
