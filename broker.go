package chanhub

import (
	"log/slog"
	"slices"
	"sync"
)

// Broker fans published payloads out to subscriber channels. Publish never
// blocks: a subscriber whose buffer is full misses that one message.
//
// The broker holds the sender side of every subscriber channel; the caller of
// Subscribe holds the receiver side and must DropReceiver when done.
//
// Lock order is broker before channel. The broker lock is held across the
// non-blocking fan-out in Publish, and released before any subscriber channel
// is sender-dropped.
type Broker[T Payload] struct {
	mu       sync.Mutex
	capacity int
	subs     []*Channel[T]
	senders  int
	state    *lifecycle
	opts     options
}

// NewBroker creates a broker whose subscriber channels each buffer up to
// capacity payloads. A capacity below 1 is treated as 1.
func NewBroker[T Payload](capacity int, opts ...Option) *Broker[T] {
	if capacity <= 0 {
		capacity = 1
	}
	o := newOptions(opts)

	return &Broker[T]{
		capacity: capacity,
		senders:  1,
		state:    newLifecycle(kindBroker, o),
		opts:     o,
	}
}

// CloneSender registers one more producer handle.
func (b *Broker[T]) CloneSender() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.destroyed() {
		b.senders++
	}
}

// Subscribe returns a new channel that receives every payload published from
// now on, as long as it has room. If the broker is already closed the channel
// comes back closed and empty.
func (b *Broker[T]) Subscribe() *Channel[T] {
	ch := NewChannel[T](b.capacity, b.opts.asOptions()...)

	b.mu.Lock()
	if !b.state.open() {
		b.mu.Unlock()
		ch.DropSender()
		return ch
	}
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	b.opts.metrics.subscribed(1)
	return ch
}

// Unsubscribe removes ch from the broker and drops the broker's sender
// reference on it, which closes it. It reports whether ch was registered.
func (b *Broker[T]) Unsubscribe(ch *Channel[T]) bool {
	b.mu.Lock()
	if b.state.destroyed() {
		b.mu.Unlock()
		return false
	}

	i := slices.Index(b.subs, ch)
	if i < 0 {
		b.mu.Unlock()
		return false
	}
	// Order carries no meaning; swap with the last entry.
	last := len(b.subs) - 1
	b.subs[i] = b.subs[last]
	b.subs[last] = nil
	b.subs = b.subs[:last]
	b.mu.Unlock()

	b.opts.metrics.subscribed(-1)
	ch.DropSender()
	return true
}

// Publish offers v to every subscriber and returns how many accepted it. Each
// attempt holds its own reference; the caller's reference is consumed.
func (b *Broker[T]) Publish(v T) int {
	b.mu.Lock()
	if !b.state.open() {
		b.mu.Unlock()
		v.Release()
		return 0
	}

	delivered := 0
	for _, ch := range b.subs {
		v.Retain()
		if ch.TrySend(v) == nil {
			delivered++
		}
	}
	attempted := len(b.subs)
	b.mu.Unlock()

	v.Release()
	b.opts.metrics.published(delivered, attempted-delivered)
	return delivered
}

// Close shuts the broker down and closes every subscriber channel. Subscribers
// can still drain what they have buffered. Close is idempotent.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	b.state.close()
	subs := b.teardownLocked()
	b.mu.Unlock()

	b.dropAll(subs)
}

// DropSender gives up one producer handle; the last one closes the broker.
func (b *Broker[T]) DropSender() {
	b.mu.Lock()
	if b.state.destroyed() || b.senders == 0 {
		b.mu.Unlock()
		return
	}

	b.senders--
	var subs []*Channel[T]
	if b.senders == 0 {
		b.state.close()
		subs = b.teardownLocked()
	}
	b.mu.Unlock()

	b.dropAll(subs)
}

func (b *Broker[T]) Cap() int {
	return b.capacity
}

// Subscribers returns the number of registered subscriber channels.
func (b *Broker[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}

func (b *Broker[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state.state()
}

func (b *Broker[T]) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return !b.state.open()
}

// teardownLocked empties the subscriber list exactly once; later calls get
// nothing back.
func (b *Broker[T]) teardownLocked() []*Channel[T] {
	if !b.state.destroy() {
		return nil
	}

	subs := b.subs
	b.subs = nil
	return subs
}

func (b *Broker[T]) dropAll(subs []*Channel[T]) {
	if subs == nil {
		return
	}

	for _, ch := range subs {
		ch.DropSender()
	}
	b.opts.metrics.subscribed(-len(subs))
	b.opts.logger.Debug("broker torn down",
		slog.String("name", b.opts.name),
		slog.Int("subscribers", len(subs)))
}
