package chanhub

import (
	"log/slog"
	"sync"
)

// Channel is a bounded FIFO queue shared by any number of senders and
// receivers. Its lifecycle is driven by two reference counts: it closes when
// either count reaches zero and is destroyed once both are zero.
//
// A new Channel has one sender and one receiver. Every CloneSender or
// CloneReceiver must be paired with a DropSender or DropReceiver.
type Channel[T Payload] struct {
	mu            sync.Mutex
	roomAvailable *sync.Cond
	dataAvailable *sync.Cond

	buf       *Ring[T] // nil once destroyed
	capacity  int
	senders   int
	receivers int
	state     *lifecycle

	logger  *slog.Logger
	metrics *Metrics
}

// NewChannel creates a channel holding at most capacity payloads. A capacity
// below 1 is treated as 1.
func NewChannel[T Payload](capacity int, opts ...Option) *Channel[T] {
	if capacity <= 0 {
		capacity = 1
	}
	o := newOptions(opts)

	c := &Channel[T]{
		buf:       NewRing[T](capacity),
		capacity:  capacity,
		senders:   1,
		receivers: 1,
		state:     newLifecycle(kindChannel, o),
		logger:    o.logger,
		metrics:   o.metrics,
	}
	c.roomAvailable = sync.NewCond(&c.mu)
	c.dataAvailable = sync.NewCond(&c.mu)

	return c
}

// CloneSender registers one more sender. It does nothing once the channel is
// destroyed.
func (c *Channel[T]) CloneSender() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.destroyed() {
		c.senders++
	}
}

// CloneReceiver registers one more receiver. It does nothing once the channel
// is destroyed.
func (c *Channel[T]) CloneReceiver() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.destroyed() {
		c.receivers++
	}
}

// Close stops the channel from accepting payloads and wakes every blocked
// sender and receiver. Buffered payloads can still be received. Close is
// idempotent.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
}

// Send enqueues v, waiting for room while the channel is full. If the channel
// is or becomes closed, destroyed or receiverless, v is released and
// ErrClosed is returned.
func (c *Channel[T]) Send(v T) error {
	c.mu.Lock()
	for c.acceptsLocked() && c.buf.Full() {
		c.roomAvailable.Wait()
	}

	if !c.acceptsLocked() {
		c.mu.Unlock()
		return c.reject(v, ErrClosed)
	}

	c.buf.Push(v)
	c.dataAvailable.Signal()
	c.mu.Unlock()

	c.metrics.send(resultOK)
	return nil
}

// TrySend enqueues v without waiting. On ErrFull or ErrClosed, v is released.
func (c *Channel[T]) TrySend(v T) error {
	c.mu.Lock()
	if !c.acceptsLocked() {
		c.mu.Unlock()
		return c.reject(v, ErrClosed)
	}

	if !c.buf.Push(v) {
		c.mu.Unlock()
		return c.reject(v, ErrFull)
	}

	c.dataAvailable.Signal()
	c.mu.Unlock()

	c.metrics.send(resultOK)
	return nil
}

// Recv dequeues the oldest payload, waiting while the channel is open and
// empty. The caller owns the returned reference. ErrClosed is returned once
// the channel is destroyed, or closed with nothing left to receive.
func (c *Channel[T]) Recv() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.state.open() && c.buf.Len() == 0 {
		c.dataAvailable.Wait()
	}

	return c.dequeueLocked(ErrClosed)
}

// TryRecv is Recv without waiting. It returns ErrEmpty when the channel is
// open but has nothing buffered.
func (c *Channel[T]) TryRecv() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dequeueLocked(ErrEmpty)
}

// Len returns the number of buffered payloads, or 0 once destroyed.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.destroyed() {
		return 0
	}
	return c.buf.Len()
}

func (c *Channel[T]) Cap() int {
	return c.capacity
}

// IsClosed reports whether the channel is closed or destroyed.
func (c *Channel[T]) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.state.open()
}

func (c *Channel[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.state()
}

func (c *Channel[T]) Senders() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.senders
}

func (c *Channel[T]) Receivers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.receivers
}

// DropSender gives up one sender reference. When the last sender goes the
// channel closes, and blocked receivers drain what is left and then fail.
func (c *Channel[T]) DropSender() {
	c.mu.Lock()
	if c.state.destroyed() || c.senders == 0 {
		c.mu.Unlock()
		return
	}

	c.senders--
	if c.senders == 0 {
		c.closeLocked()
	}

	c.finishDrop(nil)
}

// DropReceiver gives up one receiver reference. When the last receiver goes
// the channel closes and every buffered payload is released.
func (c *Channel[T]) DropReceiver() {
	c.mu.Lock()
	if c.state.destroyed() || c.receivers == 0 {
		c.mu.Unlock()
		return
	}

	c.receivers--
	var discarded []T
	if c.receivers == 0 {
		c.closeLocked()
		discarded = c.buf.Drain()
	}

	c.finishDrop(discarded)
}

// finishDrop destroys the channel if both counts are now zero, unlocks, and
// releases whatever was taken out of the buffer. It must be called with c.mu
// held.
func (c *Channel[T]) finishDrop(discarded []T) {
	var detached *Ring[T]
	if c.senders == 0 && c.receivers == 0 {
		detached = c.destroyLocked()
	}
	c.mu.Unlock()

	if detached != nil {
		discarded = append(discarded, detached.Drain()...)
	}
	c.discard(discarded)
}

// destroyLocked moves the channel to its terminal state and detaches the
// buffer, which the caller empties after unlocking. Waiters woken here see
// a destroyed channel with no buffer.
func (c *Channel[T]) destroyLocked() *Ring[T] {
	if !c.state.destroy() {
		return nil
	}

	buf := c.buf
	c.buf = nil
	c.roomAvailable.Broadcast()
	c.dataAvailable.Broadcast()
	return buf
}

func (c *Channel[T]) closeLocked() {
	c.state.close()
	c.roomAvailable.Broadcast()
	c.dataAvailable.Broadcast()
}

func (c *Channel[T]) acceptsLocked() bool {
	return c.state.open() && c.receivers > 0
}

// dequeueLocked pops the oldest payload. Failure on a destroyed or closed
// and empty channel is ErrClosed; an open and empty channel yields ifEmpty.
func (c *Channel[T]) dequeueLocked(ifEmpty error) (T, error) {
	var zero T
	if c.state.destroyed() {
		return zero, ErrClosed
	}

	v, ok := c.buf.Pop()
	if !ok {
		if !c.state.open() {
			return zero, ErrClosed
		}
		return zero, ifEmpty
	}

	c.roomAvailable.Signal()
	c.metrics.receive()
	return v, nil
}

func (c *Channel[T]) reject(v T, err error) error {
	v.Release()
	if err == ErrFull {
		c.metrics.send(resultFull)
	} else {
		c.metrics.send(resultClosed)
	}
	return err
}

func (c *Channel[T]) discard(items []T) {
	if len(items) == 0 {
		return
	}

	for _, v := range items {
		v.Release()
	}
	c.metrics.discard(len(items))
	c.logger.Debug("released undelivered payloads", slog.Int("count", len(items)))
}
