package chanhub

import "errors"

var (
	// ErrClosed is returned when sending on a channel that is closed,
	// destroyed or has no receivers left, and when receiving from a channel
	// that is destroyed or closed and empty.
	ErrClosed = errors.New("chanhub: channel closed")

	// ErrFull is returned by TrySend when the buffer has no room.
	ErrFull = errors.New("chanhub: channel full")

	// ErrEmpty is returned by TryRecv when nothing is buffered.
	ErrEmpty = errors.New("chanhub: channel empty")
)
