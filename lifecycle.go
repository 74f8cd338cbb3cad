package chanhub

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// State is the lifecycle state of a Channel or a Broker.
type State string

const (
	StateOpen      State = "open"
	StateClosed    State = "closed"
	StateDestroyed State = "destroyed"
)

const (
	eventClose   = "close"
	eventDestroy = "destroy"
)

const (
	kindChannel = "channel"
	kindBroker  = "broker"
)

// lifecycle tracks open -> closed -> destroyed. It is always driven while the
// owner's lock is held, so a Can check followed by Event cannot race.
type lifecycle struct {
	fsm *fsm.FSM
}

func newLifecycle(kind string, o options) *lifecycle {
	l := &lifecycle{}

	l.fsm = fsm.NewFSM(
		string(StateOpen),
		fsm.Events{
			{Name: eventClose, Src: []string{string(StateOpen)}, Dst: string(StateClosed)},
			{Name: eventDestroy, Src: []string{string(StateClosed)}, Dst: string(StateDestroyed)},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				o.logger.DebugContext(ctx, "lifecycle transition",
					slog.String("kind", kind),
					slog.String("name", o.name),
					slog.String("from", e.Src),
					slog.String("state", e.Dst))
				o.metrics.transition(kind, e.Dst)
			},
		},
	)

	return l
}

// fire reports whether event moved the machine to a new state. Events that
// are not valid from the current state are ignored, which makes close and
// destroy idempotent.
func (l *lifecycle) fire(event string) bool {
	if l.fsm.Cannot(event) {
		return false
	}
	return l.fsm.Event(context.Background(), event) == nil
}

func (l *lifecycle) close() bool {
	return l.fire(eventClose)
}

func (l *lifecycle) destroy() bool {
	return l.fire(eventDestroy)
}

func (l *lifecycle) open() bool {
	return l.fsm.Is(string(StateOpen))
}

func (l *lifecycle) destroyed() bool {
	return l.fsm.Is(string(StateDestroyed))
}

func (l *lifecycle) state() State {
	return State(l.fsm.Current())
}
