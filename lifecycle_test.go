package chanhub

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectState(t *testing.T, l *lifecycle, want State) {
	t.Helper()
	if got := l.state(); got != want {
		t.Fatalf("Expected to be %s, got: %s", want, got)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	l := newLifecycle(kindChannel, newOptions(nil))
	expectState(t, l, StateOpen)
	require.True(t, l.open())

	// destroy is only reachable through closed
	assert.False(t, l.destroy())
	expectState(t, l, StateOpen)

	assert.True(t, l.close())
	expectState(t, l, StateClosed)
	assert.False(t, l.open())
	assert.False(t, l.destroyed())

	assert.False(t, l.close(), "second close must not transition")
	expectState(t, l, StateClosed)

	assert.True(t, l.destroy())
	expectState(t, l, StateDestroyed)
	assert.True(t, l.destroyed())

	assert.False(t, l.destroy())
	assert.False(t, l.close())
	expectState(t, l, StateDestroyed)
}

func TestLifecycleLogsTransitions(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := newLifecycle(kindBroker, newOptions([]Option{WithLogger(logger), WithName("events")}))

	l.close()
	l.destroy()

	out := buf.String()
	assert.Contains(t, out, "kind=broker")
	assert.Contains(t, out, "name=events")
	assert.Contains(t, out, "from=open state=closed")
	assert.Contains(t, out, "from=closed state=destroyed")
}

func TestLifecycleCountsTransitions(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	o := newOptions([]Option{WithMetrics(m)})

	for i := 0; i < 3; i++ {
		l := newLifecycle(kindChannel, o)
		l.close()
		if i < 2 {
			l.destroy()
		}
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.transitions.WithLabelValues(kindChannel, string(StateClosed))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues(kindChannel, string(StateDestroyed))))
}
