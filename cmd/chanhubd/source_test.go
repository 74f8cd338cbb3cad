package main

import (
	"bufio"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/DeterminateSystems/chanhub"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"crlf\r", "crlf"},
		{"nul\x00byte", "nulbyte"},
		{"keep\ttabs", "keep\ttabs"},
		{"e\u0301", "\u00e9"},
		{"\xffbroken", "broken"},
		{"\x1b[0mreset", "[0mreset"},
	} {
		assert.Equal(t, tc.want, string(sanitize([]byte(tc.in))), "input %q", tc.in)
	}
}

func TestLinePool(t *testing.T) {
	t.Parallel()

	p := newLinePool()
	src := []byte("hello")
	l := p.get(src)
	src[0] = 'j'

	assert.Equal(t, "hello", string(l.Value()), "payload owns a copy")
	assert.Equal(t, 1, p.live())

	l.Retain()
	l.Release()
	assert.Equal(t, 1, p.live())
	l.Release()
	assert.Equal(t, 0, p.live())
}

func stringSource(input string, finite bool) *readerSource {
	return &readerSource{
		name:   "test",
		finite: finite,
		open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(input)), nil
		},
	}
}

func collect(t *testing.T, src lineSource) ([]string, error) {
	t.Helper()

	var got []string
	err := src.lines(context.Background(), func(b []byte) {
		got = append(got, string(b))
	})
	return got, err
}

func TestReaderSource(t *testing.T) {
	t.Parallel()

	t.Run("finite input is not restarted", func(t *testing.T) {
		t.Parallel()

		got, err := collect(t, stringSource("one\r\n\r\ntwo\n\x00\nthree", true))
		assert.ErrorIs(t, err, suture.ErrDoNotRestart)
		assert.Equal(t, []string{"one", "two", "three"}, got)
	})

	t.Run("stream input asks to be reopened", func(t *testing.T) {
		t.Parallel()

		got, err := collect(t, stringSource("one\n", false))
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, []string{"one"}, got)
	})

	t.Run("over-long line ends a finite input for good", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "lines.txt")
		input := "first\n" + strings.Repeat("x", maxLine+10) + "\nafter\n"
		require.NoError(t, os.WriteFile(path, []byte(input), 0o600))

		got, err := collect(t, fileSource(path))
		assert.ErrorIs(t, err, suture.ErrDoNotRestart)
		assert.ErrorIs(t, err, bufio.ErrTooLong)
		assert.Equal(t, []string{"first"}, got)
	})

	t.Run("missing file is not retried", func(t *testing.T) {
		t.Parallel()

		_, err := collect(t, fileSource(filepath.Join(t.TempDir(), "missing")))
		assert.ErrorIs(t, err, suture.ErrDoNotRestart)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("stream read error is retried", func(t *testing.T) {
		t.Parallel()

		src := stringSource(strings.Repeat("x", maxLine+10), false)
		_, err := collect(t, src)
		assert.ErrorIs(t, err, bufio.ErrTooLong)
		assert.NotErrorIs(t, err, suture.ErrDoNotRestart)
	})

	t.Run("open failure", func(t *testing.T) {
		t.Parallel()

		src := &readerSource{
			name: "broken",
			open: func(context.Context) (io.ReadCloser, error) {
				return nil, io.ErrUnexpectedEOF
			},
		}
		_, err := collect(t, src)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestPublisherFeedsHub(t *testing.T) {
	t.Parallel()

	pool := newLinePool()
	hub := chanhub.NewBroker[line](8)
	sub := hub.Subscribe()

	p := &publisher{
		src:    stringSource("a\nb\nc\n", true),
		hub:    hub,
		pool:   pool,
		logger: discard,
	}
	require.ErrorIs(t, p.Serve(context.Background()), suture.ErrDoNotRestart)

	hub.Close()
	var got []string
	for {
		l, err := sub.Recv()
		if err != nil {
			break
		}
		got = append(got, string(l.Value()))
		l.Release()
	}
	sub.DropReceiver()

	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, pool.live())
}

func TestPublisherFailedFileIsNotReplayed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.txt")
	input := "first\n" + strings.Repeat("x", maxLine+10) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(input), 0o600))

	pool := newLinePool()
	hub := chanhub.NewBroker[line](64)
	sub := hub.Subscribe()

	sup := suture.New("test", suture.Spec{FailureBackoff: time.Millisecond})
	sup.Add(&publisher{src: fileSource(path), hub: hub, pool: pool, logger: discard})

	ctx, cancel := context.WithCancel(context.Background())
	errc := sup.ServeBackground(ctx)

	l, err := sub.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", string(l.Value()))
	l.Release()

	// Give a wrongly restarted publisher time to replay the file.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-errc

	hub.Close()
	assert.Equal(t, 0, sub.Len(), "file published more than once")
	sub.DropReceiver()
	assert.Equal(t, 0, pool.live())
}

func TestSourceSelection(t *testing.T) {
	t.Parallel()

	cmd := serveCmd{Input: "-", Serial: "/dev/ttyUSB0", TCPSource: "localhost:2113", MQTTBroker: "tcp://localhost:1883", MQTTTopic: "t"}
	assert.IsType(t, &mqttSource{}, cmd.source(discard))

	cmd.MQTTBroker = ""
	assert.Equal(t, "/dev/ttyUSB0", cmd.source(discard).String())

	cmd.Serial = ""
	assert.Equal(t, "localhost:2113", cmd.source(discard).String())

	cmd.TCPSource = ""
	assert.Equal(t, "stdin", cmd.source(discard).String())

	cmd.Input = "/tmp/lines.txt"
	assert.Equal(t, "/tmp/lines.txt", cmd.source(discard).String())
}

func TestMQTTClientID(t *testing.T) {
	t.Parallel()

	s := &mqttSource{}
	id := s.clientID()
	assert.Len(t, id, 12)
	assert.Equal(t, id, s.clientID(), "derived ID is stable")

	s.cfg.ClientID = "explicit"
	assert.Equal(t, "explicit", s.clientID())
}
