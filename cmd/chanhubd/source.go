package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/lmittmann/tint"
	"github.com/thejerf/suture/v4"
	"go.bug.st/serial"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/DeterminateSystems/chanhub"
	"github.com/DeterminateSystems/chanhub/refcount"
)

const maxLine = 1 << 20

// line is the payload carried through the hub.
type line = *refcount.Ref[[]byte]

// linePool hands out tracked line payloads whose buffers are recycled once
// every subscriber is done with them.
type linePool struct {
	bufs    sync.Pool
	tracker *refcount.Tracker[[]byte]
}

func newLinePool() *linePool {
	p := &linePool{}
	p.bufs.New = func() any {
		b := make([]byte, 0, 256)
		return &b
	}
	p.tracker = refcount.NewTracker(func(b []byte) {
		b = b[:0]
		p.bufs.Put(&b)
	})
	return p
}

func (p *linePool) get(data []byte) line {
	bp := p.bufs.Get().(*[]byte)
	return p.tracker.New(append((*bp)[:0], data...))
}

// live returns the number of line payloads still referenced somewhere.
func (p *linePool) live() int {
	return p.tracker.Live()
}

// sanitize drops control characters and invalid UTF-8, and normalizes what
// remains to NFC. Serial devices in particular like to emit stray NULs and
// carriage returns.
func sanitize(b []byte) []byte {
	t := transform.Chain(
		norm.NFC,
		runes.Remove(runes.Predicate(func(r rune) bool {
			return r == utf8.RuneError || (unicode.IsControl(r) && r != '\t')
		})))
	res, _, err := transform.Bytes(t, b)
	if err != nil {
		return b
	}
	return res
}

// lineSource produces input lines until ctx is done or the input ends.
type lineSource interface {
	lines(ctx context.Context, emit func([]byte)) error
	String() string
}

// readerSource reads newline separated input from whatever open returns.
type readerSource struct {
	name string
	open func(ctx context.Context) (io.ReadCloser, error)
	// finite inputs are never reopened, however they end.
	finite bool
}

func (s *readerSource) String() string {
	return s.name
}

// lines reads until the input ends. Finite inputs cannot be replayed, so
// every way they end is reported as ErrDoNotRestart.
func (s *readerSource) lines(ctx context.Context, emit func([]byte)) error {
	r, err := s.open(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("open %s: %w", s.name, err))
	}
	defer r.Close()
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		if l := sanitize(scanner.Bytes()); len(l) > 0 {
			emit(l)
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return s.fail(fmt.Errorf("read %s: %w", s.name, err))
	}
	if s.finite {
		return suture.ErrDoNotRestart
	}
	return fmt.Errorf("read %s: %w", s.name, io.EOF)
}

func (s *readerSource) fail(err error) error {
	if s.finite {
		return fmt.Errorf("%w: %w", err, suture.ErrDoNotRestart)
	}
	return err
}

func fileSource(path string) *readerSource {
	if path == "-" {
		return &readerSource{
			name:   "stdin",
			finite: true,
			open: func(context.Context) (io.ReadCloser, error) {
				return os.Stdin, nil
			},
		}
	}
	return &readerSource{
		name:   path,
		finite: true,
		open: func(context.Context) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

func serialSource(port string, baud int) *readerSource {
	return &readerSource{
		name: port,
		open: func(context.Context) (io.ReadCloser, error) {
			return serial.Open(port, &serial.Mode{
				BaudRate: baud,
				Parity:   serial.NoParity,
				DataBits: 8,
				StopBits: serial.OneStopBit,
			})
		},
	}
}

func tcpSource(addr string) *readerSource {
	return &readerSource{
		name: addr,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			d := net.Dialer{Timeout: time.Minute}
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

type mqttConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// mqttSource emits the payload of every message on a topic as one line.
type mqttSource struct {
	cfg    mqttConfig
	logger *slog.Logger
}

func (s *mqttSource) String() string {
	return s.cfg.Broker + "/" + s.cfg.Topic
}

func (s *mqttSource) clientID() string {
	if s.cfg.ClientID != "" {
		return s.cfg.ClientID
	}
	hn, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	hf := sha256.New()
	fmt.Fprintf(hf, "%s\n%s\n", hn, home)
	return fmt.Sprintf("c%x", hf.Sum(nil))[:12]
}

func (s *mqttSource) lines(ctx context.Context, emit func([]byte)) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.clientID())
	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	lost := make(chan error, 1)
	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, err)
	}
	defer client.Disconnect(250)

	token := client.Subscribe(s.cfg.Topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		if l := sanitize(m.Payload()); len(l) > 0 {
			emit(l)
		}
	})
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.cfg.Topic, err)
	}
	s.logger.Info("subscribed", slog.String("broker", s.cfg.Broker), slog.String("topic", s.cfg.Topic))

	select {
	case <-ctx.Done():
		return nil
	case err := <-lost:
		return fmt.Errorf("mqtt connection lost: %w", err)
	}
}

func wait(ctx context.Context, t mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Done():
		return t.Error()
	}
}

// publisher is the supervised service that feeds a source into the hub.
type publisher struct {
	src    lineSource
	hub    *chanhub.Broker[line]
	pool   *linePool
	logger *slog.Logger
}

func (p *publisher) String() string {
	return "publisher(" + p.src.String() + ")"
}

func (p *publisher) Serve(ctx context.Context) error {
	p.logger.Info("reading input", slog.String("source", p.src.String()))

	err := p.src.lines(ctx, func(b []byte) {
		p.hub.Publish(p.pool.get(b))
	})
	switch {
	case err == suture.ErrDoNotRestart:
		p.logger.Info("input ended", slog.String("source", p.src.String()))
	case errors.Is(err, suture.ErrDoNotRestart):
		p.logger.Error("input failed", slog.String("source", p.src.String()), tint.Err(err))
	}
	return err
}
