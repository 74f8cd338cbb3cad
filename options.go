package chanhub

import (
	"io"
	"log/slog"
)

type options struct {
	name    string
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Channel or a Broker.
type Option func(*options)

// WithName sets the name used in log lines. It is not used as a metric label.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger configures structured logging. Lifecycle transitions are logged
// at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records channel and broker activity into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// asOptions turns resolved options back into a list, so a broker can hand
// its configuration to the channels it creates.
func (o options) asOptions() []Option {
	return []Option{WithName(o.name), WithLogger(o.logger), WithMetrics(o.metrics)}
}
