package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

type CLI struct {
	LogLevel slog.Level `default:"info" help:"Log level (debug, info, warn, error)" env:"CHANHUB_LOG_LEVEL"`
	LogJSON  bool       `help:"Log as JSON instead of text" env:"CHANHUB_LOG_JSON"`

	Serve serveCmd `cmd:"" help:"Fan input lines out to HTTP, WebSocket and TCP subscribers"`
	Bench benchCmd `cmd:"" help:"Exercise channels and brokers under concurrent load"`
}

// runContext is bound into every command's Run method.
type runContext struct {
	ctx    context.Context
	logger *slog.Logger
}

func main() {
	envFile := os.Getenv("CHANHUB_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("loading env file", slog.String("path", envFile), tint.Err(err))
		os.Exit(1)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("chanhubd"),
		kong.Description("Bounded, reference-counted fan-out of line streams."),
		kong.UsageOnError(),
	)

	logger := newLogger(os.Stderr, cli.LogLevel, cli.LogJSON)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := kctx.Run(&runContext{ctx: ctx, logger: logger})
	kctx.FatalIfErrorf(err)
}

func newLogger(w *os.File, level slog.Level, asJSON bool) *slog.Logger {
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !isatty.IsTerminal(w.Fd()),
	}))
}
