package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lmittmann/tint"

	"github.com/DeterminateSystems/chanhub"
)

// tcpFanout writes every line, newline terminated, to each connected client.
type tcpFanout struct {
	addr   string
	hub    *chanhub.Broker[line]
	logger *slog.Logger
}

func (t *tcpFanout) String() string {
	return "tcp(" + t.addr + ")"
}

func (t *tcpFanout) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.addr, err)
	}
	t.logger.Info("TCP fan-out listening", slog.String("addr", ln.Addr().String()))

	return t.serve(ctx, ln)
}

// serve accepts clients until ctx is done or Accept fails. Either way every
// client is disconnected before it returns.
func (t *tcpFanout) serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if parent.Err() != nil {
				return nil
			}
			ln.Close()
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			t.handleConn(ctx, conn)
		}()
	}
}

func (t *tcpFanout) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Anything the client sends is ignored; EOF means it went away.
	go func() {
		defer cancel()
		_, _ = io.Copy(io.Discard, conn)
	}()

	remote := conn.RemoteAddr().String()
	t.logger.Debug("TCP client connected", slog.String("remote", remote))

	err := follow(ctx, t.hub, func(b []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		if _, err := conn.Write(b); err != nil {
			return err
		}
		_, err := conn.Write([]byte{'\n'})
		return err
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		t.logger.Debug("TCP client write", slog.String("remote", remote), tint.Err(err))
	}
	t.logger.Debug("TCP client gone", slog.String("remote", remote))
}
