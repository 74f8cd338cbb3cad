package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DeterminateSystems/chanhub"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// subscribe registers a consumer on hub. Once ctx is done the subscription is
// cancelled, which wakes a blocked Recv. The returned func must be called
// when the consumer is finished.
func subscribe(ctx context.Context, hub *chanhub.Broker[line]) (*chanhub.Channel[line], func()) {
	sub := hub.Subscribe()
	stop := context.AfterFunc(ctx, func() { hub.Unsubscribe(sub) })

	return sub, func() {
		if stop() {
			hub.Unsubscribe(sub)
		}
		sub.DropReceiver()
	}
}

// follow hands every line published on hub to write, until ctx is done, the
// hub closes or write fails.
func follow(ctx context.Context, hub *chanhub.Broker[line], write func([]byte) error) error {
	sub, unsubscribe := subscribe(ctx, hub)
	defer unsubscribe()

	for {
		l, err := sub.Recv()
		if err != nil {
			return nil
		}
		err = write(l.Value())
		l.Release()
		if err != nil {
			return err
		}
	}
}

type webServer struct {
	addr      string
	hub       *chanhub.Broker[line]
	pool      *linePool
	reg       *prometheus.Registry
	heartbeat time.Duration
	logger    *slog.Logger
}

func (s *webServer) String() string {
	return "http(" + s.addr + ")"
}

func (s *webServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: writeWait,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info("HTTP server listening", slog.String("addr", s.addr))

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

func (s *webServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.events)
	mux.HandleFunc("/ws", s.websocket)
	mux.HandleFunc("/healthz", s.healthz)
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg}))
	return mux
}

// events streams every line as a server-sent event.
func (s *webServer) events(w http.ResponseWriter, r *http.Request) {
	// Mandatory SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// CORS (optional; useful when testing from other origins)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var mu sync.Mutex
	write := func(format string, args ...any) error {
		mu.Lock()
		defer mu.Unlock()

		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// Tell client to retry in 3s if disconnected
	if err := write("retry: 3000\n\n"); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	// Heartbeats to keep connections alive through proxies
	wg.Add(1)
	go func() {
		defer wg.Done()

		heartbeat := time.NewTicker(s.heartbeat)
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				// comment lines are ignored by EventSource but keep the pipe warm
				if err := write(": heartbeat\n\n"); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	s.logger.Debug("SSE client connected", slog.String("remote", r.RemoteAddr))
	err := follow(ctx, s.hub, func(b []byte) error {
		return write("data: %s\n\n", b)
	})
	s.logger.Debug("SSE client gone", slog.String("remote", r.RemoteAddr), tint.Err(err))
}

// websocket streams every line as one text frame.
func (s *webServer) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade", tint.Err(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Clients only ever send control frames; reading is how we notice them
	// leave.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("websocket client connected", slog.String("remote", r.RemoteAddr))
	err = follow(ctx, s.hub, func(b []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, b)
	})
	if err == nil {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	s.logger.Debug("websocket client gone", slog.String("remote", r.RemoteAddr), tint.Err(err))
}

type health struct {
	State        chanhub.State `json:"state"`
	Subscribers  int           `json:"subscribers"`
	LivePayloads int           `json:"live_payloads"`
}

func (s *webServer) healthz(w http.ResponseWriter, r *http.Request) {
	h := health{
		State:        s.hub.State(),
		Subscribers:  s.hub.Subscribers(),
		LivePayloads: s.pool.live(),
	}

	w.Header().Set("Content-Type", "application/json")
	if h.State != chanhub.StateOpen {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.logger.Warn("JSON encoding error", tint.Err(err))
	}
}
