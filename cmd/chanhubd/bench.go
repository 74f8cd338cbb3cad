package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DeterminateSystems/chanhub"
	"github.com/DeterminateSystems/chanhub/refcount"
)

type benchCmd struct {
	Producers   int `default:"4" help:"Goroutines sending into the shared channel"`
	Consumers   int `default:"4" help:"Goroutines receiving from the shared channel"`
	Items       int `default:"10000" help:"Items sent by each producer, and published to the broker"`
	Capacity    int `default:"64" help:"Channel and subscriber capacity"`
	Subscribers int `default:"8" help:"Broker subscribers"`
}

type benchResult struct {
	Sent      int
	Received  int
	Unique    int
	Delivered int
	Dropped   int
	Live      int
	Channel   time.Duration
	Broker    time.Duration
}

func (c *benchCmd) Run(rc *runContext) error {
	res, err := c.run(rc.ctx, rc.logger)
	if err != nil {
		return err
	}

	rc.logger.Info("channel",
		slog.Int("sent", res.Sent),
		slog.Int("received", res.Received),
		slog.Int("unique", res.Unique),
		slog.Duration("elapsed", res.Channel),
		slog.Float64("items_per_sec", float64(res.Sent)/res.Channel.Seconds()))
	rc.logger.Info("broker",
		slog.Int("published", c.Items),
		slog.Int("delivered", res.Delivered),
		slog.Int("dropped", res.Dropped),
		slog.Duration("elapsed", res.Broker))
	rc.logger.Info("references", slog.Int("live", res.Live))
	return nil
}

func (c *benchCmd) run(ctx context.Context, logger *slog.Logger) (benchResult, error) {
	var res benchResult
	if c.Producers < 1 || c.Consumers < 1 {
		return res, fmt.Errorf("bench: need at least one producer and one consumer")
	}
	tracker := refcount.NewTracker[int](nil)

	start := time.Now()
	received, unique, err := c.channel(ctx, tracker, logger)
	if err != nil {
		return res, err
	}
	res.Channel = time.Since(start)
	res.Sent = c.Producers * c.Items
	res.Received = received
	res.Unique = unique
	if received != res.Sent || unique != res.Sent {
		return res, fmt.Errorf("bench: received %d items, %d unique, want %d", received, unique, res.Sent)
	}

	start = time.Now()
	res.Delivered, err = c.broker(ctx, tracker, logger)
	if err != nil {
		return res, err
	}
	res.Broker = time.Since(start)
	res.Dropped = c.Items*c.Subscribers - res.Delivered

	res.Live = tracker.Live()
	return res, tracker.Check()
}

// receipts records every item taken off the channel, by any consumer.
type receipts struct {
	mu    sync.Mutex
	seen  map[uuid.UUID]struct{}
	total int
}

func newReceipts() *receipts {
	return &receipts{seen: make(map[uuid.UUID]struct{})}
}

func (r *receipts) add(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if _, dup := r.seen[id]; dup {
		return fmt.Errorf("bench: item %s received twice", id)
	}
	r.seen[id] = struct{}{}
	return nil
}

// counts returns the number of receives and of distinct items received.
func (r *receipts) counts() (total, unique int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.total, len(r.seen)
}

// channel runs Producers x Items through one channel and reports how many
// items came out the other end, and how many of them were distinct.
func (c *benchCmd) channel(ctx context.Context, tracker *refcount.Tracker[int], logger *slog.Logger) (received, unique int, err error) {
	ch := chanhub.NewChannel[*refcount.Ref[int]](c.Capacity,
		chanhub.WithName("bench"), chanhub.WithLogger(logger))

	got := newReceipts()
	var consumers errgroup.Group
	for i := 0; i < c.Consumers; i++ {
		ch.CloneReceiver()
		consumers.Go(func() error {
			defer ch.DropReceiver()
			for {
				v, err := ch.Recv()
				if err != nil {
					return nil
				}
				err = got.add(v.ID())
				v.Release()
				if err != nil {
					return err
				}
			}
		})
	}
	ch.DropReceiver()

	producers, pctx := errgroup.WithContext(ctx)
	for p := 0; p < c.Producers; p++ {
		p := p
		ch.CloneSender()
		producers.Go(func() error {
			defer ch.DropSender()
			for i := 0; i < c.Items; i++ {
				if err := pctx.Err(); err != nil {
					return err
				}
				if err := ch.Send(tracker.New(p*c.Items + i)); err != nil {
					return fmt.Errorf("bench: producer %d: %w", p, err)
				}
			}
			return nil
		})
	}
	ch.DropSender()

	perr := producers.Wait()
	if err := consumers.Wait(); err != nil {
		return 0, 0, err
	}
	if perr != nil {
		return 0, 0, perr
	}

	received, unique = got.counts()
	return received, unique, nil
}

// broker publishes Items payloads to Subscribers and returns the number of
// deliveries.
func (c *benchCmd) broker(ctx context.Context, tracker *refcount.Tracker[int], logger *slog.Logger) (int, error) {
	b := chanhub.NewBroker[*refcount.Ref[int]](c.Capacity,
		chanhub.WithName("bench"), chanhub.WithLogger(logger))

	var consumers errgroup.Group
	for i := 0; i < c.Subscribers; i++ {
		sub := b.Subscribe()
		consumers.Go(func() error {
			defer sub.DropReceiver()
			for {
				v, err := sub.Recv()
				if err != nil {
					return nil
				}
				v.Release()
			}
		})
	}

	delivered := 0
	var err error
	for i := 0; i < c.Items; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		delivered += b.Publish(tracker.New(i))
	}
	b.Close()

	if werr := consumers.Wait(); werr != nil {
		return delivered, werr
	}
	return delivered, err
}
