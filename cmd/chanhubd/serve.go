package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/thejerf/suture/v4"

	"github.com/DeterminateSystems/chanhub"
)

type serveCmd struct {
	Capacity  int           `default:"64" help:"Per-subscriber buffer size" env:"CHANHUB_CAPACITY"`
	Listen    string        `default:"localhost:2116" help:"HTTP listener address" env:"CHANHUB_LISTEN"`
	TCPListen string        `help:"Raw TCP fan-out listener address, disabled if empty" env:"CHANHUB_TCP_LISTEN"`
	Heartbeat time.Duration `default:"15s" help:"SSE heartbeat interval"`

	Input     string `default:"-" help:"Input file, - for stdin"`
	Serial    string `help:"Serial port to read lines from" env:"CHANHUB_SERIAL"`
	Baud      int    `default:"115200" help:"Serial port baud rate"`
	TCPSource string `help:"TCP address to read lines from" env:"CHANHUB_TCP_SOURCE"`

	MQTTBroker   string `help:"MQTT broker address" env:"MQTT_BROKER"`
	MQTTTopic    string `default:"chanhub/#" help:"MQTT topic to subscribe to" env:"MQTT_TOPIC"`
	MQTTClientID string `help:"MQTT client ID" env:"MQTT_CLIENT_ID"`
	MQTTUsername string `help:"MQTT username" default:"" env:"MQTT_USERNAME"`
	MQTTPassword string `help:"MQTT password" default:"" env:"MQTT_PASSWORD"`
}

// source picks exactly one input: MQTT, then serial, then a TCP source, then
// the input file.
func (c *serveCmd) source(logger *slog.Logger) lineSource {
	switch {
	case c.MQTTBroker != "":
		return &mqttSource{
			cfg: mqttConfig{
				Broker:   c.MQTTBroker,
				Topic:    c.MQTTTopic,
				ClientID: c.MQTTClientID,
				Username: c.MQTTUsername,
				Password: c.MQTTPassword,
			},
			logger: logger,
		}
	case c.Serial != "":
		return serialSource(c.Serial, c.Baud)
	case c.TCPSource != "":
		return tcpSource(c.TCPSource)
	default:
		return fileSource(c.Input)
	}
}

func (c *serveCmd) Run(rc *runContext) error {
	logger := rc.logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pool := newLinePool()
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "chanhubd",
		Name:      "live_payloads",
		Help:      "Line payloads still referenced by a subscriber.",
	}, func() float64 {
		return float64(pool.live())
	}))

	hub := chanhub.NewBroker[line](c.Capacity,
		chanhub.WithName("lines"),
		chanhub.WithLogger(logger),
		chanhub.WithMetrics(chanhub.NewMetrics(reg)),
	)
	defer hub.Close()

	sup := suture.New("chanhubd", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn("supervisor", slog.String("event", e.String()))
		},
	})
	sup.Add(&publisher{src: c.source(logger), hub: hub, pool: pool, logger: logger})
	sup.Add(&webServer{
		addr:      c.Listen,
		hub:       hub,
		pool:      pool,
		reg:       reg,
		heartbeat: c.Heartbeat,
		logger:    logger,
	})
	if c.TCPListen != "" {
		sup.Add(&tcpFanout{addr: c.TCPListen, hub: hub, logger: logger})
	}

	err := sup.Serve(rc.ctx)
	hub.Close()
	logger.Info("shut down", slog.Int("live_payloads", pool.live()))

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
