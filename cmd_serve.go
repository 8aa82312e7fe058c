package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/karthikraju391/agent-dashboard/broadcast"
	"github.com/karthikraju391/agent-dashboard/clock"
	"github.com/karthikraju391/agent-dashboard/handlers"
	"github.com/karthikraju391/agent-dashboard/ingest"
	"github.com/karthikraju391/agent-dashboard/kafka_service"
	"github.com/karthikraju391/agent-dashboard/nats_service"
	"github.com/karthikraju391/agent-dashboard/query"
	"github.com/karthikraju391/agent-dashboard/rabbitmq_service"
	"github.com/karthikraju391/agent-dashboard/store"
)

type ServeCmd struct {
	flags *Flags
	addr  string
}

func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "serve",
		Usage: "Run the dashboard service",
		Description: `Starts the HTTP API and the /ws/dashboard push channel.

Broker consumers for NATS, Kafka and RabbitMQ start when enabled in config.
SIGINT or SIGTERM shuts everything down gracefully.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address; overrides server.addr",
				Destination: &cmd.addr,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *ServeCmd) run(ctx context.Context, _ *cli.Command) error {
	cfg := cmd.flags.Config
	logger := cmd.flags.Logger
	if cmd.addr != "" {
		cfg.Server.Addr = cmd.addr
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	st := store.New(store.Options{RecentCap: cfg.Store.RecentCap, CategoryCap: cfg.Store.CategoryCap})
	hub := broadcast.NewHub(st, broadcast.Options{
		Interval:     cfg.Broadcast.Interval,
		QueueSize:    cfg.Broadcast.QueueSize,
		PingInterval: cfg.WebSocket.PingPeriod(),
		Clock:        clk,
		Logger:       logger,
	})
	ingestSvc := ingest.New(st, hub, clk, logger)
	querySvc := query.New(st, clk, logger)
	app := handlers.New(ingestSvc, querySvc, hub, cfg, logger).NewApp()

	var wg sync.WaitGroup
	background := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	background(func() { hub.Run(ctx) })
	background(func() { ingest.RunPruner(ctx, st, clk, cfg.Alerts.PruneInterval, logger) })

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	if cfg.NATS.Enabled {
		ns, err := nats_service.NewNatsService(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		closers = append(closers, ns.Close)
		if err := ns.Consume(ctx, ingestSvc); err != nil {
			return err
		}
	}

	if cfg.Kafka.Enabled {
		ka, err := kafka_service.NewAdapter(cfg.Kafka, ingestSvc, logger)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		closers = append(closers, ka.Close)
		background(func() {
			if err := ka.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("kafka consumer stopped")
			}
		})
	}

	if cfg.RabbitMQ.Enabled {
		ra, err := rabbitmq_service.NewAdapter(cfg.RabbitMQ, ingestSvc, logger)
		if err != nil {
			return fmt.Errorf("rabbitmq: %w", err)
		}
		if err := ra.Start(ctx); err != nil {
			return err
		}
		closers = append(closers, func() {
			if err := ra.Close(); err != nil {
				logger.Warn().Err(err).Msg("rabbitmq close")
			}
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		serveErr <- app.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	if err := app.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("error shutting down fiber")
	}
	hub.Close()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	closers = nil
	wg.Wait()

	logger.Info().Msg("server gracefully stopped")
	return nil
}
