package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/annel0/statesync/internal/api"
	"github.com/annel0/statesync/internal/auth"
	"github.com/annel0/statesync/internal/config"
	"github.com/annel0/statesync/internal/engine"
	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/network"
	"github.com/annel0/statesync/internal/observability"
	"github.com/annel0/statesync/internal/replication"
	"github.com/annel0/statesync/internal/timeline"
	"github.com/annel0/statesync/internal/worldgen"
)

type serverOptions struct {
	*rootOptions
	Bots   int
	Record time.Duration
}

func newServerCommand(root *rootOptions) *cobra.Command {
	opts := &serverOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Авторитетный сервер с админкой, метриками и журналом сессий",
		Example: `  statesync server -c config.yaml
  statesync server --bots 3 --record 10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runServer(ctx, opts)
		},
	}
	cmd.Flags().IntVar(&opts.Bots, "bots", 0, "запустить N встроенных клиентов-ботов")
	cmd.Flags().DurationVar(&opts.Record, "record", 0, "записать первые N секунд и воспроизвести запись")
	return cmd
}

func runServer(ctx context.Context, opts *serverOptions) error {
	cfg := opts.cfg
	logger := logging.GetServerLogger()
	logger.Info("🎮 Запуск сервера statesync...")

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	reg := newRegistry()
	netMetrics := network.NewMetrics(reg)

	transport, err := openTransport(cfg.Transport, netMetrics)
	if err != nil {
		return err
	}
	defer transport.Close()

	store, err := openReplayStore(ctx, cfg.Replay)
	if err != nil {
		return fmt.Errorf("хранилище записей: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("шина событий: %w", err)
	}
	if bus != nil {
		defer bus.Close()
		stopBus, err := startBusSide(ctx, cfg, bus, reg, logging.GetComponentLogger("eventbus"))
		if err != nil {
			return err
		}
		defer stopBus()
	}

	layout, err := worldgen.Build(cfg.World)
	if err != nil {
		return err
	}
	world := entity.NewWorld()
	worldgen.Populate(world, layout.Entities)
	logger.Info("🌍 Мир %.0fx%.0f: сущностей %d", layout.Width, layout.Height, world.Len())

	tl := timeline.New(timeline.WithSpeed(cfg.Server.SimulationSpeed))
	manager := events.NewManager(tl, events.WithLogger(logging.GetEngineLogger()), events.WithMetrics(events.NewMetrics(reg)))
	sim := engine.NewSimulation(world, manager)
	if _, err := worldgen.RegisterScrollZones(sim.Zones(), layout.Entities, layout.Width); err != nil {
		return err
	}

	ropts := append(replicationOptions(cfg),
		replication.WithSimulation(sim),
		replication.WithMetrics(netMetrics),
		replication.WithReplayOptions(replayOptions(cfg.Replay, store)...),
		replication.WithMaxClients(cfg.Server.MaxClients),
	)
	if bus != nil {
		ropts = append(ropts, replication.WithEventBus(bus))
	}
	if cfg.World.Players > 0 {
		templates, err := layout.Players(cfg.World.Players)
		if err != nil {
			return err
		}
		ropts = append(ropts, replication.WithPlayerPool(replication.NewPlayerPool(templates)))
	}
	srv := replication.NewServer(world, transport, ropts...)
	if err := srv.Bind(ctx); err != nil {
		return err
	}

	if cfg.Admin.Enabled {
		admin, err := newAdmin(cfg.Admin, srv, reg)
		if err != nil {
			return err
		}
		if err := admin.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = admin.Shutdown(sctx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	for i := 0; i < opts.Bots; i++ {
		g.Go(func() error { return runBot(gctx, transport, cfg, i) })
	}
	if opts.Record > 0 {
		g.Go(func() error { return recordOnce(gctx, srv, opts.Record, logger) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("✅ Сервер завершён")
	return nil
}

func newAdmin(cfg config.AdminConfig, srv *replication.Server, reg *prometheus.Registry) (*api.AdminServer, error) {
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL())
	if err != nil {
		return nil, err
	}
	return api.NewAdminServer(srv, api.Config{
		Addr:         fmt.Sprintf(":%d", cfg.GetAdminPort()),
		Username:     cfg.Username,
		PasswordHash: cfg.PasswordHash,
		Tokens:       tokens,
		Registerer:   reg,
		Gatherer:     reg,
		Logger:       logging.GetComponentLogger("api"),
	})
}

// recordOnce пишет d и запускает воспроизведение
func recordOnce(ctx context.Context, srv *replication.Server, d time.Duration, logger *logging.Logger) error {
	srv.StartRecording()
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(d):
	}
	id, err := srv.StopRecording(ctx)
	if err != nil {
		return err
	}
	logger.Info("📼 Запись %s воспроизводится", id)
	return nil
}

// runBot встроенный клиент, случайно меняющий направление
func runBot(ctx context.Context, transport network.Transport, cfg *config.Config, n int) error {
	logger := logging.GetComponentLogger(fmt.Sprintf("bot-%d", n))
	c := replication.NewClient(transport, append(replicationOptions(cfg), replication.WithLogger(logger))...)
	if err := c.Connect(ctx); err != nil {
		if errors.Is(err, replication.ErrServerFull) {
			logger.Warn("Сервер заполнен, бот %d не подключён", n)
			return nil
		}
		return err
	}
	defer c.Close()

	buttons := []string{replication.ButtonLeft, replication.ButtonRight, replication.ButtonLeft, replication.ButtonUp}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for i := n; ; i++ {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := c.SendInput(gctx, buttons[i%len(buttons)]); err != nil && gctx.Err() == nil {
					logger.Warn("ввод: %v", err)
				}
			}
		}
	})
	return g.Wait()
}
