package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/annel0/statesync/internal/config"
	"github.com/annel0/statesync/internal/engine"
	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/network"
	"github.com/annel0/statesync/internal/replication"
	"github.com/annel0/statesync/internal/terminal"
	"github.com/annel0/statesync/internal/timeline"
)

const statusEvery = 5 * time.Second

type clientOptions struct {
	*rootOptions
	Headless bool
	Duration time.Duration
}

func newClientCommand(root *rootOptions) *cobra.Command {
	opts := &clientOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Клиент авторитетного сервера",
		Long: `Подключается к серверу и отображает мир в терминале.
Стрелки или WASD двигают свою сущность, p ставит её на паузу, q или Esc выход.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			if opts.Duration > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, opts.Duration)
				defer stop()
			}
			return runClient(ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Headless, "headless", false, "без терминального интерфейса, только лог")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "завершиться через указанное время")
	return cmd
}

// transportFor транспорт клиентской стороны без метрик
func transportFor(cfg *config.Config) (network.Transport, error) {
	if cfg.Transport.Kind == "memory" {
		return nil, errors.New("транспорт memory работает только внутри процесса сервера (см. server --bots)")
	}
	return openTransport(cfg.Transport, nil)
}

func runClient(ctx context.Context, opts *clientOptions) error {
	if !opts.Headless {
		if err := opts.quietConsole(); err != nil {
			return err
		}
	}
	cfg := opts.cfg
	logger := logging.GetClientLogger()

	transport, err := transportFor(cfg)
	if err != nil {
		return err
	}
	defer transport.Close()

	manager, updates := newClientEvents(logger)

	c := replication.NewClient(transport, append(replicationOptions(cfg),
		replication.WithLogger(logger), replication.WithEventManager(manager))...)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	if opts.Headless {
		return runHeadlessClient(ctx, c, manager, cfg.Server.RefreshRate.Interval(), updates, logger)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	keys := terminal.NewKeySource()
	go keys.Listen(screen)
	renderer := terminal.NewRenderer(screen, float64(cfg.World.Width), float64(cfg.World.Height))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := engine.NewLoop(cfg.Server.RefreshRate.Interval(),
		engine.WithInput(func(ctx context.Context) error {
			if keys.Quit() {
				return engine.ErrQuit
			}
			c.SetPaused(keys.Paused())
			for _, b := range keys.Pressed() {
				if err := c.SendInput(ctx, b); err != nil {
					return err
				}
			}
			return nil
		}),
		engine.WithOnCycle(func(context.Context) error {
			manager.Process()
			return nil
		}),
		engine.WithReceive(func(context.Context) error {
			c.ReceiveUpdates()
			return nil
		}),
		engine.WithRender(func(context.Context) error {
			status := fmt.Sprintf(" клиент %d | тик %d | сущностей %d | обновлений %d | отброшено %d ",
				c.ClientID(), c.LastTick(), c.World().Len(), updates.Load(), c.Dropped())
			if c.Paused() {
				status += "| пауза "
			}
			renderer.Draw(c.World().Snapshot(), c.EntityID(), status)
			return nil
		}),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return heartbeats(gctx, cfg.Server.HeartbeatInterval(), c.SendHeartbeat, logger)
	})
	g.Go(func() error {
		defer cancel()
		return loop.Run(gctx)
	})
	return g.Wait()
}

// newClientEvents менеджер, через который проходит каждое применённое обновление,
// и счётчик обработанных EntityUpdate
func newClientEvents(logger *logging.Logger) (*events.Manager, *atomic.Int64) {
	manager := events.NewManager(timeline.New(), events.WithLogger(logger))
	updates := new(atomic.Int64)
	manager.OnEntityUpdate(func(events.EntityUpdate) { updates.Add(1) })
	return manager, updates
}

// heartbeats вызывает send с периодом every до отмены ctx
func heartbeats(ctx context.Context, every time.Duration, send func(context.Context) error, logger *logging.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := send(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("heartbeat: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runHeadlessClient(ctx context.Context, c *replication.Client, manager *events.Manager, refresh time.Duration,
	updates *atomic.Int64, logger *logging.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		return engine.NewLoop(refresh, engine.WithOnCycle(func(context.Context) error {
			manager.Process()
			return nil
		})).Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statusEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				e, _ := c.World().Get(c.EntityID())
				logger.Info("тик %d, сущностей %d, своя (%.1f, %.1f), обновлений %d, отброшено %d",
					c.LastTick(), c.World().Len(), e.Position.X, e.Position.Y, updates.Load(), c.Dropped())
			}
		}
	})
	return g.Wait()
}
