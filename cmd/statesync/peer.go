package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/annel0/statesync/internal/engine"
	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/replication"
	"github.com/annel0/statesync/internal/terminal"
	"github.com/annel0/statesync/internal/timeline"
	"github.com/annel0/statesync/internal/worldgen"
)

type peerOptions struct {
	*rootOptions
	Headless bool
	Duration time.Duration
}

func newPeerCommand(root *rootOptions) *cobra.Command {
	opts := &peerOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Пир: симулирует свои сущности и обменивается кадрами с остальными",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			if opts.Duration > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, opts.Duration)
				defer stop()
			}
			return runPeer(ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Headless, "headless", false, "без терминального интерфейса, только лог")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "завершиться через указанное время")
	return cmd
}

func runPeer(ctx context.Context, opts *peerOptions) error {
	if !opts.Headless {
		if err := opts.quietConsole(); err != nil {
			return err
		}
	}
	cfg := opts.cfg
	logger := logging.GetPeerLogger()

	transport, err := transportFor(cfg)
	if err != nil {
		return err
	}
	defer transport.Close()

	p := replication.NewPeer(transport, append(replicationOptions(cfg), replication.WithLogger(logger))...)
	if err := p.Connect(ctx); err != nil {
		return err
	}
	defer p.Close()

	tl := timeline.New(timeline.WithSpeed(cfg.Server.SimulationSpeed))
	sim := engine.NewSimulation(p.World(), events.NewManager(tl, events.WithLogger(logger)),
		engine.WithLogger(logger),
		engine.WithPlayers(p.Players),
		engine.WithOwnership(p.Owns),
		engine.WithFocus(func() (entity.ID, bool) {
			id := p.EntityID()
			return id, id != 0
		}),
	)
	if _, err := worldgen.RegisterScrollZones(sim.Zones(), p.World().Snapshot(), float64(cfg.World.Width)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	interval := cfg.Server.RefreshRate.Interval()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return sim.Run(gctx, interval) })

	if opts.Headless {
		g.Go(func() error {
			ticker := time.NewTicker(statusEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					logger.Info("пир %d (хост %d): подписок %d, сущностей %d, отброшено %d",
						p.PeerID(), p.HostPeerID(), p.Subscriptions(), p.World().Len(), p.Dropped())
				}
			}
		})
		return g.Wait()
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

	loop := engine.NewLoop(interval,
		engine.WithInput(func(context.Context) error {
			if keys.Quit() {
				return engine.ErrQuit
			}
			if keys.Paused() {
				sim.Timeline().Pause()
			} else {
				sim.Timeline().Resume()
			}
			for _, b := range keys.Pressed() {
				p.Move(b)
			}
			return nil
		}),
		engine.WithRender(func(context.Context) error {
			role := "пир"
			if p.IsHost() {
				role = "хост"
			}
			status := fmt.Sprintf(" %s %d | подписок %d | сущностей %d | отброшено %d ",
				role, p.PeerID(), p.Subscriptions(), p.World().Len(), p.Dropped())
			renderer.Draw(p.World().Snapshot(), p.EntityID(), status)
			return nil
		}),
	)
	g.Go(func() error {
		defer cancel()
		return loop.Run(gctx)
	})
	return g.Wait()
}
