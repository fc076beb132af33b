package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/network"
	"github.com/annel0/statesync/internal/replication"
	"github.com/annel0/statesync/internal/worldgen"
)

func newRendezvousCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rendezvous",
		Short: "Точка встречи пиров: выдаёт слоты игроков и список участников",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return runRendezvous(ctx, root)
		},
	}
}

func runRendezvous(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	logger := logging.GetComponentLogger("rendezvous")

	reg := newRegistry()
	metrics := network.NewMetrics(reg)
	transport, err := openTransport(cfg.Transport, metrics)
	if err != nil {
		return err
	}
	defer transport.Close()

	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("шина событий: %w", err)
	}
	ropts := append(replicationOptions(cfg), replication.WithLogger(logger), replication.WithMetrics(metrics))
	if bus != nil {
		defer bus.Close()
		stopBus, err := startBusSide(ctx, cfg, bus, reg, logging.GetComponentLogger("eventbus"))
		if err != nil {
			return err
		}
		defer stopBus()
		ropts = append(ropts, replication.WithEventBus(bus), replication.WithSource("rendezvous"))
	}

	layout, err := worldgen.Build(cfg.World)
	if err != nil {
		return err
	}
	templates, err := layout.Players(cfg.Peer.Players)
	if err != nil {
		return err
	}
	world := entity.NewWorld()
	worldgen.Populate(world, layout.Entities)

	ps := replication.NewPeerServer(world, replication.NewPlayerPool(templates), transport, ropts...)
	logger.Info("🤝 Точка встречи: слотов %d, сущностей мира %d", len(templates), world.Len())
	if err := ps.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
