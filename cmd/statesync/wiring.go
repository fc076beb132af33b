package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/statesync/internal/config"
	"github.com/annel0/statesync/internal/eventbus"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/network"
	"github.com/annel0/statesync/internal/replay"
	"github.com/annel0/statesync/internal/replication"
	"github.com/annel0/statesync/internal/sessionlog"
)

const (
	busCapacity       = 1024
	sessionLogEntries = 10000
	busMetricsEvery   = 5 * time.Second
)

// newRegistry реестр с метриками процесса и рантайма
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// openTransport транспорт по transport.kind, обёрнутый метриками
func openTransport(cfg config.TransportConfig, metrics *network.Metrics) (network.Transport, error) {
	var t network.Transport
	switch cfg.Kind {
	case "nats":
		nt, err := network.NewNATSTransport(network.NATSConfig{URL: cfg.NATSURL, SubjectPrefix: cfg.SubjectPrefix})
		if err != nil {
			return nil, fmt.Errorf("NATS транспорт: %w", err)
		}
		t = nt
	case "kcp":
		kt, err := network.NewKCPTransport(cfg.Compress, metrics)
		if err != nil {
			return nil, fmt.Errorf("KCP транспорт: %w", err)
		}
		t = kt
	default:
		t = network.NewMemoryTransport()
	}
	if metrics == nil {
		return t, nil
	}
	return network.Instrument(t, metrics), nil
}

// openReplayStore хранилище записей; nil при store=none
func openReplayStore(ctx context.Context, cfg config.ReplayConfig) (replay.Store, error) {
	switch cfg.Store {
	case "badger":
		return replay.NewBadgerStore(cfg.BadgerPath)
	case "redis":
		return replay.NewRedisStore(ctx, replay.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		})
	case "memory":
		return replay.NewMemoryStore(), nil
	default:
		return nil, nil
	}
}

// replayOptions параметры записи из конфигурации
func replayOptions(cfg config.ReplayConfig, store replay.Store) []replay.Option {
	opts := []replay.Option{replay.WithFrameDuration(int64(time.Second) / int64(cfg.FrameRate))}
	if store != nil {
		opts = append(opts, replay.WithStore(store))
	}
	return opts
}

// openBus шина уведомлений; nil при kind=none
func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	switch cfg.Kind {
	case "jetstream":
		return eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	case "memory":
		return eventbus.NewMemoryBus(busCapacity), nil
	default:
		return nil, nil
	}
}

// openSessionRepo журнал сессий; nil при kind=none
func openSessionRepo(ctx context.Context, cfg config.SessionLogConfig) (sessionlog.Repo, error) {
	switch cfg.Kind {
	case "mariadb":
		return sessionlog.NewMariaRepo(ctx, cfg.DSN)
	case "mongo":
		return sessionlog.NewMongoRepo(ctx, cfg.MongoURI, cfg.Database)
	case "memory":
		return sessionlog.NewMemoryRepo(sessionLogEntries), nil
	default:
		return nil, nil
	}
}

// startBusSide подключает к шине лог, экспорт метрик и журнал сессий.
// Возвращает функцию остановки.
func startBusSide(ctx context.Context, cfg *config.Config, bus eventbus.EventBus, reg prometheus.Registerer, logger *logging.Logger) (func(), error) {
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	sub, err := eventbus.StartLoggingListener(ctx, bus, logger)
	if err != nil {
		return nil, err
	}
	stops = append(stops, sub.Unsubscribe)

	exporter := eventbus.NewMetricsExporter(bus, reg)
	go exporter.Run(ctx, busMetricsEvery)

	repo, err := openSessionRepo(ctx, cfg.SessionLog)
	if err != nil {
		stop()
		return nil, fmt.Errorf("журнал сессий: %w", err)
	}
	if repo != nil {
		consumer := sessionlog.NewConsumer(bus, repo, logger)
		if err := consumer.Start(ctx); err != nil {
			_ = repo.Close()
			stop()
			return nil, err
		}
		stops = append(stops, func() {
			consumer.Stop()
			logger.Info("Журнал сессий: сохранено %d, ошибок %d", consumer.Stored(), consumer.Failed())
			_ = repo.Close()
		})
	}
	return stop, nil
}

// replicationOptions общие параметры репликации из конфигурации
func replicationOptions(cfg *config.Config) []replication.Option {
	s := cfg.Server
	return []replication.Option{
		replication.WithTickRate(s.RefreshRate),
		replication.WithHeartbeatTimeout(s.HeartbeatTimeout()),
		replication.WithHeartbeatInterval(s.HeartbeatInterval()),
		replication.WithPorts(s.Ports),
		replication.WithHost(s.Host),
		replication.WithInputSpeed(s.InputSpeed),
	}
}
