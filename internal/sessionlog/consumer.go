package sessionlog

import (
	"context"
	"sync/atomic"

	"github.com/annel0/statesync/internal/eventbus"
	"github.com/annel0/statesync/internal/logging"
)

// Kinds уведомления, которые попадают в журнал
var Kinds = []string{
	eventbus.KindClientConnected,
	eventbus.KindClientDisconnected,
	eventbus.KindPeerJoined,
	eventbus.KindPeerLeft,
	eventbus.KindRecordingSaved,
}

// Consumer переносит уведомления шины в Repo
type Consumer struct {
	bus    eventbus.EventBus
	repo   Repo
	logger *logging.Logger
	sub    eventbus.Subscription

	stored atomic.Uint64
	failed atomic.Uint64
}

func NewConsumer(bus eventbus.EventBus, repo Repo, logger *logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.GetComponentLogger("sessionlog")
	}
	return &Consumer{bus: bus, repo: repo, logger: logger}
}

// Start подписывается на шину. Неблокирующий.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, eventbus.Filter{Types: Kinds}, c.handle)
	if err != nil {
		return err
	}
	c.sub = sub
	c.logger.Info("📒 Журнал сессий подписан на %d типов уведомлений", len(Kinds))
	return nil
}

func (c *Consumer) handle(ctx context.Context, ev *eventbus.Envelope) {
	n, err := eventbus.DecodeNotice(ev)
	if err != nil {
		c.failed.Add(1)
		c.logger.Warn("Пропуск уведомления %s: %v", ev.ID, err)
		return
	}
	if err := c.repo.Append(ctx, Entry{ID: ev.ID, Source: ev.Source, Notice: n}); err != nil {
		c.failed.Add(1)
		c.logger.Error("Не удалось записать уведомление %s: %v", ev.ID, err)
		return
	}
	c.stored.Add(1)
}

// Stop отписывается от шины
func (c *Consumer) Stop() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
}

// Stored количество записанных уведомлений
func (c *Consumer) Stored() uint64 { return c.stored.Load() }

// Failed количество уведомлений, которые не удалось записать
func (c *Consumer) Failed() uint64 { return c.failed.Load() }
