package eventbus

import (
	"context"

	"github.com/annel0/statesync/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог.
// Функция неблокирующая.
func StartLoggingListener(ctx context.Context, bus EventBus, logger *logging.Logger) (Subscription, error) {
	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		if n, err := DecodeNotice(ev); err == nil {
			logger.Info("[EventBus] %s участник=%d сущность=%d src=%s", n.Kind, n.ParticipantID, n.EntityID, ev.Source)
			return
		}
		logger.Debug("[EventBus] %s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
