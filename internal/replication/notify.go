package replication

import (
	"context"

	"github.com/annel0/statesync/internal/eventbus"
	"github.com/annel0/statesync/internal/logging"
)

// notify публикует уведомление жизненного цикла; ошибки шины только логируются
func notify(ctx context.Context, bus eventbus.EventBus, logger *logging.Logger, source string, n eventbus.Notice) {
	if bus == nil {
		return
	}
	ev, err := eventbus.NewNoticeEnvelope(source, n)
	if err != nil {
		logger.Warn("Не удалось собрать уведомление %s: %v", n.Kind, err)
		return
	}
	if err := bus.Publish(ctx, ev); err != nil {
		logger.Warn("Не удалось опубликовать уведомление %s: %v", n.Kind, err)
	}
}
