package sessionlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/eventbus"
	"github.com/annel0/statesync/internal/logging"
)

func TestMemoryRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo(3)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, repo.Append(ctx, Entry{ID: string(rune('a' + i)), Notice: eventbus.Notice{ParticipantID: i}}))
	}

	recent, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(5), recent[0].ParticipantID, "новые первыми")
	assert.Equal(t, int64(4), recent[1].ParticipantID)

	all, err := repo.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "ёмкость ограничивает журнал")

	require.NoError(t, repo.Append(ctx, Entry{ID: all[0].ID, Notice: eventbus.Notice{ParticipantID: 99}}))
	again, _ := repo.Recent(ctx, 0)
	assert.Equal(t, all, again, "повторная запись с тем же id игнорируется")
}

func TestConsumer(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewMemoryBus(8)
	repo := NewMemoryRepo(0)
	c := NewConsumer(bus, repo, logging.NewNopLogger())
	require.NoError(t, c.Start(ctx))

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ev, err := eventbus.NewNoticeEnvelope("server", eventbus.Notice{Kind: eventbus.KindClientConnected, ParticipantID: 1, EntityID: 11, At: at})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, ev))

	// чужой тип события не попадает в журнал
	require.NoError(t, bus.Publish(ctx, &eventbus.Envelope{ID: "x", EventType: "other", Version: 1}))
	// битая нагрузка считается ошибкой
	require.NoError(t, bus.Publish(ctx, &eventbus.Envelope{ID: "y", EventType: eventbus.KindPeerLeft, Version: 1, Payload: []byte("{")}))
	require.NoError(t, bus.Close())

	assert.Equal(t, uint64(1), c.Stored())
	assert.Equal(t, uint64(1), c.Failed())

	entries, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ev.ID, entries[0].ID)
	assert.Equal(t, "server", entries[0].Source)
	assert.Equal(t, int64(11), entries[0].EntityID)
	assert.Equal(t, at, entries[0].At)
}
