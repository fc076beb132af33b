package eventbus

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/logging"
)

type recorder struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recorder) handle(_ context.Context, ev *Envelope) {
	r.mu.Lock()
	r.kinds = append(r.kinds, ev.EventType)
	r.mu.Unlock()
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}

func notice(t *testing.T, kind string, id int64) *Envelope {
	t.Helper()
	ev, err := NewNoticeEnvelope("test", Notice{Kind: kind, ParticipantID: id, EntityID: id * 10})
	require.NoError(t, err)
	return ev
}

func TestMemoryBusFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(16)

	all, onlyLeft := &recorder{}, &recorder{}
	_, err := bus.Subscribe(ctx, Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{Types: []string{KindClientDisconnected}}, onlyLeft.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, notice(t, KindClientConnected, 1)))
	require.NoError(t, bus.Publish(ctx, notice(t, KindClientDisconnected, 1)))
	require.NoError(t, bus.Publish(ctx, notice(t, KindClientConnected, 2)))
	require.NoError(t, bus.Close(), "Close доставляет принятые события")

	assert.Equal(t, []string{KindClientConnected, KindClientDisconnected, KindClientConnected}, all.got())
	assert.Equal(t, []string{KindClientDisconnected}, onlyLeft.got())

	stats := bus.Metrics()
	assert.Equal(t, uint64(3), stats.Published)
	assert.Equal(t, uint64(4), stats.Consumed)

	assert.ErrorIs(t, bus.Publish(ctx, notice(t, KindPeerLeft, 3)), ErrBusClosed)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(4)
	r := &recorder{}
	sub, err := bus.Subscribe(ctx, Filter{}, r.handle)
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, notice(t, KindPeerJoined, 1)))
	require.NoError(t, bus.Close())
	assert.Empty(t, r.got())
}

func TestNoticeEnvelope(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ev, err := NewNoticeEnvelope("server", Notice{Kind: KindPeerLeft, ParticipantID: 4, EntityID: 9, At: at})
	require.NoError(t, err)
	assert.Equal(t, KindPeerLeft, ev.EventType)
	assert.Equal(t, "server", ev.Source)
	assert.Equal(t, at, ev.Timestamp)
	assert.GreaterOrEqual(t, ev.Priority, 5, "отключения не отбрасываются при переполнении")
	assert.Len(t, ev.ID, 36)

	n, err := DecodeNotice(ev)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n.ParticipantID)
	assert.Equal(t, int64(9), n.EntityID)

	t.Run("чужая версия", func(t *testing.T) {
		_, err := DecodeNotice(&Envelope{Version: 99, Payload: ev.Payload})
		assert.Error(t, err)
	})
}

func TestLoggingListener(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger("eventbus", &buf, logging.DEBUG)
	bus := NewMemoryBus(4)

	_, err := StartLoggingListener(context.Background(), bus, logger)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), notice(t, KindClientConnected, 7)))
	require.NoError(t, bus.Close())

	assert.Contains(t, buf.String(), "client_connected участник=7 сущность=70")
}

func TestMetricsExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := NewMemoryBus(1)
	exp := NewMetricsExporter(bus, reg)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, notice(t, KindClientConnected, 1)))
	require.NoError(t, bus.Close())

	exp.Refresh()
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.published))
	exp.Refresh()
	assert.Equal(t, 1.0, testutil.ToFloat64(exp.published), "повторное обновление добавляет только приращение")
	assert.Equal(t, 0.0, testutil.ToFloat64(exp.inflight))
}
