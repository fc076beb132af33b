package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/config"
	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/network"
	"github.com/annel0/statesync/internal/protocol"
	"github.com/annel0/statesync/internal/timeline"
	"github.com/annel0/statesync/internal/vec"
)

func withID(e entity.Entity, id entity.ID) entity.Entity {
	e.ID = id
	return e
}

// scriptedServer отвечает на рукопожатие вручную и публикует кадры
type scriptedServer struct {
	ctx   context.Context
	ports config.PortsConfig
	hs    network.Responder
	pub   network.Publisher
	ctl   network.Publisher
}

func newScriptedServer(t *testing.T, tr network.Transport) *scriptedServer {
	s := &scriptedServer{ctx: context.Background(), ports: config.PortsConfig{}.Resolve()}
	var err error
	s.hs, err = tr.NewResponder(s.ctx, network.Endpoint{Port: s.ports.Handshake, Bind: true})
	require.NoError(t, err)
	s.pub, err = tr.NewPublisher(s.ctx, network.Endpoint{Port: s.ports.EntityPub, Bind: true})
	require.NoError(t, err)
	s.ctl, err = tr.NewPublisher(s.ctx, network.Endpoint{Port: s.ports.Control, Bind: true})
	require.NoError(t, err)
	return s
}

func (s *scriptedServer) answer(reply []byte) func() error {
	return func() error {
		if req, ok := s.hs.Poll(); ok {
			return req.Reply(reply)
		}
		return nil
	}
}

func (s *scriptedServer) frame(t *testing.T, tick uint64, entities ...entity.Entity) {
	require.NoError(t, s.pub.Publish(s.ctx, protocol.TopicEntityUpdate, protocol.EncodeServerFrame(tick, entities)))
}

func TestClientFolding(t *testing.T) {
	tr := network.NewMemoryTransport()
	srv := newScriptedServer(t, tr)

	own := withID(player(10), 10)
	other := withID(player(100), 11)
	platform := withID(entity.NewRect(vec.Vec2Float{Y: 500}, entity.Size{Width: 800, Height: 20}, entity.White), 1)

	tl := timeline.New(timeline.WithClock(func() int64 { return 0 }))
	manager := events.NewManager(tl, events.WithLogger(logging.NewNopLogger()))
	var updates int
	manager.OnEntityUpdate(func(events.EntityUpdate) { updates++ })

	c := NewClient(tr, WithLogger(logging.NewNopLogger()), WithEventManager(manager))
	err, _ := handshake(t,
		srv.answer(protocol.EncodeHandshakeReply(protocol.HandshakeReply{ClientID: 3, EntityID: 10, Entities: []entity.Entity{platform, own}})),
		func() error { return c.Connect(srv.ctx) })
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.ClientID())
	assert.Equal(t, entity.ID(10), c.EntityID())
	assert.Equal(t, 2, c.World().Len())

	srv.frame(t, 5, platform, own, other)
	assert.Equal(t, 3, c.ReceiveUpdates(), "неизвестные id добавляются")
	assert.Equal(t, 3, c.World().Len())
	manager.Process()
	assert.Equal(t, 3, updates, "каждая запись поднимает EntityUpdate")

	t.Run("устаревший тик игнорируется", func(t *testing.T) {
		srv.frame(t, 4, platform, own)
		srv.frame(t, 5, platform, own)
		assert.Equal(t, 0, c.ReceiveUpdates())
		assert.Equal(t, 3, c.World().Len())
		assert.Equal(t, uint64(5), c.LastTick())
	})

	t.Run("отсутствующие в снимке удаляются", func(t *testing.T) {
		srv.frame(t, 6, platform, own)
		assert.Equal(t, 2, c.ReceiveUpdates())
		_, ok := c.World().Get(other.ID)
		assert.False(t, ok)
	})

	t.Run("на паузе своя сущность не обновляется", func(t *testing.T) {
		c.SetPaused(true)
		moved := own
		moved.Position.X = 999
		srv.frame(t, 7, platform, moved)
		assert.Equal(t, 1, c.ReceiveUpdates())
		got, ok := c.World().Get(own.ID)
		require.True(t, ok, "своя сущность не удаляется на паузе")
		assert.Equal(t, own.Position.X, got.Position.X)

		c.SetPaused(false)
		srv.frame(t, 8, platform, moved)
		c.ReceiveUpdates()
		got, _ = c.World().Get(own.ID)
		assert.Equal(t, 999.0, got.Position.X)
	})

	t.Run("некорректные данные считаются", func(t *testing.T) {
		before := c.Dropped()
		require.NoError(t, srv.pub.Publish(srv.ctx, protocol.TopicEntityUpdate, []byte("entity_update|abc")))
		require.NoError(t, srv.pub.Publish(srv.ctx, protocol.TopicEntityUpdate,
			[]byte("entity_update|9\nid:x|x:1\n"+protocol.EncodeRecord(platform))))
		require.NoError(t, srv.ctl.Publish(srv.ctx, protocol.TopicControl, []byte("not json")))
		assert.Equal(t, 1, c.ReceiveUpdates())
		assert.Equal(t, before+3, c.Dropped())
	})

	t.Run("управляющие сообщения", func(t *testing.T) {
		newcomer := withID(player(300), 12)
		require.NoError(t, srv.ctl.Publish(srv.ctx, protocol.TopicControl, protocol.NewConnection(newcomer).Marshal()))
		c.ReceiveUpdates()
		_, ok := c.World().Get(12)
		assert.True(t, ok)

		require.NoError(t, srv.ctl.Publish(srv.ctx, protocol.TopicControl, protocol.Disconnect(12).Marshal()))
		c.ReceiveUpdates()
		_, ok = c.World().Get(12)
		assert.False(t, ok)
	})
}

func TestClientConnectErrors(t *testing.T) {
	t.Run("FULL", func(t *testing.T) {
		tr := network.NewMemoryTransport()
		srv := newScriptedServer(t, tr)
		c := NewClient(tr, WithLogger(logging.NewNopLogger()))
		err, _ := handshake(t, srv.answer([]byte(protocol.Full)), func() error { return c.Connect(srv.ctx) })
		assert.ErrorIs(t, err, ErrServerFull)
	})

	t.Run("сервер недоступен", func(t *testing.T) {
		tr := network.NewMemoryTransport()
		c := NewClient(tr, WithLogger(logging.NewNopLogger()))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, c.Connect(ctx), context.Canceled)
	})

	t.Run("отправка без подключения", func(t *testing.T) {
		c := NewClient(network.NewMemoryTransport(), WithLogger(logging.NewNopLogger()))
		assert.ErrorIs(t, c.SendHeartbeat(context.Background()), ErrNotConnected)
		assert.ErrorIs(t, c.SendInput(context.Background(), ButtonLeft), ErrNotConnected)
		assert.Equal(t, 0, c.ReceiveUpdates())
	})
}
