package protocol

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/vec"
)

func sampleEntities() []entity.Entity {
	return []entity.Entity{
		{
			ID:           1,
			Position:     vec.Vec2Float{X: 10, Y: 20},
			Size:         entity.Size{Width: 50, Height: 50},
			Acceleration: vec.Vec2Float{Y: 9.8},
			Color:        entity.Red,
		},
		{
			ID:          2,
			Position:    vec.Vec2Float{Y: 500},
			Size:        entity.Size{Width: 800, Height: 20},
			Type:        entity.Fixed,
			Color:       entity.Green,
			TexturePath: "assets/floor tile|1.png",
		},
		{
			ID:       3,
			Position: vec.Vec2Float{X: 100, Y: 100},
			Size:     entity.Size{Width: 200, Height: 150},
			Type:     entity.Ghost,
			Zone:     entity.ZoneSpawn,
			Color:    entity.Color{B: 255, A: 128},
			Rotation: 1.5,
		},
	}
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestServerFrameGolden(t *testing.T) {
	g := newGoldie(t)
	g.Assert(t, "server_frame", EncodeServerFrame(7, sampleEntities()))
}

func TestHandshakeReplyGolden(t *testing.T) {
	g := newGoldie(t)
	reply := HandshakeReply{ClientID: 3, EntityID: 1, Entities: sampleEntities()[:1]}
	g.Assert(t, "handshake_reply", EncodeHandshakeReply(reply))
}

func TestRecordRoundTrip(t *testing.T) {
	for _, want := range sampleEntities() {
		want.Velocity = vec.Vec2Float{X: -12.345678, Y: 0.1}
		want.Acceleration.X = 1e-7
		got, err := DecodeRecord(EncodeRecord(want))
		require.NoError(t, err)

		assert.Equal(t, want.ID, got.ID)
		assert.True(t, want.Position.ApproxEqual(got.Position, 1e-9))
		assert.True(t, want.Velocity.ApproxEqual(got.Velocity, 1e-9))
		assert.True(t, want.Acceleration.ApproxEqual(got.Acceleration, 1e-9))
		assert.Equal(t, want.Size, got.Size)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Zone, got.Zone)
		assert.Equal(t, want.Color, got.Color)
		assert.InDelta(t, want.Rotation, got.Rotation, 1e-9)
		assert.Equal(t, want.TexturePath, got.TexturePath, "путь к текстуре не ломает разметку")
	}

	t.Run("форма кроме прямоугольника сохраняется", func(t *testing.T) {
		e := sampleEntities()[0]
		e.Shape = entity.ShapeCircle
		got, err := DecodeRecord(EncodeRecord(e))
		require.NoError(t, err)
		assert.Equal(t, entity.ShapeCircle, got.Shape)
	})
}

func TestDecodeRecordTolerance(t *testing.T) {
	t.Run("порядок и неизвестные ключи не важны", func(t *testing.T) {
		e, err := DecodeRecord("height:5|bogus:1|y:2|width:4|x:1|id:9|type:SOMETHING")
		require.NoError(t, err)
		assert.Equal(t, entity.ID(9), e.ID)
		assert.Equal(t, entity.Default, e.Type, "неизвестный тип становится DEFAULT")
		assert.Equal(t, entity.Size{Width: 4, Height: 5}, e.Size)
	})

	bad := map[string]string{
		"нет id":            "x:1|y:2|width:3|height:4",
		"нет height":        "id:1|x:1|y:2|width:3",
		"нечисловой x":      "id:1|x:abc|y:2|width:3|height:4",
		"пустая строка":     "",
		"нечисловой id":     "id:one|x:1|y:2|width:3|height:4",
	}
	for name, rec := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecord(rec)
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestFrames(t *testing.T) {
	t.Run("кадр сервера", func(t *testing.T) {
		data := EncodeServerFrame(42, sampleEntities())
		require.True(t, IsFrame(data))
		f, err := DecodeFrame(data)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), f.Tick)
		assert.Zero(t, f.PeerID)
		assert.Len(t, f.Entities, 3)
	})

	t.Run("кадр пира", func(t *testing.T) {
		f, err := DecodeFrame(EncodePeerFrame(5, 3, sampleEntities()[:1]))
		require.NoError(t, err)
		assert.Equal(t, int64(5), f.PeerID)
		assert.Equal(t, uint64(3), f.Tick)
		assert.Len(t, f.Entities, 1)
	})

	t.Run("некорректные записи отбрасываются", func(t *testing.T) {
		f, err := DecodeFrame([]byte("entity_update|1\nid:1|x:1|y:1|width:1|height:1\ngarbage\n"))
		require.NoError(t, err)
		assert.Len(t, f.Entities, 1)
		assert.Equal(t, 1, f.Dropped)
	})

	t.Run("пустой кадр", func(t *testing.T) {
		f, err := DecodeFrame(EncodeServerFrame(1, nil))
		require.NoError(t, err)
		assert.Empty(t, f.Entities)
	})

	_, err := DecodeFrame([]byte("entity_update|x"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
	_, err = DecodeFrame([]byte("hello"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestHandshakeReplies(t *testing.T) {
	_, err := DecodeHandshakeReply([]byte(Full))
	assert.ErrorIs(t, err, ErrFull)
	_, err = DecodeHandshakeReply([]byte(ErrorReply))
	assert.ErrorIs(t, err, ErrMalformedReply)

	r, err := DecodeHandshakeReply(EncodeHandshakeReply(HandshakeReply{ClientID: 1, EntityID: 2}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.ClientID)
	assert.Equal(t, entity.ID(2), r.EntityID)
	assert.Empty(t, r.Entities)

	peer := PeerHandshakeReply{
		PeerID:     3,
		EntityID:   7,
		HostPeerID: 1,
		Roster:     map[int64]RosterEntry{1: {Port: 5561, EntityID: 4}, 2: {Port: 5562, EntityID: 5}},
		Entities:   sampleEntities(),
	}
	encoded := EncodePeerHandshakeReply(peer)
	assert.Contains(t, string(encoded), "3|7|1|1=5561:4,2=5562:5|")

	got, err := DecodePeerHandshakeReply(encoded)
	require.NoError(t, err)
	assert.Equal(t, peer.Roster, got.Roster)
	assert.Equal(t, int64(1), got.HostPeerID)
	assert.Len(t, got.Entities, 3)

	t.Run("элемент списка пиров без сущности", func(t *testing.T) {
		_, err := DecodeRoster("1=5561")
		assert.ErrorIs(t, err, ErrMalformedReply, "сущность пира обязательна")
		_, err = DecodeRoster("1=5561:x")
		assert.ErrorIs(t, err, ErrMalformedReply)
	})
}

func TestControlMessages(t *testing.T) {
	assert.JSONEq(t, `{"type":"disconnect","entityID":4}`, string(Disconnect(4).Marshal()))
	assert.JSONEq(t, `{"type":"keypress","clientId":2,"buttonPress":"left"}`, string(KeyPress(2, "left").Marshal()))
	assert.JSONEq(t, `{"type":"peer_left","peerId":2,"entityID":5,"hostPeerId":1}`, string(PeerLeft(2, 5, 1).Marshal()))

	msg, err := DecodeControl(NewConnection(sampleEntities()[0]).Marshal())
	require.NoError(t, err)
	assert.Equal(t, MsgNewConnection, msg.Type)
	e, err := msg.EntityRecord()
	require.NoError(t, err)
	assert.Equal(t, entity.ID(1), e.ID)

	_, err = DecodeControl([]byte(`{"clientId":1}`))
	assert.Error(t, err)
	_, err = DecodeControl([]byte(`not json`))
	assert.Error(t, err)
}
