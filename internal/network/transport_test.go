package network

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPubSub(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTransport()
	defer tr.Close()

	ep := Endpoint{Name: "entity", Port: 5555, Bind: true}
	pub, err := tr.NewPublisher(ctx, ep)
	require.NoError(t, err)

	all, err := tr.NewSubscriber(ctx, Endpoint{Port: 5555})
	require.NoError(t, err)
	onlyControl, err := tr.NewSubscriber(ctx, Endpoint{Port: 5555}, "control")
	require.NoError(t, err)

	_, ok := all.Poll()
	assert.False(t, ok, "Poll не блокируется на пустой очереди")

	require.NoError(t, pub.Publish(ctx, "entity_update", []byte("a")))
	require.NoError(t, pub.Publish(ctx, "control", []byte("b")))

	m, ok := all.Poll()
	require.True(t, ok)
	assert.Equal(t, "a", string(m.Payload))
	m, ok = all.Poll()
	require.True(t, ok)
	assert.Equal(t, "control", m.Topic)

	m, ok = onlyControl.Poll()
	require.True(t, ok)
	assert.Equal(t, "b", string(m.Payload), "фильтр по префиксу темы")
	_, ok = onlyControl.Poll()
	assert.False(t, ok)

	t.Run("после Close сообщения не приходят", func(t *testing.T) {
		require.NoError(t, all.Close())
		require.NoError(t, pub.Publish(ctx, "x", []byte("c")))
		_, ok := all.Poll()
		assert.False(t, ok)
	})
}

func TestMemoryDropWhenFull(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tr := NewMemoryTransport(WithQueueSize(2), WithMemoryMetrics(metrics))

	ep := Endpoint{Name: "input", Port: 5556}
	pub, _ := tr.NewPublisher(ctx, ep)
	sub, _ := tr.NewSubscriber(ctx, ep)

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Publish(ctx, "", []byte{byte(i)}))
	}
	received := 0
	for {
		if _, ok := sub.Poll(); !ok {
			break
		}
		received++
	}
	assert.Equal(t, 2, received)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.dropped.WithLabelValues("input")))
}

func TestMemoryRequestReply(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr := NewMemoryTransport()

	ep := Endpoint{Name: "handshake", Port: 5557, Bind: true}
	rep, err := tr.NewResponder(ctx, ep)
	require.NoError(t, err)
	_, err = tr.NewResponder(ctx, ep)
	assert.Error(t, err, "второй ответчик на тот же порт запрещён")

	req, err := tr.NewRequester(ctx, Endpoint{Port: 5557})
	require.NoError(t, err)

	go func() {
		for ctx.Err() == nil {
			if r, ok := rep.Poll(); ok {
				_ = r.Reply([]byte(strings.ToUpper(string(r.Payload))))
				assert.ErrorIs(t, r.Reply([]byte("again")), ErrNoReply)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	reply, err := req.Request(ctx, []byte("connect"))
	require.NoError(t, err)
	assert.Equal(t, "CONNECT", string(reply))

	t.Run("отмена контекста прерывает запрос", func(t *testing.T) {
		short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := req.Request(short, []byte("nobody answers"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestInstrumentCountsTraffic(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tr := Instrument(NewMemoryTransport(), metrics)

	ep := Endpoint{Name: "control", Port: 5559}
	pub, _ := tr.NewPublisher(ctx, ep)
	sub, _ := tr.NewSubscriber(ctx, ep)

	require.NoError(t, pub.Publish(ctx, "control", []byte("12345")))
	_, ok := sub.Poll()
	require.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesSent.WithLabelValues("control")))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.bytesReceived.WithLabelValues("control")))
}

func TestFrameCodec(t *testing.T) {
	codec, err := newFrameCodec(true)
	require.NoError(t, err)
	defer codec.close()

	small := []byte("entity_update|1")
	large := bytes.Repeat([]byte("id:1|x:0|y:0|width:50|height:50\n"), 100)

	var stream bytes.Buffer
	for _, p := range [][]byte{small, large} {
		buf, err := codec.encode("entity_update", p, 0)
		require.NoError(t, err)
		stream.Write(buf)
	}

	f, err := codec.read(&stream)
	require.NoError(t, err)
	assert.Equal(t, "entity_update", f.topic)
	assert.Zero(t, f.flags&flagCompressed, "малые кадры не сжимаются")
	assert.Equal(t, small, f.payload)

	f, err = codec.read(&stream)
	require.NoError(t, err)
	assert.NotZero(t, f.flags&flagCompressed)
	assert.Equal(t, large, f.payload)

	t.Run("слишком длинная тема", func(t *testing.T) {
		_, err := codec.encode(strings.Repeat("t", 300), nil, 0)
		assert.Error(t, err)
	})

	t.Run("повреждённая длина", func(t *testing.T) {
		_, err := codec.read(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
		assert.Error(t, err)
	})
}

func TestEndpoint(t *testing.T) {
	ep := Endpoint{Name: "entity", Port: 5555, Bind: true}
	assert.Equal(t, "127.0.0.1:5555", ep.Addr())
	assert.Equal(t, "entity(bind 127.0.0.1:5555)", ep.String())
	assert.True(t, matchPrefix("control", nil))
	assert.False(t, matchPrefix("input", []string{"control"}))
}
