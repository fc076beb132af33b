package events

import (
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/timeline"
)

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *atomic.Int64) {
	t.Helper()
	var now atomic.Int64
	tl := timeline.New(timeline.WithClock(now.Load))
	opts = append([]ManagerOption{WithLogger(logging.NewNopLogger())}, opts...)
	return NewManager(tl, opts...), &now
}

func TestProcessOrdersByTimestamp(t *testing.T) {
	m, now := newTestManager(t)

	var order []int64
	m.OnCollision(func(c Collision) { order = append(order, int64(c.A)) })

	for _, ts := range []int64{5, 1, 3} {
		m.RaiseAt(New(Collision{A: entity.ID(ts)}), ts)
	}

	now.Store(2)
	assert.Equal(t, 1, m.Process(), "доставляются только созревшие события")
	assert.Equal(t, []int64{1}, order)

	now.Store(10)
	assert.Equal(t, 2, m.Process())
	assert.Equal(t, []int64{1, 3, 5}, order)
	assert.Zero(t, m.Pending())
}

func TestProcessFIFOForEqualTimestamps(t *testing.T) {
	m, now := newTestManager(t)

	var order []entity.ID
	m.OnSpawn(func(s Spawn) { order = append(order, s.Entity) })

	for i := 1; i <= 5; i++ {
		m.RaiseAt(New(Spawn{Entity: entity.ID(i)}), 7)
	}
	now.Store(7)
	m.Process()
	assert.Equal(t, []entity.ID{1, 2, 3, 4, 5}, order)
}

func TestRaiseWithDelay(t *testing.T) {
	m, now := newTestManager(t)

	calls := 0
	m.OnDeath(func(Death) { calls++ })

	now.Store(100)
	m.RaiseWithDelay(New(Death{Entity: 1}), 50)

	now.Store(149)
	m.Process()
	assert.Zero(t, calls, "событие не должно прийти раньше t+d")

	now.Store(150)
	m.Process()
	assert.Equal(t, 1, calls)

	now.Store(500)
	m.Process()
	assert.Equal(t, 1, calls, "событие доставляется ровно один раз")
}

func TestDispatchIsTypeDirected(t *testing.T) {
	m, _ := newTestManager(t)

	var collisions, inputs int
	m.Register(TypeCollision, func(Event) { collisions++ })
	m.Register(TypeInput, func(ev Event) {
		in, ok := ev.AsInput()
		require.True(t, ok)
		assert.Equal(t, []Key{KeyLeft}, in.Keys)
		inputs++
	})

	m.Raise(New(Input{Entity: 1, Keys: []Key{KeyLeft}}))
	m.Process()
	assert.Zero(t, collisions)
	assert.Equal(t, 1, inputs)
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m, _ := newTestManager(t, WithMetrics(metrics))

	var after, next int
	m.Register(TypeEntityUpdate, func(Event) { panic("boom") })
	m.Register(TypeEntityUpdate, func(Event) { after++ })
	m.Register(TypeDeath, func(Event) { next++ })

	m.Raise(New(EntityUpdate{}))
	m.Raise(New(Death{}))

	assert.NotPanics(t, func() { m.Process() })
	assert.Equal(t, 1, after, "остальные обработчики того же события выполняются")
	assert.Equal(t, 1, next, "остальные события очереди доставляются")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.panics.WithLabelValues("entity_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dispatched.WithLabelValues("death")))
}

func TestHandlerMayRaise(t *testing.T) {
	m, _ := newTestManager(t)

	var spawned []entity.ID
	m.OnDeath(func(d Death) {
		m.Raise(New(Spawn{Entity: d.Entity}))
	})
	m.OnSpawn(func(s Spawn) { spawned = append(spawned, s.Entity) })

	m.Raise(New(Death{Entity: 9}))
	assert.Equal(t, 1, m.Process())
	assert.Equal(t, 1, m.Pending(), "событие из обработчика ждёт следующего Process")
	assert.Equal(t, 1, m.Process())
	assert.Equal(t, []entity.ID{9}, spawned)

	t.Run("событие из прошлого не задерживает созревшие", func(t *testing.T) {
		m, now := newTestManager(t)
		now.Store(10)

		var got []Type
		m.OnCollision(func(Collision) {
			got = append(got, TypeCollision)
			m.RaiseAt(New(Input{}), 0)
		})
		m.OnDeath(func(Death) { got = append(got, TypeDeath) })
		m.OnInput(func(Input) { got = append(got, TypeInput) })

		m.RaiseAt(New(Collision{}), 1)
		m.RaiseAt(New(Death{}), 2)

		assert.Equal(t, 2, m.Process())
		assert.Equal(t, []Type{TypeCollision, TypeDeath}, got)
		assert.Equal(t, 1, m.Pending())

		assert.Equal(t, 1, m.Process())
		assert.Equal(t, []Type{TypeCollision, TypeDeath, TypeInput}, got)
	})
}

func TestClear(t *testing.T) {
	m, _ := newTestManager(t)
	m.RaiseWithDelay(New(Collision{}), 1000)
	m.Raise(New(Collision{}))
	assert.Equal(t, 2, m.Pending())
	m.Clear()
	assert.Zero(t, m.Pending())
	assert.Zero(t, m.Process())
}
