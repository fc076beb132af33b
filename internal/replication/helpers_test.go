package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/eventbus"
	"github.com/annel0/statesync/internal/vec"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// handshake запускает connect в горутине и крутит serve, пока тот не вернётся.
// Возвращает ошибку connect и первую ошибку serve.
func handshake(t *testing.T, serve func() error, connect func() error) (connectErr, serveErr error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- connect() }()

	require.Eventually(t, func() bool {
		if err := serve(); err != nil && serveErr == nil {
			serveErr = err
		}
		select {
		case connectErr = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
	return connectErr, serveErr
}

func spawnZone() entity.Entity {
	z := entity.NewRect(vec.Vec2Float{}, entity.Size{Width: 200, Height: 200}, entity.Green)
	z.Type = entity.Ghost
	z.Zone = entity.ZoneSpawn
	return z
}

func player(x float64) entity.Entity {
	return entity.NewRect(vec.Vec2Float{X: x, Y: 10}, entity.Size{Width: 50, Height: 50}, entity.Blue)
}

// kindRecorder запоминает типы уведомлений шины
type kindRecorder struct {
	mu      sync.Mutex
	kinds   []string
	reasons []string
}

func recordKinds(t *testing.T, bus eventbus.EventBus) *kindRecorder {
	r := &kindRecorder{}
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(_ context.Context, ev *eventbus.Envelope) {
		r.mu.Lock()
		r.kinds = append(r.kinds, ev.EventType)
		if n, err := eventbus.DecodeNotice(ev); err == nil && n.Reason != "" {
			r.reasons = append(r.reasons, n.Reason)
		}
		r.mu.Unlock()
	})
	require.NoError(t, err)
	return r
}

func (r *kindRecorder) Reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

func (r *kindRecorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}
