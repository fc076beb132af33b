package replay

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/timeline"
	"github.com/annel0/statesync/internal/vec"
)

// collector собирает поставленные события
type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) Raise(ev events.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) RaiseWithDelay(ev events.Event, _ int64) { c.Raise(ev) }

func (c *collector) replays() []events.Replay {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Replay, 0, len(c.events))
	for _, ev := range c.events {
		if r, ok := ev.AsReplay(); ok {
			out = append(out, r)
		}
	}
	return out
}

type fixture struct {
	clock   atomic.Int64
	tl      *timeline.Timeline
	manager *events.Manager
	system  *System
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{}
	f.tl = timeline.New(timeline.WithClock(f.clock.Load))
	f.manager = events.NewManager(f.tl, events.WithLogger(logging.NewNopLogger()))
	opts = append([]Option{WithFrameDuration(10), WithLogger(logging.NewNopLogger())}, opts...)
	f.system = NewSystem(f.tl, opts...)
	f.system.Register(f.manager)
	return f
}

// updateAt поднимает EntityUpdate в логический момент t и доставляет его
func (f *fixture) updateAt(t int64, id entity.ID) {
	f.clock.Store(t)
	e := entity.NewRect(vec.Vec2Float{X: float64(id), Y: float64(t)}, entity.Size{Width: 1, Height: 1}, entity.White)
	e.ID = id
	f.manager.Raise(events.New(events.EntityUpdate{Snapshot: e}))
	f.manager.Process()
}

func TestReplayFidelity(t *testing.T) {
	f := newFixture(WithInterval(time.Millisecond))

	f.updateAt(0, 1)
	assert.Empty(t, f.system.Snapshot().Frames, "до StartRecording ничего не пишется")

	f.system.StartRecording()
	assert.True(t, f.system.IsRecording())

	f.updateAt(1, 1)
	f.updateAt(2, 2)
	f.updateAt(10, 1)
	f.updateAt(25, 1)

	rec := f.system.Snapshot()
	require.Len(t, rec.Frames, 3)
	assert.Equal(t, 4, rec.EventCount())

	sink := &collector{}
	p, err := f.system.StopRecording(context.Background(), sink)
	require.NoError(t, err)
	p.Wait()

	replays := sink.replays()
	require.Len(t, replays, 4)
	frames := make([]int64, 0, len(replays))
	for _, r := range replays {
		assert.True(t, r.IsReplay)
		frames = append(frames, r.Frame)
	}
	assert.Equal(t, []int64{0, 0, 1, 2}, frames, "корзины воспроизводятся по возрастанию кадра")
	assert.Equal(t, entity.ID(2), replays[1].Snapshot.ID, "порядок внутри корзины сохраняется")
	assert.Equal(t, 4, p.Delivered())
	assert.Equal(t, Idle, f.system.State())
	assert.Empty(t, f.system.Snapshot().Frames, "записанное состояние очищено")

	t.Run("повторная остановка", func(t *testing.T) {
		_, err := f.system.StopRecording(context.Background(), sink)
		assert.ErrorIs(t, err, ErrNotRecording)
	})
}

func TestReplayEventsAreNotRecorded(t *testing.T) {
	f := newFixture(WithInterval(0))
	f.system.StartRecording()
	f.updateAt(0, 1)

	// воспроизведение обратно в тот же менеджер не попадает в новую запись
	p, err := f.system.StopRecording(context.Background(), f.manager)
	require.NoError(t, err)
	p.Wait()

	f.system.StartRecording()
	assert.Equal(t, 1, f.manager.Process())
	assert.Empty(t, f.system.Snapshot().Frames)
}

func TestPlaybackCancel(t *testing.T) {
	record := func(f *fixture) {
		f.system.StartRecording()
		f.updateAt(0, 1)
		f.updateAt(10, 1)
		f.updateAt(20, 1)
	}

	t.Run("Cancel", func(t *testing.T) {
		f := newFixture(WithInterval(time.Hour))
		record(f)
		sink := &collector{}
		p, err := f.system.StopRecording(context.Background(), sink)
		require.NoError(t, err)
		assert.True(t, f.system.IsReplaying())

		require.Eventually(t, func() bool { return p.Delivered() == 1 }, time.Second, time.Millisecond)
		p.Cancel()
		select {
		case <-p.Done():
		case <-time.After(time.Second):
			t.Fatal("воспроизведение не остановилось")
		}
		assert.Equal(t, 1, p.Delivered())
		assert.Equal(t, Idle, f.system.State())
	})

	t.Run("контекст", func(t *testing.T) {
		f := newFixture(WithInterval(time.Hour))
		record(f)
		ctx, cancel := context.WithCancel(context.Background())
		p, err := f.system.StopRecording(ctx, &collector{})
		require.NoError(t, err)
		cancel()
		p.Wait()
		assert.Less(t, p.Delivered(), 3)
	})

	t.Run("StartRecording прерывает воспроизведение", func(t *testing.T) {
		f := newFixture(WithInterval(time.Hour))
		record(f)
		p, err := f.system.StopRecording(context.Background(), &collector{})
		require.NoError(t, err)

		f.system.StartRecording()
		p.Wait()
		assert.Equal(t, StateRecording, f.system.State(), "старое воспроизведение не сбрасывает новое состояние")

		_, err = f.system.Play(context.Background(), &Recording{}, &collector{})
		assert.ErrorIs(t, err, ErrBusy)
	})
}

func sampleRecording() *Recording {
	e1 := entity.NewRect(vec.Vec2Float{X: 1.5, Y: -2.25}, entity.Size{Width: 50, Height: 20}, entity.Color{R: 1, G: 2, B: 3, A: 4})
	e1.ID = 7
	e1.Velocity = vec.Vec2Float{X: -50}
	e1.Acceleration = vec.Vec2Float{Y: 9.8}
	e1.Type = entity.Elastic
	e1.Rotation = 0.5
	e1.TexturePath = "assets/a|b.png"

	e2 := entity.NewRect(vec.Vec2Float{}, entity.Size{Width: 1600, Height: 10}, entity.Green)
	e2.ID = 8
	e2.Type = entity.Ghost
	e2.Zone = entity.ZoneDeath

	return &Recording{
		ID:            uuid.New(),
		CreatedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		FrameDuration: DefaultFrameDuration,
		Frames: []Frame{
			{Index: 0, Snapshots: []entity.Entity{e1, e2}},
			{Index: 3, Snapshots: []entity.Entity{e1}},
		},
	}
}

func TestRecordingCodec(t *testing.T) {
	rec := sampleRecording()
	blob, err := EncodeRecording(rec)
	require.NoError(t, err)

	got, err := DecodeRecording(blob)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	t.Run("повреждение обнаруживается", func(t *testing.T) {
		broken := append([]byte(nil), blob...)
		broken[len(broken)/2] ^= 0xff
		_, err := DecodeRecording(broken)
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("слишком короткий блоб", func(t *testing.T) {
		_, err := DecodeRecording([]byte{1, 2, 3})
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})
}

// storeRoundTrip общий сценарий Save/Load/List/Delete для любого Store
func storeRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	rec := sampleRecording()
	older := sampleRecording()
	older.CreatedAt = rec.CreatedAt.Add(-time.Hour)
	older.Frames = older.Frames[:1]

	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Save(ctx, older))

	got, err := store.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID, "список упорядочен по времени создания")
	assert.Equal(t, 3, list[1].Events)
	assert.Equal(t, 2, list[1].Frames)

	require.NoError(t, store.Delete(ctx, rec.ID))
	_, err = store.Load(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrRecordingNotFound)
	assert.ErrorIs(t, store.Delete(ctx, rec.ID), ErrRecordingNotFound)

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1, "сводка удаляется вместе с записью")
	assert.Equal(t, older.ID, list[0].ID)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	storeRoundTrip(t, store)
}

func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore("")
	require.NoError(t, err)
	defer store.Close()
	storeRoundTrip(t, store)

	t.Run("данные переживают переоткрытие", func(t *testing.T) {
		dir := t.TempDir()
		first, err := NewBadgerStore(dir)
		require.NoError(t, err)
		rec := sampleRecording()
		require.NoError(t, first.Save(context.Background(), rec))
		require.NoError(t, first.Close())

		second, err := NewBadgerStore(dir)
		require.NoError(t, err)
		defer second.Close()
		got, err := second.Load(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})
}

// TestRedisStore нужен доступный Redis (STATESYNC_TEST_REDIS или localhost:6379)
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("STATESYNC_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := NewRedisStore(ctx, RedisConfig{Addr: addr, KeyPrefix: "statesync:test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Skipf("Redis недоступен, тест пропущен: %v", err)
	}
	defer store.Close()
	defer store.client.Del(context.Background(), store.index())

	storeRoundTrip(t, store)
}

func TestStopRecordingPersists(t *testing.T) {
	store := NewMemoryStore()
	var saved []Summary
	f := newFixture(WithInterval(0), WithStore(store), WithSavedHook(func(s Summary) { saved = append(saved, s) }))

	f.system.StartRecording()
	f.updateAt(0, 1)
	f.updateAt(10, 2)
	p, err := f.system.StopRecording(context.Background(), &collector{})
	require.NoError(t, err)
	p.Wait()

	require.Len(t, saved, 1)
	assert.Equal(t, p.ID, saved[0].ID)

	rec, err := store.Load(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.EventCount())
	assert.Equal(t, int64(10), rec.FrameDuration)
}

// observingStore запоминает состояние системы в момент сохранения
type observingStore struct {
	*MemoryStore
	system *System
	seen   State
}

func (o *observingStore) Save(ctx context.Context, r *Recording) error {
	o.seen = o.system.State()
	return o.MemoryStore.Save(ctx, r)
}

func TestStopRecordingGoesStraightToReplaying(t *testing.T) {
	store := &observingStore{MemoryStore: NewMemoryStore(), seen: -1}
	f := newFixture(WithInterval(0), WithStore(store))
	store.system = f.system

	f.system.StartRecording()
	f.updateAt(0, 1)
	p, err := f.system.StopRecording(context.Background(), &collector{})
	require.NoError(t, err)
	p.Wait()

	assert.Equal(t, Replaying, store.seen, "между записью и воспроизведением нет Idle")
	assert.Equal(t, Idle, f.system.State())
}
