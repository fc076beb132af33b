package timeline

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now atomic.Int64
}

func (c *fakeClock) Now() int64      { return c.now.Load() }
func (c *fakeClock) Advance(d int64) { c.now.Add(d) }

func newFake() (*fakeClock, Option) {
	c := &fakeClock{}
	return c, WithClock(c.Now)
}

func TestTimelineBasics(t *testing.T) {
	clock, opt := newFake()
	tl := New(opt)

	assert.Equal(t, int64(0), tl.Time())
	clock.Advance(100)
	assert.Equal(t, int64(100), tl.Time())

	t.Run("tic делит время", func(t *testing.T) {
		require.NoError(t, tl.ChangeTic(10))
		clock.Advance(100)
		assert.Equal(t, int64(110), tl.Time())
	})

	t.Run("скорость масштабирует время", func(t *testing.T) {
		require.NoError(t, tl.SetSpeed(2))
		clock.Advance(100)
		assert.Equal(t, int64(130), tl.Time())
	})
}

func TestTimelineMonotonic(t *testing.T) {
	clock, opt := newFake()
	tl := New(opt, WithTic(3), WithSpeed(0.7))

	prev := tl.Time()
	for i := 0; i < 1000; i++ {
		clock.Advance(int64(i % 7))
		cur := tl.Time()
		require.GreaterOrEqual(t, cur, prev, "время не должно убывать")
		prev = cur
	}
	// дробные тики не теряются при частых опросах
	total := int64(0)
	for i := 0; i < 1000; i++ {
		total += int64(i % 7)
	}
	assert.InDelta(t, float64(total)/3*0.7, float64(tl.Time()), 1)
}

func TestTimelinePause(t *testing.T) {
	clock, opt := newFake()
	tl := New(opt)

	clock.Advance(50)
	tl.Pause()
	frozen := tl.Time()
	assert.Equal(t, int64(50), frozen)
	assert.True(t, tl.IsPaused())

	clock.Advance(1_000_000)
	assert.Equal(t, frozen, tl.Time(), "на паузе время заморожено")

	tl.Pause() // повторная пауза ничего не меняет
	tl.Resume()
	assert.Equal(t, frozen, tl.Time(), "после снятия паузы нет скачка")

	clock.Advance(10)
	assert.Equal(t, frozen+10, tl.Time())
}

func TestTimelineReset(t *testing.T) {
	clock, opt := newFake()
	tl := New(opt)
	clock.Advance(500)
	tl.Pause()
	tl.Reset()

	assert.False(t, tl.IsPaused())
	assert.Equal(t, int64(0), tl.Time())
	clock.Advance(5)
	assert.Equal(t, int64(5), tl.Time())
}

func TestTimelineInvalidArguments(t *testing.T) {
	tl := New()
	assert.ErrorIs(t, tl.SetSpeed(-1), ErrInvalidSpeed)
	assert.ErrorIs(t, tl.ChangeTic(0), ErrInvalidTic)
	assert.ErrorIs(t, tl.ChangeTic(-5), ErrInvalidTic)
	assert.Equal(t, 1.0, tl.Speed())
	assert.Equal(t, int64(1), tl.Tic())
}

func TestTimelineAnchor(t *testing.T) {
	clock, opt := newFake()
	root := New(opt)
	child := New(WithAnchor(root), WithTic(2))

	clock.Advance(100)
	assert.Equal(t, int64(50), child.Time())

	t.Run("пауза родителя останавливает потомка", func(t *testing.T) {
		root.Pause()
		clock.Advance(100)
		assert.Equal(t, int64(50), child.Time())
		root.Resume()
	})

	t.Run("смена якоря сохраняет значение", func(t *testing.T) {
		other := New(opt)
		clock.Advance(40)
		before := child.Time()
		require.NoError(t, child.SetAnchor(other))
		assert.Equal(t, before, child.Time())
		clock.Advance(20)
		assert.Equal(t, before+10, child.Time())
	})

	t.Run("цикл привязки запрещён", func(t *testing.T) {
		a := New(opt)
		b := New(WithAnchor(a))
		assert.ErrorIs(t, a.SetAnchor(a), ErrAnchorCycle)
		assert.ErrorIs(t, a.SetAnchor(b), ErrAnchorCycle)
		assert.Nil(t, a.Anchor())
	})

	t.Run("встречная привязка из двух горутин", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			a, b := New(opt), New(opt)
			errs := make(chan error, 2)
			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); errs <- a.SetAnchor(b) }()
			go func() { defer wg.Done(); errs <- b.SetAnchor(a) }()
			wg.Wait()
			close(errs)

			failed := 0
			for err := range errs {
				if err != nil {
					assert.ErrorIs(t, err, ErrAnchorCycle)
					failed++
				}
			}
			require.Equal(t, 1, failed, "ровно одна привязка проходит")
			require.False(t, a.Anchor() == b && b.Anchor() == a, "цикл не образовался")
		}
	})
}

func TestTimelineConcurrent(t *testing.T) {
	clock, opt := newFake()
	tl := New(opt)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := int64(-1)
			for i := 0; i < 500; i++ {
				clock.Advance(1)
				cur := tl.Time()
				if cur < prev {
					t.Errorf("время убыло: %d < %d", cur, prev)
					return
				}
				prev = cur
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(4000), tl.Time())
}
