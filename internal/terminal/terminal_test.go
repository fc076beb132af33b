package terminal

import (
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/replication"
	"github.com/annel0/statesync/internal/vec"
)

func newScreen(t *testing.T, w, h int) tcell.SimulationScreen {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, screen.Init())
	screen.SetSize(w, h)
	t.Cleanup(screen.Fini)
	return screen
}

func runeAt(s tcell.Screen, x, y int) rune {
	r, _, _, _ := s.GetContent(x, y)
	return r
}

func TestRendererDraw(t *testing.T) {
	screen := newScreen(t, 80, 25)
	r := NewRenderer(screen, 800, 480)

	floor := entity.NewRect(vec.Vec2Float{Y: 460}, entity.Size{Width: 800, Height: 20}, entity.White)
	floor.ID = 1
	floor.Type = entity.Fixed
	spawn := entity.NewRect(vec.Vec2Float{}, entity.Size{Width: 100, Height: 40}, entity.White)
	spawn.ID = 2
	spawn.Type = entity.Ghost
	spawn.Zone = entity.ZoneSpawn
	me := entity.NewRect(vec.Vec2Float{X: 400, Y: 200}, entity.Size{Width: 50, Height: 50}, entity.Red)
	me.ID = 3
	other := entity.NewRect(vec.Vec2Float{X: 50, Y: 0}, entity.Size{Width: 5, Height: 5}, entity.Blue)
	other.ID = 4

	r.Draw([]entity.Entity{me, other, floor, spawn}, me.ID, "tick 7")

	assert.Equal(t, runeZone, runeAt(screen, 0, 0))
	assert.Equal(t, runeBody, runeAt(screen, 5, 0), "подвижные поверх зон")
	assert.Equal(t, runeSolid, runeAt(screen, 79, 23))
	assert.Equal(t, runeOwn, runeAt(screen, 40, 10))
	assert.Equal(t, runeOwn, runeAt(screen, 44, 12))
	assert.Equal(t, ' ', runeAt(screen, 45, 12))
	assert.Equal(t, 't', runeAt(screen, 0, 24), "строка статуса внизу")
	assert.Equal(t, '7', runeAt(screen, 5, 24))

	t.Run("за пределами экрана", func(t *testing.T) {
		far := entity.NewRect(vec.Vec2Float{X: -500, Y: 5000}, entity.Size{Width: 10, Height: 10}, entity.Green)
		far.ID = 9
		assert.NotPanics(t, func() { r.Draw([]entity.Entity{far}, 0, "") })
	})

	t.Run("пустой мир", func(t *testing.T) {
		empty := NewRenderer(screen, 0, 0)
		assert.NotPanics(t, func() { empty.Draw(nil, 0, "x") })
	})
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestKeySource(t *testing.T) {
	c := &clock{t: time.Unix(100, 0)}
	k := NewKeySource(WithHold(100*time.Millisecond), WithKeyClock(c.now))

	k.Press(tcell.KeyLeft, 0)
	k.Press(tcell.KeyRune, 'w')
	k.Press(tcell.KeyRune, 'x')
	assert.Equal(t, []string{replication.ButtonLeft, replication.ButtonUp}, k.Pressed())

	c.t = c.t.Add(60 * time.Millisecond)
	k.Press(tcell.KeyLeft, 0)
	c.t = c.t.Add(60 * time.Millisecond)
	assert.Equal(t, []string{replication.ButtonLeft}, k.Pressed(), "повтор продлевает удержание")

	c.t = c.t.Add(time.Second)
	assert.Empty(t, k.Pressed())

	t.Run("пауза и выход", func(t *testing.T) {
		assert.False(t, k.Paused())
		k.Press(tcell.KeyRune, 'p')
		assert.True(t, k.Paused())
		k.Press(tcell.KeyRune, 'P')
		assert.False(t, k.Paused())

		assert.False(t, k.Quit())
		k.Press(tcell.KeyEscape, 0)
		assert.True(t, k.Quit())
	})

	t.Run("события экрана", func(t *testing.T) {
		screen := newScreen(t, 10, 5)
		ks := NewKeySource()
		done := make(chan struct{})
		go func() {
			ks.Listen(screen)
			close(done)
		}()
		screen.InjectKey(tcell.KeyRight, 0, tcell.ModNone)
		require.Eventually(t, func() bool {
			p := ks.Pressed()
			return len(p) == 1 && p[0] == replication.ButtonRight
		}, time.Second, time.Millisecond)
		screen.InjectKey(tcell.KeyCtrlC, 0, tcell.ModNone)
		require.Eventually(t, ks.Quit, time.Second, time.Millisecond)
	})
}
