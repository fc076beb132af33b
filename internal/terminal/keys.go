// Package terminal отрисовка мира и чтение клавиш через tcell.
package terminal

import (
	"sort"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/annel0/statesync/internal/replication"
)

// DefaultHold сколько клавиша считается нажатой после последнего события.
// Терминал не сообщает об отпускании, автоповтор обновляет отметку.
const DefaultHold = 150 * time.Millisecond

// KeySource множество нажатых кнопок по событиям tcell
type KeySource struct {
	mu      sync.Mutex
	hold    time.Duration
	now     func() time.Time
	pressed map[string]time.Time
	pause   bool
	quit    bool
}

type KeyOption func(*KeySource)

func WithHold(d time.Duration) KeyOption {
	return func(k *KeySource) {
		if d > 0 {
			k.hold = d
		}
	}
}

func WithKeyClock(now func() time.Time) KeyOption {
	return func(k *KeySource) { k.now = now }
}

func NewKeySource(opts ...KeyOption) *KeySource {
	k := &KeySource{
		hold:    DefaultHold,
		now:     time.Now,
		pressed: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func buttonFor(key tcell.Key, r rune) string {
	switch key {
	case tcell.KeyLeft:
		return replication.ButtonLeft
	case tcell.KeyRight:
		return replication.ButtonRight
	case tcell.KeyUp:
		return replication.ButtonUp
	case tcell.KeyDown:
		return replication.ButtonDown
	case tcell.KeyRune:
		switch r {
		case 'a', 'A':
			return replication.ButtonLeft
		case 'd', 'D':
			return replication.ButtonRight
		case 'w', 'W':
			return replication.ButtonUp
		case 's', 'S':
			return replication.ButtonDown
		}
	}
	return ""
}

// Press учитывает нажатие. Esc, Ctrl+C и q означают выход, p переключает паузу.
func (k *KeySource) Press(key tcell.Key, r rune) {
	k.mu.Lock()
	defer k.mu.Unlock()

	switch {
	case key == tcell.KeyEscape || key == tcell.KeyCtrlC || (key == tcell.KeyRune && (r == 'q' || r == 'Q')):
		k.quit = true
		return
	case key == tcell.KeyRune && (r == 'p' || r == 'P'):
		k.pause = !k.pause
		return
	}
	if b := buttonFor(key, r); b != "" {
		k.pressed[b] = k.now()
	}
}

// Handle разбирает событие tcell; остальные события игнорируются
func (k *KeySource) Handle(ev tcell.Event) {
	if key, ok := ev.(*tcell.EventKey); ok {
		k.Press(key.Key(), key.Rune())
	}
}

// Pressed кнопки, нажатые не позже окна удержания, по алфавиту
func (k *KeySource) Pressed() []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	out := make([]string, 0, len(k.pressed))
	for b, at := range k.pressed {
		if now.Sub(at) > k.hold {
			delete(k.pressed, b)
			continue
		}
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

func (k *KeySource) Quit() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.quit
}

// Paused состояние переключателя паузы
func (k *KeySource) Paused() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pause
}

// Listen читает события экрана, пока PollEvent не вернёт nil (после Fini)
func (k *KeySource) Listen(screen tcell.Screen) {
	for {
		ev := screen.PollEvent()
		if ev == nil {
			return
		}
		k.Handle(ev)
	}
}
