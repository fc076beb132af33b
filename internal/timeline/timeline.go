// Package timeline реализует логические часы с масштабом, паузой и привязкой
// к родительской шкале времени.
package timeline

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrInvalidTic   = errors.New("timeline: tic должен быть > 0")
	ErrInvalidSpeed = errors.New("timeline: скорость не может быть отрицательной")
	ErrAnchorCycle  = errors.New("timeline: цикл привязки")
)

// Clock источник монотонного времени в наносекундах
type Clock func() int64

var processStart = time.Now()

// anchorMu делает проверку цикла и смену якоря одной операцией
var anchorMu sync.Mutex

// MonotonicClock наносекунды с момента старта процесса (монотонно)
func MonotonicClock() int64 {
	return int64(time.Since(processStart))
}

// Timeline логические часы. Безопасны для конкурентного использования.
type Timeline struct {
	mu sync.Mutex

	anchor *Timeline // не владеет
	clock  Clock
	tic    int64
	speed  float64
	paused bool

	// accum накопленное логическое время с дробной частью
	accum float64
	// lastSource показание источника на момент последнего сброса
	lastSource int64
}

// Option настраивает Timeline
type Option func(*Timeline)

// WithAnchor привязывает шкалу к родительской
func WithAnchor(anchor *Timeline) Option {
	return func(t *Timeline) { t.anchor = anchor }
}

// WithTic задаёт делитель (значения <= 0 игнорируются)
func WithTic(tic int64) Option {
	return func(t *Timeline) {
		if tic > 0 {
			t.tic = tic
		}
	}
}

// WithSpeed задаёт множитель скорости (отрицательные игнорируются)
func WithSpeed(speed float64) Option {
	return func(t *Timeline) {
		if speed >= 0 {
			t.speed = speed
		}
	}
}

// WithClock подменяет источник времени (для тестов)
func WithClock(clock Clock) Option {
	return func(t *Timeline) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// New создаёт Timeline; время начинается с нуля
func New(opts ...Option) *Timeline {
	t := &Timeline{
		clock: MonotonicClock,
		tic:   1,
		speed: 1.0,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastSource = t.source()
	return t
}

// source вызывается без блокировки t.mu для якоря: якорь имеет свой мьютекс
func (t *Timeline) source() int64 {
	if t.anchor != nil {
		return t.anchor.Time()
	}
	return t.clock()
}

// flush переносит прошедшее время источника в аккумулятор. Требует t.mu.
func (t *Timeline) flush() {
	cur := t.source()
	if t.paused {
		t.lastSource = cur
		return
	}
	elapsed := cur - t.lastSource
	if elapsed > 0 {
		t.accum += float64(elapsed) / float64(t.tic) * t.speed
	}
	t.lastSource = cur
}

// Time возвращает текущее логическое время
func (t *Timeline) Time() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		t.flush()
	}
	return int64(t.accum)
}

// Pause замораживает время; повторный вызов ничего не меняет
func (t *Timeline) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return
	}
	t.flush()
	t.paused = true
}

// Resume снимает паузу; время паузы не засчитывается
func (t *Timeline) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return
	}
	t.lastSource = t.source()
	t.paused = false
}

// Reset обнуляет время и снимает паузу
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accum = 0
	t.paused = false
	t.lastSource = t.source()
}

// SetSpeed меняет скорость, досчитав прошедшее время по старой
func (t *Timeline) SetSpeed(speed float64) error {
	if speed < 0 {
		return ErrInvalidSpeed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flush()
	t.speed = speed
	return nil
}

// ChangeTic меняет делитель, досчитав прошедшее время по старому
func (t *Timeline) ChangeTic(tic int64) error {
	if tic <= 0 {
		return ErrInvalidTic
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flush()
	t.tic = tic
	return nil
}

// SetAnchor меняет родительскую шкалу, сохраняя текущее значение.
// nil отвязывает шкалу и возвращает её к монотонным часам.
func (t *Timeline) SetAnchor(anchor *Timeline) error {
	anchorMu.Lock()
	defer anchorMu.Unlock()
	for a := anchor; a != nil; a = a.Anchor() {
		if a == t {
			return ErrAnchorCycle
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flush()
	t.anchor = anchor
	t.lastSource = t.source()
	return nil
}

// Anchor возвращает родительскую шкалу или nil
func (t *Timeline) Anchor() *Timeline {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.anchor
}

func (t *Timeline) Speed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}

func (t *Timeline) Tic() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tic
}

func (t *Timeline) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}
