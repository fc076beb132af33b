package events

import (
	"container/heap"
	"sync"

	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/timeline"
)

// Handler обработчик события. Получает копию события.
type Handler func(ev Event)

// Raiser принимает события для отложенной доставки
type Raiser interface {
	Raise(ev Event)
	RaiseWithDelay(ev Event, delay int64)
}

// Manager очередь событий с доставкой по логическому времени.
// Обработчики вызываются вне блокировки и могут порождать новые события.
type Manager struct {
	mu       sync.Mutex
	tl       *timeline.Timeline
	queue    eventQueue
	seq      uint64
	handlers [typeCount][]Handler

	logger  *logging.Logger
	metrics *Metrics
}

// ManagerOption настраивает Manager
type ManagerOption func(*Manager)

func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager создаёт менеджер, работающий по шкале tl
func NewManager(tl *timeline.Timeline, opts ...ManagerOption) *Manager {
	m := &Manager{
		tl:     tl,
		logger: logging.GetComponentLogger("events"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeline шкала времени менеджера
func (m *Manager) Timeline() *timeline.Timeline {
	return m.tl
}

// Register добавляет обработчик для типа событий
func (m *Manager) Register(t Type, h Handler) {
	if t >= typeCount || h == nil {
		return
	}
	m.mu.Lock()
	m.handlers[t] = append(m.handlers[t], h)
	m.mu.Unlock()
}

// Raise ставит событие в очередь с текущим логическим временем
func (m *Manager) Raise(ev Event) {
	m.push(ev, m.tl.Time())
}

// RaiseWithDelay ставит событие в очередь на момент now+delay
func (m *Manager) RaiseWithDelay(ev Event, delay int64) {
	if delay < 0 {
		delay = 0
	}
	m.push(ev, m.tl.Time()+delay)
}

// RaiseAt ставит событие с явной меткой времени
func (m *Manager) RaiseAt(ev Event, timestamp int64) {
	m.push(ev, timestamp)
}

func (m *Manager) push(ev Event, ts int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ev.seq = m.seq
	ev.Timestamp = ts
	heap.Push(&m.queue, ev)
}

// Process доставляет все события с меткой <= текущего времени.
// События, поставленные обработчиками во время вызова, ждут следующего Process.
// Возвращает количество доставленных событий.
func (m *Manager) Process() int {
	now := m.tl.Time()

	m.mu.Lock()
	barrier := m.seq
	m.mu.Unlock()

	delivered := 0
	var deferred []Event
	for {
		m.mu.Lock()
		if len(m.queue) == 0 || m.queue[0].Timestamp > now {
			m.mu.Unlock()
			break
		}
		ev := heap.Pop(&m.queue).(Event)
		if ev.seq > barrier {
			// поставлено обработчиком в этом вызове
			deferred = append(deferred, ev)
			m.mu.Unlock()
			continue
		}
		handlers := m.handlers[ev.Type]
		m.mu.Unlock()

		m.dispatch(ev, handlers)
		delivered++
	}

	if len(deferred) > 0 {
		m.mu.Lock()
		for _, ev := range deferred {
			heap.Push(&m.queue, ev)
		}
		m.mu.Unlock()
	}

	m.metrics.setPending(m.Pending())
	return delivered
}

func (m *Manager) dispatch(ev Event, handlers []Handler) {
	m.metrics.observeDispatch(ev.Type)
	for _, h := range handlers {
		m.invoke(h, ev)
	}
}

func (m *Manager) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.observePanic(ev.Type)
			m.logger.Error("Паника в обработчике события %s (t=%d): %v", ev.Type, ev.Timestamp, r)
		}
	}()
	h(ev)
}

// Pending количество событий в очереди
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Clear удаляет все ожидающие события
func (m *Manager) Clear() {
	m.mu.Lock()
	m.queue = nil
	m.mu.Unlock()
}

// OnCollision регистрирует обработчик столкновений
func (m *Manager) OnCollision(fn func(Collision)) {
	m.Register(TypeCollision, func(ev Event) {
		if p, ok := ev.AsCollision(); ok {
			fn(p)
		}
	})
}

// OnDeath регистрирует обработчик гибели
func (m *Manager) OnDeath(fn func(Death)) {
	m.Register(TypeDeath, func(ev Event) {
		if p, ok := ev.AsDeath(); ok {
			fn(p)
		}
	})
}

// OnSpawn регистрирует обработчик появления
func (m *Manager) OnSpawn(fn func(Spawn)) {
	m.Register(TypeSpawn, func(ev Event) {
		if p, ok := ev.AsSpawn(); ok {
			fn(p)
		}
	})
}

// OnInput регистрирует обработчик ввода
func (m *Manager) OnInput(fn func(Input)) {
	m.Register(TypeInput, func(ev Event) {
		if p, ok := ev.AsInput(); ok {
			fn(p)
		}
	})
}

// OnEntityUpdate регистрирует обработчик обновлений сущностей
func (m *Manager) OnEntityUpdate(fn func(EntityUpdate)) {
	m.Register(TypeEntityUpdate, func(ev Event) {
		if p, ok := ev.AsEntityUpdate(); ok {
			fn(p)
		}
	})
}

// OnReplay регистрирует обработчик воспроизведения
func (m *Manager) OnReplay(fn func(Replay)) {
	m.Register(TypeReplay, func(ev Event) {
		if p, ok := ev.AsReplay(); ok {
			fn(p)
		}
	})
}
