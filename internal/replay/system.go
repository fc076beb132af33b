package replay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/timeline"
)

var (
	ErrNotRecording = errors.New("replay: запись не ведётся")
	ErrBusy         = errors.New("replay: идёт запись")
)

// DefaultInterval пауза между кадрами при воспроизведении
const DefaultInterval = time.Second / 60

// State состояние системы записи
type State int32

const (
	Idle State = iota
	StateRecording
	Replaying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case StateRecording:
		return "recording"
	case Replaying:
		return "replaying"
	default:
		return "unknown"
	}
}

// System записывает обновления сущностей по кадрам и воспроизводит их.
// Состояния Idle, Recording и Replaying взаимоисключающие.
type System struct {
	mu sync.Mutex

	tl            *timeline.Timeline
	frameDuration int64
	interval      time.Duration
	store         Store
	logger        *logging.Logger
	onSaved       func(Summary)

	state    State
	started  time.Time
	buckets  map[int64][]entity.Entity
	playback *Playback
}

// Option настраивает System
type Option func(*System)

// WithFrameDuration длительность кадра в логических единицах шкалы
func WithFrameDuration(d int64) Option {
	return func(s *System) {
		if d > 0 {
			s.frameDuration = d
		}
	}
}

// WithInterval пауза между кадрами при воспроизведении
func WithInterval(d time.Duration) Option {
	return func(s *System) {
		if d >= 0 {
			s.interval = d
		}
	}
}

// WithStore сохранять законченные записи перед воспроизведением
func WithStore(store Store) Option {
	return func(s *System) { s.store = store }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *System) { s.logger = l }
}

// WithSavedHook вызывается после успешного сохранения записи
func WithSavedHook(fn func(Summary)) Option {
	return func(s *System) { s.onSaved = fn }
}

// NewSystem создаёт систему записи поверх шкалы tl
func NewSystem(tl *timeline.Timeline, opts ...Option) *System {
	s := &System{
		tl:            tl,
		frameDuration: DefaultFrameDuration,
		interval:      DefaultInterval,
		logger:        logging.GetReplayLogger(),
		buckets:       make(map[int64][]entity.Entity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register подписывает систему на обновления сущностей
func (s *System) Register(m *events.Manager) {
	m.Register(events.TypeEntityUpdate, s.Handle)
}

// StartRecording начинает новую запись. Идущее воспроизведение отменяется.
func (s *System) StartRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playback != nil {
		s.playback.Cancel()
		s.playback = nil
	}
	s.state = StateRecording
	s.started = time.Now().UTC()
	s.buckets = make(map[int64][]entity.Entity)
	s.logger.Info("⏺ Запись начата")
}

// Handle сохраняет снимок в корзину текущего кадра
func (s *System) Handle(ev events.Event) {
	u, ok := ev.AsEntityUpdate()
	if !ok {
		return
	}
	frame := s.tl.Time() / s.frameDuration

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	s.buckets[frame] = append(s.buckets[frame], u.Snapshot)
}

// snapshotLocked собирает кадры по возрастанию индекса. Требует s.mu.
func (s *System) snapshotLocked(id uuid.UUID) *Recording {
	rec := &Recording{
		ID:            id,
		CreatedAt:     s.started,
		FrameDuration: s.frameDuration,
		Frames:        make([]Frame, 0, len(s.buckets)),
	}
	for idx, snaps := range s.buckets {
		rec.Frames = append(rec.Frames, Frame{Index: idx, Snapshots: append([]entity.Entity(nil), snaps...)})
	}
	sort.Slice(rec.Frames, func(i, j int) bool { return rec.Frames[i].Index < rec.Frames[j].Index })
	return rec
}

// Snapshot текущая (незаконченная) запись
func (s *System) Snapshot() *Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(uuid.Nil)
}

// StopRecording завершает запись, сохраняет её в хранилище (если задано)
// и запускает воспроизведение в отдельной горутине. Система переходит
// из Recording сразу в Replaying.
func (s *System) StopRecording(ctx context.Context, raiser events.Raiser) (*Playback, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	rec := s.snapshotLocked(uuid.New())
	s.buckets = make(map[int64][]entity.Entity)
	p, pctx := s.beginPlaybackLocked(ctx, rec.ID)
	s.mu.Unlock()

	s.logger.Info("⏹ Запись %s остановлена: кадров %d, событий %d", rec.ID, len(rec.Frames), rec.EventCount())
	s.persist(ctx, rec)
	go s.play(pctx, p, rec, raiser)
	return p, nil
}

func (s *System) persist(ctx context.Context, rec *Recording) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Error("Не удалось сохранить запись %s: %v", rec.ID, err)
		return
	}
	if s.onSaved != nil {
		s.onSaved(rec.Summary())
	}
}

// beginPlaybackLocked отменяет прежнее воспроизведение и переводит систему
// в Replaying. Требует s.mu.
func (s *System) beginPlaybackLocked(ctx context.Context, id uuid.UUID) (*Playback, context.Context) {
	if s.playback != nil {
		s.playback.Cancel()
	}
	pctx, cancel := context.WithCancel(ctx)
	p := &Playback{ID: id, cancel: cancel, done: make(chan struct{})}
	s.playback = p
	s.state = Replaying
	return p, pctx
}

// Play воспроизводит готовую запись. Во время записи возвращает ErrBusy,
// предыдущее воспроизведение отменяется.
func (s *System) Play(ctx context.Context, rec *Recording, raiser events.Raiser) (*Playback, error) {
	s.mu.Lock()
	if s.state == StateRecording {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	p, pctx := s.beginPlaybackLocked(ctx, rec.ID)
	s.mu.Unlock()

	go s.play(pctx, p, rec, raiser)
	return p, nil
}

func (s *System) play(ctx context.Context, p *Playback, rec *Recording, raiser events.Raiser) {
	defer func() {
		s.mu.Lock()
		if s.playback == p {
			s.playback = nil
			s.state = Idle
		}
		s.mu.Unlock()
		p.cancel()
		close(p.done)
		s.logger.Debug("Воспроизведение %s завершено: доставлено %d", rec.ID, p.Delivered())
	}()

	var timer *time.Timer
	for i, frame := range rec.Frames {
		for _, snap := range frame.Snapshots {
			if ctx.Err() != nil {
				return
			}
			raiser.Raise(events.New(events.Replay{Snapshot: snap, Frame: frame.Index, IsReplay: true}))
			p.delivered.Add(1)
		}
		if i == len(rec.Frames)-1 || s.interval == 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(s.interval)
			defer timer.Stop()
		} else {
			timer.Reset(s.interval)
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// State текущее состояние
func (s *System) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *System) IsRecording() bool { return s.State() == StateRecording }
func (s *System) IsReplaying() bool { return s.State() == Replaying }

// Store хранилище записей (может быть nil)
func (s *System) Store() Store {
	return s.store
}

// Playback управление идущим воспроизведением
type Playback struct {
	ID uuid.UUID

	cancel    context.CancelFunc
	done      chan struct{}
	delivered atomic.Int64
}

// Wait ждёт окончания воспроизведения
func (p *Playback) Wait() {
	<-p.done
}

// Cancel прерывает воспроизведение между событиями
func (p *Playback) Cancel() {
	p.cancel()
}

func (p *Playback) Done() <-chan struct{} {
	return p.done
}

// Delivered сколько событий уже поставлено в очередь
func (p *Playback) Delivered() int {
	return int(p.delivered.Load())
}
