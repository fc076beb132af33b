// Package engine связывает мир, шкалу времени, очередь событий и физику
// в один шаг симуляции и игровой цикл.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/physics"
	"github.com/annel0/statesync/internal/timeline"
	"github.com/annel0/statesync/internal/vec"
)

// DefaultRespawnDelay задержка между гибелью и появлением в логических единицах (1 с при tic=1)
const DefaultRespawnDelay int64 = int64(time.Second)

// Simulation один авторитетный мир и системы, которые его продвигают
type Simulation struct {
	world      *entity.World
	events     *events.Manager
	tl         *timeline.Timeline
	collisions *physics.CollisionSystem
	integrator *physics.Integrator
	zones      *physics.SideScroller
	logger     *logging.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	players      func() map[entity.ID]bool
	owns         func(id entity.ID) bool
	focus        func() (entity.ID, bool)
	respawnDelay int64

	mu         sync.Mutex
	tick       uint64
	fatal      error
	respawning map[entity.ID]bool // погибшие, ждущие Spawn
}

// Option настраивает Simulation
type Option func(*Simulation)

func WithLogger(l *logging.Logger) Option {
	return func(s *Simulation) { s.logger = l }
}

func WithRand(rng *rand.Rand) Option {
	return func(s *Simulation) { s.rng = rng }
}

// WithPlayers источник множества сущностей-игроков (для зон гибели)
func WithPlayers(fn func() map[entity.ID]bool) Option {
	return func(s *Simulation) { s.players = fn }
}

// SetPlayers заменяет источник множества игроков. Вызывать до Run.
func (s *Simulation) SetPlayers(fn func() map[entity.ID]bool) {
	if fn == nil {
		fn = func() map[entity.ID]bool { return nil }
	}
	s.players = fn
}

// WithOwnership ограничивает симуляцию сущностями, которыми владеет участник
func WithOwnership(owns func(id entity.ID) bool) Option {
	return func(s *Simulation) { s.owns = owns }
}

// WithFocus сущность, входящая в зоны прокрутки
func WithFocus(fn func() (entity.ID, bool)) Option {
	return func(s *Simulation) { s.focus = fn }
}

// WithSideScroller зоны прокрутки мира
func WithSideScroller(z *physics.SideScroller) Option {
	return func(s *Simulation) { s.zones = z }
}

func WithRespawnDelay(d int64) Option {
	return func(s *Simulation) {
		if d >= 0 {
			s.respawnDelay = d
		}
	}
}

// NewSimulation создаёт симуляцию и регистрирует обработчики Death и Spawn
func NewSimulation(world *entity.World, manager *events.Manager, opts ...Option) *Simulation {
	s := &Simulation{
		world:        world,
		events:       manager,
		tl:           manager.Timeline(),
		collisions:   physics.NewCollisionSystem(),
		integrator:   physics.NewIntegrator(),
		zones:        physics.NewSideScroller(),
		logger:       logging.GetEngineLogger(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		players:      func() map[entity.ID]bool { return nil },
		respawnDelay: DefaultRespawnDelay,
		respawning:   make(map[entity.ID]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	manager.OnDeath(s.onDeath)
	manager.OnSpawn(s.onSpawn)
	return s
}

func (s *Simulation) World() *entity.World        { return s.world }
func (s *Simulation) Events() *events.Manager     { return s.events }
func (s *Simulation) Timeline() *timeline.Timeline { return s.tl }
func (s *Simulation) Zones() *physics.SideScroller { return s.zones }

// Owns сообщает, продвигает ли эта симуляция сущность id
func (s *Simulation) Owns(id entity.ID) bool {
	return s.owns == nil || s.owns(id)
}

// Tick номер последнего выполненного шага
func (s *Simulation) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// SetSpeed меняет скорость шкалы времени
func (s *Simulation) SetSpeed(speed float64) error {
	return s.tl.SetSpeed(speed)
}

func (s *Simulation) setFatal(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
}

func (s *Simulation) setRespawning(id entity.ID, on bool) {
	s.mu.Lock()
	if on {
		s.respawning[id] = true
	} else {
		delete(s.respawning, id)
	}
	s.mu.Unlock()
}

func (s *Simulation) isRespawning(id entity.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.respawning[id]
}

func (s *Simulation) takeFatal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// onDeath останавливает сущность и ставит её появление с задержкой.
// До Spawn сущность не может погибнуть повторно.
func (s *Simulation) onDeath(d events.Death) {
	s.setRespawning(d.Entity, true)
	err := s.world.Update(d.Entity, func(e *entity.Entity) {
		e.Velocity = vec.Vec2Float{}
	})
	if err != nil {
		s.setRespawning(d.Entity, false)
		s.logger.Debug("Death для отсутствующей сущности %d", d.Entity)
		return
	}
	s.logger.Info("💀 Сущность %d погибла, появление в (%.1f, %.1f)", d.Entity, d.Respawn.X, d.Respawn.Y)
	s.events.RaiseWithDelay(events.New(events.Spawn{Entity: d.Entity, Position: d.Respawn}), s.respawnDelay)
}

func (s *Simulation) onSpawn(sp events.Spawn) {
	s.setRespawning(sp.Entity, false)
	err := s.world.Update(sp.Entity, func(e *entity.Entity) {
		e.Position = sp.Position
		e.Velocity = vec.Vec2Float{}
	})
	if err != nil {
		s.logger.Debug("Spawn для отсутствующей сущности %d", sp.Entity)
	}
}

// SpawnPosition случайная точка внутри случайной зоны появления мира
func (s *Simulation) SpawnPosition(size entity.Size) (vec.Vec2Float, error) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return physics.SpawnPosition(s.rng, s.world.SpawnZones(), size)
}

// Step выполняет один шаг: события, столкновения, интегрирование,
// зоны гибели, прокрутка и публикация обновлений.
func (s *Simulation) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.events.Process()
	if err := s.takeFatal(); err != nil {
		return err
	}

	players := s.players()
	dt := physics.BaseDeltaTime * s.tl.Speed()
	if s.tl.IsPaused() {
		dt = 0
	}

	var raised []events.Event
	var spawnZones []entity.Entity
	err := s.world.Mutate(func(all []*entity.Entity) error {
		owned := all
		if s.owns != nil {
			owned = make([]*entity.Entity, 0, len(all))
			for _, e := range all {
				if s.owns(e.ID) {
					owned = append(owned, e)
				}
			}
		}

		collided, pairs, err := s.collisions.Run(owned)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			raised = append(raised, events.New(events.Collision{A: p.A, B: p.B}))
		}

		if dt > 0 {
			s.integrator.Step(dt, owned, collided)
		}

		if len(players) > 0 {
			ownedPlayers := make(map[entity.ID]bool, len(players))
			for id := range players {
				if s.Owns(id) && !s.isRespawning(id) {
					ownedPlayers[id] = true
				}
			}
			hits, err := s.collisions.DeathZoneHits(all, ownedPlayers)
			if err != nil {
				return err
			}
			if len(hits) > 0 {
				for _, e := range all {
					if e.Zone == entity.ZoneSpawn {
						spawnZones = append(spawnZones, *e)
					}
				}
			}
			for _, id := range hits {
				s.rngMu.Lock()
				pos, err := physics.SpawnPosition(s.rng, spawnZones, physics.PlayerSize)
				s.rngMu.Unlock()
				if err != nil {
					return err
				}
				s.setRespawning(id, true)
				raised = append(raised, events.New(events.Death{Entity: id, Respawn: pos}))
			}
		}

		if s.focus != nil && s.zones.Len() > 0 {
			if id, ok := s.focus(); ok {
				for _, e := range all {
					if e.ID == id {
						s.zones.Process(e, all)
						break
					}
				}
			}
		}

		for _, e := range owned {
			if e.Type != entity.Fixed {
				raised = append(raised, events.New(events.EntityUpdate{Snapshot: *e}))
			}
		}
		return nil
	})
	if err != nil {
		s.setFatal(err)
		return fmt.Errorf("шаг симуляции: %w", err)
	}

	for _, ev := range raised {
		s.events.Raise(ev)
	}

	s.mu.Lock()
	s.tick++
	s.mu.Unlock()
	return nil
}

// Run выполняет Step с частотой interval до отмены ctx или фатальной ошибки
func (s *Simulation) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("▶ Симуляция запущена (шаг %v)", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("⏹ Симуляция остановлена на шаге %d", s.Tick())
			return nil
		case <-ticker.C:
			if err := s.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
