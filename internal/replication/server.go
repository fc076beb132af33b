package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/annel0/statesync/internal/engine"
	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/eventbus"
	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/network"
	"github.com/annel0/statesync/internal/observability"
	"github.com/annel0/statesync/internal/physics"
	"github.com/annel0/statesync/internal/protocol"
	"github.com/annel0/statesync/internal/replay"
	"github.com/annel0/statesync/internal/timeline"
)

// ClientID идентификатор подключённого клиента
type ClientID int64

// Кнопки ввода клиента
const (
	ButtonLeft  = "left"
	ButtonRight = "right"
	ButtonUp    = "up"
	ButtonDown  = "down"
)

var (
	ErrNotBound = errors.New("replication: каналы сервера не открыты")
	errNoSlot   = errors.New("replication: нет свободных слотов")
)

type clientState struct {
	entity   entity.ID
	slot     int
	lastSeen time.Time
}

// Server авторитетный сервер: принимает рукопожатия и ввод, следит за
// heartbeat и рассылает полное состояние мира каждый тик.
type Server struct {
	opts      options
	world     *entity.World
	transport network.Transport
	sim       *engine.Simulation
	replay    *replay.System
	logger    *logging.Logger
	tracer    trace.Tracer

	entityPub    network.Publisher
	inputSub     network.Subscriber
	handshake    network.Responder
	heartbeatSub network.Subscriber
	controlPub   network.Publisher

	mu         sync.Mutex
	nextClient ClientID
	clients    map[ClientID]*clientState
	owners     map[entity.ID]ClientID
	tick       uint64
}

// NewServer создаёт сервер поверх мира world. Каналы открывает Bind или Run.
func NewServer(world *entity.World, transport network.Transport, opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetServerLogger()
	}
	if o.source == "" {
		o.source = "server"
	}

	s := &Server{
		opts:       o,
		world:      world,
		transport:  transport,
		logger:     o.logger,
		tracer:     observability.Tracer(),
		nextClient: 1,
		clients:    make(map[ClientID]*clientState),
		owners:     make(map[entity.ID]ClientID),
	}

	s.sim = o.sim
	if s.sim == nil {
		tl := timeline.New()
		manager := events.NewManager(tl, events.WithLogger(o.logger))
		simOpts := []engine.Option{engine.WithLogger(o.logger)}
		if o.rng != nil {
			simOpts = append(simOpts, engine.WithRand(o.rng))
		}
		s.sim = engine.NewSimulation(world, manager, simOpts...)
	}
	s.sim.SetPlayers(s.playerSet)

	replayOpts := append([]replay.Option{
		replay.WithLogger(o.logger),
		replay.WithSavedHook(s.recordingSaved),
	}, o.replayOpts...)
	s.replay = replay.NewSystem(s.sim.Timeline(), replayOpts...)
	s.replay.Register(s.sim.Events())
	// воспроизведённые снимки возвращаются в мир и уходят клиентам обычной рассылкой
	s.sim.Events().OnReplay(func(r events.Replay) {
		s.world.Upsert(r.Snapshot)
	})
	return s
}

// Bind открывает каналы сервера
func (s *Server) Bind(ctx context.Context) error {
	p := s.opts.ports
	var err error
	if s.entityPub, err = s.transport.NewPublisher(ctx, s.opts.endpoint("entity", p.EntityPub, true)); err != nil {
		return fmt.Errorf("канал рассылки: %w", err)
	}
	if s.inputSub, err = s.transport.NewSubscriber(ctx, s.opts.endpoint("input", p.Input, true), protocol.TopicInput); err != nil {
		return fmt.Errorf("канал ввода: %w", err)
	}
	if s.handshake, err = s.transport.NewResponder(ctx, s.opts.endpoint("handshake", p.Handshake, true)); err != nil {
		return fmt.Errorf("канал рукопожатия: %w", err)
	}
	if s.heartbeatSub, err = s.transport.NewSubscriber(ctx, s.opts.endpoint("heartbeat", p.Heartbeat, true), protocol.TopicHeartbeat); err != nil {
		return fmt.Errorf("канал heartbeat: %w", err)
	}
	if s.controlPub, err = s.transport.NewPublisher(ctx, s.opts.endpoint("control", p.Control, true)); err != nil {
		return fmt.Errorf("канал управления: %w", err)
	}
	s.logger.Info("🔌 Сервер слушает порты: рассылка %d, ввод %d, рукопожатие %d, heartbeat %d, управление %d",
		p.EntityPub, p.Input, p.Handshake, p.Heartbeat, p.Control)
	return nil
}

func (s *Server) bound() bool {
	return s.handshake != nil
}

// Close закрывает каналы сервера
func (s *Server) Close() error {
	return network.CloseAll(s.entityPub, s.inputSub, s.handshake, s.heartbeatSub, s.controlPub)
}

func (s *Server) Simulation() *engine.Simulation { return s.sim }
func (s *Server) Replay() *replay.System         { return s.replay }
func (s *Server) World() *entity.World           { return s.world }

// playerSet сущности подключённых клиентов
func (s *Server) playerSet() map[entity.ID]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[entity.ID]bool, len(s.owners))
	for id := range s.owners {
		set[id] = true
	}
	return set
}

// Clients количество подключённых клиентов
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// EntityOf сущность клиента
func (s *Server) EntityOf(id ClientID) (entity.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.clients[id]
	if !ok {
		return 0, false
	}
	return st.entity, true
}

// ServiceHandshakes обрабатывает все ожидающие запросы рукопожатия.
// Ошибка возвращается только при нарушении инварианта мира.
func (s *Server) ServiceHandshakes(ctx context.Context) error {
	if !s.bound() {
		return ErrNotBound
	}
	for {
		req, ok := s.handshake.Poll()
		if !ok {
			return nil
		}
		if err := s.handleHandshake(ctx, req); err != nil {
			return err
		}
	}
}

func (s *Server) handleHandshake(ctx context.Context, req *network.Request) error {
	if strings.TrimSpace(string(req.Payload)) != protocol.Connect {
		s.logger.Warn("Неизвестный запрос рукопожатия: %q", truncate(req.Payload))
		s.opts.metrics.ObserveHandshake("error")
		return s.reply(req, []byte(protocol.ErrorReply))
	}

	ctx, span := s.tracer.Start(ctx, "replication.handshake")
	defer span.End()

	e, slot, err := s.allocate()
	switch {
	case errors.Is(err, errNoSlot):
		s.logger.Warn("🚫 Сервер заполнен, отказ в подключении")
		s.opts.metrics.ObserveHandshake("full")
		span.SetAttributes(attribute.String("result", "full"))
		return s.reply(req, []byte(protocol.Full))
	case err != nil:
		s.opts.metrics.ObserveHandshake("full")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = s.reply(req, []byte(protocol.Full))
		return fmt.Errorf("рукопожатие: %w", err)
	}

	s.mu.Lock()
	id := s.nextClient
	s.nextClient++
	s.clients[id] = &clientState{entity: e.ID, slot: slot, lastSeen: s.opts.clock()}
	s.owners[e.ID] = id
	connected := len(s.clients)
	s.mu.Unlock()

	span.SetAttributes(attribute.Int64("client.id", int64(id)), attribute.Int64("entity.id", int64(e.ID)))
	s.opts.metrics.ObserveHandshake("ok")
	s.opts.metrics.SetConnected(connected)

	reply := protocol.EncodeHandshakeReply(protocol.HandshakeReply{
		ClientID: int64(id),
		EntityID: e.ID,
		Entities: s.world.Snapshot(),
	})
	if err := s.reply(req, reply); err != nil {
		return err
	}
	s.logger.Info("🔗 Клиент %d подключён, сущность %d (всего %d)", id, e.ID, connected)

	s.publishControl(ctx, protocol.NewConnection(e))
	notify(ctx, s.opts.bus, s.logger, s.opts.source, eventbus.Notice{
		Kind:          eventbus.KindClientConnected,
		ParticipantID: int64(id),
		EntityID:      int64(e.ID),
		At:            s.opts.clock().UTC(),
	})
	return nil
}

// allocate выделяет сущность игрока: слот пула или новая сущность в зоне появления
func (s *Server) allocate() (entity.Entity, int, error) {
	if pool := s.opts.pool; pool != nil {
		slot, tmpl, ok := pool.Acquire()
		if !ok {
			return entity.Entity{}, -1, errNoSlot
		}
		tmpl.ID = s.world.Spawn(tmpl)
		return tmpl, slot, nil
	}

	if s.opts.maxClients > 0 && s.Clients() >= s.opts.maxClients {
		return entity.Entity{}, -1, errNoSlot
	}
	pos, err := s.sim.SpawnPosition(physics.PlayerSize)
	if err != nil {
		return entity.Entity{}, -1, err
	}
	e := entity.NewRect(pos, physics.PlayerSize, entity.Red)
	e.ID = s.world.Spawn(e)
	return e, -1, nil
}

func (s *Server) reply(req *network.Request, payload []byte) error {
	if err := req.Reply(payload); err != nil {
		s.logger.Warn("Не удалось ответить на рукопожатие: %v", err)
	}
	return nil
}

func (s *Server) publishControl(ctx context.Context, msg protocol.ControlMessage) {
	if err := s.controlPub.Publish(ctx, protocol.TopicControl, msg.Marshal()); err != nil {
		s.logger.Warn("Не удалось опубликовать %s: %v", msg.Type, err)
	}
}

// DrainInputs применяет все ожидающие нажатия клавиш. Возвращает число применённых.
func (s *Server) DrainInputs() int {
	if !s.bound() {
		return 0
	}
	applied := 0
	for {
		m, ok := s.inputSub.Poll()
		if !ok {
			return applied
		}
		msg, err := protocol.DecodeControl(m.Payload)
		if err != nil || msg.Type != protocol.MsgKeyPress {
			s.opts.metrics.ObserveDecodeError("input", 1)
			s.logger.Debug("Пропуск сообщения ввода %q: %v", truncate(m.Payload), err)
			continue
		}
		if s.applyInput(ClientID(msg.ClientID), msg.ButtonPress) {
			applied++
		}
	}
}

func (s *Server) applyInput(id ClientID, button string) bool {
	if !validButton(button) {
		s.logger.Debug("Неизвестная кнопка %q от клиента %d", button, id)
		return false
	}
	eid, ok := s.EntityOf(id)
	if !ok {
		s.logger.Debug("Ввод от неизвестного клиента %d", id)
		return false
	}
	err := s.world.Update(eid, func(e *entity.Entity) {
		steer(e, button, s.opts.inputSpeed)
	})
	return err == nil
}

func validButton(button string) bool {
	switch button {
	case ButtonLeft, ButtonRight, ButtonUp, ButtonDown:
		return true
	}
	return false
}

// steer задаёт компоненту скорости по кнопке; вторая компонента не меняется
func steer(e *entity.Entity, button string, speed float64) {
	switch button {
	case ButtonLeft:
		e.Velocity.X = -speed
	case ButtonRight:
		e.Velocity.X = speed
	case ButtonUp:
		e.Velocity.Y = -speed
	case ButtonDown:
		e.Velocity.Y = speed
	}
}

// DrainHeartbeats обновляет время последнего heartbeat известных клиентов
func (s *Server) DrainHeartbeats() int {
	if !s.bound() {
		return 0
	}
	seen := 0
	for {
		m, ok := s.heartbeatSub.Poll()
		if !ok {
			return seen
		}
		msg, err := protocol.DecodeControl(m.Payload)
		if err != nil || msg.Type != protocol.MsgHeartbeat {
			s.opts.metrics.ObserveDecodeError("heartbeat", 1)
			continue
		}
		s.mu.Lock()
		if st, ok := s.clients[ClientID(msg.ClientID)]; ok {
			st.lastSeen = s.opts.clock()
			seen++
		}
		s.mu.Unlock()
	}
}

// MonitorHeartbeats отключает клиентов, молчащих дольше таймаута
func (s *Server) MonitorHeartbeats(ctx context.Context) []ClientID {
	now := s.opts.clock()
	var stale []ClientID
	s.mu.Lock()
	for id, st := range s.clients {
		if now.Sub(st.lastSeen) > s.opts.heartbeatTimeout {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	evicted := stale[:0]
	for _, id := range stale {
		s.logger.Warn("⏱️ Клиент %d не присылал heartbeat дольше %v", id, s.opts.heartbeatTimeout)
		if s.HandleDisconnect(ctx, id, ReasonHeartbeat) {
			s.opts.metrics.ObserveEviction()
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Причины отключения в уведомлениях шины
const (
	ReasonHeartbeat = "heartbeat"
	ReasonKicked    = "kicked"
)

// HandleDisconnect удаляет клиента и его сущность и оповещает остальных.
// false, если клиент уже отключён.
func (s *Server) HandleDisconnect(ctx context.Context, id ClientID, reason string) bool {
	s.mu.Lock()
	st, ok := s.clients[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.clients, id)
	delete(s.owners, st.entity)
	connected := len(s.clients)
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "replication.disconnect",
		trace.WithAttributes(attribute.Int64("client.id", int64(id)), attribute.Int64("entity.id", int64(st.entity))))
	defer span.End()

	s.world.Remove(st.entity)
	if s.opts.pool != nil {
		s.opts.pool.Release(st.slot)
	}
	s.opts.metrics.SetConnected(connected)

	if s.controlPub != nil {
		s.publishControl(ctx, protocol.Disconnect(st.entity))
	}
	notify(ctx, s.opts.bus, s.logger, s.opts.source, eventbus.Notice{
		Kind:          eventbus.KindClientDisconnected,
		ParticipantID: int64(id),
		EntityID:      int64(st.entity),
		Reason:        reason,
		At:            s.opts.clock().UTC(),
	})
	s.logger.Info("👋 Клиент %d отключён (%s), сущность %d удалена", id, reason, st.entity)
	return true
}

// Broadcast рассылает полный снимок мира с номером тика
func (s *Server) Broadcast(ctx context.Context) error {
	if !s.bound() {
		return ErrNotBound
	}
	start := time.Now()
	s.mu.Lock()
	s.tick++
	tick := s.tick
	s.mu.Unlock()

	frame := protocol.EncodeServerFrame(tick, s.world.Snapshot())
	if err := s.entityPub.Publish(ctx, protocol.TopicEntityUpdate, frame); err != nil {
		return fmt.Errorf("рассылка тика %d: %w", tick, err)
	}
	s.opts.metrics.ObserveBroadcast(time.Since(start))
	return nil
}

// Tick один сетевой тик: рукопожатия, ввод, контроль heartbeat, рассылка
func (s *Server) Tick(ctx context.Context) error {
	if err := s.ServiceHandshakes(ctx); err != nil {
		return err
	}
	s.DrainInputs()
	s.MonitorHeartbeats(ctx)
	if err := s.Broadcast(ctx); err != nil {
		s.logger.Warn("%v", err)
	}
	return nil
}

// Run запускает симуляцию, сетевой цикл и приём heartbeat до отмены ctx.
func (s *Server) Run(ctx context.Context) error {
	if !s.bound() {
		if err := s.Bind(ctx); err != nil {
			return err
		}
	}
	defer s.Close()

	interval := s.opts.tickRate.Interval()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.sim.Run(gctx, interval)
	})
	g.Go(func() error {
		return every(gctx, interval, func() error { return s.Tick(gctx) })
	})
	g.Go(func() error {
		return every(gctx, heartbeatPoll, func() error {
			s.DrainHeartbeats()
			return nil
		})
	})

	s.logger.Info("🎮 Сервер запущен (%d Гц, таймаут heartbeat %v)", s.opts.tickRate, s.opts.heartbeatTimeout)
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("❌ Сервер остановлен с ошибкой: %v", err)
		return err
	}
	s.logger.Info("✅ Сервер остановлен")
	return nil
}

// Status сводка для админки
type Status struct {
	Tick           uint64  `json:"tick"`
	SimulationTick uint64  `json:"simulation_tick"`
	Clients        int     `json:"clients"`
	Entities       int     `json:"entities"`
	Speed          float64 `json:"speed"`
	Paused         bool    `json:"paused"`
	Replay         string  `json:"replay"`
}

func (s *Server) Status() Status {
	s.mu.Lock()
	tick := s.tick
	clients := len(s.clients)
	s.mu.Unlock()
	tl := s.sim.Timeline()
	return Status{
		Tick:           tick,
		SimulationTick: s.sim.Tick(),
		Clients:        clients,
		Entities:       s.world.Len(),
		Speed:          tl.Speed(),
		Paused:         tl.IsPaused(),
		Replay:         s.replay.State().String(),
	}
}

func (s *Server) SetSimulationSpeed(speed float64) error {
	return s.sim.SetSpeed(speed)
}

func (s *Server) Pause()  { s.sim.Timeline().Pause() }
func (s *Server) Resume() { s.sim.Timeline().Resume() }

// StartRecording начинает запись обновлений сущностей
func (s *Server) StartRecording() {
	s.replay.StartRecording()
}

// StopRecording завершает запись и запускает её воспроизведение в мир сервера
func (s *Server) StopRecording(ctx context.Context) (uuid.UUID, error) {
	// воспроизведение живёт дольше HTTP-запроса
	p, err := s.replay.StopRecording(context.WithoutCancel(ctx), s.sim.Events())
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

// Recordings сохранённые записи; без хранилища список пуст
func (s *Server) Recordings(ctx context.Context) ([]replay.Summary, error) {
	store := s.replay.Store()
	if store == nil {
		return nil, nil
	}
	return store.List(ctx)
}

func (s *Server) recordingSaved(sum replay.Summary) {
	notify(context.Background(), s.opts.bus, s.logger, s.opts.source, eventbus.Notice{
		Kind:        eventbus.KindRecordingSaved,
		RecordingID: sum.ID.String(),
		At:          s.opts.clock().UTC(),
	})
}

// every вызывает fn с периодом interval до отмены ctx или ошибки fn
func every(ctx context.Context, interval time.Duration, fn func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(); err != nil {
				return err
			}
		}
	}
}

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}
