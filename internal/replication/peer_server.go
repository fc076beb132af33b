package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/eventbus"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/network"
	"github.com/annel0/statesync/internal/observability"
	"github.com/annel0/statesync/internal/protocol"
)

var ErrNoPlayerPool = errors.New("replication: точке встречи нужен пул игроков")

type peerState struct {
	entity   entity.ID
	slot     int
	port     int
	lastSeen time.Time
}

// PeerServer точка встречи пиров: выдаёт id, слот игрока и список пиров,
// следит за heartbeat и объявляет выбывших. Состояние мира не рассылает.
type PeerServer struct {
	opts      options
	world     *entity.World
	pool      *PlayerPool
	transport network.Transport
	logger    *logging.Logger
	tracer    trace.Tracer

	responder    network.Responder
	controlPub   network.Publisher
	heartbeatSub network.Subscriber

	mu       sync.Mutex
	nextPeer int64
	peers    map[int64]*peerState
}

func NewPeerServer(world *entity.World, pool *PlayerPool, transport network.Transport, opts ...Option) *PeerServer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetPeerLogger()
	}
	if o.source == "" {
		o.source = "rendezvous"
	}
	return &PeerServer{
		opts:      o,
		world:     world,
		pool:      pool,
		transport: transport,
		logger:    o.logger,
		tracer:    observability.Tracer(),
		nextPeer:  1,
		peers:     make(map[int64]*peerState),
	}
}

// Bind открывает каналы точки встречи
func (ps *PeerServer) Bind(ctx context.Context) error {
	if ps.pool == nil {
		return ErrNoPlayerPool
	}
	p := ps.opts.ports
	var err error
	if ps.responder, err = ps.transport.NewResponder(ctx, ps.opts.endpoint("rendezvous", p.Rendezvous, true)); err != nil {
		return fmt.Errorf("канал точки встречи: %w", err)
	}
	if ps.controlPub, err = ps.transport.NewPublisher(ctx, ps.opts.endpoint("rendezvous_control", p.RendezvousControl, true)); err != nil {
		return fmt.Errorf("канал управления пирами: %w", err)
	}
	if ps.heartbeatSub, err = ps.transport.NewSubscriber(ctx, ps.opts.endpoint("rendezvous_heartbeat", p.RendezvousHeartbeat, true), protocol.TopicHeartbeat); err != nil {
		return fmt.Errorf("канал heartbeat пиров: %w", err)
	}
	ps.logger.Info("🤝 Точка встречи слушает %d (управление %d, heartbeat %d), слотов %d",
		p.Rendezvous, p.RendezvousControl, p.RendezvousHeartbeat, ps.pool.Cap())
	return nil
}

func (ps *PeerServer) Close() error {
	return network.CloseAll(ps.responder, ps.controlPub, ps.heartbeatSub)
}

// Peers количество живых пиров
func (ps *PeerServer) Peers() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.peers)
}

// HostPeerID живой пир с наименьшим id; 0 если пиров нет
func (ps *PeerServer) HostPeerID() int64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.hostLocked()
}

func (ps *PeerServer) hostLocked() int64 {
	var host int64
	for id := range ps.peers {
		if host == 0 || id < host {
			host = id
		}
	}
	return host
}

// ServiceHandshakes обрабатывает ожидающие запросы CONNECT
func (ps *PeerServer) ServiceHandshakes(ctx context.Context) error {
	if ps.responder == nil {
		return ErrNotBound
	}
	for {
		req, ok := ps.responder.Poll()
		if !ok {
			return nil
		}
		ps.handleHandshake(ctx, req)
	}
}

func (ps *PeerServer) handleHandshake(ctx context.Context, req *network.Request) {
	if strings.TrimSpace(string(req.Payload)) != protocol.Connect {
		ps.opts.metrics.ObserveHandshake("error")
		_ = req.Reply([]byte(protocol.ErrorReply))
		return
	}
	ctx, span := ps.tracer.Start(ctx, "replication.peer_handshake")
	defer span.End()

	slot, tmpl, ok := ps.pool.Acquire()
	if !ok {
		ps.logger.Warn("🚫 Все слоты пиров заняты")
		ps.opts.metrics.ObserveHandshake("full")
		_ = req.Reply([]byte(protocol.Full))
		return
	}
	tmpl.ID = ps.world.Spawn(tmpl)

	ps.mu.Lock()
	id := ps.nextPeer
	ps.nextPeer++
	roster := make(map[int64]protocol.RosterEntry, len(ps.peers))
	for pid, st := range ps.peers {
		roster[pid] = protocol.RosterEntry{Port: st.port, EntityID: st.entity}
	}
	port := ps.opts.ports.PeerBase + int(id)
	ps.peers[id] = &peerState{entity: tmpl.ID, slot: slot, port: port, lastSeen: ps.opts.clock()}
	host := ps.hostLocked()
	live := len(ps.peers)
	ps.mu.Unlock()

	span.SetAttributes(attribute.Int64("peer.id", id), attribute.Int64("peer.host", host))
	ps.opts.metrics.ObserveHandshake("ok")
	ps.opts.metrics.SetConnected(live)

	reply := protocol.EncodePeerHandshakeReply(protocol.PeerHandshakeReply{
		PeerID:     id,
		EntityID:   tmpl.ID,
		HostPeerID: host,
		Roster:     roster,
		Entities:   ps.world.Snapshot(),
	})
	if err := req.Reply(reply); err != nil {
		ps.logger.Warn("Не удалось ответить пиру %d: %v", id, err)
	}
	ps.logger.Info("🔗 Пир %d подключён: сущность %d, порт %d, хост %d", id, tmpl.ID, port, host)

	ps.publish(ctx, protocol.NewPeer(id, tmpl.ID, port))
	notify(ctx, ps.opts.bus, ps.logger, ps.opts.source, eventbus.Notice{
		Kind:          eventbus.KindPeerJoined,
		ParticipantID: id,
		EntityID:      int64(tmpl.ID),
		At:            ps.opts.clock().UTC(),
	})
}

func (ps *PeerServer) publish(ctx context.Context, msg protocol.ControlMessage) {
	if err := ps.controlPub.Publish(ctx, protocol.TopicControl, msg.Marshal()); err != nil {
		ps.logger.Warn("Не удалось опубликовать %s: %v", msg.Type, err)
	}
}

// DrainHeartbeats обновляет время последнего heartbeat пиров
func (ps *PeerServer) DrainHeartbeats() int {
	if ps.heartbeatSub == nil {
		return 0
	}
	seen := 0
	for {
		m, ok := ps.heartbeatSub.Poll()
		if !ok {
			return seen
		}
		msg, err := protocol.DecodeControl(m.Payload)
		if err != nil || msg.Type != protocol.MsgHeartbeat {
			ps.opts.metrics.ObserveDecodeError("rendezvous_heartbeat", 1)
			continue
		}
		ps.mu.Lock()
		if st, ok := ps.peers[msg.ClientID]; ok {
			st.lastSeen = ps.opts.clock()
			seen++
		}
		ps.mu.Unlock()
	}
}

// MonitorHeartbeats выселяет молчащих пиров и объявляет нового хоста
func (ps *PeerServer) MonitorHeartbeats(ctx context.Context) []int64 {
	now := ps.opts.clock()
	var evicted []int64

	ps.mu.Lock()
	type left struct {
		id int64
		st *peerState
	}
	var gone []left
	for id, st := range ps.peers {
		if now.Sub(st.lastSeen) > ps.opts.heartbeatTimeout {
			delete(ps.peers, id)
			gone = append(gone, left{id, st})
		}
	}
	host := ps.hostLocked()
	live := len(ps.peers)
	ps.mu.Unlock()

	for _, g := range gone {
		ps.world.Remove(g.st.entity)
		ps.pool.Release(g.st.slot)
		ps.opts.metrics.ObserveEviction()
		if ps.controlPub != nil {
			ps.publish(ctx, protocol.PeerLeft(g.id, g.st.entity, host))
		}
		notify(ctx, ps.opts.bus, ps.logger, ps.opts.source, eventbus.Notice{
			Kind:          eventbus.KindPeerLeft,
			ParticipantID: g.id,
			EntityID:      int64(g.st.entity),
			Reason:        ReasonHeartbeat,
			At:            now.UTC(),
		})
		ps.logger.Info("👋 Пир %d выбыл, сущность %d удалена, хост %d", g.id, g.st.entity, host)
		evicted = append(evicted, g.id)
	}
	if len(gone) > 0 {
		ps.opts.metrics.SetConnected(live)
	}
	return evicted
}

// Run обслуживает рукопожатия и heartbeat до отмены ctx
func (ps *PeerServer) Run(ctx context.Context) error {
	if ps.responder == nil {
		if err := ps.Bind(ctx); err != nil {
			return err
		}
	}
	defer ps.Close()

	err := every(ctx, ps.opts.tickRate.Interval(), func() error {
		if err := ps.ServiceHandshakes(ctx); err != nil {
			return err
		}
		ps.DrainHeartbeats()
		ps.MonitorHeartbeats(ctx)
		return nil
	})
	ps.logger.Info("✅ Точка встречи остановлена")
	return err
}
