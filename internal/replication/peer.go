package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/network"
	"github.com/annel0/statesync/internal/protocol"
)

// Peer участник peer-to-peer режима. Публикует сущности, которыми владеет:
// свою сущность игрока и, будучи хостом, все сущности не-игроков.
type Peer struct {
	opts      options
	transport network.Transport
	world     *entity.World
	logger    *logging.Logger

	requester    network.Requester
	pub          network.Publisher
	controlSub   network.Subscriber
	heartbeatPub network.Publisher

	mu       sync.Mutex
	peerID   int64
	entityID entity.ID
	hostID   int64
	tick     uint64
	subs     map[int64]network.Subscriber
	// entities сущности игроков других пиров
	entities  map[int64]entity.ID
	lastTicks map[int64]uint64
	dropped   int
}

func NewPeer(transport network.Transport, opts ...Option) *Peer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetPeerLogger()
	}
	if o.world == nil {
		o.world = entity.NewWorld()
	}
	return &Peer{
		opts:      o,
		transport: transport,
		world:     o.world,
		logger:    o.logger,
		subs:      make(map[int64]network.Subscriber),
		entities:  make(map[int64]entity.ID),
		lastTicks: make(map[int64]uint64),
	}
}

// Connect рукопожатие с точкой встречи, публикация на своём порту и
// подписка на всех известных пиров
func (p *Peer) Connect(ctx context.Context) error {
	ports := p.opts.ports
	req, err := p.transport.NewRequester(ctx, p.opts.endpoint("rendezvous", ports.Rendezvous, false))
	if err != nil {
		return fmt.Errorf("канал точки встречи: %w", err)
	}
	p.requester = req
	if p.controlSub, err = p.transport.NewSubscriber(ctx, p.opts.endpoint("rendezvous_control", ports.RendezvousControl, false), protocol.TopicControl); err != nil {
		return fmt.Errorf("подписка на управление: %w", err)
	}

	raw, err := req.Request(ctx, []byte(protocol.Connect))
	if err != nil {
		return fmt.Errorf("рукопожатие: %w", err)
	}
	reply, err := protocol.DecodePeerHandshakeReply(raw)
	if errors.Is(err, protocol.ErrFull) {
		return ErrServerFull
	}
	if err != nil {
		return fmt.Errorf("рукопожатие: %w", err)
	}

	port := ports.PeerBase + int(reply.PeerID)
	if p.pub, err = p.transport.NewPublisher(ctx, p.opts.endpoint("peer", port, true)); err != nil {
		return fmt.Errorf("канал публикации пира: %w", err)
	}
	if p.heartbeatPub, err = p.transport.NewPublisher(ctx, p.opts.endpoint("rendezvous_heartbeat", ports.RendezvousHeartbeat, false)); err != nil {
		return fmt.Errorf("канал heartbeat: %w", err)
	}

	for _, e := range reply.Entities {
		p.world.Upsert(e)
	}

	p.mu.Lock()
	p.peerID = reply.PeerID
	p.entityID = reply.EntityID
	p.hostID = reply.HostPeerID
	p.dropped += reply.Dropped
	for id, e := range reply.Roster {
		if id != reply.PeerID {
			p.entities[id] = e.EntityID
		}
	}
	p.mu.Unlock()

	for id, e := range reply.Roster {
		if err := p.subscribe(ctx, id, e.Port); err != nil {
			return err
		}
	}
	p.logger.Info("🔗 Пир %d: сущность %d, порт %d, хост %d, пиров в списке %d",
		reply.PeerID, reply.EntityID, port, reply.HostPeerID, len(reply.Roster))
	return nil
}

func (p *Peer) subscribe(ctx context.Context, id int64, port int) error {
	p.mu.Lock()
	_, exists := p.subs[id]
	self := id == p.peerID
	p.mu.Unlock()
	if exists || self {
		return nil
	}
	sub, err := p.transport.NewSubscriber(ctx, p.opts.endpoint("peer", port, false), protocol.TopicEntityUpdate)
	if err != nil {
		return fmt.Errorf("подписка на пира %d: %w", id, err)
	}
	p.mu.Lock()
	p.subs[id] = sub
	p.mu.Unlock()
	p.logger.Debug("Подписка на пира %d (порт %d)", id, port)
	return nil
}

func (p *Peer) PeerID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerID
}

func (p *Peer) EntityID() entity.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entityID
}

func (p *Peer) HostPeerID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hostID
}

// IsHost хост отвечает за сущности, которые не принадлежат игрокам
func (p *Peer) IsHost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerID != 0 && p.peerID == p.hostID
}

func (p *Peer) World() *entity.World { return p.world }

// Subscriptions количество пиров, на которых есть подписка
func (p *Peer) Subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Peer) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Players сущности игроков, известные пиру, включая свою
func (p *Peer) Players() map[entity.ID]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := make(map[entity.ID]bool, len(p.entities)+1)
	for _, id := range p.entities {
		set[id] = true
	}
	if p.entityID != 0 {
		set[p.entityID] = true
	}
	return set
}

// Owns сообщает, продвигает ли этот пир сущность id
func (p *Peer) Owns(id entity.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ownsLocked(id)
}

func (p *Peer) ownsLocked(id entity.ID) bool {
	if id == p.entityID {
		return true
	}
	if p.peerID == 0 || p.peerID != p.hostID {
		return false
	}
	for _, other := range p.entities {
		if other == id {
			return false
		}
	}
	return true
}

// BroadcastUpdates публикует сущности, которыми владеет пир
func (p *Peer) BroadcastUpdates(ctx context.Context) error {
	if p.pub == nil {
		return ErrNotConnected
	}
	snapshot := p.world.Snapshot()

	p.mu.Lock()
	p.tick++
	tick, id := p.tick, p.peerID
	owned := make([]entity.Entity, 0, len(snapshot))
	for _, e := range snapshot {
		if p.ownsLocked(e.ID) {
			owned = append(owned, e)
		}
	}
	p.mu.Unlock()

	return p.pub.Publish(ctx, protocol.TopicEntityUpdate, protocol.EncodePeerFrame(id, tick, owned))
}

// ReceiveUpdates применяет управляющие сообщения точки встречи и кадры
// других пиров. Возвращает число применённых записей.
func (p *Peer) ReceiveUpdates(ctx context.Context) int {
	if p.controlSub == nil {
		return 0
	}
	for {
		m, ok := p.controlSub.Poll()
		if !ok {
			break
		}
		p.applyControl(ctx, m.Payload)
	}

	p.mu.Lock()
	subs := make(map[int64]network.Subscriber, len(p.subs))
	for id, s := range p.subs {
		subs[id] = s
	}
	p.mu.Unlock()

	applied := 0
	for sender, sub := range subs {
		for {
			m, ok := sub.Poll()
			if !ok {
				break
			}
			frame, err := protocol.DecodeFrame(m.Payload)
			if err != nil || frame.PeerID != sender {
				p.countDrop(1)
				continue
			}
			p.countDrop(frame.Dropped)
			applied += p.applyFrame(frame)
		}
	}
	return applied
}

func (p *Peer) countDrop(n int) {
	if n == 0 {
		return
	}
	p.mu.Lock()
	p.dropped += n
	p.mu.Unlock()
	p.opts.metrics.ObserveDecodeError("peer", n)
}

func (p *Peer) applyFrame(f protocol.Frame) int {
	p.mu.Lock()
	if last, ok := p.lastTicks[f.PeerID]; ok && f.Tick <= last {
		p.mu.Unlock()
		return 0
	}
	p.lastTicks[f.PeerID] = f.Tick
	fold := make([]entity.Entity, 0, len(f.Entities))
	for _, e := range f.Entities {
		if !p.ownsLocked(e.ID) {
			fold = append(fold, e)
		}
	}
	p.mu.Unlock()

	for _, e := range fold {
		p.world.Upsert(e)
		if p.opts.manager != nil {
			p.opts.manager.Raise(events.New(events.EntityUpdate{Snapshot: e}))
		}
	}
	return len(fold)
}

func (p *Peer) applyControl(ctx context.Context, payload []byte) {
	msg, err := protocol.DecodeControl(payload)
	if err != nil {
		p.countDrop(1)
		return
	}
	switch msg.Type {
	case protocol.MsgNewPeer:
		p.mu.Lock()
		if msg.PeerID != p.peerID {
			p.entities[msg.PeerID] = entity.ID(msg.EntityID)
		}
		p.mu.Unlock()
		if err := p.subscribe(ctx, msg.PeerID, msg.Port); err != nil {
			p.logger.Warn("%v", err)
		}
	case protocol.MsgPeerLeft:
		p.mu.Lock()
		sub := p.subs[msg.PeerID]
		delete(p.subs, msg.PeerID)
		delete(p.entities, msg.PeerID)
		delete(p.lastTicks, msg.PeerID)
		wasHost := p.hostID == p.peerID
		p.hostID = msg.HostPeerID
		nowHost := p.hostID == p.peerID
		p.mu.Unlock()

		if sub != nil {
			_ = sub.Close()
		}
		p.world.Remove(entity.ID(msg.EntityID))
		if nowHost && !wasHost {
			p.logger.Info("👑 Пир %d стал хостом", p.PeerID())
		}
	}
}

// Move применяет нажатие к своей сущности так же, как сервер применяет ввод клиента
func (p *Peer) Move(button string) bool {
	if !validButton(button) {
		return false
	}
	id := p.EntityID()
	if id == 0 {
		return false
	}
	return p.world.Update(id, func(e *entity.Entity) {
		steer(e, button, p.opts.inputSpeed)
	}) == nil
}

// SendHeartbeat сообщает точке встречи, что пир жив
func (p *Peer) SendHeartbeat(ctx context.Context) error {
	if p.heartbeatPub == nil {
		return ErrNotConnected
	}
	return p.heartbeatPub.Publish(ctx, protocol.TopicHeartbeat, protocol.Heartbeat(p.PeerID()).Marshal())
}

// Run отправляет heartbeat, принимает и публикует обновления до отмены ctx
func (p *Peer) Run(ctx context.Context) error {
	if p.pub == nil {
		return ErrNotConnected
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = p.SendHeartbeat(gctx)
		return every(gctx, p.opts.heartbeatInterval, func() error {
			if err := p.SendHeartbeat(gctx); err != nil && gctx.Err() == nil {
				p.logger.Warn("heartbeat: %v", err)
			}
			return nil
		})
	})
	g.Go(func() error {
		return every(gctx, p.opts.tickRate.Interval(), func() error {
			p.ReceiveUpdates(gctx)
			if err := p.BroadcastUpdates(gctx); err != nil && gctx.Err() == nil {
				p.logger.Warn("рассылка: %v", err)
			}
			return nil
		})
	})
	return g.Wait()
}

func (p *Peer) Close() error {
	p.mu.Lock()
	subs := make([]interface{ Close() error }, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()
	return network.CloseAll(append(subs, p.requester, p.pub, p.controlSub, p.heartbeatPub)...)
}
