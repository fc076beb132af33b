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

var (
	// ErrServerFull сервер ответил FULL
	ErrServerFull   = errors.New("replication: сервер заполнен")
	ErrNotConnected = errors.New("replication: нет подключения")
)

// Client наблюдатель: держит локальную копию мира, собранную из рассылок сервера
type Client struct {
	opts      options
	transport network.Transport
	world     *entity.World
	logger    *logging.Logger

	requester    network.Requester
	entitySub    network.Subscriber
	controlSub   network.Subscriber
	inputPub     network.Publisher
	heartbeatPub network.Publisher

	mu        sync.Mutex
	connected bool
	clientID  int64
	entityID  entity.ID
	lastTick  uint64
	haveTick  bool
	paused    bool
	dropped   int
}

func NewClient(transport network.Transport, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetClientLogger()
	}
	if o.world == nil {
		o.world = entity.NewWorld()
	}
	return &Client{opts: o, transport: transport, world: o.world, logger: o.logger}
}

// Connect выполняет рукопожатие и подписывается на рассылку и управление
func (c *Client) Connect(ctx context.Context) error {
	p := c.opts.ports
	req, err := c.transport.NewRequester(ctx, c.opts.endpoint("handshake", p.Handshake, false))
	if err != nil {
		return fmt.Errorf("канал рукопожатия: %w", err)
	}
	c.requester = req

	// подписки до запроса, чтобы не пропустить первые кадры
	if c.entitySub, err = c.transport.NewSubscriber(ctx, c.opts.endpoint("entity", p.EntityPub, false), protocol.TopicEntityUpdate); err != nil {
		return fmt.Errorf("подписка на рассылку: %w", err)
	}
	if c.controlSub, err = c.transport.NewSubscriber(ctx, c.opts.endpoint("control", p.Control, false), protocol.TopicControl); err != nil {
		return fmt.Errorf("подписка на управление: %w", err)
	}

	raw, err := req.Request(ctx, []byte(protocol.Connect))
	if err != nil {
		return fmt.Errorf("рукопожатие: %w", err)
	}
	reply, err := protocol.DecodeHandshakeReply(raw)
	if errors.Is(err, protocol.ErrFull) {
		return ErrServerFull
	}
	if err != nil {
		return fmt.Errorf("рукопожатие: %w", err)
	}

	if c.inputPub, err = c.transport.NewPublisher(ctx, c.opts.endpoint("input", p.Input, false)); err != nil {
		return fmt.Errorf("канал ввода: %w", err)
	}
	if c.heartbeatPub, err = c.transport.NewPublisher(ctx, c.opts.endpoint("heartbeat", p.Heartbeat, false)); err != nil {
		return fmt.Errorf("канал heartbeat: %w", err)
	}

	for _, e := range reply.Entities {
		c.world.Upsert(e)
	}

	c.mu.Lock()
	c.connected = true
	c.clientID = reply.ClientID
	c.entityID = reply.EntityID
	c.dropped += reply.Dropped
	c.mu.Unlock()

	c.logger.Info("🔗 Подключён как клиент %d, сущность %d, сущностей в мире %d", reply.ClientID, reply.EntityID, len(reply.Entities))
	return nil
}

func (c *Client) ClientID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Client) EntityID() entity.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entityID
}

func (c *Client) World() *entity.World { return c.world }

// LastTick последний применённый тик сервера
func (c *Client) LastTick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTick
}

// Dropped количество отброшенных некорректных записей и сообщений
func (c *Client) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// SetPaused на паузе обновления собственной сущности не применяются
func (c *Client) SetPaused(paused bool) {
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()
}

func (c *Client) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Client) drop(channel string, n int) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.dropped += n
	c.mu.Unlock()
	c.opts.metrics.ObserveDecodeError(channel, n)
}

// ReceiveUpdates неблокирующе применяет все ожидающие кадры и управляющие
// сообщения. Возвращает число применённых записей.
func (c *Client) ReceiveUpdates() int {
	if c.entitySub == nil {
		return 0
	}
	applied := 0
	for {
		m, ok := c.entitySub.Poll()
		if !ok {
			break
		}
		frame, err := protocol.DecodeFrame(m.Payload)
		if err != nil {
			c.logger.Debug("Пропуск кадра: %v", err)
			c.drop("entity", 1)
			continue
		}
		c.drop("entity", frame.Dropped)
		applied += c.applyFrame(frame)
	}

	for {
		m, ok := c.controlSub.Poll()
		if !ok {
			break
		}
		c.applyControl(m.Payload)
	}
	return applied
}

func (c *Client) applyFrame(f protocol.Frame) int {
	c.mu.Lock()
	if c.haveTick && f.Tick <= c.lastTick {
		c.mu.Unlock()
		return 0
	}
	c.lastTick = f.Tick
	c.haveTick = true
	own, paused := c.entityID, c.paused
	c.mu.Unlock()

	present := make(map[entity.ID]bool, len(f.Entities))
	applied := 0
	for _, e := range f.Entities {
		present[e.ID] = true
		if paused && e.ID == own {
			continue
		}
		c.world.Upsert(e)
		applied++
		if c.opts.manager != nil {
			c.opts.manager.Raise(events.New(events.EntityUpdate{Snapshot: e}))
		}
	}
	// кадр содержит полный снимок: всё, чего в нём нет, удалено на сервере
	c.world.Retain(func(e entity.Entity) bool { return present[e.ID] })
	return applied
}

func (c *Client) applyControl(payload []byte) {
	msg, err := protocol.DecodeControl(payload)
	if err != nil {
		c.drop("control", 1)
		return
	}
	switch msg.Type {
	case protocol.MsgDisconnect:
		if c.world.Remove(entity.ID(msg.EntityID)) {
			c.logger.Debug("Сущность %d удалена по disconnect", msg.EntityID)
		}
	case protocol.MsgNewConnection:
		e, err := msg.EntityRecord()
		if err != nil {
			c.drop("control", 1)
			return
		}
		c.world.Upsert(e)
	}
}

// SendInput отправляет нажатие кнопки
func (c *Client) SendInput(ctx context.Context, button string) error {
	if c.inputPub == nil {
		return ErrNotConnected
	}
	return c.inputPub.Publish(ctx, protocol.TopicInput, protocol.KeyPress(c.ClientID(), button).Marshal())
}

// SendHeartbeat сообщает серверу, что клиент жив
func (c *Client) SendHeartbeat(ctx context.Context) error {
	if c.heartbeatPub == nil {
		return ErrNotConnected
	}
	return c.heartbeatPub.Publish(ctx, protocol.TopicHeartbeat, protocol.Heartbeat(c.ClientID()).Marshal())
}

// Run отправляет heartbeat и принимает обновления до отмены ctx
func (c *Client) Run(ctx context.Context) error {
	if c.heartbeatPub == nil {
		return ErrNotConnected
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.SendHeartbeat(gctx); err != nil {
			c.logger.Warn("heartbeat: %v", err)
		}
		return every(gctx, c.opts.heartbeatInterval, func() error {
			if err := c.SendHeartbeat(gctx); err != nil && gctx.Err() == nil {
				c.logger.Warn("heartbeat: %v", err)
			}
			return nil
		})
	})
	g.Go(func() error {
		return every(gctx, receivePoll, func() error {
			c.ReceiveUpdates()
			return nil
		})
	})
	return g.Wait()
}

// Close закрывает каналы клиента
func (c *Client) Close() error {
	return network.CloseAll(c.requester, c.entitySub, c.controlSub, c.inputPub, c.heartbeatPub)
}
