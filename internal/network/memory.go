package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/statesync/internal/logging"
)

// DefaultQueueSize ёмкость очередей in-memory каналов
const DefaultQueueSize = 1024

// MemoryTransport транспорт внутри процесса: один хаб на порт.
// Сообщения для переполненного подписчика отбрасываются.
type MemoryTransport struct {
	mu        sync.Mutex
	hubs      map[int]*memoryHub
	queueSize int
	metrics   *Metrics
	logger    *logging.Logger
	closed    bool
}

type memoryHub struct {
	mu       sync.RWMutex
	subs     map[*memorySubscriber]struct{}
	requests chan *Request
	bound    bool
}

// MemoryOption настраивает MemoryTransport
type MemoryOption func(*MemoryTransport)

func WithQueueSize(n int) MemoryOption {
	return func(t *MemoryTransport) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

func WithMemoryMetrics(m *Metrics) MemoryOption {
	return func(t *MemoryTransport) { t.metrics = m }
}

// NewMemoryTransport создаёт транспорт в памяти
func NewMemoryTransport(opts ...MemoryOption) *MemoryTransport {
	t := &MemoryTransport{
		hubs:      make(map[int]*memoryHub),
		queueSize: DefaultQueueSize,
		logger:    logging.GetNetworkLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *MemoryTransport) hub(port int) (*memoryHub, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	h, ok := t.hubs[port]
	if !ok {
		h = &memoryHub{
			subs:     make(map[*memorySubscriber]struct{}),
			requests: make(chan *Request, t.queueSize),
		}
		t.hubs[port] = h
	}
	return h, nil
}

func (t *MemoryTransport) NewPublisher(_ context.Context, ep Endpoint) (Publisher, error) {
	h, err := t.hub(ep.Port)
	if err != nil {
		return nil, err
	}
	return &memoryPublisher{hub: h, ep: ep, metrics: t.metrics, logger: t.logger}, nil
}

func (t *MemoryTransport) NewSubscriber(_ context.Context, ep Endpoint, prefixes ...string) (Subscriber, error) {
	h, err := t.hub(ep.Port)
	if err != nil {
		return nil, err
	}
	sub := &memorySubscriber{
		hub:      h,
		prefixes: append([]string(nil), prefixes...),
		queue:    make(chan Message, t.queueSize),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub, nil
}

func (t *MemoryTransport) NewRequester(_ context.Context, ep Endpoint) (Requester, error) {
	h, err := t.hub(ep.Port)
	if err != nil {
		return nil, err
	}
	return &memoryRequester{hub: h}, nil
}

func (t *MemoryTransport) NewResponder(_ context.Context, ep Endpoint) (Responder, error) {
	h, err := t.hub(ep.Port)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bound {
		return nil, fmt.Errorf("порт %d уже занят ответчиком", ep.Port)
	}
	h.bound = true
	return &memoryResponder{hub: h}, nil
}

// Close закрывает транспорт; существующие каналы перестают получать сообщения
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.hubs = make(map[int]*memoryHub)
	return nil
}

type memoryPublisher struct {
	hub     *memoryHub
	ep      Endpoint
	metrics *Metrics
	logger  *logging.Logger
}

func (p *memoryPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := append([]byte(nil), payload...)

	p.hub.mu.RLock()
	defer p.hub.mu.RUnlock()
	for sub := range p.hub.subs {
		if !matchPrefix(topic, sub.prefixes) {
			continue
		}
		select {
		case sub.queue <- Message{Topic: topic, Payload: data}:
		default:
			p.metrics.ObserveDrop(p.ep.label())
			p.logger.Debug("Очередь подписчика %s переполнена, сообщение отброшено", p.ep)
		}
	}
	return nil
}

func (p *memoryPublisher) Close() error { return nil }

type memorySubscriber struct {
	hub      *memoryHub
	prefixes []string
	queue    chan Message
	once     sync.Once
}

func (s *memorySubscriber) Poll() (Message, bool) {
	select {
	case m := <-s.queue:
		return m, true
	default:
		return Message{}, false
	}
}

func (s *memorySubscriber) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
	})
	return nil
}

type memoryRequester struct {
	hub *memoryHub
}

func (r *memoryRequester) Request(ctx context.Context, payload []byte) ([]byte, error) {
	replyCh := make(chan []byte, 1)
	req := NewRequest(append([]byte(nil), payload...), func(b []byte) error {
		replyCh <- append([]byte(nil), b...)
		return nil
	})

	select {
	case r.hub.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *memoryRequester) Close() error { return nil }

type memoryResponder struct {
	hub  *memoryHub
	once sync.Once
}

func (r *memoryResponder) Poll() (*Request, bool) {
	select {
	case req := <-r.hub.requests:
		return req, true
	default:
		return nil, false
	}
}

func (r *memoryResponder) Close() error {
	r.once.Do(func() {
		r.hub.mu.Lock()
		r.hub.bound = false
		r.hub.mu.Unlock()
	})
	return nil
}
