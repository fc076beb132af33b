package network

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/statesync/internal/logging"
)

// KCPTransport каналы поверх KCP (надёжный UDP). Сторона Bind слушает порт
// и обслуживает все подключившиеся сессии, сторона connect держит одну сессию.
type KCPTransport struct {
	codec     *frameCodec
	queueSize int
	logger    *logging.Logger
	metrics   *Metrics

	mu      sync.Mutex
	closers []interface{ Close() error }
	closed  bool
}

// NewKCPTransport создаёт транспорт; compress включает zstd для крупных кадров
func NewKCPTransport(compress bool, metrics *Metrics) (*KCPTransport, error) {
	codec, err := newFrameCodec(compress)
	if err != nil {
		return nil, err
	}
	return &KCPTransport{
		codec:     codec,
		queueSize: DefaultQueueSize,
		logger:    logging.GetNetworkLogger(),
		metrics:   metrics,
	}, nil
}

// tuneSession настраивает KCP параметры для игрового трафика
func tuneSession(s *kcp.UDPSession) {
	s.SetStreamMode(true)
	s.SetWriteDelay(false)
	s.SetNoDelay(1, 20, 2, 1)
	s.SetWindowSize(512, 512)
	s.SetMtu(1400)
}

func (t *KCPTransport) track(c interface{ Close() error }) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = c.Close()
		return ErrClosed
	}
	t.closers = append(t.closers, c)
	return nil
}

// Close закрывает все созданные каналы
func (t *KCPTransport) Close() error {
	t.mu.Lock()
	closers := t.closers
	t.closers = nil
	t.closed = true
	t.mu.Unlock()

	err := CloseAll(closers...)
	t.codec.close()
	return err
}

// kcpLink одна сессия с сериализованной записью кадров
type kcpLink struct {
	sess  *kcp.UDPSession
	codec *frameCodec
	wmu   sync.Mutex
}

func (l *kcpLink) write(topic string, payload []byte, flags byte) error {
	buf, err := l.codec.encode(topic, payload, flags)
	if err != nil {
		return err
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	_, err = l.sess.Write(buf)
	return err
}

type kcpInbound struct {
	link  *kcpLink
	frame frame
}

// kcpHub слушающая сторона
type kcpHub struct {
	ep      Endpoint
	ln      *kcp.Listener
	codec   *frameCodec
	logger  *logging.Logger
	metrics *Metrics
	inbound chan kcpInbound

	mu    sync.Mutex
	links map[*kcpLink]struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func (t *KCPTransport) listen(ep Endpoint) (*kcpHub, error) {
	ln, err := kcp.ListenWithOptions(ep.Addr(), nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("ошибка прослушивания KCP %s: %w", ep, err)
	}
	h := &kcpHub{
		ep:      ep,
		ln:      ln,
		codec:   t.codec,
		logger:  t.logger,
		metrics: t.metrics,
		inbound: make(chan kcpInbound, t.queueSize),
		links:   make(map[*kcpLink]struct{}),
	}
	if err := t.track(h); err != nil {
		return nil, err
	}
	h.wg.Add(1)
	go h.acceptLoop()
	t.logger.Info("KCP listening: %s", ep)
	return h, nil
}

func (h *kcpHub) acceptLoop() {
	defer h.wg.Done()
	for {
		sess, err := h.ln.AcceptKCP()
		if err != nil {
			return
		}
		tuneSession(sess)
		link := &kcpLink{sess: sess, codec: h.codec}
		h.mu.Lock()
		h.links[link] = struct{}{}
		h.mu.Unlock()
		h.logger.Debug("KCP session accepted on %s from %s", h.ep, sess.RemoteAddr())

		h.wg.Add(1)
		go h.readLoop(link)
	}
}

func (h *kcpHub) readLoop(link *kcpLink) {
	defer h.wg.Done()
	defer h.drop(link)

	r := bufio.NewReader(link.sess)
	for {
		f, err := h.codec.read(r)
		if err != nil {
			return
		}
		if f.flags&flagHello != 0 {
			continue
		}
		select {
		case h.inbound <- kcpInbound{link: link, frame: f}:
		default:
			h.metrics.ObserveDrop(h.ep.label())
		}
	}
}

func (h *kcpHub) drop(link *kcpLink) {
	h.mu.Lock()
	delete(h.links, link)
	h.mu.Unlock()
	_ = link.sess.Close()
}

func (h *kcpHub) broadcast(topic string, payload []byte) error {
	h.mu.Lock()
	links := make([]*kcpLink, 0, len(h.links))
	for l := range h.links {
		links = append(links, l)
	}
	h.mu.Unlock()

	for _, l := range links {
		if err := l.write(topic, payload, 0); err != nil {
			h.logger.Debug("KCP write to %s failed: %v", l.sess.RemoteAddr(), err)
			h.drop(l)
		}
	}
	return nil
}

func (h *kcpHub) Close() error {
	var err error
	h.once.Do(func() {
		err = h.ln.Close()
		h.mu.Lock()
		for l := range h.links {
			_ = l.sess.Close()
		}
		h.mu.Unlock()
		h.wg.Wait()
	})
	return err
}

// kcpConn подключающаяся сторона
type kcpConn struct {
	ep      Endpoint
	link    *kcpLink
	inbound chan kcpInbound
	metrics *Metrics
	once    sync.Once
	done    chan struct{}
}

func (t *KCPTransport) dial(ep Endpoint) (*kcpConn, error) {
	sess, err := kcp.DialWithOptions(ep.Addr(), nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к %s: %w", ep, err)
	}
	tuneSession(sess)

	c := &kcpConn{
		ep:      ep,
		link:    &kcpLink{sess: sess, codec: t.codec},
		inbound: make(chan kcpInbound, t.queueSize),
		metrics: t.metrics,
		done:    make(chan struct{}),
	}
	// слушающая сторона узнаёт о сессии только по первому пакету
	if err := c.link.write("", nil, flagHello); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("ошибка приветствия %s: %w", ep, err)
	}
	if err := t.track(c); err != nil {
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *kcpConn) readLoop() {
	defer close(c.done)
	r := bufio.NewReader(c.link.sess)
	for {
		f, err := c.link.codec.read(r)
		if err != nil {
			return
		}
		select {
		case c.inbound <- kcpInbound{link: c.link, frame: f}:
		default:
			c.metrics.ObserveDrop(c.ep.label())
		}
	}
}

func (c *kcpConn) Close() error {
	var err error
	c.once.Do(func() { err = c.link.sess.Close() })
	return err
}

func (t *KCPTransport) NewPublisher(_ context.Context, ep Endpoint) (Publisher, error) {
	if ep.Bind {
		h, err := t.listen(ep)
		if err != nil {
			return nil, err
		}
		return &kcpHubPublisher{hub: h}, nil
	}
	c, err := t.dial(ep)
	if err != nil {
		return nil, err
	}
	return &kcpConnPublisher{conn: c}, nil
}

func (t *KCPTransport) NewSubscriber(_ context.Context, ep Endpoint, prefixes ...string) (Subscriber, error) {
	if ep.Bind {
		h, err := t.listen(ep)
		if err != nil {
			return nil, err
		}
		return &kcpSubscriber{inbound: h.inbound, prefixes: prefixes, closer: h}, nil
	}
	c, err := t.dial(ep)
	if err != nil {
		return nil, err
	}
	return &kcpSubscriber{inbound: c.inbound, prefixes: prefixes, closer: c}, nil
}

func (t *KCPTransport) NewRequester(_ context.Context, ep Endpoint) (Requester, error) {
	c, err := t.dial(ep)
	if err != nil {
		return nil, err
	}
	return &kcpRequester{conn: c}, nil
}

func (t *KCPTransport) NewResponder(_ context.Context, ep Endpoint) (Responder, error) {
	ep.Bind = true
	h, err := t.listen(ep)
	if err != nil {
		return nil, err
	}
	return &kcpResponder{hub: h}, nil
}

type kcpHubPublisher struct{ hub *kcpHub }

func (p *kcpHubPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.hub.broadcast(topic, payload)
}

func (p *kcpHubPublisher) Close() error { return p.hub.Close() }

type kcpConnPublisher struct{ conn *kcpConn }

func (p *kcpConnPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.conn.link.write(topic, payload, 0)
}

func (p *kcpConnPublisher) Close() error { return p.conn.Close() }

type kcpSubscriber struct {
	inbound  chan kcpInbound
	prefixes []string
	closer   interface{ Close() error }
}

func (s *kcpSubscriber) Poll() (Message, bool) {
	for {
		select {
		case in := <-s.inbound:
			if !matchPrefix(in.frame.topic, s.prefixes) {
				continue
			}
			return Message{Topic: in.frame.topic, Payload: in.frame.payload}, true
		default:
			return Message{}, false
		}
	}
}

func (s *kcpSubscriber) Close() error { return s.closer.Close() }

type kcpRequester struct {
	mu   sync.Mutex
	conn *kcpConn
}

func (r *kcpRequester) Request(ctx context.Context, payload []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// устаревшие ответы от прерванных запросов
	for drained := false; !drained; {
		select {
		case <-r.conn.inbound:
		default:
			drained = true
		}
	}

	if err := r.conn.link.write("request", payload, 0); err != nil {
		return nil, fmt.Errorf("ошибка отправки запроса %s: %w", r.conn.ep, err)
	}

	timeout := time.NewTimer(5 * time.Second)
	defer timeout.Stop()
	select {
	case in := <-r.conn.inbound:
		return in.frame.payload, nil
	case <-r.conn.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, fmt.Errorf("%w: %s", ErrNoReply, r.conn.ep)
	}
}

func (r *kcpRequester) Close() error { return r.conn.Close() }

type kcpResponder struct{ hub *kcpHub }

func (r *kcpResponder) Poll() (*Request, bool) {
	select {
	case in := <-r.hub.inbound:
		link := in.link
		return NewRequest(in.frame.payload, func(b []byte) error {
			return link.write("reply", b, 0)
		}), true
	default:
		return nil, false
	}
}

func (r *kcpResponder) Close() error { return r.hub.Close() }
