package network

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/statesync/internal/logging"
)

// NATSTransport отображает порты на subjects "<prefix>.<port>".
// Публикации идут в "<prefix>.<port>.<topic>", запросы в "<prefix>.<port>".
type NATSTransport struct {
	nc        *nats.Conn
	prefix    string
	queueSize int
	logger    *logging.Logger
}

// NATSConfig параметры подключения
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	QueueSize     int
}

// NewNATSTransport подключается к NATS
func NewNATSTransport(cfg NATSConfig) (*NATSTransport, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "statesync"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	logger := logging.GetNetworkLogger()

	opts := []nats.Option{
		nats.Name("statesync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к NATS %s: %w", cfg.URL, err)
	}

	logger.Info("NATS transport initialized: %s (prefix: %s)", cfg.URL, cfg.SubjectPrefix)
	return &NATSTransport{nc: nc, prefix: cfg.SubjectPrefix, queueSize: cfg.QueueSize, logger: logger}, nil
}

func (t *NATSTransport) subject(port int) string {
	return t.prefix + "." + strconv.Itoa(port)
}

// topicToken тема как токен subject: без точек и пробелов
func topicToken(topic string) string {
	if topic == "" {
		return "_"
	}
	return topic
}

func (t *NATSTransport) NewPublisher(_ context.Context, ep Endpoint) (Publisher, error) {
	return &natsPublisher{nc: t.nc, subject: t.subject(ep.Port)}, nil
}

func (t *NATSTransport) NewSubscriber(_ context.Context, ep Endpoint, prefixes ...string) (Subscriber, error) {
	ch := make(chan *nats.Msg, t.queueSize)
	base := t.subject(ep.Port)
	sub, err := t.nc.ChanSubscribe(base+".>", ch)
	if err != nil {
		return nil, fmt.Errorf("ошибка подписки на %s: %w", base, err)
	}
	return &natsSubscriber{sub: sub, ch: ch, base: base, prefixes: append([]string(nil), prefixes...)}, nil
}

func (t *NATSTransport) NewRequester(_ context.Context, ep Endpoint) (Requester, error) {
	return &natsRequester{nc: t.nc, subject: t.subject(ep.Port)}, nil
}

func (t *NATSTransport) NewResponder(_ context.Context, ep Endpoint) (Responder, error) {
	ch := make(chan *nats.Msg, t.queueSize)
	subject := t.subject(ep.Port)
	sub, err := t.nc.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, fmt.Errorf("ошибка подписки на запросы %s: %w", subject, err)
	}
	return &natsResponder{sub: sub, ch: ch}, nil
}

// Close дренирует и закрывает соединение
func (t *NATSTransport) Close() error {
	if err := t.nc.Drain(); err != nil {
		t.nc.Close()
		return err
	}
	return nil
}

type natsPublisher struct {
	nc      *nats.Conn
	subject string
}

func (p *natsPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.nc.Publish(p.subject+"."+topicToken(topic), payload)
}

func (p *natsPublisher) Close() error { return nil }

type natsSubscriber struct {
	sub      *nats.Subscription
	ch       chan *nats.Msg
	base     string
	prefixes []string
}

func (s *natsSubscriber) Poll() (Message, bool) {
	for {
		select {
		case msg := <-s.ch:
			topic := msg.Subject
			if len(topic) > len(s.base)+1 {
				topic = topic[len(s.base)+1:]
			}
			if topic == "_" {
				topic = ""
			}
			if !matchPrefix(topic, s.prefixes) {
				continue
			}
			return Message{Topic: topic, Payload: msg.Data}, true
		default:
			return Message{}, false
		}
	}
}

func (s *natsSubscriber) Close() error {
	return s.sub.Unsubscribe()
}

type natsRequester struct {
	nc      *nats.Conn
	subject string
}

func (r *natsRequester) Request(ctx context.Context, payload []byte) ([]byte, error) {
	msg, err := r.nc.RequestWithContext(ctx, r.subject, payload)
	if err != nil {
		return nil, fmt.Errorf("запрос к %s: %w", r.subject, err)
	}
	return msg.Data, nil
}

func (r *natsRequester) Close() error { return nil }

type natsResponder struct {
	sub  *nats.Subscription
	ch   chan *nats.Msg
	once sync.Once
}

func (r *natsResponder) Poll() (*Request, bool) {
	select {
	case msg := <-r.ch:
		return NewRequest(msg.Data, msg.Respond), true
	default:
		return nil, false
	}
}

func (r *natsResponder) Close() error {
	var err error
	r.once.Do(func() { err = r.sub.Unsubscribe() })
	return err
}
