package network

import "context"

// Instrument оборачивает транспорт счётчиками отправленных и полученных сообщений
func Instrument(t Transport, m *Metrics) Transport {
	if m == nil {
		return t
	}
	return &instrumented{inner: t, metrics: m}
}

type instrumented struct {
	inner   Transport
	metrics *Metrics
}

func (i *instrumented) NewPublisher(ctx context.Context, ep Endpoint) (Publisher, error) {
	p, err := i.inner.NewPublisher(ctx, ep)
	if err != nil {
		return nil, err
	}
	return &instrumentedPublisher{Publisher: p, channel: ep.label(), metrics: i.metrics}, nil
}

func (i *instrumented) NewSubscriber(ctx context.Context, ep Endpoint, prefixes ...string) (Subscriber, error) {
	s, err := i.inner.NewSubscriber(ctx, ep, prefixes...)
	if err != nil {
		return nil, err
	}
	return &instrumentedSubscriber{Subscriber: s, channel: ep.label(), metrics: i.metrics}, nil
}

func (i *instrumented) NewRequester(ctx context.Context, ep Endpoint) (Requester, error) {
	r, err := i.inner.NewRequester(ctx, ep)
	if err != nil {
		return nil, err
	}
	return &instrumentedRequester{Requester: r, channel: ep.label(), metrics: i.metrics}, nil
}

func (i *instrumented) NewResponder(ctx context.Context, ep Endpoint) (Responder, error) {
	r, err := i.inner.NewResponder(ctx, ep)
	if err != nil {
		return nil, err
	}
	return &instrumentedResponder{Responder: r, channel: ep.label(), metrics: i.metrics}, nil
}

func (i *instrumented) Close() error { return i.inner.Close() }

type instrumentedPublisher struct {
	Publisher
	channel string
	metrics *Metrics
}

func (p *instrumentedPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := p.Publisher.Publish(ctx, topic, payload); err != nil {
		return err
	}
	p.metrics.ObserveSent(p.channel, len(payload))
	return nil
}

type instrumentedSubscriber struct {
	Subscriber
	channel string
	metrics *Metrics
}

func (s *instrumentedSubscriber) Poll() (Message, bool) {
	m, ok := s.Subscriber.Poll()
	if ok {
		s.metrics.ObserveReceived(s.channel, len(m.Payload))
	}
	return m, ok
}

type instrumentedRequester struct {
	Requester
	channel string
	metrics *Metrics
}

func (r *instrumentedRequester) Request(ctx context.Context, payload []byte) ([]byte, error) {
	r.metrics.ObserveSent(r.channel, len(payload))
	reply, err := r.Requester.Request(ctx, payload)
	if err == nil {
		r.metrics.ObserveReceived(r.channel, len(reply))
	}
	return reply, err
}

type instrumentedResponder struct {
	Responder
	channel string
	metrics *Metrics
}

func (r *instrumentedResponder) Poll() (*Request, bool) {
	req, ok := r.Responder.Poll()
	if !ok {
		return nil, false
	}
	r.metrics.ObserveReceived(r.channel, len(req.Payload))
	inner := req.reply
	req.reply = func(b []byte) error {
		if inner == nil {
			return ErrNoReply
		}
		if err := inner(b); err != nil {
			return err
		}
		r.metrics.ObserveSent(r.channel, len(b))
		return nil
	}
	return req, true
}
