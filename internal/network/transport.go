// Package network содержит транспорт адресуемых портами каналов:
// публикация/подписка и запрос/ответ поверх памяти, NATS или KCP.
package network

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrClosed  = errors.New("network: канал закрыт")
	ErrNoReply = errors.New("network: нет ответа")
)

// Endpoint адрес канала. Bind=true означает сторону, которая слушает порт.
type Endpoint struct {
	// Name имя канала для метрик и логов
	Name string
	Host string
	Port int
	Bind bool
}

func (e Endpoint) Addr() string {
	host := e.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return host + ":" + strconv.Itoa(e.Port)
}

func (e Endpoint) String() string {
	mode := "connect"
	if e.Bind {
		mode = "bind"
	}
	return fmt.Sprintf("%s(%s %s)", e.label(), mode, e.Addr())
}

func (e Endpoint) label() string {
	if e.Name != "" {
		return e.Name
	}
	return strconv.Itoa(e.Port)
}

// Message сообщение подписки
type Message struct {
	Topic   string
	Payload []byte
}

// Request входящий запрос; на каждый запрос отвечают ровно один раз
type Request struct {
	Payload []byte
	reply   func([]byte) error
}

// NewRequest создаёт запрос с функцией ответа
func NewRequest(payload []byte, reply func([]byte) error) *Request {
	return &Request{Payload: payload, reply: reply}
}

// Reply отправляет ответ
func (r *Request) Reply(payload []byte) error {
	if r.reply == nil {
		return ErrNoReply
	}
	reply := r.reply
	r.reply = nil
	return reply(payload)
}

// Publisher публикует сообщения всем подписчикам канала
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Subscriber принимает сообщения с фильтром по префиксу темы
type Subscriber interface {
	// Poll неблокирующе возвращает следующее сообщение
	Poll() (Message, bool)
	Close() error
}

// Requester отправляет запрос и ждёт ответа
type Requester interface {
	Request(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// Responder принимает запросы
type Responder interface {
	// Poll неблокирующе возвращает следующий запрос
	Poll() (*Request, bool)
	Close() error
}

// Transport фабрика каналов
type Transport interface {
	NewPublisher(ctx context.Context, ep Endpoint) (Publisher, error)
	NewSubscriber(ctx context.Context, ep Endpoint, prefixes ...string) (Subscriber, error)
	NewRequester(ctx context.Context, ep Endpoint) (Requester, error)
	NewResponder(ctx context.Context, ep Endpoint) (Responder, error)
	Close() error
}

// matchPrefix true если фильтр пуст или тема начинается с одного из префиксов
func matchPrefix(topic string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if p == "" || strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

// CloseAll закрывает каналы, пропуская nil, и возвращает первую ошибку
func CloseAll(closers ...interface{ Close() error }) error {
	var first error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
