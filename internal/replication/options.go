// Package replication реализует протокол репликации: авторитетный сервер,
// клиенты-наблюдатели, точку встречи пиров и сами пиры.
package replication

import (
	"math/rand"
	"time"

	"github.com/annel0/statesync/internal/config"
	"github.com/annel0/statesync/internal/engine"
	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/eventbus"
	"github.com/annel0/statesync/internal/events"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/network"
	"github.com/annel0/statesync/internal/replay"
)

const (
	DefaultHeartbeatTimeout  = 1000 * time.Millisecond
	DefaultHeartbeatInterval = 250 * time.Millisecond
	DefaultInputSpeed        = 50.0
	// heartbeatPoll период опроса канала heartbeat
	heartbeatPoll = 10 * time.Millisecond
	// receivePoll период опроса входящих кадров у клиента и пира
	receivePoll = 5 * time.Millisecond
)

// options общие настройки сервера, клиента, точки встречи и пира.
// Каждый компонент читает только свои поля.
type options struct {
	tickRate          config.RefreshRate
	heartbeatTimeout  time.Duration
	heartbeatInterval time.Duration
	ports             config.PortsConfig
	host              string
	pool              *PlayerPool
	maxClients        int
	inputSpeed        float64
	bus               eventbus.EventBus
	metrics           *network.Metrics
	logger            *logging.Logger
	clock             func() time.Time
	rng               *rand.Rand
	sim               *engine.Simulation
	replayOpts        []replay.Option
	world             *entity.World
	manager           *events.Manager
	source            string
}

func defaultOptions() options {
	return options{
		tickRate:          config.Rate60,
		heartbeatTimeout:  DefaultHeartbeatTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		ports:             config.PortsConfig{}.Resolve(),
		inputSpeed:        DefaultInputSpeed,
		clock:             time.Now,
	}
}

// Option настраивает компоненты репликации
type Option func(*options)

// WithTickRate частота рассылки состояния и шага симуляции
func WithTickRate(rate config.RefreshRate) Option {
	return func(o *options) {
		if rate.Valid() {
			o.tickRate = rate
		}
	}
}

// WithHeartbeatTimeout сколько молчания допускается до отключения
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeatTimeout = d
		}
	}
}

// WithHeartbeatInterval период отправки heartbeat клиентом и пиром
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeatInterval = d
		}
	}
}

// WithPorts номера портов; нулевые поля берутся из env или по умолчанию
func WithPorts(p config.PortsConfig) Option {
	return func(o *options) { o.ports = p.Resolve() }
}

// WithHost адрес удалённой стороны для подключающихся каналов
func WithHost(host string) Option {
	return func(o *options) { o.host = host }
}

// WithPlayerPool фиксированный набор слотов игроков
func WithPlayerPool(p *PlayerPool) Option {
	return func(o *options) { o.pool = p }
}

// WithMaxClients ограничение клиентов без пула; 0 без ограничения
func WithMaxClients(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxClients = n
		}
	}
}

// WithInputSpeed скорость, которую задаёт нажатие клавиши
func WithInputSpeed(v float64) Option {
	return func(o *options) {
		if v > 0 {
			o.inputSpeed = v
		}
	}
}

// WithEventBus шина для уведомлений жизненного цикла
func WithEventBus(bus eventbus.EventBus) Option {
	return func(o *options) { o.bus = bus }
}

func WithMetrics(m *network.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock источник времени для heartbeat
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRand генератор для точек появления
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// WithSimulation готовая симуляция вместо создаваемой сервером
func WithSimulation(sim *engine.Simulation) Option {
	return func(o *options) { o.sim = sim }
}

// WithReplayOptions дополнительные настройки системы записи сервера
func WithReplayOptions(opts ...replay.Option) Option {
	return func(o *options) { o.replayOpts = append(o.replayOpts, opts...) }
}

// WithWorld локальный мир клиента или пира
func WithWorld(w *entity.World) Option {
	return func(o *options) { o.world = w }
}

// WithEventManager менеджер, в который клиент поднимает EntityUpdate
func WithEventManager(m *events.Manager) Option {
	return func(o *options) { o.manager = m }
}

// WithSource имя процесса в уведомлениях шины
func WithSource(name string) Option {
	return func(o *options) { o.source = name }
}

func (o *options) endpoint(name string, port int, bind bool) network.Endpoint {
	return network.Endpoint{Name: name, Host: o.host, Port: port, Bind: bind}
}
