package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации statesync.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Peer       PeerConfig       `yaml:"peer"`
	Transport  TransportConfig  `yaml:"transport"`
	Replay     ReplayConfig     `yaml:"replay"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	SessionLog SessionLogConfig `yaml:"sessionlog"`
	Admin      AdminConfig      `yaml:"admin"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	World      WorldConfig      `yaml:"world"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Files bool   `yaml:"files"`
}

// ServerConfig параметры авторитетного сервера
type ServerConfig struct {
	Host               string      `yaml:"host"`
	RefreshRate        RefreshRate `yaml:"refresh_rate"`
	HeartbeatTimeoutMS int         `yaml:"heartbeat_timeout_ms"`
	HeartbeatEveryMS   int         `yaml:"heartbeat_interval_ms"`
	InputSpeed         float64     `yaml:"input_speed"`
	SimulationSpeed    float64     `yaml:"simulation_speed"`
	MaxClients         int         `yaml:"max_clients"`
	Ports              PortsConfig `yaml:"ports"`
}

// PeerConfig параметры peer-to-peer режима
type PeerConfig struct {
	Players int `yaml:"players"`
}

// PortsConfig номера портов; 0 означает "взять из env или по умолчанию"
type PortsConfig struct {
	EntityPub           int `yaml:"entity_pub"`
	Input               int `yaml:"input"`
	Handshake           int `yaml:"handshake"`
	Heartbeat           int `yaml:"heartbeat"`
	Control             int `yaml:"control"`
	Rendezvous          int `yaml:"rendezvous"`
	RendezvousControl   int `yaml:"rendezvous_control"`
	RendezvousHeartbeat int `yaml:"rendezvous_heartbeat"`
	PeerBase            int `yaml:"peer_base"`
}

type TransportConfig struct {
	Kind          string `yaml:"kind"` // memory | nats | kcp
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Compress      bool   `yaml:"compress"`
}

type ReplayConfig struct {
	FrameRate     int    `yaml:"frame_rate"`
	Store         string `yaml:"store"` // none | memory | badger | redis
	BadgerPath    string `yaml:"badger_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type EventBusConfig struct {
	Kind      string `yaml:"kind"` // none | memory | jetstream
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type SessionLogConfig struct {
	Kind     string `yaml:"kind"` // none | memory | mariadb | mongo
	DSN      string `yaml:"dsn"`
	MongoURI string `yaml:"mongo_uri"`
	Database string `yaml:"database"`
}

type AdminConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	JWTSecret    string `yaml:"jwt_secret"`
	TokenTTLMin  int    `yaml:"token_ttl_minutes"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

type WorldConfig struct {
	File       string `yaml:"file"`
	Seed       int64  `yaml:"seed"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Platforms  int    `yaml:"platforms"`
	Obstacles  int    `yaml:"obstacles"`
	SideScroll bool   `yaml:"side_scroll"` // зоны прокрутки у краёв
	Players    int    `yaml:"players"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Host:               "127.0.0.1",
			RefreshRate:        Rate60,
			HeartbeatTimeoutMS: 1000,
			HeartbeatEveryMS:   250,
			InputSpeed:         50,
			SimulationSpeed:    1.0,
		},
		Peer:       PeerConfig{Players: 4},
		Transport:  TransportConfig{Kind: "memory", NATSURL: "nats://127.0.0.1:4222", SubjectPrefix: "statesync"},
		Replay:     ReplayConfig{FrameRate: 60, Store: "memory", BadgerPath: "data/recordings", RedisAddr: "127.0.0.1:6379", RedisPrefix: "statesync:rec:"},
		EventBus:   EventBusConfig{Kind: "memory", URL: "nats://127.0.0.1:4222", Stream: "STATESYNC_EVENTS", Retention: 24},
		SessionLog: SessionLogConfig{Kind: "memory", Database: "statesync"},
		Admin:      AdminConfig{Username: "admin", TokenTTLMin: 60},
		Telemetry:  TelemetryConfig{ServiceName: "statesync", Endpoint: "localhost:4318"},
		World:      WorldConfig{Seed: 42, Width: 1600, Height: 900, Platforms: 6, Obstacles: 2, Players: 4},
	}
}

// Resolve возвращает порты с приоритетом: config -> env -> default
func (p PortsConfig) Resolve() PortsConfig {
	return PortsConfig{
		EntityPub:           getPortWithEnvFallback(p.EntityPub, "STATESYNC_ENTITY_PORT", 5555),
		Input:               getPortWithEnvFallback(p.Input, "STATESYNC_INPUT_PORT", 5556),
		Handshake:           getPortWithEnvFallback(p.Handshake, "STATESYNC_HANDSHAKE_PORT", 5557),
		Heartbeat:           getPortWithEnvFallback(p.Heartbeat, "STATESYNC_HEARTBEAT_PORT", 5558),
		Control:             getPortWithEnvFallback(p.Control, "STATESYNC_CONTROL_PORT", 5559),
		Rendezvous:          getPortWithEnvFallback(p.Rendezvous, "STATESYNC_RENDEZVOUS_PORT", 5550),
		RendezvousControl:   getPortWithEnvFallback(p.RendezvousControl, "STATESYNC_RENDEZVOUS_CONTROL_PORT", 5551),
		RendezvousHeartbeat: getPortWithEnvFallback(p.RendezvousHeartbeat, "STATESYNC_RENDEZVOUS_HEARTBEAT_PORT", 5552),
		PeerBase:            getPortWithEnvFallback(p.PeerBase, "STATESYNC_PEER_BASE_PORT", 5560),
	}
}

// GetAdminPort возвращает порт admin API с поддержкой fallback значений
func (a *AdminConfig) GetAdminPort() int {
	return getPortWithEnvFallback(a.Port, "STATESYNC_ADMIN_PORT", 8088)
}

// HeartbeatTimeout таймаут молчания клиента до отключения
func (s *ServerConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(s.HeartbeatTimeoutMS) * time.Millisecond
}

// HeartbeatInterval период отправки heartbeat клиентом
func (s *ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatEveryMS) * time.Millisecond
}

// TokenTTL время жизни JWT админки
func (a *AdminConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMin) * time.Minute
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	if !c.Server.RefreshRate.Valid() {
		return fmt.Errorf("недопустимая частота обновления %d", c.Server.RefreshRate)
	}
	if c.Server.HeartbeatTimeoutMS <= 0 {
		return fmt.Errorf("heartbeat_timeout_ms должен быть > 0, получено %d", c.Server.HeartbeatTimeoutMS)
	}
	if c.Server.HeartbeatEveryMS <= 0 {
		return fmt.Errorf("heartbeat_interval_ms должен быть > 0, получено %d", c.Server.HeartbeatEveryMS)
	}
	if c.Server.SimulationSpeed < 0 {
		return fmt.Errorf("simulation_speed не может быть отрицательной: %v", c.Server.SimulationSpeed)
	}
	if c.Server.MaxClients < 0 {
		return fmt.Errorf("max_clients не может быть отрицательным: %d", c.Server.MaxClients)
	}
	if c.Replay.FrameRate <= 0 {
		return fmt.Errorf("replay.frame_rate должен быть > 0, получено %d", c.Replay.FrameRate)
	}
	if err := oneOf("transport.kind", c.Transport.Kind, "memory", "nats", "kcp"); err != nil {
		return err
	}
	if err := oneOf("replay.store", c.Replay.Store, "none", "memory", "badger", "redis"); err != nil {
		return err
	}
	if err := oneOf("eventbus.kind", c.EventBus.Kind, "none", "memory", "jetstream"); err != nil {
		return err
	}
	if err := oneOf("sessionlog.kind", c.SessionLog.Kind, "none", "memory", "mariadb", "mongo"); err != nil {
		return err
	}
	if c.Admin.Enabled && c.Admin.JWTSecret == "" {
		return fmt.Errorf("admin.jwt_secret обязателен при включенном admin API")
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("недопустимое значение %s: %q (допустимо %v)", field, value, allowed)
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", используется ENV STATESYNC_CONFIG; без файла возвращаются дефолты.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("STATESYNC_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
