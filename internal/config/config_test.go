package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("без файла возвращаются значения по умолчанию", func(t *testing.T) {
		t.Setenv("STATESYNC_CONFIG", "")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Rate60, cfg.Server.RefreshRate)
		assert.Equal(t, time.Second, cfg.Server.HeartbeatTimeout())
		assert.Equal(t, 1.0, cfg.Server.SimulationSpeed)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("файл перекрывает только заданные поля", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "statesync.yaml")
		data := []byte("server:\n  refresh_rate: 120\n  max_clients: 3\ntransport:\n  kind: nats\n")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, Rate120, cfg.Server.RefreshRate)
		assert.Equal(t, 3, cfg.Server.MaxClients)
		assert.Equal(t, "nats", cfg.Transport.Kind)
		assert.Equal(t, 1000, cfg.Server.HeartbeatTimeoutMS, "не заданное поле должно остаться дефолтным")
	})

	t.Run("недопустимая частота отклоняется", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  refresh_rate: 45\n"), 0o600))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"отрицательная скорость":  func(c *Config) { c.Server.SimulationSpeed = -1 },
		"нулевой таймаут":         func(c *Config) { c.Server.HeartbeatTimeoutMS = 0 },
		"неизвестный транспорт":   func(c *Config) { c.Transport.Kind = "zmq" },
		"неизвестное хранилище":   func(c *Config) { c.Replay.Store = "s3" },
		"админка без секрета":     func(c *Config) { c.Admin.Enabled = true },
		"неизвестный журнал сессий": func(c *Config) { c.SessionLog.Kind = "sqlite" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPortsResolve(t *testing.T) {
	t.Setenv("STATESYNC_INPUT_PORT", "6000")

	ports := PortsConfig{EntityPub: 7000}.Resolve()
	assert.Equal(t, 7000, ports.EntityPub, "значение из конфига имеет приоритет")
	assert.Equal(t, 6000, ports.Input, "значение из окружения")
	assert.Equal(t, 5557, ports.Handshake, "значение по умолчанию")
	assert.Equal(t, 5560, ports.PeerBase)
}

func TestRefreshRate(t *testing.T) {
	for _, r := range []RefreshRate{Rate15, Rate30, Rate60, Rate90, Rate120, Rate240} {
		assert.True(t, r.Valid())
	}
	assert.False(t, RefreshRate(50).Valid())
	assert.Equal(t, time.Second/60, Rate60.Interval())
}
