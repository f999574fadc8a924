package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeConfig(t, "coupler:\n  address: 192.168.0.10:502\n"))
	require.NoError(err)
	require.Equal("192.168.0.10:502", cfg.Coupler.Address)
	require.Equal("native", cfg.Coupler.Driver)
	require.Equal(time.Second, cfg.Coupler.Timeout)
	require.Equal(100*time.Millisecond, cfg.Coupler.TickInterval)
	require.Equal(5*time.Second, cfg.Coupler.ReconnectDelay)
	require.Equal(8080, cfg.Server.HTTPPort)
	require.Equal(30*time.Second, cfg.Server.ShutdownTimeout)
	require.True(cfg.Metrics.Enabled)
	require.Equal("/metrics", cfg.Metrics.Path)
	require.False(cfg.MQTT.Enabled)
	require.Equal("info", cfg.Logging.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	require := require.New(t)
	t.Setenv("OPENCOUPLER_COUPLER_DRIVER", "goburrow")
	t.Setenv("OPENCOUPLER_SERVER_HTTP_PORT", "9090")

	cfg, err := Load(writeConfig(t, `
coupler:
  address: coupler.local:502
  unit_id: 3
  tick_interval: 20ms
  catalog_paths: [/etc/opencoupler/modules]
mqtt:
  enabled: true
  broker: tcp://broker:1883
  qos: 1
logging:
  level: debug
`))
	require.NoError(err)
	require.Equal("goburrow", cfg.Coupler.Driver)
	require.Equal(9090, cfg.Server.HTTPPort)
	require.Equal(3, cfg.Coupler.UnitID)
	require.Equal(20*time.Millisecond, cfg.Coupler.TickInterval)
	require.Equal([]string{"/etc/opencoupler/modules"}, cfg.Coupler.CatalogPaths)
	require.True(cfg.MQTT.Enabled)
	require.Equal("opencoupler", cfg.MQTT.TopicPrefix)
	require.Equal(1, cfg.MQTT.QoS)
	require.Equal("debug", cfg.Logging.Level)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing address", "coupler:\n  driver: native\n"},
		{"unknown driver", "coupler:\n  address: a:502\n  driver: rtu\n"},
		{"address without port", "coupler:\n  address: coupler.local\n"},
		{"serial url with native driver", "coupler:\n  address: rtu:///dev/ttyUSB0\n"},
		{"empty serial device", "coupler:\n  address: rtu://\n  driver: simonvetter\n"},
		{"unit id range", "coupler:\n  address: a:502\n  unit_id: 300\n"},
		{"zero interval", "coupler:\n  address: a:502\n  tick_interval: 0s\n"},
		{"mqtt without broker", "coupler:\n  address: a:502\nmqtt:\n  enabled: true\n"},
		{"log level", "coupler:\n  address: a:502\nlogging:\n  level: verbose\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadCouplerAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		driver  string
	}{
		{"host and port", "192.168.0.10:502", "native"},
		{"hostname", "coupler.local:502", "goburrow"},
		{"tcp url", "tcp://192.168.0.10:502", "simonvetter"},
		{"serial device", "rtu:///dev/ttyUSB0", "simonvetter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := "coupler:\n  address: " + tt.address + "\n  driver: " + tt.driver + "\n"
			cfg, err := Load(writeConfig(t, body))
			require.NoError(t, err)
			require.Equal(t, tt.address, cfg.Coupler.Address)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
