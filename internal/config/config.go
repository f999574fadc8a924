package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Coupler CouplerConfig `mapstructure:"coupler"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type CouplerConfig struct {
	Address        string        `mapstructure:"address" validate:"required"`
	Driver         string        `mapstructure:"driver" validate:"oneof=native simonvetter goburrow"`
	UnitID         int           `mapstructure:"unit_id" validate:"gte=0,lte=255"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	TickInterval   time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"gte=0"`
	CatalogPaths   []string      `mapstructure:"catalog_paths"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"startswith=/"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker" validate:"required_if=Enabled true"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix" validate:"required_if=Enabled true"`
	QoS         int    `mapstructure:"qos" validate:"gte=0,lte=2"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// Load reads the YAML file at path, if any, and applies OPENCOUPLER_*
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Umgebungsvariablen automatisch binden
	v.SetEnvPrefix("OPENCOUPLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the value ranges of cfg.
func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterStructValidation(validateCouplerAddress, CouplerConfig{})
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// validateCouplerAddress requires host:port. The simonvetter driver also
// takes tcp://host:port and rtu://<serial device>.
func validateCouplerAddress(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(CouplerConfig)
	if cfg.Address == "" {
		return
	}

	addr := cfg.Address
	if cfg.Driver == "simonvetter" {
		if dev, ok := strings.CutPrefix(addr, "rtu://"); ok {
			if dev == "" {
				sl.ReportError(cfg.Address, "Address", "Address", "coupler_address", "")
			}
			return
		}
		addr = strings.TrimPrefix(addr, "tcp://")
	}
	if err := sl.Validator().Var(addr, "hostname_port"); err != nil {
		sl.ReportError(cfg.Address, "Address", "Address", "coupler_address", "")
	}
}

func setDefaults(v *viper.Viper) {
	// Defaults setzen
	v.SetDefault("coupler.address", "")
	v.SetDefault("coupler.driver", "native")
	v.SetDefault("coupler.unit_id", 0)
	v.SetDefault("coupler.timeout", "1s")
	v.SetDefault("coupler.tick_interval", "100ms")
	v.SetDefault("coupler.reconnect_delay", "5s")
	v.SetDefault("coupler.catalog_paths", []string{})

	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "opencoupler")
	v.SetDefault("mqtt.topic_prefix", "opencoupler")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}
