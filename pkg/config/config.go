package config

import (
	"errors"
	"fmt"
	"time"

	"waterwatch/pkg/logger"
)

type Config struct {
	App      AppConfig      `koanf:"app"`
	HTTP     HTTPConfig     `koanf:"http"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	MQTT     MQTTConfig     `koanf:"mqtt"`
	Influx   InfluxConfig   `koanf:"influx"`
	Redis    RedisConfig    `koanf:"redis"`
	Flow     FlowConfig     `koanf:"flow"`
	Log      logger.Config  `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type DatabaseConfig struct {
	Path           string `koanf:"path"`
	AutoInitialize bool   `koanf:"auto_initialize"`
}

type NATSConfig struct {
	Port         int    `koanf:"port"`
	DataDir      string `koanf:"data_dir"`
	MaxMemory    int64  `koanf:"max_memory"`
	MaxFileStore int64  `koanf:"max_file_store"`
}

type MQTTConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Broker   string `koanf:"broker"`
	ClientID string `koanf:"client_id"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Topic    string `koanf:"topic"`
	QoS      int    `koanf:"qos"`
}

type InfluxConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Token   string `koanf:"token"`
	Org     string `koanf:"org"`
	Bucket  string `koanf:"bucket"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Key      string `koanf:"key"`
}

type FlowConfig struct {
	ConnectDistance float64       `koanf:"connect_distance"` // meters
	BlockDistance   float64       `koanf:"block_distance"`   // meters
	MaxIterations   int           `koanf:"max_iterations"`
	Debounce        time.Duration `koanf:"debounce"`
}

type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
}

func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.NATS.Port < 1 || c.NATS.Port > 65535 {
		errs = append(errs, fmt.Errorf("nats.port must be between 1 and 65535, got %d", c.NATS.Port))
	}
	if c.Flow.ConnectDistance <= 0 {
		errs = append(errs, errors.New("flow.connect_distance must be positive"))
	}
	if c.Flow.BlockDistance <= 0 {
		errs = append(errs, errors.New("flow.block_distance must be positive"))
	}
	if c.Flow.MaxIterations <= 0 {
		errs = append(errs, errors.New("flow.max_iterations must be positive"))
	}
	if c.Flow.Debounce < 0 {
		errs = append(errs, errors.New("flow.debounce must not be negative"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		errs = append(errs, errors.New("influx.url and influx.bucket are required when influx is enabled"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
