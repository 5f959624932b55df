package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "WATERWATCH_"
	configEnvVar = "WATERWATCH_CONFIG"
)

// Loader builds a Config from, in increasing priority, defaults, a YAML
// file and WATERWATCH_ environment variables. A .env file is loaded into
// the environment first when present.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envFiles    []string
	envPrefix   string
}

type LoaderOption func(*Loader)

func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k:           koanf.New("."),
		configPaths: []string{"config.yaml", "config/config.yaml", "/etc/waterwatch/config.yaml"},
		envFiles:    []string{".env"},
		envPrefix:   envPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithConfigPaths replaces the YAML search paths. The first existing file
// wins.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

func WithEnvFiles(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.envFiles = paths
	}
}

func (l *Loader) Load() (*Config, error) {
	if err := l.loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	if err := l.k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := l.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults returns the flattened default configuration.
func Defaults() map[string]any {
	return map[string]any{
		"app.name":        "waterwatch",
		"app.version":     "dev",
		"app.environment": "development",

		"http.port":             8080,
		"http.read_timeout":     10 * time.Second,
		"http.write_timeout":    10 * time.Second,
		"http.idle_timeout":     120 * time.Second,
		"http.shutdown_timeout": 10 * time.Second,
		"http.allowed_origins":  []string{"*"},

		"database.path":            "./data/waterwatch.db",
		"database.auto_initialize": true,

		"nats.port":           4222,
		"nats.data_dir":       "./data/nats",
		"nats.max_memory":     int64(256 * 1024 * 1024),
		"nats.max_file_store": int64(2 * 1024 * 1024 * 1024),

		"mqtt.enabled":   false,
		"mqtt.broker":    "tcp://localhost:1883",
		"mqtt.client_id": "waterwatch",
		"mqtt.topic":     "waterwatch/telemetry/+",
		"mqtt.qos":       1,

		"influx.enabled": false,
		"influx.url":     "http://localhost:8086",
		"influx.org":     "waterwatch",
		"influx.bucket":  "telemetry",

		"redis.enabled": false,
		"redis.addr":    "localhost:6379",
		"redis.db":      0,
		"redis.key":     "waterwatch:flow:latest",

		"flow.connect_distance": 50.0,
		"flow.block_distance":   15.0,
		"flow.max_iterations":   10000,
		"flow.debounce":         300 * time.Millisecond,

		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		"metrics.enabled":   true,
		"metrics.path":      "/metrics",
		"metrics.namespace": "waterwatch",
	}
}

func (l *Loader) loadDotEnv() error {
	for _, path := range l.envFiles {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func (l *Loader) loadConfigFile() error {
	paths := l.configPaths
	if p := os.Getenv(configEnvVar); p != "" {
		paths = append([]string{p}, paths...)
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return l.k.Load(file.Provider(path), yaml.Parser())
		}
	}
	return nil
}

// loadEnv maps WATERWATCH_HTTP_READ_TIMEOUT to http.read_timeout: the first
// underscore separates the section, the rest is the field name.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.ProviderWithValue(l.envPrefix, ".", func(envKey, value string) (string, any) {
		key := strings.ToLower(strings.TrimPrefix(envKey, l.envPrefix))
		if key == "config" {
			return "", nil
		}
		section, field, ok := strings.Cut(key, "_")
		if !ok {
			return key, value
		}
		key = section + "." + field
		if isSliceField(key) {
			return key, splitAndTrim(value)
		}
		return key, value
	}), nil)
}

func isSliceField(key string) bool {
	return key == "http.allowed_origins"
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
