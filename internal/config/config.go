package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration
type Config struct {
	Port      string `yaml:"port" validate:"required"`
	DBPath    string `yaml:"dbPath" validate:"required"`
	KVPath    string `yaml:"kvPath"` // empty keeps live state in memory
	LogLevel  string `yaml:"logLevel" validate:"oneof=debug info warn error"`
	JWTSecret string `yaml:"jwtSecret"`
	// TrustPrincipalHeader accepts X-Principal-ID from an authenticating proxy.
	TrustPrincipalHeader bool `yaml:"trustPrincipalHeader"`

	Buffer     BufferConfig     `yaml:"buffer"`
	Flush      FlushConfig      `yaml:"flush"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Routes     RoutesConfig     `yaml:"routes"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Connection ConnectionConfig `yaml:"connection"`
}

type BufferConfig struct {
	Capacity int `yaml:"capacity" validate:"gt=0"`
}

type FlushConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

type TrackingConfig struct {
	SnapshotTTL time.Duration `yaml:"snapshotTTL" validate:"gt=0"`
}

type RoutesConfig struct {
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`
}

type RateLimitConfig struct {
	Messages int           `yaml:"messages" validate:"gt=0"`
	Window   time.Duration `yaml:"window" validate:"gt=0"`
}

type ConnectionConfig struct {
	OutboxSize      int           `yaml:"outboxSize" validate:"gt=0"`
	MaxMessageBytes int64         `yaml:"maxMessageBytes" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pongWait" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" validate:"gt=0"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Port:     ":8080",
		DBPath:   "./data/live/live.db",
		KVPath:   "./data/live/kv",
		LogLevel: "info",
		Buffer:   BufferConfig{Capacity: 100},
		Flush: FlushConfig{
			Interval: 5 * time.Second,
			Timeout:  3 * time.Second,
		},
		Tracking:  TrackingConfig{SnapshotTTL: 24 * time.Hour},
		Routes:    RoutesConfig{TTL: time.Hour},
		RateLimit: RateLimitConfig{Messages: 120, Window: 10 * time.Second},
		Connection: ConnectionConfig{
			OutboxSize:      64,
			MaxMessageBytes: 64 << 10,
			PongWait:        60 * time.Second,
			WriteTimeout:    10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in that order, then validates it
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Port = NormalizePort(cfg.Port)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DB_PATH", &c.DBPath)
	str("JWT_SECRET", &c.JWTSecret)
	str("LOG_LEVEL", &c.LogLevel)
	// KV_PATH may be set to "" explicitly to select the in-memory store
	if v, ok := lookup("KV_PATH"); ok {
		c.KVPath = v
	}

	var errs []error
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	duration("FLUSH_INTERVAL", &c.Flush.Interval)
	duration("FLUSH_TIMEOUT", &c.Flush.Timeout)

	if v, ok := lookup("BUFFER_CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BUFFER_CAPACITY: %w", err))
		} else {
			c.Buffer.Capacity = n
		}
	}
	if v, ok := lookup("TRUST_PRINCIPAL_HEADER"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TRUST_PRINCIPAL_HEADER: %w", err))
		} else {
			c.TrustPrincipalHeader = b
		}
	}
	return errors.Join(errs...)
}

// NormalizePort accepts "8080" as well as ":8080"
func NormalizePort(port string) string {
	if port != "" && !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}
