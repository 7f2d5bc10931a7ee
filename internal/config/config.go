// Package config loads server settings: the embedded defaults, then an
// optional YAML file, then a .env file, then the process environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"spinwheel/internal/wheel"
)

//go:embed default.yaml
var defaultYAML []byte

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Spin    SpinConfig    `yaml:"spin"`
	Wheel   WheelConfig   `yaml:"wheel"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SpinConfig struct {
	Duration      time.Duration `yaml:"duration"`
	Settle        time.Duration `yaml:"settle"`
	FrameInterval time.Duration `yaml:"frame_interval"`
	MinTurns      int           `yaml:"min_turns"`
	MaxTurns      int           `yaml:"max_turns"`
}

type WheelConfig struct {
	DefaultID string        `yaml:"default_id"`
	Seed      uint64        `yaml:"seed"`
	Prizes    []wheel.Prize `yaml:"prizes"`
}

// Wheel converts the spin settings for the controller.
func (s SpinConfig) Wheel() wheel.SpinConfig {
	return wheel.SpinConfig{
		Duration:      s.Duration,
		Settle:        s.Settle,
		FrameInterval: s.FrameInterval,
		MinTurns:      s.MinTurns,
		MaxTurns:      s.MaxTurns,
	}
}

// Default returns the embedded configuration.
func Default() (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse default config: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration. path and envFile are optional; a missing
// envFile is not an error, a missing path is.
func Load(path, envFile string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// Fields absent from the file keep their defaults.
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if envFile != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.HTTP.Addr = ":" + v
	}
	cfg.HTTP.Addr = envOr("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.BaseURL = envOr("BASE_URL", cfg.HTTP.BaseURL)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = splitList(v)
	}
	cfg.Log.Level = envOr("LOG_LEVEL", cfg.Log.Level)
	if v := os.Getenv("LOG_DEVELOPMENT"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_DEVELOPMENT %q: %w", v, err)
		}
		cfg.Log.Development = dev
	}
	cfg.Storage.Driver = envOr("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Redis.Addr = envOr("REDIS_ADDR", cfg.Storage.Redis.Addr)
	cfg.Storage.Redis.Password = envOr("REDIS_PASSWORD", cfg.Storage.Redis.Password)
	cfg.Storage.Postgres.DSN = envOr("PG_DSN", cfg.Storage.Postgres.DSN)
	if v := os.Getenv("WHEEL_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid WHEEL_SEED %q: %w", v, err)
		}
		cfg.Wheel.Seed = seed
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RequestTimeout <= 0 {
		errs = append(errs, errors.New("http.request_timeout must be > 0"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for driver=redis"))
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required for driver=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, redis, postgres", c.Storage.Driver))
	}

	if c.Spin.Duration <= 0 {
		errs = append(errs, errors.New("spin.duration must be > 0"))
	}
	if c.Spin.Settle < 0 {
		errs = append(errs, errors.New("spin.settle must be >= 0"))
	}
	if c.Spin.FrameInterval <= 0 {
		errs = append(errs, errors.New("spin.frame_interval must be > 0"))
	}
	if c.Spin.MinTurns < 1 || c.Spin.MaxTurns < c.Spin.MinTurns {
		errs = append(errs, fmt.Errorf("spin turns must satisfy 1 <= min_turns <= max_turns, got %d..%d", c.Spin.MinTurns, c.Spin.MaxTurns))
	}

	if c.Wheel.DefaultID == "" {
		errs = append(errs, errors.New("wheel.default_id is required"))
	}
	if len(c.Wheel.Prizes) == 0 {
		errs = append(errs, errors.New("wheel.prizes must list at least one prize"))
	}
	seen := make(map[int]bool, len(c.Wheel.Prizes))
	for i, p := range c.Wheel.Prizes {
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("wheel.prizes[%d]: duplicate id %d", i, p.ID))
		}
		seen[p.ID] = true
		if p.Stock < 0 {
			errs = append(errs, fmt.Errorf("wheel.prizes[%d]: stock must be >= 0", i))
		}
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("wheel.prizes[%d]: name is required", i))
		}
	}

	return errors.Join(errs...)
}
