package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/stocksim/ledger"
)

// Config is the complete service configuration. Values come from Default,
// then an optional YAML/JSON file, then .env and the process environment.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Account AccountConfig `json:"account" yaml:"account"`
	Feed    FeedConfig    `json:"feed" yaml:"feed"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr" env:"STOCKSIM_ADDR"`
	CORSOrigin      string        `json:"cors_origin" yaml:"cors_origin" env:"STOCKSIM_CORS_ORIGIN"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"STOCKSIM_SHUTDOWN_TIMEOUT"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" env:"STOCKSIM_STORE_DRIVER"` // "sqlite", "postgres" or "memory"
	DSN    string `json:"dsn" yaml:"dsn" env:"STOCKSIM_STORE_DSN"`
}

type AccountConfig struct {
	OpeningBalance decimal.Decimal `json:"opening_balance" yaml:"opening_balance" env:"STOCKSIM_OPENING_BALANCE"`
}

// FeedConfig chooses where prices come from.
type FeedConfig struct {
	Source  string        `json:"source" yaml:"source" env:"STOCKSIM_FEED"` // "none", "finnhub", "kafka", "redis" or "replay"
	Finnhub FinnhubConfig `json:"finnhub" yaml:"finnhub"`
	Kafka   KafkaConfig   `json:"kafka" yaml:"kafka"`
	Redis   RedisConfig   `json:"redis" yaml:"redis"`
	Replay  ReplayConfig  `json:"replay" yaml:"replay"`
}

type FinnhubConfig struct {
	BaseURL           string        `json:"base_url" yaml:"base_url" env:"FINNHUB_BASE_URL"`
	APIKey            string        `json:"api_key,omitempty" yaml:"api_key,omitempty" env:"FINNHUB_API_KEY"`
	Interval          time.Duration `json:"interval" yaml:"interval" env:"FINNHUB_INTERVAL"`
	RequestsPerMinute int           `json:"requests_per_minute" yaml:"requests_per_minute" env:"FINNHUB_RATE"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `json:"topic" yaml:"topic" env:"KAFKA_TOPIC"`
	GroupID string   `json:"group_id" yaml:"group_id" env:"KAFKA_GROUP_ID"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" env:"REDIS_ADDR"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"REDIS_DB"`
	Channel  string `json:"channel" yaml:"channel" env:"REDIS_CHANNEL"`
}

type ReplayConfig struct {
	Path  string  `json:"path" yaml:"path" env:"STOCKSIM_REPLAY_PATH"`
	Speed float64 `json:"speed" yaml:"speed" env:"STOCKSIM_REPLAY_SPEED"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" env:"STOCKSIM_LOG_LEVEL"`    // debug, info, warn, error
	Format string `json:"format" yaml:"format" env:"STOCKSIM_LOG_FORMAT"` // "json" or "console"
}

// Load builds the effective configuration. path may be empty; a missing
// .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file (JSON or YAML) on top of
// Default, without consulting the environment.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.readFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, c); err != nil {
		if jerr := json.Unmarshal(data, c); jerr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	return nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be 'sqlite', 'postgres' or 'memory', got %q", c.Store.Driver)
	}
	if c.Account.OpeningBalance.IsNegative() {
		return fmt.Errorf("account.opening_balance must not be negative")
	}

	switch c.Feed.Source {
	case "", "none":
	case "finnhub":
		if c.Feed.Finnhub.APIKey == "" {
			return fmt.Errorf("feed.finnhub.api_key (FINNHUB_API_KEY) is required")
		}
		if c.Feed.Finnhub.RequestsPerMinute < 0 {
			return fmt.Errorf("feed.finnhub.requests_per_minute must not be negative")
		}
	case "kafka":
		if len(c.Feed.Kafka.Brokers) == 0 || c.Feed.Kafka.Topic == "" {
			return fmt.Errorf("feed.kafka brokers and topic are required")
		}
	case "redis":
		if c.Feed.Redis.Addr == "" {
			return fmt.Errorf("feed.redis.addr is required")
		}
	case "replay":
		if c.Feed.Replay.Path == "" {
			return fmt.Errorf("feed.replay.path is required")
		}
		if c.Feed.Replay.Speed < 0 {
			return fmt.Errorf("feed.replay.speed must not be negative")
		}
	default:
		return fmt.Errorf("feed.source %q is not one of none, finnhub, kafka, redis, replay", c.Feed.Source)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			CORSOrigin:      "*",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "stocksim.db",
		},
		Account: AccountConfig{
			OpeningBalance: ledger.DefaultBalance,
		},
		Feed: FeedConfig{
			Source: "none",
			Finnhub: FinnhubConfig{
				BaseURL:           "https://finnhub.io/api/v1",
				Interval:          15 * time.Second,
				RequestsPerMinute: 55,
			},
			Kafka: KafkaConfig{
				Topic:   "price-ticks",
				GroupID: "stocksim",
			},
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Channel: "price_ticks",
			},
			Replay: ReplayConfig{
				Speed: 1,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
