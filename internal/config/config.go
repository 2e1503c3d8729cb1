package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for limitwatch.
type Config struct {
	Feed      Feed      `yaml:"feed" toml:"feed"`
	Alpaca    Alpaca    `yaml:"alpaca" toml:"alpaca"`
	Watchlist Watchlist `yaml:"watchlist" toml:"watchlist"`
	Engine    Engine    `yaml:"engine" toml:"engine"`
	Server    Server    `yaml:"server" toml:"server"`
	Storage   Storage   `yaml:"storage" toml:"storage"`
	Alerts    Alerts    `yaml:"alerts" toml:"alerts"`
	Logging   Logging   `yaml:"logging" toml:"logging"`
	Console   Console   `yaml:"console" toml:"console"`
}

// Feed selects and configures the market-data feed client.
type Feed struct {
	Kind             string        `yaml:"kind" toml:"kind"` // ws, alpaca, replay
	URL              string        `yaml:"url" toml:"url"`
	APIKey           string        `yaml:"api_key" toml:"api_key"`
	ReplayPath       string        `yaml:"replay_path" toml:"replay_path"`
	ReplayInterval   time.Duration `yaml:"replay_interval" toml:"replay_interval"`
	RecordPath       string        `yaml:"record_path" toml:"record_path"`
	PingPeriod       time.Duration `yaml:"ping_period" toml:"ping_period"`
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout" toml:"subscribe_timeout"`
	SubscribeRetries int           `yaml:"subscribe_retries" toml:"subscribe_retries"`
	SubscribeRate    int           `yaml:"subscribe_rate_per_min" toml:"subscribe_rate_per_min"`
	Reconnect        Reconnect     `yaml:"reconnect" toml:"reconnect"`
}

// Reconnect controls redialing after the feed drops. MaxAttempts 0 makes a
// disconnect terminal.
type Reconnect struct {
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" toml:"base_delay"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key" toml:"api_key"`
	APISecret string `yaml:"api_secret" toml:"api_secret"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	DataURL   string `yaml:"data_url" toml:"data_url"`
	StreamURL string `yaml:"stream_url" toml:"stream_url"`
	Feed      string `yaml:"feed" toml:"feed"` // iex or sip
}

// Watchlist locates the view definitions.
type Watchlist struct {
	Path string `yaml:"path" toml:"path"`
	// Alpaca loads views from the account's Alpaca watchlists instead of a
	// file. Names filters which watchlists become views (all when empty).
	Alpaca bool     `yaml:"alpaca" toml:"alpaca"`
	Names  []string `yaml:"names" toml:"names"`
}

// Engine configures the event dispatcher.
type Engine struct {
	Timezone        string        `yaml:"timezone" toml:"timezone"`
	ThresholdHour   int           `yaml:"threshold_hour" toml:"threshold_hour"`
	ThresholdMinute int           `yaml:"threshold_minute" toml:"threshold_minute"`
	QueuePolicy     string        `yaml:"queue_policy" toml:"queue_policy"` // unbounded, drop-oldest
	QueueCapacity   int           `yaml:"queue_capacity" toml:"queue_capacity"`
	QueueHighWater  int           `yaml:"queue_high_water" toml:"queue_high_water"`
	DrainOnShutdown bool          `yaml:"drain_on_shutdown" toml:"drain_on_shutdown"`
	AckCheckPeriod  time.Duration `yaml:"ack_check_period" toml:"ack_check_period"`

	UnsubscribeOnShutdown bool `yaml:"unsubscribe_on_shutdown" toml:"unsubscribe_on_shutdown"`
}

// Server holds network listener configuration. An empty address disables
// the listener.
type Server struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// Storage configures settings persistence.
type Storage struct {
	Backend     string `yaml:"backend" toml:"backend"` // sqlite, json, postgres
	SQLitePath  string `yaml:"sqlite_path" toml:"sqlite_path"`
	JSONPath    string `yaml:"json_path" toml:"json_path"`
	PostgresURL string `yaml:"postgres_url" toml:"postgres_url"`
}

// Alerts configures limit-up alert sinks. Empty addresses disable a sink.
type Alerts struct {
	RedisAddr    string        `yaml:"redis_addr" toml:"redis_addr"`
	RedisDB      int           `yaml:"redis_db" toml:"redis_db"`
	RedisTTL     time.Duration `yaml:"redis_ttl" toml:"redis_ttl"`
	KafkaBrokers []string      `yaml:"kafka_brokers" toml:"kafka_brokers"`
	KafkaTopic   string        `yaml:"kafka_topic" toml:"kafka_topic"`
	Log          bool          `yaml:"log" toml:"log"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Console configures the periodic console table.
type Console struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	Refresh time.Duration `yaml:"refresh" toml:"refresh"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// FromEnv returns defaults with environment overrides applied, for running
// without a config file. A .env file in the working directory is loaded
// first when present.
func FromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg := Default()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Load reads the configuration file at the given path, parses it into a
// Config struct, fills defaults, and then applies environment variable
// overrides. Files ending in .toml are parsed as TOML, anything else as
// YAML. A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	switch c.Feed.Kind {
	case "ws", "alpaca", "replay":
	default:
		return fmt.Errorf("feed.kind %q: want ws, alpaca or replay", c.Feed.Kind)
	}
	if c.Feed.Kind == "ws" && c.Feed.URL == "" {
		return errors.New("feed.url is required for the ws feed")
	}
	if c.Feed.Kind == "replay" && c.Feed.ReplayPath == "" {
		return errors.New("feed.replay_path is required for the replay feed")
	}
	switch c.Engine.QueuePolicy {
	case "unbounded":
	case "drop-oldest":
		if c.Engine.QueueCapacity <= 0 {
			return errors.New("engine.queue_capacity must be positive for drop-oldest")
		}
	default:
		return fmt.Errorf("engine.queue_policy %q: want unbounded or drop-oldest", c.Engine.QueuePolicy)
	}
	switch c.Storage.Backend {
	case "sqlite", "json":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.backend postgres needs storage.postgres_url")
		}
	default:
		return fmt.Errorf("storage.backend %q: want sqlite, json or postgres", c.Storage.Backend)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Feed.Kind == "" {
		cfg.Feed.Kind = "ws"
	}
	if cfg.Feed.PingPeriod == 0 {
		cfg.Feed.PingPeriod = 30 * time.Second
	}
	if cfg.Feed.SubscribeTimeout == 0 {
		cfg.Feed.SubscribeTimeout = 10 * time.Second
	}
	if cfg.Feed.SubscribeRetries == 0 {
		cfg.Feed.SubscribeRetries = 2
	}
	if cfg.Feed.SubscribeRate == 0 {
		cfg.Feed.SubscribeRate = 120
	}
	if cfg.Feed.Reconnect.BaseDelay == 0 {
		cfg.Feed.Reconnect.BaseDelay = time.Second
	}

	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}

	if cfg.Engine.Timezone == "" {
		cfg.Engine.Timezone = "Asia/Taipei"
	}
	if cfg.Engine.ThresholdHour == 0 && cfg.Engine.ThresholdMinute == 0 {
		cfg.Engine.ThresholdHour = 9
		cfg.Engine.ThresholdMinute = 40
	}
	if cfg.Engine.QueuePolicy == "" {
		cfg.Engine.QueuePolicy = "unbounded"
	}
	if cfg.Engine.QueueHighWater == 0 {
		cfg.Engine.QueueHighWater = 10000
	}
	if cfg.Engine.AckCheckPeriod == 0 {
		cfg.Engine.AckCheckPeriod = time.Second
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "limitwatch.db"
	}
	if cfg.Storage.JSONPath == "" {
		cfg.Storage.JSONPath = "limitwatch-settings.json"
	}

	if cfg.Alerts.KafkaTopic == "" {
		cfg.Alerts.KafkaTopic = "limitwatch.alerts"
	}
	if cfg.Alerts.RedisTTL == 0 {
		cfg.Alerts.RedisTTL = 24 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Console.Refresh == 0 {
		cfg.Console.Refresh = 2 * time.Second
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FEED_KIND"); v != "" {
		cfg.Feed.Kind = v
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("FEED_API_KEY"); v != "" {
		cfg.Feed.APIKey = v
	}
	if v := os.Getenv("FEED_RECORD_PATH"); v != "" {
		cfg.Feed.RecordPath = v
	}
	if v := os.Getenv("FEED_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Feed.Reconnect.MaxAttempts = n
		}
	}

	if v := os.Getenv("WATCHLIST_PATH"); v != "" {
		cfg.Watchlist.Path = v
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Alerts.RedisAddr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Alerts.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Alerts.KafkaTopic = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_STREAM_URL"); v != "" {
		cfg.Alpaca.StreamURL = v
	}

	// Standard Alpaca env vars take precedence.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
