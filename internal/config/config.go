// Package config defines the top-level configuration for the exchange sandbox
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SANDBOX_* environment variables.
type Config struct {
	Feed       FeedConfig       `toml:"feed"`
	Simulation SimulationConfig `toml:"simulation"`
	Products   ProductsConfig   `toml:"products"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// FeedConfig tunes the market-data feed served on /ws.
type FeedConfig struct {
	PollInterval      duration `toml:"poll_interval"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	ErrorBackoff      duration `toml:"error_backoff"`
	CloseTimeout      duration `toml:"close_timeout"`
	SendBuffer        int      `toml:"send_buffer"`
	WriteWait         duration `toml:"write_wait"`
	PongWait          duration `toml:"pong_wait"`
	MaxMessageSize    int64    `toml:"max_message_size"`
}

// SimulationConfig holds price simulator parameters.
type SimulationConfig struct {
	TickInterval       duration `toml:"tick_interval"`
	DefaultPrice       string   `toml:"default_price"`
	MaxDurationSeconds int      `toml:"max_duration_seconds"`
}

// ProductsConfig lists the tradable products and the prices they are seeded
// with at startup and on reset.
type ProductsConfig struct {
	IDs        []string          `toml:"ids"`
	SeedPrices map[string]string `toml:"seed_prices"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	PriceChannel string `toml:"price_channel"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the price-history archive job (full mode only).
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			PollInterval:      duration{time.Second},
			HeartbeatInterval: duration{30 * time.Second},
			ErrorBackoff:      duration{5 * time.Second},
			CloseTimeout:      duration{time.Second},
			SendBuffer:        256,
			WriteWait:         duration{10 * time.Second},
			PongWait:          duration{60 * time.Second},
			MaxMessageSize:    4096,
		},
		Simulation: SimulationConfig{
			TickInterval:       duration{time.Second},
			DefaultPrice:       "50000.00",
			MaxDurationSeconds: 86400,
		},
		Products: ProductsConfig{
			IDs: []string{"BTC-USD", "ETH-USD", "SOL-USD"},
			SeedPrices: map[string]string{
				"BTC-USD": "75000.00",
				"ETH-USD": "4500.00",
				"SOL-USD": "195.00",
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			PriceChannel: "prices",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sandbox-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			RetentionDays: 7,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mode:     "memory",
		LogLevel: "info",
	}
}

// Poll returns the poller tick interval. The accessors below unwrap the TOML
// duration type for callers outside the package.
func (f FeedConfig) Poll() time.Duration          { return f.PollInterval.Duration }
func (f FeedConfig) Heartbeat() time.Duration     { return f.HeartbeatInterval.Duration }
func (f FeedConfig) Backoff() time.Duration       { return f.ErrorBackoff.Duration }
func (f FeedConfig) CloseWait() time.Duration     { return f.CloseTimeout.Duration }
func (f FeedConfig) WriteDeadline() time.Duration { return f.WriteWait.Duration }
func (f FeedConfig) PongDeadline() time.Duration  { return f.PongWait.Duration }

// Tick returns the simulator tick interval.
func (s SimulationConfig) Tick() time.Duration { return s.TickInterval.Duration }

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"memory": true,
	"redis":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: memory, redis, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.PollInterval.Duration <= 0 {
		errs = append(errs, "feed: poll_interval must be > 0")
	}
	if c.Feed.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "feed: heartbeat_interval must be > 0")
	}
	if c.Feed.ErrorBackoff.Duration < c.Feed.PollInterval.Duration {
		errs = append(errs, "feed: error_backoff must not be shorter than poll_interval")
	}
	if c.Feed.CloseTimeout.Duration <= 0 {
		errs = append(errs, "feed: close_timeout must be > 0")
	}
	if c.Feed.SendBuffer < 1 {
		errs = append(errs, "feed: send_buffer must be >= 1")
	}
	if c.Feed.PongWait.Duration <= 0 || c.Feed.WriteWait.Duration <= 0 {
		errs = append(errs, "feed: write_wait and pong_wait must be > 0")
	}
	if c.Feed.MaxMessageSize < 512 {
		errs = append(errs, "feed: max_message_size must be >= 512")
	}

	// Simulation
	if c.Simulation.TickInterval.Duration <= 0 {
		errs = append(errs, "simulation: tick_interval must be > 0")
	}
	if d, err := decimal.NewFromString(c.Simulation.DefaultPrice); err != nil || !d.IsPositive() {
		errs = append(errs, fmt.Sprintf("simulation: default_price must be a positive decimal, got %q", c.Simulation.DefaultPrice))
	}
	if c.Simulation.MaxDurationSeconds < 1 {
		errs = append(errs, "simulation: max_duration_seconds must be >= 1")
	}

	// Products
	if len(c.Products.IDs) == 0 {
		errs = append(errs, "products: ids must not be empty")
	}
	known := make(map[string]bool, len(c.Products.IDs))
	for _, id := range c.Products.IDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, "products: ids must not contain empty values")
			continue
		}
		known[id] = true
	}
	for id, raw := range c.Products.SeedPrices {
		if !known[id] {
			errs = append(errs, fmt.Sprintf("products: seed price for unknown product %q", id))
		}
		if d, err := decimal.NewFromString(raw); err != nil || !d.IsPositive() {
			errs = append(errs, fmt.Sprintf("products: seed price for %s must be a positive decimal, got %q", id, raw))
		}
	}

	// Redis
	if mode == "redis" || mode == "full" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres and S3
	if mode == "full" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Archive.Enabled {
			if c.S3.Endpoint == "" {
				errs = append(errs, "s3: endpoint must not be empty")
			}
			if c.S3.Bucket == "" {
				errs = append(errs, "s3: bucket must not be empty")
			}
			if c.Archive.RetentionDays < 1 {
				errs = append(errs, "archive: retention_days must be >= 1")
			}
			if err := pipeline.ValidateCron(c.Archive.Cron); err != nil {
				errs = append(errs, fmt.Sprintf("archive: cron %q: %v", c.Archive.Cron, err))
			}
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
