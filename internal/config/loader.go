package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SANDBOX_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the sandbox runs
// on defaults. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SANDBOX_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "SANDBOX_MODE")
	setStr(&cfg.LogLevel, "SANDBOX_LOG_LEVEL")

	// ── Feed ──
	setDuration(&cfg.Feed.PollInterval, "SANDBOX_FEED_POLL_INTERVAL")
	setDuration(&cfg.Feed.HeartbeatInterval, "SANDBOX_FEED_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Feed.ErrorBackoff, "SANDBOX_FEED_ERROR_BACKOFF")
	setDuration(&cfg.Feed.CloseTimeout, "SANDBOX_FEED_CLOSE_TIMEOUT")
	setInt(&cfg.Feed.SendBuffer, "SANDBOX_FEED_SEND_BUFFER")
	setDuration(&cfg.Feed.WriteWait, "SANDBOX_FEED_WRITE_WAIT")
	setDuration(&cfg.Feed.PongWait, "SANDBOX_FEED_PONG_WAIT")
	setInt64(&cfg.Feed.MaxMessageSize, "SANDBOX_FEED_MAX_MESSAGE_SIZE")

	// ── Simulation ──
	setDuration(&cfg.Simulation.TickInterval, "SANDBOX_SIMULATION_TICK_INTERVAL")
	setStr(&cfg.Simulation.DefaultPrice, "SANDBOX_SIMULATION_DEFAULT_PRICE")
	setInt(&cfg.Simulation.MaxDurationSeconds, "SANDBOX_SIMULATION_MAX_DURATION_SECONDS")

	// ── Products ──
	setStringSlice(&cfg.Products.IDs, "SANDBOX_PRODUCTS_IDS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SANDBOX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SANDBOX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SANDBOX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SANDBOX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SANDBOX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SANDBOX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SANDBOX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SANDBOX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SANDBOX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SANDBOX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SANDBOX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SANDBOX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SANDBOX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SANDBOX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SANDBOX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SANDBOX_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.PriceChannel, "SANDBOX_REDIS_PRICE_CHANNEL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SANDBOX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SANDBOX_S3_REGION")
	setStr(&cfg.S3.Bucket, "SANDBOX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SANDBOX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SANDBOX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SANDBOX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SANDBOX_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SANDBOX_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SANDBOX_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "SANDBOX_ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "SANDBOX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SANDBOX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SANDBOX_SERVER_API_KEY")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
