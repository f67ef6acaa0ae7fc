package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/exchangesandbox/internal/blob/s3"
	"github.com/alanyoungcy/exchangesandbox/internal/cache/redis"
	"github.com/alanyoungcy/exchangesandbox/internal/config"
	"github.com/alanyoungcy/exchangesandbox/internal/domain"
	"github.com/alanyoungcy/exchangesandbox/internal/server/handler"
	"github.com/alanyoungcy/exchangesandbox/internal/store/memory"
	"github.com/alanyoungcy/exchangesandbox/internal/store/postgres"
)

// Dependencies bundles the backing stores selected by the run mode. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	PriceCache domain.PriceCache
	History    domain.PriceHistoryStore
	SignalBus  domain.SignalBus // nil in memory mode

	// Full mode with archiving enabled.
	Locker   domain.Locker
	Archiver domain.Archiver
	Archives domain.BlobLister

	// Checks probe each external dependency for the health endpoint.
	Checks map[string]handler.Check
}

func usesRedis(mode string) bool { return mode == "redis" || mode == "full" }

// Wire constructs the stores for cfg.Mode and returns them together with a
// cleanup function that releases every connection.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		PriceCache: memory.NewPriceCache(),
		History:    memory.NewHistoryStore(0),
		Checks:     make(map[string]handler.Check),
	}

	// --- Redis ---
	if usesRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Locker = redis.NewLocker(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	if mode != "full" {
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		logger.InfoContext(ctx, "postgres migrations applied")
	}
	deps.History = postgres.NewPriceHistoryStore(pgClient.Pool())
	deps.Checks["postgres"] = pgClient.Ping

	// --- S3 archive ---
	if !cfg.Archive.Enabled {
		return deps, cleanup, nil
	}
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	deps.Archiver = s3blob.NewPriceArchiver(s3blob.NewWriter(s3Client), deps.History)
	deps.Archives = s3blob.NewReader(s3Client)
	deps.Checks["s3"] = s3Client.Health

	return deps, cleanup, nil
}
