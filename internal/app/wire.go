package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/escrowmarket/internal/blob/s3"
	"github.com/alanyoungcy/escrowmarket/internal/cache/redis"
	"github.com/alanyoungcy/escrowmarket/internal/config"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/server/handler"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
	"github.com/alanyoungcy/escrowmarket/internal/store/memory"
	"github.com/alanyoungcy/escrowmarket/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function. Redis
// and S3 backed fields are nil when the backend is not configured.
type Dependencies struct {
	Store  domain.Store
	Engine *settlement.Engine

	// Caches
	MarketCache  domain.MarketCache
	ListingCache domain.ListingCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	ReplayGuard  domain.ReplayGuard
	SignalBus    domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Health probes keyed by dependency name.
	Pingers map[string]handler.Pinger
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}

	// --- Record store ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
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
		}
		deps.Store = postgres.NewStore(pgClient.Pool())
		deps.Pingers["postgres"] = pgClient
	default:
		logger.WarnContext(ctx, "wire: using in-memory store; state is lost on restart")
		deps.Store = memory.New()
	}
	closers = append(closers, deps.Store.Close)

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.ListingCache = redis.NewListingCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.ReplayGuard = redis.NewReplayGuard(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Pingers["redis"] = redisClient
	}

	// --- S3 blob storage (archive mode only) ---
	if strings.ToLower(cfg.Mode) == "archive" {
		bucket, err := s3blob.New(ctx, s3blob.BucketConfig{
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
		deps.BlobWriter = bucket
		deps.BlobReader = bucket
		deps.Pingers["s3"] = pingFunc(bucket.Health)
	}

	// --- Settlement engine ---
	engine := settlement.NewEngine(deps.Store, settlement.Config{
		FeeScalar:      cfg.Settlement.FeeScalar,
		RejectZeroAsk:  cfg.Settlement.RejectZeroAsk,
		ListingDeposit: cfg.Settlement.ListingDeposit,
	}, logger)
	if deps.ListingCache != nil {
		engine = engine.WithListingCache(deps.ListingCache)
	}
	if deps.SignalBus != nil {
		engine = engine.WithPublisher(deps.SignalBus)
	}
	deps.Engine = engine

	return deps, cleanup, nil
}
