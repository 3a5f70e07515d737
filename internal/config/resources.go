package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
)

const healthcheckTimeout = 5 * time.Second

// Resources holds the three backing services the profile server talks to:
// Postgres for account aggregates and the command journal, Redis for account
// locks and push fan-out, and an S3-compatible store for profile archives.
// Everything is connected (and torn down) together so main stays short.
type Resources struct {
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	Object   *minio.Client

	archiveBucket string
}

// NewResources connects to every backing service and runs one round of
// health checks; a dead dependency fails startup rather than the first
// request that needs it.
func NewResources(ctx context.Context, cfg Config) (*Resources, error) {
	pool, err := newAggregatePool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res := &Resources{
		Postgres: pool,
		Redis: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		archiveBucket: cfg.ObjectBucket,
	}

	res.Object, err = newArchiveClient(cfg)
	if err != nil {
		res.Close()
		return nil, err
	}

	if err := res.HealthCheck(ctx); err != nil {
		res.Close()
		return nil, err
	}
	return res, nil
}

// newAggregatePool opens the connection pool backing the aggregate store and
// the command journal.
func newAggregatePool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("parse aggregate store url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect aggregate store: %w", err)
	}
	return pool, nil
}

// newArchiveClient builds the client for the bucket the archive worker
// writes aggregate snapshots into.
func newArchiveClient(cfg Config) (*minio.Client, error) {
	client, err := minio.New(cfg.ObjectEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ObjectAccessKey, cfg.ObjectSecretKey, ""),
		Secure: cfg.ObjectUseSSL,
		Region: cfg.ObjectRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("connect archive store: %w", err)
	}
	return client, nil
}

// HealthCheck pings each backing service. It is run once at startup and then
// periodically from main to feed the /healthz endpoint.
func (r *Resources) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	if err := r.Postgres.Ping(ctx); err != nil {
		return fmt.Errorf("aggregate store unreachable: %w", err)
	}
	if err := r.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("lock/notify redis unreachable: %w", err)
	}
	// S3 has no ping; statting the archive bucket doubles as an existence
	// check for the bucket the worker depends on.
	if _, err := r.Object.BucketExists(ctx, r.archiveBucket); err != nil {
		return fmt.Errorf("archive store unreachable: %w", err)
	}
	return nil
}

// Close releases every connection. Safe to call on a partially constructed
// Resources.
func (r *Resources) Close() {
	if r.Postgres != nil {
		r.Postgres.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
}
