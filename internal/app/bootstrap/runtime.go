package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/care-whatsapp-bot/internal/compliance"
	appconfig "github.com/wolfman30/care-whatsapp-bot/internal/config"
	"github.com/wolfman30/care-whatsapp-bot/internal/emr"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects to DATABASE_URL. It returns nil, nil when no
// URL is configured.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildAuditService opens a database/sql handle over pool for the audit
// log. Both results are nil without a pool.
func BuildAuditService(pool *pgxpool.Pool) (*compliance.AuditService, *sql.DB) {
	if pool == nil {
		return nil, nil
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	return compliance.NewAuditService(sqlDB), sqlDB
}

// BuildEMRProvider reads the EMR directory tables when a pool is available
// and otherwise falls back to an empty in-memory directory.
func BuildEMRProvider(pool *pgxpool.Pool, logger *logging.Logger) emr.Provider {
	if pool != nil {
		return emr.NewPostgresStore(pool)
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger.Warn("DATABASE_URL not set; EMR directory is empty and every sender is unregistered")
	return emr.NewInMemoryStore()
}
