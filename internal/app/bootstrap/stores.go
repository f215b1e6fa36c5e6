package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/care-whatsapp-bot/internal/auth"
	appconfig "github.com/wolfman30/care-whatsapp-bot/internal/config"
	"github.com/wolfman30/care-whatsapp-bot/internal/events"
	"github.com/wolfman30/care-whatsapp-bot/internal/worker/cleanup"
)

// BuildSessionStore picks the passcode and session store named by
// SESSION_STORE. The memory store also returns its sweep target. now is the
// clock the stores expire entries against; nil means time.Now.
func BuildSessionStore(ctx context.Context, cfg *appconfig.Config, rdb *redis.Client, now func() time.Time) (auth.Store, cleanup.SweepFunc, error) {
	switch {
	case cfg != nil && cfg.SessionStore == "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("bootstrap: SESSION_STORE=redis but redis is unavailable")
		}
		return auth.NewRedisStore(rdb), nil, nil
	case cfg != nil && cfg.SessionStore == "dynamodb":
		client, err := BuildDynamoClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return auth.NewDynamoStore(client, cfg.SessionTable, now), nil, nil
	}
	store := auth.NewMemoryStore(now)
	return store, store.Sweep, nil
}

// BuildDeduper prefers Redis, then Postgres, then process memory. The
// returned sweep target is nil when the backend expires entries itself.
func BuildDeduper(rdb *redis.Client, pool *pgxpool.Pool, now func() time.Time) (events.Deduper, cleanup.SweepFunc) {
	switch {
	case rdb != nil:
		return events.NewRedisProcessedStore(rdb, events.DefaultRetention), nil
	case pool != nil:
		store := events.NewProcessedStore(pool)
		return store, cleanup.PurgeOlderThan(events.DefaultRetention, now, store.PurgeBefore)
	default:
		store := events.NewMemoryProcessedStore(events.DefaultRetention, now)
		return store, store.Sweep
	}
}

// AuthOptions maps configuration onto authenticator options.
func AuthOptions(cfg *appconfig.Config) []auth.Option {
	if cfg == nil {
		return nil
	}
	return []auth.Option{
		auth.WithCountryCode(cfg.CountryCode),
		auth.WithPolicy(AuthPolicy(cfg)),
	}
}

// AuthPolicy builds the passcode policy from configuration, keeping
// defaults for unset values. The code length is not configurable: the
// command classifier only recognizes six-digit replies.
func AuthPolicy(cfg *appconfig.Config) auth.Policy {
	p := auth.DefaultPolicy()
	if cfg == nil {
		return p
	}
	if cfg.OTPTTL > 0 {
		p.OTPTTL = cfg.OTPTTL
	}
	if cfg.OTPMaxAttempts > 0 {
		p.MaxAttempts = cfg.OTPMaxAttempts
	}
	if cfg.RateLimitWindow > 0 {
		p.RateLimitWindow = cfg.RateLimitWindow
	}
	if cfg.SessionTTL > 0 {
		p.SessionTTL = cfg.SessionTTL
	}
	return p
}
