// Package events records which provider webhook events were already handled
// so redelivered messages are answered once.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long an event id is remembered by the Redis and
// memory stores. Meta retries failed deliveries for up to a day.
const DefaultRetention = 24 * time.Hour

// Deduper claims provider event ids. MarkProcessed returns true only for the
// first caller that claims a given id.
type Deduper interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore keeps event ids in the processed_events table.
type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// AlreadyProcessed checks if we've seen this provider event id.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts an event id for the provider, returning false if it already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// PurgeBefore removes rows older than cutoff and reports how many went.
func (s *ProcessedStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("events: purge processed: %w", err)
	}
	return ct.RowsAffected(), nil
}

// RedisProcessedStore claims event ids with SET NX and a retention TTL.
type RedisProcessedStore struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewRedisProcessedStore(rdb *redis.Client, retention time.Duration) *RedisProcessedStore {
	if rdb == nil {
		panic("events: redis client required")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisProcessedStore{rdb: rdb, retention: retention}
}

func (s *RedisProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, "whatsapp_bot:processed:"+provider+":"+eventID, 1, s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ok, nil
}

// MemoryProcessedStore is the single-process fallback.
type MemoryProcessedStore struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

func NewMemoryProcessedStore(retention time.Duration, now func() time.Time) *MemoryProcessedStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryProcessedStore{seen: make(map[string]time.Time), retention: retention, now: now}
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	key := provider + ":" + eventID
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if until, ok := s.seen[key]; ok && now.Before(until) {
		return false, nil
	}
	s.seen[key] = now.Add(s.retention)
	return true, nil
}

// Sweep drops ids past their retention.
func (s *MemoryProcessedStore) Sweep(context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, until := range s.seen {
		if !now.Before(until) {
			delete(s.seen, k)
			removed++
		}
	}
	return removed, nil
}
