package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisUpdateRetries = 5

// RedisStore is a Store shared by every API instance. Values are JSON with a
// native Redis TTL; Update runs as a WATCH/MULTI optimistic transaction.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a store backed by Redis.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	if rdb == nil {
		panic("auth: redis client required")
	}
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("auth: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("auth: encode %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("auth: redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("auth: redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			cur, found = nil, false
		} else if err != nil {
			return err
		}

		m, err := fn(cur, found)
		if err != nil {
			return err
		}
		if !m.Delete && m.Value == nil {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if m.Delete {
				pipe.Del(ctx, key)
				return nil
			}
			ttl := m.TTL
			if ttl < 0 {
				ttl = 0
			}
			pipe.Set(ctx, key, m.Value, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("auth: redis update %s: %w", key, err)
	}
	return ErrConflict
}
