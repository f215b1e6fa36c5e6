package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrConflict is returned when an Update could not be applied because the
// key kept changing underneath it.
var ErrConflict = errors.New("auth: concurrent update conflict")

// Mutation is the outcome of an UpdateFunc. The zero value leaves the key
// untouched.
type Mutation struct {
	Delete bool
	Value  []byte
	TTL    time.Duration // <= 0 stores without expiry
}

// UpdateFunc computes the next value of a key from its current one. It may
// run more than once when the backing store retries.
type UpdateFunc func(current []byte, found bool) (Mutation, error)

// Store is a TTL key-value store keyed by phone-scoped strings. Update is an
// atomic read-modify-write for a single key.
type Store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// MemoryStore is an in-process Store. Each key has its own lock so work on
// one phone number never waits on another. Expiry is checked on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	locks   map[string]*keyLock
	now     func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]*keyLock),
		now:     clock,
	}
}

func (s *MemoryStore) lockKey(key string) func() {
	s.mu.Lock()
	l := s.locks[key]
	if l == nil {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// read returns the live value for key, dropping it if expired. The caller
// holds the key lock.
func (s *MemoryStore) read(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

func (s *MemoryStore) write(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
}

func (s *MemoryStore) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *MemoryStore) Get(_ context.Context, key string, dst any) (bool, error) {
	unlock := s.lockKey(key)
	defer unlock()
	raw, ok := s.read(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("auth: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("auth: encode %s: %w", key, err)
	}
	unlock := s.lockKey(key)
	defer unlock()
	s.write(key, raw, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	unlock := s.lockKey(key)
	defer unlock()
	s.remove(key)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	unlock := s.lockKey(key)
	defer unlock()

	cur, found := s.read(key)
	m, err := fn(cur, found)
	if err != nil {
		return err
	}
	switch {
	case m.Delete:
		s.remove(key)
	case m.Value != nil:
		s.write(key, m.Value, m.TTL)
	}
	return nil
}

// Sweep drops every expired entry and reports how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
