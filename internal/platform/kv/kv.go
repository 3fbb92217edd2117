// Package kv defines the shared key-value store contract used by the
// Health Monitor (sliding-window samples) and the Smart Router
// (active-vendor cache TTL). The Synchronizer does not use it and takes
// no per-vendor lock. A Redis-backed implementation is provided for
// production; an in-memory implementation backs unit tests.
package kv

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the narrow kv contract the domain packages depend on. It is
// deliberately smaller than redis.Cmdable so it can be faked in tests
// without a live Redis instance.
type Store interface {
	// Get returns the value and true, or ("", false) if absent/expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes key=value with an optional TTL (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes a key.
	Del(ctx context.Context, key string) error
	// RPushTrim appends value to a list at key and trims it to the last
	// maxLen entries, used for the health monitor's sliding windows.
	RPushTrim(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error
	// Range returns up to maxLen most recent entries for key, newest last.
	Range(ctx context.Context, key string, maxLen int64) ([]string, error)
	// Incr increments an integer counter at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// SetNX sets key=value only if it does not already exist (or has
	// expired) and reports whether it did. Nothing in this module calls
	// it; in particular no sync lock is taken through it.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// RedisStore adapts a redis.Client to Store.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *RedisStore) RPushTrim(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, value)
	pipe.LTrim(ctx, key, -maxLen, -1)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Range(ctx context.Context, key string, maxLen int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, -maxLen, -1).Result()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

// MemoryStore is an in-process Store, used by tests and by cmd/core in
// place of Redis when Redis is unreachable at startup.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memEntry
	lists  map[string][]string
	counts map[string]int64
}

type memEntry struct {
	value   string
	expires time.Time // zero = no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memEntry),
		lists:  make(map[string][]string),
		counts: make(map[string]int64),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(s.values, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.values[key] = memEntry{value: value, expires: exp}
	return nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.lists, key)
	delete(s.counts, key)
	return nil
}

func (s *MemoryStore) RPushTrim(_ context.Context, key, value string, maxLen int64, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := append(s.lists[key], value)
	if int64(len(l)) > maxLen {
		l = l[int64(len(l))-maxLen:]
	}
	s.lists[key] = l
	return nil
}

func (s *MemoryStore) Range(_ context.Context, key string, maxLen int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[key]
	if int64(len(l)) > maxLen {
		l = l[int64(len(l))-maxLen:]
	}
	out := make([]string, len(l))
	copy(out, l)
	return out, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.values[key]; ok {
		if e.expires.IsZero() || time.Now().Before(e.expires) {
			return false, nil
		}
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.values[key] = memEntry{value: value, expires: exp}
	return true, nil
}
