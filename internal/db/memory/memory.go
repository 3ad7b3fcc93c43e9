// Package memory implements db.Store in process on a bounded LRU, for
// single-node deployments and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kailas-cloud/cceval/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

type entry struct {
	value    []byte
	hash     map[string]string
	expireAt time.Time // zero = no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// Store is an in-process db.Store. Least recently used keys are evicted once
// the configured capacity is reached.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *entry]
	now   func() time.Time
}

// NewStore creates a memory store holding at most size keys.
func NewStore(size int) (*Store, error) {
	cache, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Store{cache: cache, now: time.Now}, nil
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close drops all keys.
func (s *Store) Close() { s.cache.Purge() }

// WaitForReady returns immediately.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// lookup returns a live entry. Caller must hold s.mu.
func (s *Store) lookup(key string) (*entry, bool) {
	e, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		s.cache.Remove(key)
		return nil, false
	}
	return e, true
}

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	if e.hash != nil {
		return nil, &db.Error{Op: db.OpGet, Err: db.ErrWrongType}
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a value at the given key, clearing any expiry.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(key, &entry{value: append([]byte(nil), value...)})
	return nil
}

// IncrWithTTL increments an integer value, creating it at zero, and arms
// ttl when the key has no expiry yet.
func (s *Store) IncrWithTTL(_ context.Context, key string, val int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		e = &entry{value: []byte("0")}
	}
	if e.hash != nil {
		return 0, &db.Error{Op: db.OpIncrBy, Err: db.ErrWrongType}
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, &db.Error{Op: db.OpIncrBy, Err: errors.New("value is not an integer")}
	}
	n += val
	e.value = []byte(strconv.FormatInt(n, 10))
	if ttl > 0 && e.expireAt.IsZero() {
		e.expireAt = s.now().Add(ttl)
	}
	s.cache.Add(key, e)
	return n, nil
}

// ReplaceHash swaps the hash at key for fields under one lock.
func (s *Store) ReplaceHash(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(fields) == 0 {
		s.cache.Remove(key)
		return nil
	}
	h := make(map[string]string, len(fields))
	for k, v := range fields {
		h[k] = v
	}
	s.cache.Add(key, &entry{hash: h})
	return nil
}

// HGetAll returns all fields of a hash. A missing key yields an empty map.
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]string{}
	e, ok := s.lookup(key)
	if !ok {
		return out, nil
	}
	if e.hash == nil {
		return nil, &db.Error{Op: db.OpHGetAll, Err: db.ErrWrongType}
	}
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

// Del deletes a key.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

// Scan returns keys matching a glob pattern.
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for _, k := range s.cache.Keys() {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: err}
		}
		if !ok {
			continue
		}
		if _, live := s.lookup(k); live {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
