// Package db is the key-value facade behind the family snapshot, budget
// and embedding cache repositories.
package db

import (
	"context"
	"time"
)

// Store is implemented by the in-memory and the Redis/Valkey drivers.
type Store interface {
	Pinger
	HashStore
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashStore holds whole-record hashes such as family snapshots.
type HashStore interface {
	// ReplaceHash atomically drops key and writes fields in its place, so
	// readers never see a mix of old and new fields.
	ReplaceHash(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// KVStore holds plain values and counters.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// IncrWithTTL adds val to the integer at key and returns the new value.
	// ttl is armed only when the key has no expiry yet.
	IncrWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
}
