// Package budget persists provider token counters so daily and monthly
// budgets survive restarts.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/cceval/internal/db"
	ucbudget "github.com/kailas-cloud/cceval/internal/usecase/budget"
)

var _ ucbudget.Store = (*Store)(nil)

// store is the consumer interface for budget operations (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
}

// Store keeps provider token counters as plain integers with a per-period
// TTL, so a daily key outlives its day and a monthly key its month.
type Store struct {
	store    store
	dailyTTL time.Duration
	monthTTL time.Duration
}

// New creates a budget store.
// dailyTTL is the TTL for daily keys (recommended: 48h).
// monthTTL is the TTL for monthly keys (recommended: 62 days).
func New(s store, dailyTTL, monthTTL time.Duration) *Store {
	return &Store{
		store:    s,
		dailyTTL: dailyTTL,
		monthTTL: monthTTL,
	}
}

// IncrBy adds val to the counter; the first write of a period arms its TTL.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	if _, err := s.store.IncrWithTTL(ctx, key, val, s.ttlForKey(key)); err != nil {
		return fmt.Errorf("budget counter %s: %w", key, err)
	}
	return nil
}

// Get returns the current counter. Returns 0 if the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("budget counter %s: %w", key, err)
	}

	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget counter %s: not an integer: %w", key, err)
	}
	return val, nil
}

// ttlForKey picks the TTL from the period segment of
// <prefix>budget:{provider}:{call}:{daily|monthly}:{stamp}. Unknown shapes get the
// longer monthly TTL.
func (s *Store) ttlForKey(key string) time.Duration {
	rest, _, ok := cutLast(key, ":")
	if !ok {
		return s.monthTTL
	}
	if _, period, _ := cutLast(rest, ":"); period == "daily" {
		return s.dailyTTL
	}
	return s.monthTTL
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
