package budget

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/kailas-cloud/cceval/internal/db"
)

type mockStore struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
	incrErr error
}

func newMockStore() *mockStore {
	return &mockStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) IncrWithTTL(_ context.Context, key string, val int64, ttl time.Duration) (int64, error) {
	if m.incrErr != nil {
		return 0, m.incrErr
	}
	cur, _ := strconv.ParseInt(string(m.data[key]), 10, 64)
	m.data[key] = []byte(strconv.FormatInt(cur+val, 10))
	if _, armed := m.ttls[key]; !armed {
		m.ttls[key] = ttl
	}
	return cur + val, nil
}

func TestIncrBy_TTLByPeriod(t *testing.T) {
	tests := []struct {
		key  string
		want time.Duration
	}{
		{"cceval:budget:openai:embedding:daily:2026-10-19", 48 * time.Hour},
		{"cceval:budget:openai:generation:daily:2026-10-19", 48 * time.Hour},
		{"cceval:budget:openai:generation:monthly:2026-10", 62 * 24 * time.Hour},
		{"unscoped", 62 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			ms := newMockStore()
			s := New(ms, 48*time.Hour, 62*24*time.Hour)

			if err := s.IncrBy(context.Background(), tt.key, 10); err != nil {
				t.Fatalf("IncrBy: %v", err)
			}
			if got := ms.ttls[tt.key]; got != tt.want {
				t.Errorf("ttl: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIncrBy_Accumulates(t *testing.T) {
	ms := newMockStore()
	s := New(ms, time.Hour, time.Hour)
	ctx := context.Background()

	for range 3 {
		if err := s.IncrBy(ctx, "k:daily:d", 7); err != nil {
			t.Fatal(err)
		}
	}
	v, err := s.Get(ctx, "k:daily:d")
	if err != nil || v != 21 {
		t.Fatalf("expected 21, got %d, %v", v, err)
	}
}

func TestIncrBy_Error(t *testing.T) {
	ms := newMockStore()
	ms.incrErr = errors.New("conn reset")
	s := New(ms, time.Hour, time.Hour)

	if err := s.IncrBy(context.Background(), "k:daily:d", 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestGet(t *testing.T) {
	ms := newMockStore()
	s := New(ms, time.Hour, time.Hour)
	ctx := context.Background()

	v, err := s.Get(ctx, "missing")
	if err != nil || v != 0 {
		t.Fatalf("expected 0 for missing key, got %d, %v", v, err)
	}

	ms.data["k"] = []byte("1234")
	v, err = s.Get(ctx, "k")
	if err != nil || v != 1234 {
		t.Fatalf("expected 1234, got %d, %v", v, err)
	}

	ms.data["bad"] = []byte("abc")
	if _, err := s.Get(ctx, "bad"); err == nil {
		t.Fatal("expected parse error")
	}

	ms.getErr = errors.New("timeout")
	if _, err := s.Get(ctx, "k"); err == nil {
		t.Fatal("expected store error")
	}
}
