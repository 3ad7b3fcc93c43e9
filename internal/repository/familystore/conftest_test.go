package familystore

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/usecase/familydb"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hashes    map[string]map[string]string
	replaceFn func(ctx context.Context, key string, fields map[string]string) error
	scanFn    func(ctx context.Context, pattern string) ([]string, error)
	delKeys   []string
}

func newMockStore() *mockStore {
	return &mockStore{hashes: map[string]map[string]string{}}
}

func (m *mockStore) ReplaceHash(ctx context.Context, key string, fields map[string]string) error {
	if m.replaceFn != nil {
		return m.replaceFn(ctx, key, fields)
	}
	h := make(map[string]string, len(fields))
	for k, v := range fields {
		h[k] = v
	}
	m.hashes[key] = h
	return nil
}

func (m *mockStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *mockStore) Del(_ context.Context, key string) error {
	m.delKeys = append(m.delKeys, key)
	delete(m.hashes, key)
	return nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	keys := make([]string, 0, len(m.hashes))
	for k := range m.hashes {
		keys = append(keys, k)
	}
	return keys, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := newMockStore()
	return New(ms), ms
}

func testSnapshot(t *testing.T) familydb.Snapshot {
	t.Helper()
	mk := func(id, desc string) family.Record {
		r, err := family.NewRecord(family.KindWorkUnit, id, desc, "CEM2022R1.pdf#p40")
		if err != nil {
			t.Fatalf("NewRecord: %v", err)
		}
		return r
	}
	return familydb.Snapshot{
		Kind:    family.KindWorkUnit,
		Source:  "d4dproject/standard/CEM2022R1.pdf",
		ModTime: time.Date(2022, 11, 1, 10, 0, 0, 123, time.UTC),
		Records: []family.Record{
			mk("ASE_INT.1-1", "The evaluator shall check that the ST introduction contains an ST reference."),
			mk("ASE_INT.1-2", "The evaluator shall examine the ST reference to determine that it uniquely identifies the ST."),
		},
		BuiltAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}
