package familydb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/ingest"
)

// --- Mocks ---

type stubPages struct {
	pages []ingest.Page
	err   error
	calls atomic.Int32
}

func (s *stubPages) LoadPages(_ context.Context, _ string) ([]ingest.Page, error) {
	s.calls.Add(1)
	return s.pages, s.err
}

type memSnapshots struct {
	mu      sync.Mutex
	snaps   map[family.Kind]Snapshot
	saves   int
	listErr error
}

func (m *memSnapshots) Load(_ context.Context, kind family.Kind) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[kind]
	if !ok {
		return Snapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memSnapshots) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps == nil {
		m.snaps = map[family.Kind]Snapshot{}
	}
	m.snaps[snap.Kind] = snap
	m.saves++
	return nil
}

func (m *memSnapshots) Kinds(_ context.Context) ([]family.Kind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	kinds := make([]family.Kind, 0, len(m.snaps))
	for k := range m.snaps {
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (m *memSnapshots) Delete(_ context.Context, kind family.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, kind)
	return nil
}

var cemPages = []ingest.Page{
	{Number: 3, Text: "Contents\nASE_INT.1-1 ST reference\nASE_INT.1-2 TOE reference"},
	{Number: 41, Text: "ASE_INT.1.1E\nASE_INT.1-1 The evaluator shall check that the ST introduction\ncontains an ST reference.\n" +
		"ASE_INT.1-2 The evaluator shall examine the ST reference to determine that it\nuniquely identifies the ST."},
	{Number: 42, Text: "as described in ASE_INT.1-2 above.\nASE_CCL.1-1 The evaluator shall check that the conformance claim\ncontains a CC conformance claim."},
}

func mustRecord(t *testing.T, kind family.Kind, id string) family.Record {
	t.Helper()
	r, err := family.NewRecord(kind, id, "text of "+id, "doc#p1")
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// --- Extract ---

func TestExtract_WorkUnits(t *testing.T) {
	records, err := Extract(family.KindWorkUnit, "CEM2022R1.pdf", cemPages)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := []string{"ASE_INT.1-1", "ASE_INT.1-2", "ASE_CCL.1-1"}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i, id := range want {
		if records[i].Identifier() != id {
			t.Errorf("record %d: expected %s, got %s", i, id, records[i].Identifier())
		}
	}

	first := records[0]
	if first.Description() != "The evaluator shall check that the ST introduction contains an ST reference." {
		t.Errorf("unexpected description %q", first.Description())
	}
	if first.SourceRef() != "CEM2022R1.pdf#p41" {
		t.Errorf("expected body page to win over contents, got %q", first.SourceRef())
	}
	// the cross reference is not line-anchored and stays part of the description
	if got := records[1].Description(); got != "The evaluator shall examine the ST reference to determine that it "+
		"uniquely identifies the ST. as described in ASE_INT.1-2 above." {
		t.Errorf("unexpected description %q", got)
	}
}

func TestExtract_DeveloperActions(t *testing.T) {
	pages := []ingest.Page{{Number: 77, Text: "ASE_INT.1.1D The developer shall provide an ST introduction.\n" +
		"ASE_INT.1.1C The ST introduction shall contain an ST reference.\n" +
		"ASE_INT.1-1 work units are ignored\n" +
		"ASE_OBJ.2.1D The developer shall provide a statement of security objectives."}}

	records, err := Extract(family.KindDeveloperAction, "CC2022PART3R1.pdf", pages)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].FamilyPrefix() != "ASE_INT" || records[1].FamilyPrefix() != "ASE_OBJ" {
		t.Errorf("unexpected prefixes %s %s", records[0].FamilyPrefix(), records[1].FamilyPrefix())
	}
	if records[1].Kind() != family.KindDeveloperAction {
		t.Errorf("unexpected kind %s", records[1].Kind())
	}
}

func TestExtract_UnknownKind(t *testing.T) {
	if _, err := Extract("other", "doc", cemPages); err == nil {
		t.Fatal("expected error")
	}
}

func TestExtract_NoPages(t *testing.T) {
	records, err := Extract(family.KindWorkUnit, "doc", nil)
	if err != nil || len(records) != 0 {
		t.Errorf("expected no records, got %v, %v", records, err)
	}
}

// --- Database ---

func TestRetrieveFamily(t *testing.T) {
	db := New(family.KindWorkUnit, []family.Record{
		mustRecord(t, family.KindWorkUnit, "ASE_INT.1-1"),
		mustRecord(t, family.KindWorkUnit, "ASE_CCL.1-1"),
		mustRecord(t, family.KindWorkUnit, "ASE_INT.1-2"),
	})

	tests := []struct {
		prefix string
		want   []string
	}{
		{"ASE_INT", []string{"ASE_INT.1-1", "ASE_INT.1-2"}},
		{"ase_int.1", []string{"ASE_INT.1-1", "ASE_INT.1-2"}},
		{" ase-ccl ", []string{"ASE_CCL.1-1"}},
		{"ZZZ_NONEXISTENT", []string{}},
		{"", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.prefix, func(t *testing.T) {
			got := db.RetrieveFamily(tc.prefix)
			if got == nil {
				t.Fatal("expected non-nil slice")
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d records, got %d", len(tc.want), len(got))
			}
			for i, id := range tc.want {
				if got[i].Identifier() != id {
					t.Errorf("record %d: expected %s, got %s", i, id, got[i].Identifier())
				}
			}
		})
	}
}

func TestDatabase_Families(t *testing.T) {
	db := New(family.KindWorkUnit, []family.Record{
		mustRecord(t, family.KindWorkUnit, "ASE_OBJ.2-1"),
		mustRecord(t, family.KindWorkUnit, "ADV_FSP.1-1"),
		mustRecord(t, family.KindWorkUnit, "ASE_OBJ.2-2"),
	})
	got := db.Families()
	if len(got) != 2 || got[0] != "ADV_FSP" || got[1] != "ASE_OBJ" {
		t.Errorf("unexpected families %v", got)
	}
	if db.Len() != 3 || db.Kind() != family.KindWorkUnit {
		t.Errorf("unexpected len/kind %d %s", db.Len(), db.Kind())
	}
}

// --- Loader ---

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "CEM2022R1.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.7"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoader_BuildsOnce(t *testing.T) {
	src := writeSource(t)
	pages := &stubPages{pages: cemPages}
	snaps := &memSnapshots{}
	l := NewLoader(pages, snaps, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Database, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Load(ctx, family.KindWorkUnit, src)
			if err != nil {
				t.Errorf("Load: %v", err)
				return
			}
			results[i] = d
		}()
	}
	wg.Wait()

	if pages.calls.Load() != 1 {
		t.Errorf("expected 1 parse, got %d", pages.calls.Load())
	}
	for _, d := range results[1:] {
		if d != results[0] {
			t.Fatal("callers received different databases")
		}
	}
	if snaps.saves != 1 {
		t.Errorf("expected 1 snapshot save, got %d", snaps.saves)
	}
}

func TestLoader_RestoresMatchingSnapshot(t *testing.T) {
	src := writeSource(t)
	info, _ := os.Stat(src)
	snaps := &memSnapshots{snaps: map[family.Kind]Snapshot{
		family.KindWorkUnit: {
			Kind:    family.KindWorkUnit,
			Source:  filepath.Clean(src),
			ModTime: info.ModTime(),
			Records: []family.Record{mustRecord(t, family.KindWorkUnit, "ASE_SPD.1-1")},
		},
	}}
	pages := &stubPages{pages: cemPages}
	l := NewLoader(pages, snaps, zap.NewNop())

	d, err := l.Load(context.Background(), family.KindWorkUnit, src)
	if err != nil {
		t.Fatal(err)
	}
	if pages.calls.Load() != 0 {
		t.Error("snapshot hit must not parse the source")
	}
	if got := d.RetrieveFamily("ASE_SPD"); len(got) != 1 {
		t.Errorf("expected snapshot records, got %d", len(got))
	}
}

func TestLoader_StaleSnapshotRebuilds(t *testing.T) {
	src := writeSource(t)
	snaps := &memSnapshots{snaps: map[family.Kind]Snapshot{
		family.KindWorkUnit: {
			Kind:    family.KindWorkUnit,
			Source:  filepath.Clean(src),
			ModTime: time.Unix(0, 0),
		},
	}}
	pages := &stubPages{pages: cemPages}
	l := NewLoader(pages, snaps, zap.NewNop())

	d, err := l.Load(context.Background(), family.KindWorkUnit, src)
	if err != nil {
		t.Fatal(err)
	}
	if pages.calls.Load() != 1 || d.Len() != 3 {
		t.Errorf("expected rebuild with 3 records, got parses=%d len=%d", pages.calls.Load(), d.Len())
	}
}

func TestLoader_FailureNotCached(t *testing.T) {
	src := writeSource(t)
	pages := &stubPages{err: domain.ErrIngestion}
	l := NewLoader(pages, nil, zap.NewNop())
	ctx := context.Background()

	if _, err := l.Load(ctx, family.KindWorkUnit, src); !errors.Is(err, domain.ErrIngestion) {
		t.Fatalf("expected ErrIngestion, got %v", err)
	}
	if _, ok := l.Get(family.KindWorkUnit); ok {
		t.Fatal("failed build must not be cached")
	}

	pages.err = nil
	pages.pages = cemPages
	if _, err := l.Load(ctx, family.KindWorkUnit, src); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
}

func TestLoader_CanceledCallerDoesNotFailBuild(t *testing.T) {
	src := writeSource(t)
	l := NewLoader(&stubPages{pages: cemPages}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err := l.Load(ctx, family.KindWorkUnit, src)
	if err != nil {
		t.Fatalf("build must not inherit caller cancellation: %v", err)
	}
	if d.Len() != 3 {
		t.Errorf("expected 3 records, got %d", d.Len())
	}
}

func TestLoader_Prune(t *testing.T) {
	tests := []struct {
		name    string
		listErr error
		want    int
		left    int
	}{
		{"drops unserved kinds", nil, 1, 1},
		{"listing error keeps everything", errors.New("boom"), 0, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snaps := &memSnapshots{listErr: tc.listErr, snaps: map[family.Kind]Snapshot{
				family.KindWorkUnit: {Kind: family.KindWorkUnit},
				"legacy":            {Kind: "legacy"},
			}}
			l := NewLoader(&stubPages{}, snaps, zap.NewNop())

			if got := l.Prune(context.Background(), family.KindWorkUnit); got != tc.want {
				t.Errorf("removed %d, want %d", got, tc.want)
			}
			if len(snaps.snaps) != tc.left {
				t.Errorf("left %d snapshots, want %d", len(snaps.snaps), tc.left)
			}
			if _, ok := snaps.snaps[family.KindWorkUnit]; !ok {
				t.Error("served kind must be kept")
			}
		})
	}
}

func TestLoader_MissingSource(t *testing.T) {
	l := NewLoader(&stubPages{}, nil, zap.NewNop())
	_, err := l.Load(context.Background(), family.KindWorkUnit, filepath.Join(t.TempDir(), "absent.pdf"))
	if !errors.Is(err, domain.ErrIngestion) {
		t.Fatalf("expected ErrIngestion, got %v", err)
	}
}

// --- Catalog ---

func TestCatalog(t *testing.T) {
	src := writeSource(t)
	pages := &stubPages{pages: cemPages}
	c := NewCatalog(NewLoader(pages, nil, zap.NewNop()), src, src)
	ctx := context.Background()

	if err := c.Warm(ctx); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	wu, err := c.Database(ctx, family.KindWorkUnit)
	if err != nil {
		t.Fatal(err)
	}
	if wu.Kind() != family.KindWorkUnit || wu.Len() != 3 {
		t.Errorf("unexpected work unit database %s/%d", wu.Kind(), wu.Len())
	}
	if pages.calls.Load() != 2 {
		t.Errorf("expected one parse per kind, got %d", pages.calls.Load())
	}
	if _, err := c.Database(ctx, "other"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalog_WarmPrunesStaleSnapshots(t *testing.T) {
	src := writeSource(t)
	snaps := &memSnapshots{snaps: map[family.Kind]Snapshot{"legacy": {Kind: "legacy"}}}
	c := NewCatalog(NewLoader(&stubPages{pages: cemPages}, snaps, zap.NewNop()), src, src)

	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if _, ok := snaps.snaps["legacy"]; ok {
		t.Error("legacy snapshot should be pruned")
	}
	if len(snaps.snaps) != 2 {
		t.Errorf("expected both served kinds saved, got %d", len(snaps.snaps))
	}
}
