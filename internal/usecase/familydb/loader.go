package familydb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
)

// Loader builds each database once per process. A stored snapshot whose
// source path and modification time still match is reused instead of
// re-parsing the document.
type Loader struct {
	pages  PageSource
	store  SnapshotStore
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	dbs   map[family.Kind]*Database
	group singleflight.Group
}

// NewLoader creates a loader. store may be nil to disable snapshots.
func NewLoader(pages PageSource, store SnapshotStore, logger *zap.Logger) *Loader {
	return &Loader{
		pages:  pages,
		store:  store,
		logger: logger,
		now:    time.Now,
		dbs:    make(map[family.Kind]*Database),
	}
}

// Load returns the database of kind extracted from path.
func (l *Loader) Load(ctx context.Context, kind family.Kind, path string) (*Database, error) {
	if d, ok := l.Get(kind); ok {
		return d, nil
	}

	v, err, _ := l.group.Do(string(kind), func() (any, error) {
		if d, ok := l.Get(kind); ok {
			return d, nil
		}
		// Waiters may outlive the first caller; detach from its cancellation.
		d, err := l.build(context.WithoutCancel(ctx), kind, path)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.dbs[kind] = d
		l.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Database), nil //nolint:errcheck // only *Database is stored
}

// Get returns an already loaded database.
func (l *Loader) Get(kind family.Kind) (*Database, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.dbs[kind]
	return d, ok
}

func (l *Loader) build(ctx context.Context, kind family.Kind, path string) (*Database, error) {
	start := time.Now()
	source := filepath.Clean(path)

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("family source %s: %w", source, errors.Join(domain.ErrIngestion, err))
	}

	if d, ok := l.fromSnapshot(ctx, kind, source, info.ModTime()); ok {
		return d, nil
	}

	pages, err := l.pages.LoadPages(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("family source %s: %w", source, err)
	}
	records, err := Extract(kind, filepath.Base(source), pages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIngestion, err)
	}
	if len(records) == 0 {
		l.logger.Warn("No family records found in source",
			zap.String("kind", string(kind)),
			zap.String("source", source),
		)
	}

	d := New(kind, records)
	l.saveSnapshot(ctx, Snapshot{
		Kind:    kind,
		Source:  source,
		ModTime: info.ModTime(),
		Records: records,
		BuiltAt: l.now(),
	})

	l.logger.Info("Family database built",
		zap.String("kind", string(kind)),
		zap.String("source", source),
		zap.Int("records", d.Len()),
		zap.Int("families", len(d.Families())),
		zap.Duration("duration", time.Since(start)),
	)
	return d, nil
}

func (l *Loader) fromSnapshot(ctx context.Context, kind family.Kind, source string, mod time.Time) (*Database, bool) {
	if l.store == nil {
		return nil, false
	}
	snap, err := l.store.Load(ctx, kind)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			l.logger.Warn("Family snapshot load failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		return nil, false
	}
	if snap.Source != source || !snap.ModTime.Equal(mod) {
		return nil, false
	}
	l.logger.Info("Family database restored from snapshot",
		zap.String("kind", string(kind)),
		zap.Int("records", len(snap.Records)),
		zap.Time("built_at", snap.BuiltAt),
	)
	return New(kind, snap.Records), true
}

// Prune drops stored snapshots of kinds outside keep. It is best effort and
// returns the number of snapshots removed.
func (l *Loader) Prune(ctx context.Context, keep ...family.Kind) int {
	if l.store == nil {
		return 0
	}
	kinds, err := l.store.Kinds(ctx)
	if err != nil {
		l.logger.Warn("Family snapshot listing failed", zap.Error(err))
		return 0
	}
	wanted := make(map[family.Kind]bool, len(keep))
	for _, k := range keep {
		wanted[k] = true
	}
	removed := 0
	for _, k := range kinds {
		if wanted[k] {
			continue
		}
		if err := l.store.Delete(ctx, k); err != nil {
			l.logger.Warn("Family snapshot delete failed", zap.String("kind", string(k)), zap.Error(err))
			continue
		}
		l.logger.Info("Stale family snapshot removed", zap.String("kind", string(k)))
		removed++
	}
	return removed
}

// saveSnapshot is best effort: a failed write only costs a re-parse later.
func (l *Loader) saveSnapshot(ctx context.Context, snap Snapshot) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(ctx, snap); err != nil {
		l.logger.Warn("Family snapshot save failed", zap.String("kind", string(snap.Kind)), zap.Error(err))
	}
}
