// Package familystore persists extracted family databases as hashes.
package familystore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/usecase/familydb"
)

// store is the consumer interface for family snapshots (ISP).
type store interface {
	ReplaceHash(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

var _ familydb.SnapshotStore = (*Repo)(nil)

// Repo implements familydb.SnapshotStore.
type Repo struct {
	store store
}

// New creates a family snapshot repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Save replaces the snapshot of its kind.
func (r *Repo) Save(ctx context.Context, snap familydb.Snapshot) error {
	hash, err := snapshotToHash(snap)
	if err != nil {
		return err
	}
	if err := r.store.ReplaceHash(ctx, snapshotKey(snap.Kind), hash); err != nil {
		return fmt.Errorf("save family %s: %w", snap.Kind, err)
	}
	return nil
}

// Load returns the stored snapshot of kind or domain.ErrNotFound.
func (r *Repo) Load(ctx context.Context, kind family.Kind) (familydb.Snapshot, error) {
	m, err := r.store.HGetAll(ctx, snapshotKey(kind))
	if err != nil {
		return familydb.Snapshot{}, fmt.Errorf("hgetall family %s: %w", kind, err)
	}
	if len(m) == 0 {
		return familydb.Snapshot{}, domain.ErrNotFound
	}
	snap, err := snapshotFromHash(m)
	if err != nil {
		return familydb.Snapshot{}, fmt.Errorf("parse family %s: %w", kind, err)
	}
	return snap, nil
}

// Delete removes the snapshot of kind.
func (r *Repo) Delete(ctx context.Context, kind family.Kind) error {
	if err := r.store.Del(ctx, snapshotKey(kind)); err != nil {
		return fmt.Errorf("del family %s: %w", kind, err)
	}
	return nil
}

// Kinds lists the kinds with a stored snapshot, sorted.
func (r *Repo) Kinds(ctx context.Context) ([]family.Kind, error) {
	keys, err := r.store.Scan(ctx, snapshotKey("*"))
	if err != nil {
		return nil, fmt.Errorf("scan families: %w", err)
	}
	kinds := make([]family.Kind, 0, len(keys))
	for _, k := range keys {
		kinds = append(kinds, family.Kind(strings.TrimPrefix(k, snapshotKey(""))))
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds, nil
}

// key pattern: cceval:family:{kind}
func snapshotKey(kind family.Kind) string {
	return fmt.Sprintf("%sfamily:%s", domain.KeyPrefix, kind)
}
