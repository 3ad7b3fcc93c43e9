package familydb

import (
	"context"

	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/ingest"
)

// PageSource parses a source document into pages (consumer interface, ISP).
type PageSource interface {
	LoadPages(ctx context.Context, path string) ([]ingest.Page, error)
}

// SnapshotStore persists extracted databases between restarts.
type SnapshotStore interface {
	Load(ctx context.Context, kind family.Kind) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Kinds(ctx context.Context) ([]family.Kind, error)
	Delete(ctx context.Context, kind family.Kind) error
}
