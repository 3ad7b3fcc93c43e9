package pipeline

import (
	"context"

	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/domain/result"
	"github.com/kailas-cloud/cceval/internal/usecase/familydb"
)

// Databases resolves the family database of a record kind.
type Databases interface {
	Database(ctx context.Context, kind family.Kind) (*familydb.Database, error)
}

// Batcher runs the batch evaluations of one agent graph.
type Batcher interface {
	EvaluateCem(ctx context.Context, workUnits []family.Record) ([]result.QueryResult, error)
	GuideDevelopment(ctx context.Context, query string, actions []family.Record) ([]result.QueryResult, error)
}
