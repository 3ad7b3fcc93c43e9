package index

import (
	"context"

	"github.com/kailas-cloud/cceval/internal/domain"
)

// Embedder turns texts into vectors (consumer interface, ISP).
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
