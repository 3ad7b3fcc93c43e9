package agent

import (
	"context"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/usecase/index"
)

// Searcher ranks indexed chunks against a query. *index.Index implements it.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]index.Hit, error)
}

// Generator produces text from retrieved context.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.Generation, error)
}

// FamilySource looks up records by family prefix.
type FamilySource interface {
	RetrieveFamily(prefix string) []family.Record
}

// Answerer answers one free-text question.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}
