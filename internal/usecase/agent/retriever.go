package agent

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/logger"
	"github.com/kailas-cloud/cceval/internal/usecase/index"
)

// Source is a named index the retriever searches.
type Source struct {
	Name  string
	Index Searcher
}

// RetrievalOptions bounds the context handed to the generator.
type RetrievalOptions struct {
	TopK          int
	ContextTokens int
}

func (o RetrievalOptions) withDefaults() RetrievalOptions {
	if o.TopK <= 0 {
		o.TopK = 4
	}
	if o.ContextTokens <= 0 {
		o.ContextTokens = 3000
	}
	return o
}

// Retriever answers questions from its sources: search each source, merge
// hits by score, pack passages up to the token budget, then generate.
type Retriever struct {
	sources     []Source
	gen         Generator
	counter     TokenCounter
	opts        RetrievalOptions
	instruction string
}

// NewRetriever creates a retriever. Sources with a nil index are skipped.
func NewRetriever(
	sources []Source, gen Generator, counter TokenCounter,
	opts RetrievalOptions, instruction string,
) *Retriever {
	live := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s.Index != nil {
			live = append(live, s)
		}
	}
	if counter == nil {
		counter = approxCounter{}
	}
	return &Retriever{
		sources:     live,
		gen:         gen,
		counter:     counter,
		opts:        opts.withDefaults(),
		instruction: instruction,
	}
}

// Sources returns the searched sources.
func (r *Retriever) Sources() []Source {
	return append([]Source(nil), r.sources...)
}

type rankedHit struct {
	index.Hit
	source int
}

// Answer implements Answerer.
func (r *Retriever) Answer(ctx context.Context, question string) (string, error) {
	passages, err := r.Passages(ctx, question)
	if err != nil {
		return "", err
	}

	gen, err := r.gen.Generate(ctx, domain.GenerationRequest{
		Instruction: r.instruction,
		Context:     passages,
		Question:    question,
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return gen.Text, nil
}

// Passages returns the formatted context passages for question, best first,
// within the token budget.
func (r *Retriever) Passages(ctx context.Context, question string) ([]string, error) {
	var hits []rankedHit
	for i, s := range r.sources {
		found, err := s.Index.Search(ctx, question, r.opts.TopK)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", s.Name, err)
		}
		for _, h := range found {
			hits = append(hits, rankedHit{Hit: h, source: i})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].source < hits[j].source
	})

	budget := r.opts.ContextTokens
	passages := make([]string, 0, len(hits))
	for _, h := range hits {
		p := fmt.Sprintf("[%s] %s", h.Chunk.PageRef(), h.Chunk.Text())
		n := r.counter.Count(p)
		if n > budget {
			continue
		}
		budget -= n
		passages = append(passages, p)
	}

	logger.FromContext(ctx).Debug("Context assembled",
		zap.Int("hits", len(hits)),
		zap.Int("passages", len(passages)),
		zap.Int("tokens", r.opts.ContextTokens-budget),
	)
	return passages, nil
}
