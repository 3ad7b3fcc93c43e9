// Package index builds in-memory vector indexes over chunk sets and caches
// them by key with a single build per key.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kailas-cloud/cceval/internal/domain/chunk"
)

// Hit is one search result.
type Hit struct {
	Chunk chunk.Chunk
	Score float64
}

// Index is an immutable searchable set of embedded chunks.
type Index struct {
	key     string
	chunks  []chunk.Chunk
	vectors [][]float32
	query   Embedder
}

// Key returns the cache key the index was built under.
func (ix *Index) Key() string { return ix.key }

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Search returns the topK chunks most similar to query, best first.
// Equal scores are ordered by chunk ID.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 || len(ix.chunks) == 0 {
		return nil, nil
	}
	res, err := ix.query.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query for %s: %w", ix.key, err)
	}
	return ix.SearchVector(res.Embedding, topK), nil
}

// SearchVector ranks chunks against an already embedded query.
func (ix *Index) SearchVector(vec []float32, topK int) []Hit {
	hits := make([]Hit, 0, len(ix.chunks))
	for i, c := range ix.chunks {
		hits = append(hits, Hit{Chunk: c, Score: cosineSimilarity(ix.vectors[i], vec)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].Chunk.ID() < hits[j].Chunk.ID()
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
