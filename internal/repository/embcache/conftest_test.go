package embcache

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/db"
	"github.com/kailas-cloud/cceval/internal/db/memory"
	"github.com/kailas-cloud/cceval/internal/domain"
)

// textEmbedder derives a one-dimensional vector from the text length and
// records what it was asked to embed.
type textEmbedder struct {
	err     error
	single  []string
	batches [][]string
}

func vecFor(text string) []float32 { return []float32{float32(len(text))} }

func (m *textEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.single = append(m.single, text)
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: vecFor(text), PromptTokens: 2, TotalTokens: 2}, nil
}

func (m *textEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batches = append(m.batches, append([]string(nil), texts...))
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, t := range texts {
		out.Embeddings[i] = vecFor(t)
	}
	out.PromptTokens = 2 * len(texts)
	out.TotalTokens = 2 * len(texts)
	return out, nil
}

// failingStore implements the consumer interface with injectable errors.
type failingStore struct {
	getErr error
	setErr error
	data   map[string][]byte
}

func (m *failingStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *failingStore) Set(_ context.Context, key string, value []byte) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
	return nil
}

func newTestCachedEmbedder(t *testing.T) (*CachedEmbedder, *textEmbedder, *memory.Store) {
	t.Helper()
	s, err := memory.NewStore(1000)
	if err != nil {
		t.Fatal(err)
	}
	inner := &textEmbedder{}
	return New(inner, s, "text-embedding-3-small", nil, zap.NewNop()), inner, s
}
