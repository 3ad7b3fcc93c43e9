package domain

import (
	"context"
	"fmt"
)

// Embedder turns one text into a vector. Index building and query search share it.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes several texts per provider call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries one vector and its token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries vectors in input order plus aggregate usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// EmbedAll vectorizes texts in slices of at most size items, using native
// batching when e supports it. The result keeps input order.
func EmbedAll(ctx context.Context, e Embedder, texts []string, size int) (BatchEmbeddingResult, error) {
	if size <= 0 {
		size = len(texts)
	}
	out := BatchEmbeddingResult{Embeddings: make([][]float32, 0, len(texts))}

	for offset := 0; offset < len(texts); offset += size {
		end := min(offset+size, len(texts))

		var (
			part BatchEmbeddingResult
			err  error
		)
		if be, ok := e.(BatchEmbedder); ok {
			part, err = be.BatchEmbed(ctx, texts[offset:end])
		} else {
			part, err = embedOneByOne(ctx, e, texts[offset:end])
		}
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("embed texts [%d:%d]: %w", offset, end, err)
		}
		if len(part.Embeddings) != end-offset {
			return BatchEmbeddingResult{}, fmt.Errorf(
				"embed texts [%d:%d]: got %d vectors: %w",
				offset, end, len(part.Embeddings), ErrEmbeddingProviderError,
			)
		}

		out.Embeddings = append(out.Embeddings, part.Embeddings...)
		out.PromptTokens += part.PromptTokens
		out.TotalTokens += part.TotalTokens
	}

	return out, nil
}

func embedOneByOne(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	res := BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, text := range texts {
		one, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("embed [%d]: %w", i, err)
		}
		res.Embeddings[i] = one.Embedding
		res.PromptTokens += one.PromptTokens
		res.TotalTokens += one.TotalTokens
	}
	return res, nil
}

// InstructionEmbedder prefixes every text with a fixed instruction
// (document vs query instructions of asymmetric embedding models).
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder creates the prefixing decorator.
func NewInstructionEmbedder(inner Embedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed prefixes text and delegates.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, e.instruction+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return result, nil
}

// BatchEmbed prefixes each text and delegates in one slice.
func (e *InstructionEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = e.instruction + t
	}

	res, err := EmbedAll(ctx, e.inner, prefixed, 0)
	if err != nil {
		return BatchEmbeddingResult{}, fmt.Errorf("instruction batch embed: %w", err)
	}
	return res, nil
}

// HealthCheck forwards to inner when it can check itself.
func (e *InstructionEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := e.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}
