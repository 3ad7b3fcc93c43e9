package ingest

import (
	"fmt"

	"github.com/kailas-cloud/cceval/internal/domain/chunk"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Chunker splits page texts into fixed-size overlapping chunks.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// NewChunker creates a chunker with the given options.
func NewChunker(opts ...Option) *Chunker {
	c := &Chunker{chunkSize: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Split chunks every page separately so a chunk never spans two pages.
// IDs are deterministic: <doc>-p<page>-<n>.
func (c *Chunker) Split(doc string, pages []Page) []chunk.Chunk {
	var out []chunk.Chunk
	step := c.chunkSize - c.overlap

	for _, p := range pages {
		runes := []rune(p.Text)
		ref := fmt.Sprintf("%s#p%d", doc, p.Number)

		for n, start := 0, 0; start < len(runes); n, start = n+1, start+step {
			end := min(start+c.chunkSize, len(runes))
			id := fmt.Sprintf("%s-p%d-%d", doc, p.Number, n)
			ch, err := chunk.New(id, string(runes[start:end]), ref, nil)
			if err == nil {
				out = append(out, ch)
			}
			if end == len(runes) {
				break
			}
		}
	}
	return out
}
