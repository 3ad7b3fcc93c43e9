// Package ingest turns PDF documents into chunk sequences and manages the
// on-disk corpus and upload layout.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/chunk"
	"github.com/kailas-cloud/cceval/internal/logger"
)

// Loader parses documents and chunks their pages.
type Loader struct {
	parser  PageParser
	chunker *Chunker
}

// NewLoader creates a loader. A nil parser defaults to PDFParser.
func NewLoader(parser PageParser, chunker *Chunker) *Loader {
	if parser == nil {
		parser = PDFParser{}
	}
	if chunker == nil {
		chunker = NewChunker()
	}
	return &Loader{parser: parser, chunker: chunker}
}

// LoadFile parses one document into chunks.
func (l *Loader) LoadFile(ctx context.Context, path string) ([]chunk.Chunk, error) {
	start := time.Now()
	pages, err := l.parser.ParsePages(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	doc := filepath.Base(path)
	chunks := l.chunker.Split(doc, pages)

	logger.FromContext(ctx).Debug("Document parsed",
		zap.String("path", path),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", time.Since(start)),
	)
	return chunks, nil
}

// LoadAll parses documents in the given order and concatenates their chunks.
func (l *Loader) LoadAll(ctx context.Context, paths []string) ([]chunk.Chunk, error) {
	var out []chunk.Chunk
	for _, p := range paths {
		chunks, err := l.LoadFile(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

// LoadPages parses one document and returns its non-empty pages in order.
// Family databases are extracted from pages rather than chunks so records
// are never cut at chunk boundaries.
func (l *Loader) LoadPages(ctx context.Context, path string) ([]Page, error) {
	pages, err := l.parser.ParsePages(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("load %s: no text: %w", path, domain.ErrIngestion)
	}
	return pages, nil
}
