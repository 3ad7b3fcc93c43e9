// Package report accumulates batch results and persists them as artifacts.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/result"
	"github.com/kailas-cloud/cceval/internal/logger"
)

// Entry is one result with the section type it was added under.
type Entry struct {
	Result result.QueryResult
	Type   string
}

// Document is what a Writer serializes.
type Document struct {
	Title     string
	CreatedAt time.Time
	Entries   []Entry
}

// Artifact describes a persisted report.
type Artifact struct {
	Name    string
	Path    string
	Entries int
}

// Generator accumulates results in order and saves snapshots of them.
type Generator struct {
	prefix string
	writer Writer
	now    func() time.Time
	token  func() string

	mu      sync.Mutex
	entries []Entry
}

// NewGenerator creates a generator whose artifacts are named after prefix.
func NewGenerator(prefix string, w Writer) *Generator {
	return &Generator{
		prefix: prefix,
		writer: w,
		now:    time.Now,
		token:  func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// AddResults appends results under resultType. Order across calls is kept.
func (g *Generator) AddResults(results []result.QueryResult, resultType string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range results {
		g.entries = append(g.entries, Entry{Result: r, Type: resultType})
	}
}

// Len returns the number of accumulated entries.
func (g *Generator) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Save writes everything accumulated so far to a new artifact.
// Every call yields a distinct artifact.
func (g *Generator) Save(ctx context.Context) (Artifact, error) {
	if g.writer == nil {
		return Artifact{}, fmt.Errorf("no report writer: %w", domain.ErrReportPersist)
	}

	g.mu.Lock()
	entries := append([]Entry(nil), g.entries...)
	g.mu.Unlock()

	now := g.now().UTC()
	name := fmt.Sprintf("%s_%s_%s", g.prefix, now.Format("20060102T150405Z"), g.token())
	doc := Document{Title: title(g.prefix), CreatedAt: now, Entries: entries}

	path, err := g.writer.Write(ctx, name, doc)
	if err != nil {
		if errors.Is(err, domain.ErrReportPersist) {
			return Artifact{}, err
		}
		return Artifact{}, fmt.Errorf("save report %s: %w", name, errors.Join(domain.ErrReportPersist, err))
	}

	logger.FromContext(ctx).Info("Report saved",
		zap.String("path", path),
		zap.Int("entries", len(entries)),
	)
	return Artifact{Name: name, Path: path, Entries: len(entries)}, nil
}

// title turns "evaluator_report" into "Evaluator Report".
func title(prefix string) string {
	words := strings.FieldsFunc(prefix, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
