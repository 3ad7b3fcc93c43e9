// Package artifact writes report documents to disk as PDF or JSON files and
// serves them back by name.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/metrics"
	"github.com/kailas-cloud/cceval/internal/usecase/report"
)

// Formats.
const (
	FormatPDF  = "pdf"
	FormatJSON = "json"
)

var _ report.Writer = (*Store)(nil)

type renderFunc func(w io.Writer, doc report.Document) error

// Store keeps artifacts in one directory.
type Store struct {
	dir    string
	format string
	render renderFunc
}

// New creates a store writing format files under dir.
func New(dir, format string) (*Store, error) {
	var render renderFunc
	switch format {
	case FormatPDF:
		render = renderPDF
	case FormatJSON:
		render = renderJSON
	default:
		return nil, fmt.Errorf("unknown report format %q: %w", format, domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &Store{dir: dir, format: format, render: render}, nil
}

// Write implements report.Writer. The file is created exclusively; a
// partially rendered file is removed.
func (s *Store) Write(_ context.Context, name string, doc report.Document) (string, error) {
	if err := validName(name); err != nil {
		return "", errors.Join(domain.ErrReportPersist, err)
	}
	path := filepath.Join(s.dir, name+"."+s.format)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, errors.Join(domain.ErrReportPersist, err))
	}

	if err := s.render(f, doc); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("render %s: %w", path, errors.Join(domain.ErrReportPersist, err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close %s: %w", path, errors.Join(domain.ErrReportPersist, err))
	}

	metrics.ReportsWrittenTotal.WithLabelValues(s.format).Inc()
	return path, nil
}

// Open returns an artifact by file name with its content type.
func (s *Store) Open(name string) (*os.File, string, error) {
	if err := validName(name); err != nil {
		return nil, "", err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("report %s: %w", name, domain.ErrNotFound)
		}
		return nil, "", fmt.Errorf("open report %s: %w", name, err)
	}
	return f, contentType(name), nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// validName rejects names that could leave the report directory.
func validName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("report name %q: %w", name, domain.ErrInvalidInput)
	}
	return nil
}
