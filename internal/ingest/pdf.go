package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kailas-cloud/cceval/internal/domain"
)

// Page is the plain text of one PDF page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// PageParser extracts page texts from a document on disk.
type PageParser interface {
	ParsePages(ctx context.Context, path string) ([]Page, error)
}

// PDFParser extracts plain text with ledongthuc/pdf.
type PDFParser struct{}

// ParsePages reads every non-empty page of the PDF at path.
func (PDFParser) ParsePages(ctx context.Context, path string) (pages []Page, err error) {
	// The reader panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parse %s: %v: %w", path, r, domain.ErrIngestion)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, domain.ErrIngestion)
	}
	defer f.Close()

	total := r.NumPage()
	pages = make([]Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d of %s: %v: %w", i, path, err, domain.ErrIngestion)
		}
		text = normalizeText(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

// normalizeText unifies line endings and trims trailing blanks per line.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
