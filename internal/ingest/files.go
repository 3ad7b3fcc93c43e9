package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/kailas-cloud/cceval/internal/domain"
)

// SanitizeName derives a stable identifier-safe key from raw.
func SanitizeName(raw string) (string, error) {
	s := slug.Make(raw)
	if s == "" {
		return "", fmt.Errorf("%w: name %q has no usable characters", domain.ErrInvalidInput, raw)
	}
	return s, nil
}

// EvidenceKey returns a fresh cache key for an uploaded Security Target.
func EvidenceKey() (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("random evidence suffix: %w", err)
	}
	return SanitizeName("evidence_" + hex.EncodeToString(b[:]))
}

// ListCorpus returns the PDF files directly under dir, sorted by name so
// ingestion order does not depend on the platform's directory order.
func ListCorpus(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list corpus %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// SaveUpload stores r as <dir>/<uuid hex>_<sanitized name> and returns the
// path. The random component keeps two uploads of the same name apart.
func SaveUpload(dir, name string, r io.Reader) (string, error) {
	base, err := uploadName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(dir, id+"_"+base)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	return path, nil
}

// uploadName slugs the base name of a client-supplied filename, keeping a
// lowercased extension: "../My ST v2.PDF" becomes "my-st-v2.pdf".
func uploadName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		return "", fmt.Errorf("%w: upload filename is required", domain.ErrInvalidInput)
	}
	ext := filepath.Ext(base)
	stem, err := SanitizeName(strings.TrimSuffix(base, ext))
	if err != nil {
		return "", err
	}
	if ext = slug.Make(strings.TrimPrefix(ext, ".")); ext != "" {
		return stem + "." + ext, nil
	}
	return stem, nil
}
