// Package chunk defines the atomic unit of parsed document content.
package chunk

import "fmt"

// Chunk is a piece of parsed document text (immutable value object).
type Chunk struct {
	id      string
	text    string
	pageRef string
	images  []string
}

// New validates and creates a Chunk. Text must be non-empty.
func New(id, text, pageRef string, images []string) (Chunk, error) {
	if id == "" {
		return Chunk{}, fmt.Errorf("chunk ID is required")
	}
	if text == "" {
		return Chunk{}, fmt.Errorf("chunk %s: text is required", id)
	}
	return Chunk{id: id, text: text, pageRef: pageRef, images: append([]string(nil), images...)}, nil
}

// ID returns the chunk identifier.
func (c Chunk) ID() string { return c.id }

// Text returns the chunk content.
func (c Chunk) Text() string { return c.text }

// PageRef returns the source location, e.g. "CEM2022R1.pdf#p112".
func (c Chunk) PageRef() string { return c.pageRef }

// Images returns references to image assets extracted alongside the text.
func (c Chunk) Images() []string { return append([]string(nil), c.images...) }
