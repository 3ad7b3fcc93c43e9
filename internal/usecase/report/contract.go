package report

import "context"

// Writer persists a report document under a unique name and returns the
// artifact location. It must never overwrite an existing artifact.
type Writer interface {
	Write(ctx context.Context, name string, doc Document) (string, error)
}
