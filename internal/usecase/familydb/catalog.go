package familydb

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
)

// Catalog binds each record kind to its source document.
type Catalog struct {
	loader  *Loader
	sources map[family.Kind]string
}

// NewCatalog creates a catalog over the work unit and developer action sources.
func NewCatalog(loader *Loader, workUnits, developerActions string) *Catalog {
	return &Catalog{
		loader: loader,
		sources: map[family.Kind]string{
			family.KindWorkUnit:        workUnits,
			family.KindDeveloperAction: developerActions,
		},
	}
}

// Database returns the database of kind, building it on first use.
func (c *Catalog) Database(ctx context.Context, kind family.Kind) (*Database, error) {
	src, ok := c.sources[kind]
	if !ok || src == "" {
		return nil, fmt.Errorf("family kind %q: %w", kind, domain.ErrNotFound)
	}
	return c.loader.Load(ctx, kind, src)
}

// Warm builds both databases, then drops snapshots of kinds the catalog
// no longer serves.
func (c *Catalog) Warm(ctx context.Context) error {
	kinds := []family.Kind{family.KindWorkUnit, family.KindDeveloperAction}
	for _, kind := range kinds {
		if _, err := c.Database(ctx, kind); err != nil {
			return err
		}
	}
	c.loader.Prune(ctx, kinds...)
	return nil
}
