package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/chunk"
	"github.com/kailas-cloud/cceval/internal/metrics"
)

// Cache maps keys to built indexes. At most one build runs per key;
// concurrent callers for the same key share its result. Failed builds are
// not stored, so a later call retries.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Index
	group   singleflight.Group

	documents    Embedder
	queries      Embedder
	batchSize    int
	buildTimeout time.Duration
	builds       atomic.Int64
	logger       *zap.Logger
}

// Options tunes index builds.
type Options struct {
	BatchSize    int
	BuildTimeout time.Duration
}

// NewCache creates a cache. documents embeds chunk text at build time and
// queries embeds search text; both may be the same embedder.
func NewCache(documents, queries Embedder, opts Options, logger *zap.Logger) *Cache {
	if queries == nil {
		queries = documents
	}
	return &Cache{
		entries:      make(map[string]*Index),
		documents:    documents,
		queries:      queries,
		batchSize:    opts.BatchSize,
		buildTimeout: opts.BuildTimeout,
		logger:       logger,
	}
}

// LoadOrCreate returns the index stored under key, building it over chunks
// on first request. An existing index is returned unchanged even when chunks
// differ.
func (c *Cache) LoadOrCreate(ctx context.Context, chunks []chunk.Chunk, key string) (*Index, error) {
	if key == "" {
		return nil, fmt.Errorf("index key is required: %w", domain.ErrIngestion)
	}
	if ix, ok := c.Get(key); ok {
		metrics.IndexCacheTotal.WithLabelValues("hit").Inc()
		return ix, nil
	}
	metrics.IndexCacheTotal.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		// A build that finished between Get and DoChan already installed the entry.
		if ix, ok := c.Get(key); ok {
			return ix, nil
		}
		// Waiters may outlive the first caller; detach from its cancellation.
		bctx := context.WithoutCancel(ctx)
		if c.buildTimeout > 0 {
			var cancel context.CancelFunc
			bctx, cancel = context.WithTimeout(bctx, c.buildTimeout)
			defer cancel()
		}
		ix, err := c.build(bctx, chunks, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = ix
		c.mu.Unlock()
		return ix, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for index %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil //nolint:errcheck // only *Index is stored
	}
}

// Get returns a built index without building.
func (c *Cache) Get(key string) (*Index, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ix, ok := c.entries[key]
	return ix, ok
}

// Evict drops the index stored under key. Holders keep their reference.
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// Len returns the number of built indexes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Builds returns how many builds have run since the cache was created.
func (c *Cache) Builds() int64 { return c.builds.Load() }

func (c *Cache) build(ctx context.Context, chunks []chunk.Chunk, key string) (*Index, error) {
	c.builds.Add(1)
	start := time.Now()

	ix, err := c.embedChunks(ctx, chunks, key)
	duration := time.Since(start)
	metrics.IndexBuildDuration.Observe(duration.Seconds())

	if err != nil {
		metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
		c.logger.Error("Index build failed",
			zap.String("key", key),
			zap.Int("chunks", len(chunks)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.IndexBuildsTotal.WithLabelValues("ok").Inc()
	c.logger.Info("Index built",
		zap.String("key", key),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", duration),
	)
	return ix, nil
}

func (c *Cache) embedChunks(ctx context.Context, chunks []chunk.Chunk, key string) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("index %s: no chunks: %w", key, domain.ErrIngestion)
	}
	if c.documents == nil {
		return nil, fmt.Errorf("index %s: embedder unavailable: %w", key, domain.ErrIngestion)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text()
	}

	res, err := domain.EmbedAll(ctx, c.documents, texts, c.batchSize)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", key, errors.Join(domain.ErrIngestion, err))
	}

	return &Index{
		key:     key,
		chunks:  append([]chunk.Chunk(nil), chunks...),
		vectors: res.Embeddings,
		query:   c.queries,
	}, nil
}
