// Package app wires the cceval services from configuration. Both the HTTP
// and the MCP front ends start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/config"
	"github.com/kailas-cloud/cceval/internal/db"
	"github.com/kailas-cloud/cceval/internal/db/memory"
	dbRedis "github.com/kailas-cloud/cceval/internal/db/redis"
	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/domain/family"
	"github.com/kailas-cloud/cceval/internal/domain/role"
	"github.com/kailas-cloud/cceval/internal/ingest"
	"github.com/kailas-cloud/cceval/internal/metrics"
	"github.com/kailas-cloud/cceval/internal/repository/artifact"
	budgetrepo "github.com/kailas-cloud/cceval/internal/repository/budget"
	"github.com/kailas-cloud/cceval/internal/repository/embcache"
	"github.com/kailas-cloud/cceval/internal/repository/familystore"
	openaiTransport "github.com/kailas-cloud/cceval/internal/transport/openai"
	"github.com/kailas-cloud/cceval/internal/usecase/agent"
	"github.com/kailas-cloud/cceval/internal/usecase/budget"
	"github.com/kailas-cloud/cceval/internal/usecase/familydb"
	"github.com/kailas-cloud/cceval/internal/usecase/health"
	"github.com/kailas-cloud/cceval/internal/usecase/index"
	"github.com/kailas-cloud/cceval/internal/usecase/session"
)

// HistoricalIndexKey is the cache key of the historical Security Target index.
const HistoricalIndexKey = "historical_index"

// App holds the long-lived services.
type App struct {
	Store     db.Store
	Cache     *index.Cache
	Catalog   *familydb.Catalog
	Artifacts *artifact.Store
	Sessions  *session.Manager
	Auth      *session.Authenticator
	Health    *health.Service
	// Usage is nil when no provider has a token budget.
	Usage *budget.Tracker

	logger *zap.Logger
}

// New connects the store, builds the corpus indexes and family databases
// and returns the assembled services. Startup fails when any standard part
// cannot be indexed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	domain.KeyPrefix = cfg.Storage.KeyPrefix

	store, err := OpenStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Store: store, logger: logger}
	if err := a.init(ctx, cfg); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the store.
func (a *App) Close() {
	a.Store.Close()
}

func (a *App) init(ctx context.Context, cfg *config.Config) error {
	logger := a.logger
	if err := a.Store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database", zap.String("driver", cfg.Database.Driver))

	provName, vecCfg, provCfg, ok := vectorizer(cfg)
	if !ok {
		return fmt.Errorf("no embedding vectorizer configured: %w", domain.ErrInvalidInput)
	}

	trackers := newTrackers(ctx, cfg, a.Store, logger)
	a.Usage = trackers.get(provName)
	if a.Usage == nil {
		a.Usage = trackers.get(generationProvider(cfg, provName))
	}

	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     provCfg.APIKey,
		BaseURL:    provCfg.BaseURL,
		Model:      vecCfg.Model,
		Dimensions: vecCfg.Dimensions,
		Provider:   provName,
		Logger:     logger,
	})
	docEmbedder := buildEmbedder(base, provName, vecCfg, vecCfg.DocumentInstruction,
		cfg.Index.EmbedBatchSize, a.Store, trackers.checker(provName), logger)
	queryEmbedder := buildEmbedder(base, provName, vecCfg, vecCfg.QueryInstruction,
		cfg.Index.EmbedBatchSize, a.Store, trackers.checker(provName), logger)
	logger.Info("Embedders created",
		zap.String("provider", provName),
		zap.String("model", vecCfg.Model),
		zap.Int("dimensions", vecCfg.Dimensions),
	)

	genProv := generationProvider(cfg, provName)
	genCfg := cfg.Embedding.Providers[genProv]
	rawGenerator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		Config: openaiTransport.Config{
			APIKey:   genCfg.APIKey,
			BaseURL:  genCfg.BaseURL,
			Model:    cfg.Generation.Model,
			Provider: genProv,
			Logger:   logger,
		},
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		MaxRetries:  cfg.Generation.MaxRetries,
		RetryBase:   time.Duration(cfg.Generation.RetryBaseMS) * time.Millisecond,
	})
	generator := budget.NewInstrumentedGenerator(
		rawGenerator, genProv, cfg.Generation.Model, trackers.checker(genProv), logger,
	)

	a.Cache = index.NewCache(docEmbedder, queryEmbedder, index.Options{
		BatchSize:    cfg.Index.EmbedBatchSize,
		BuildTimeout: time.Duration(cfg.Index.BuildTimeoutSec) * time.Second,
	}, logger)

	loader := ingest.NewLoader(ingest.PDFParser{}, ingest.NewChunker(
		ingest.WithChunkSize(cfg.Corpus.ChunkSize),
		ingest.WithOverlap(cfg.Corpus.ChunkOverlap),
	))

	parts, historical, err := buildCorpus(ctx, a.Cache, loader, cfg.Corpus, logger)
	if err != nil {
		return err
	}

	a.Catalog = familydb.NewCatalog(
		familydb.NewLoader(loader, familystore.New(a.Store), logger),
		cfg.Corpus.WorkUnitsSource, cfg.Corpus.DeveloperActionsSource,
	)
	if err := a.Catalog.Warm(ctx); err != nil {
		return fmt.Errorf("family databases: %w", err)
	}
	workUnits, err := a.Catalog.Database(ctx, family.KindWorkUnit)
	if err != nil {
		return err
	}
	devActions, err := a.Catalog.Database(ctx, family.KindDeveloperAction)
	if err != nil {
		return err
	}
	logger.Info("Family databases ready",
		zap.Int("work_units", workUnits.Len()),
		zap.Int("developer_actions", devActions.Len()),
	)

	a.Artifacts, err = artifact.New(cfg.Report.Dir, cfg.Report.Format)
	if err != nil {
		return err
	}

	counter := agent.NewTokenCounter(cfg.Retrieval.Encoding, logger)
	pool := agent.NewPool(cfg.Batch.Workers, time.Duration(cfg.Batch.RecordTimeoutSec)*time.Second)
	opts := agent.RetrievalOptions{TopK: cfg.Retrieval.TopK, ContextTokens: cfg.Retrieval.ContextTokens}

	factory := func(r role.Role, evidence agent.Searcher) (*agent.UserAgent, error) {
		return agent.NewUserAgent(r, agent.Deps{
			Parts:      parts,
			Historical: historical,
			Evidence:   evidence,
			Generator:  generator,
			Counter:    counter,
			Options:    opts,
			Pool:       pool,
			WorkUnits:  workUnits,
			DevActions: devActions,
		})
	}

	a.Sessions, err = session.NewManager(session.Deps{
		Cache:      a.Cache,
		Loader:     loader,
		NewAgent:   factory,
		Databases:  a.Catalog,
		Writer:     a.Artifacts,
		UploadsDir: cfg.Corpus.UploadsDir,
		MaxActive:  cfg.Sessions.MaxActive,
	}, logger)
	if err != nil {
		return err
	}

	a.Auth = session.NewAuthenticator(cfg.Auth.Tokens, cfg.Auth.DeveloperPrefix)
	a.Health = health.New(a.Store, base, rawGenerator)
	return nil
}

// OpenStore creates the KV store named by cfg.Driver. Valkey speaks the
// Redis protocol and shares its driver.
func OpenStore(cfg config.DatabaseConfig) (db.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		s, err := memory.NewStore(cfg.MemoryEntries)
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		return s, nil
	case "redis", "valkey":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("%s store: %w", cfg.Driver, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q: %w", cfg.Driver, domain.ErrInvalidInput)
	}
}

// buildCorpus indexes the five standard parts and the historical Security
// Targets. A missing historical directory only disables that source.
func buildCorpus(
	ctx context.Context, cache *index.Cache, loader *ingest.Loader,
	corpus config.CorpusConfig, logger *zap.Logger,
) ([]agent.Searcher, agent.Searcher, error) {
	parts := make([]agent.Searcher, 0, len(corpus.StandardParts))
	for i, path := range corpus.StandardParts {
		chunks, err := loader.LoadFile(ctx, path)
		if err != nil {
			return nil, nil, fmt.Errorf("standard part %d: %w", i+1, err)
		}
		ix, err := cache.LoadOrCreate(ctx, chunks, agent.PartSourceName(i+1))
		if err != nil {
			return nil, nil, fmt.Errorf("standard part %d: %w", i+1, err)
		}
		parts = append(parts, ix)
	}

	paths, err := ingest.ListCorpus(corpus.HistoricalDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("Historical corpus missing", zap.String("dir", corpus.HistoricalDir))
		return parts, nil, nil
	case err != nil:
		return nil, nil, err
	case len(paths) == 0:
		logger.Warn("Historical corpus empty", zap.String("dir", corpus.HistoricalDir))
		return parts, nil, nil
	}
	chunks, err := loader.LoadAll(ctx, paths)
	if err != nil {
		return nil, nil, fmt.Errorf("historical corpus: %w", err)
	}
	historical, err := cache.LoadOrCreate(ctx, chunks, HistoricalIndexKey)
	if err != nil {
		return nil, nil, fmt.Errorf("historical corpus: %w", err)
	}
	logger.Info("Corpus indexed", zap.Int("parts", len(parts)), zap.Int("historical_files", len(paths)))
	return parts, historical, nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func buildEmbedder(
	base domain.Embedder,
	provName string,
	vecCfg config.VectorizerConfig,
	instruction string,
	batchSize int,
	store db.Store,
	checker budget.BudgetChecker,
	logger *zap.Logger,
) domain.Embedder {
	var embedder domain.Embedder = base
	if store != nil {
		embedder = embcache.New(base, store, vecCfg.Model, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = budget.NewInstrumentedEmbedder(
		embedder, provName, vecCfg.Model, checker, logger,
	).WithBatchSize(batchSize)

	// Outermost, so the cache key includes the instruction.
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

func vectorizer(cfg *config.Config) (string, config.VectorizerConfig, config.ProviderConfig, bool) {
	_, vec, prov, ok := cfg.Vectorizer()
	return vec.Provider, vec, prov, ok
}

func generationProvider(cfg *config.Config, fallback string) string {
	if cfg.Generation.Provider != "" {
		return cfg.Generation.Provider
	}
	return fallback
}

// trackers holds one budget tracker per provider with a limit, so the
// embedder and generator of a provider draw from the same allowance.
type trackers map[string]*budget.Tracker

func newTrackers(ctx context.Context, cfg *config.Config, store db.Store, logger *zap.Logger) trackers {
	t := make(trackers)
	var persist *budgetrepo.Store
	for name, p := range cfg.Embedding.Providers {
		if p.Budget.DailyTokenLimit <= 0 && p.Budget.MonthlyTokenLimit <= 0 {
			continue
		}
		if persist == nil {
			persist = budgetrepo.New(store, 48*time.Hour, 62*24*time.Hour)
		}
		t[name] = budget.NewTracker(name, budget.Limits{
			Daily:   p.Budget.DailyTokenLimit,
			Monthly: p.Budget.MonthlyTokenLimit,
			Action:  budget.Action(p.Budget.Action),
		}, logger).WithStore(ctx, persist)
	}
	return t
}

func (t trackers) get(provider string) *budget.Tracker {
	return t[provider]
}

// checker returns a nil interface, not a typed nil pointer, for providers
// without a budget.
func (t trackers) checker(provider string) budget.BudgetChecker {
	if b, ok := t[provider]; ok {
		return b
	}
	return nil
}
