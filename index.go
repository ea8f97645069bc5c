// Package problemdex is a semantic retrieval index for tech problems.
//
// Records from the ingestion pipeline are embedded and stored in one of
// several vector backends; the index answers semantic searches with category
// and tag filters, browses in insertion order, samples a diverse set through
// canned queries and reports category statistics.
//
//	ix, err := problemdex.Open(ctx, problemdex.WithLocal("data/problems.db"))
//	if err != nil { ... }
//	defer ix.Close()
//	ix.Add(ctx, records)
//	resp, err := ix.Search(ctx, "React build problems", problemdex.Limit(5))
package problemdex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex/internal/config"
	"github.com/kailas-cloud/problemdex/internal/db"
	dbValkey "github.com/kailas-cloud/problemdex/internal/db/valkey"
	"github.com/kailas-cloud/problemdex/internal/domain"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/mode"
	"github.com/kailas-cloud/problemdex/internal/domain/search/request"
	"github.com/kailas-cloud/problemdex/internal/metrics"
	"github.com/kailas-cloud/problemdex/internal/model/hashing"
	"github.com/kailas-cloud/problemdex/internal/repository/embcache"
	"github.com/kailas-cloud/problemdex/internal/repository/local"
	qdrantrepo "github.com/kailas-cloud/problemdex/internal/repository/qdrant"
	valkeyrepo "github.com/kailas-cloud/problemdex/internal/repository/valkey"
	openaiEmb "github.com/kailas-cloud/problemdex/internal/transport/openai"
	categoryuc "github.com/kailas-cloud/problemdex/internal/usecase/category"
	documentuc "github.com/kailas-cloud/problemdex/internal/usecase/document"
	embeddinguc "github.com/kailas-cloud/problemdex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/problemdex/internal/usecase/health"
	"github.com/kailas-cloud/problemdex/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/problemdex/internal/usecase/search"
)

// Index is an opened problem index. It is safe for concurrent use.
type Index struct {
	cfg     config.Config
	logger  *zap.Logger
	techTag filter.Tag

	model   *embeddinguc.Model
	docs    *documentuc.Service
	search  *searchuc.Service
	cats    *categoryuc.Service
	health  *healthuc.Service
	indexer *ingest.Indexer
	obs     *observer

	closers []func() error
}

// backend is what Open builds per store driver.
type backend struct {
	repo   documentuc.Repository
	pinger healthuc.Pinger
	kv     db.KVStore // nil unless the backend can cache embeddings
	close  func() error
}

// Open builds every component and connects to the configured backend.
// The caller owns the returned Index and must Close it.
func Open(ctx context.Context, opts ...Option) (*Index, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(o)
	}
	cfg := o.cfg
	cfg.ApplyDefaults()
	if o.embedder != nil {
		// a custom embedder replaces the configured provider
		cfg.Embedding.Provider = config.ProviderHashing
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("problemdex: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var techTag filter.Tag
	if cfg.TagFilter.Key != "" {
		t, err := filter.NewTag(cfg.TagFilter.Key, cfg.TagFilter.Values)
		if err != nil {
			return nil, fmt.Errorf("problemdex: tag filter: %w", err)
		}
		techTag = t
	}

	obs, err := newObserver(logger, o.registry)
	if err != nil {
		return nil, err
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	modelName, load := embeddingLoader(cfg, o, be.kv, logger)
	model := embeddinguc.NewModel(modelName, cfg.Embedding.Dimensions, load, logger,
		embeddinguc.WithInstructions(cfg.Embedding.DocumentInstruction, cfg.Embedding.QueryInstruction))

	docs := documentuc.New(be.repo, model, documentuc.Config{
		Collection:         cfg.Store.Collection,
		MaxBatchSize:       cfg.Store.MaxBatchSize,
		CategorySampleSize: cfg.Store.CategorySampleSize,
	}, logger)
	cats := categoryuc.New(docs, categoryuc.Config{CacheTTL: cfg.Categories.CacheTTL()}, logger)
	docs.OnChange(cats.Invalidate)

	ix := &Index{
		cfg:     cfg,
		logger:  logger,
		techTag: techTag,
		model:   model,
		docs:    docs,
		search:  searchuc.New(docs, model, cfg.Search.SampleQueries, logger),
		cats:    cats,
		health:  healthuc.New(be.pinger, docs, model),
		indexer: ingest.New(docs, logger),
		obs:     obs,
		closers: []func() error{be.close},
	}

	logger.Info("problemdex index opened",
		zap.String("backend", cfg.Store.Driver),
		zap.String("collection", cfg.Store.Collection),
		zap.String("model", modelName),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)
	return ix, nil
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend, error) {
	sc := cfg.Store
	switch sc.Driver {
	case config.DriverLocal:
		s, err := local.Open(ctx, local.Config{
			Path:       sc.Path,
			Collection: sc.Collection,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
		if err != nil {
			return backend{}, fmt.Errorf("problemdex: open local store: %w", err)
		}
		return backend{repo: s, pinger: s, close: s.Close}, nil

	case config.DriverValkey, config.DriverRedis:
		algo, err := db.ParseVectorAlgorithm(sc.Algorithm)
		if err != nil {
			return backend{}, fmt.Errorf("problemdex: %w", err)
		}
		s, err := dbValkey.NewStore(dbValkey.Config{Addrs: sc.Addrs, Password: sc.Password})
		if err != nil {
			return backend{}, fmt.Errorf("problemdex: create %s store: %w", sc.Driver, err)
		}
		if err := s.WaitForReady(ctx, time.Duration(sc.ReadinessTimeout)*time.Second); err != nil {
			s.Close()
			return backend{}, fmt.Errorf("problemdex: %s not ready: %w", sc.Driver, err)
		}
		repo := valkeyrepo.New(s, valkeyrepo.Config{
			KeyPrefix:      sc.KeyPrefix,
			Collection:     sc.Collection,
			Dimensions:     cfg.Embedding.Dimensions,
			TagKey:         cfg.TagFilter.Key,
			Algorithm:      algo,
			M:              sc.HNSWM,
			EFConstruction: sc.HNSWEFConstruct,
		}, logger)
		if err := repo.EnsureIndex(ctx); err != nil {
			s.Close()
			return backend{}, fmt.Errorf("problemdex: ensure index: %w", err)
		}
		return backend{repo: repo, pinger: s, kv: s, close: func() error { s.Close(); return nil }}, nil

	case config.DriverQdrant:
		repo, err := qdrantrepo.New(qdrantrepo.Config{
			Addr:       sc.Addrs[0],
			Collection: sc.Collection,
			Dimensions: cfg.Embedding.Dimensions,
			TagKey:     cfg.TagFilter.Key,
		}, logger)
		if err != nil {
			return backend{}, fmt.Errorf("problemdex: connect qdrant: %w", err)
		}
		if err := repo.EnsureCollection(ctx); err != nil {
			_ = repo.Close()
			return backend{}, fmt.Errorf("problemdex: ensure collection: %w", err)
		}
		return backend{repo: repo, pinger: repo, close: repo.Close}, nil
	}
	return backend{}, fmt.Errorf("problemdex: unknown store driver %q", sc.Driver)
}

// embeddingLoader assembles the provider chain lazily:
// provider -> cache (kv backends only) -> instrumented.
func embeddingLoader(cfg config.Config, o *options, kv db.KVStore, logger *zap.Logger) (string, embeddinguc.Loader) {
	ec := cfg.Embedding
	name := hashing.ModelName
	provider := ec.Provider
	switch {
	case o.embedder != nil:
		name, provider = o.model, "custom"
	case ec.Provider == config.ProviderOpenAI:
		name = ec.Model
	}

	load := func(context.Context) (domain.BatchEmbedder, error) {
		var base domain.BatchEmbedder
		switch {
		case o.embedder != nil:
			base = o.embedder
		case ec.Provider == config.ProviderOpenAI:
			base = openaiEmb.NewEmbedder(&openaiEmb.Config{
				APIKey:            ec.APIKey,
				BaseURL:           ec.BaseURL,
				Model:             ec.Model,
				Dimensions:        ec.Dimensions,
				SendDimensions:    ec.SendDimensions,
				Provider:          provider,
				RequestsPerSecond: ec.RequestsPerSecond,
				Burst:             ec.Burst,
				Logger:            logger,
			})
		default:
			h, err := hashing.New(ec.Dimensions)
			if err != nil {
				return nil, err
			}
			base = h
		}

		if kv != nil && ec.CacheTTLSec > 0 {
			base = embcache.New(base, kv, cfg.Store.KeyPrefix, name,
				time.Duration(ec.CacheTTLSec)*time.Second, metrics.EmbeddingCacheTotal, logger)
		}
		return embeddinguc.NewInstrumentedEmbedder(base, provider, name, ec.MaxBatchSize, logger), nil
	}
	return name, load
}

// Close releases the backend connection.
func (ix *Index) Close() error {
	var errs []error
	for _, c := range ix.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Add embeds and stores records, split into batches the store accepts.
// Batches with invalid records are skipped and reported; a store failure stops the run.
func (ix *Index) Add(ctx context.Context, records []Record) (rep IngestReport, err error) {
	start := time.Now()
	defer func() { ix.obs.observe("add", start, err) }()

	return ix.indexer.Index(ctx, records)
}

// Search ranks documents by similarity to query. A blank query browses instead.
func (ix *Index) Search(ctx context.Context, query string, opts ...QueryOption) (Response, error) {
	return ix.run(ctx, query, "", opts)
}

// Browse lists documents in insertion order without scores.
func (ix *Index) Browse(ctx context.Context, opts ...QueryOption) (Response, error) {
	return ix.run(ctx, "", mode.Browse, opts)
}

// Sample returns a diverse, de-duplicated set of problems drawn through the canned queries.
func (ix *Index) Sample(ctx context.Context, opts ...QueryOption) (Response, error) {
	return ix.run(ctx, "", mode.Sample, opts)
}

// Execute runs a prepared request.
func (ix *Index) Execute(ctx context.Context, req *request.Request) (_ Response, err error) {
	start := time.Now()
	defer func() { ix.obs.observe(string(req.Mode()), start, err) }()

	resp, err := ix.search.Search(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("search: %w", err)
	}
	return resp, nil
}

// Similar ranks documents by similarity to the stored document id, which is itself excluded.
// Limit defaults to five neighbours. A missing id fails with ErrDocumentNotFound.
func (ix *Index) Similar(ctx context.Context, id string, opts ...QueryOption) (Response, error) {
	var q queryOptions
	for _, o := range opts {
		o(&q)
	}
	f, err := ix.Filter(q.category, q.techOnly)
	if err != nil {
		return Response{}, err
	}
	req, err := request.NewSimilar(id, f, q.limit)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return ix.ExecuteSimilar(ctx, &req)
}

// ExecuteSimilar runs a prepared similar request.
func (ix *Index) ExecuteSimilar(ctx context.Context, req *request.Similar) (_ Response, err error) {
	start := time.Now()
	defer func() { ix.obs.observe("similar", start, err) }()

	resp, err := ix.search.Similar(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("similar: %w", err)
	}
	return resp, nil
}

func (ix *Index) run(ctx context.Context, query string, m Mode, opts []QueryOption) (Response, error) {
	q, f, err := ix.queryOptions(opts)
	if err != nil {
		return Response{}, err
	}
	req, err := request.New(query, m, f, q.limit)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return ix.Execute(ctx, &req)
}

// Categories returns the sorted category vocabulary.
func (ix *Index) Categories(ctx context.Context) ([]string, error) {
	return ix.cats.Categories(ctx)
}

// Stats returns per-category totals and recency windows.
func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	return ix.cats.Stats(ctx)
}

// Count returns the number of stored documents.
func (ix *Index) Count(ctx context.Context) (int, error) {
	return ix.docs.Count(ctx)
}

// Clear removes every document of the collection.
func (ix *Index) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { ix.obs.observe("clear", start, err) }()

	return ix.docs.Clear(ctx)
}

// Health checks the backend and the embedding model.
func (ix *Index) Health(ctx context.Context) HealthReport {
	return ix.health.Check(ctx)
}

// ModelName identifies the embedding model.
func (ix *Index) ModelName() string { return ix.model.Name() }

// Collection returns the collection name.
func (ix *Index) Collection() string { return ix.cfg.Store.Collection }

// Backend returns the store driver name.
func (ix *Index) Backend() string { return ix.cfg.Store.Driver }

// DefaultLimit is the result count used when a query sets none.
func (ix *Index) DefaultLimit() int { return ix.cfg.Search.DefaultLimit }
