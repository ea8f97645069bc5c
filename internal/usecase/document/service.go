package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex/internal/domain"
	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/result"
)

// Defaults applied when Config leaves a limit unset.
const (
	DefaultMaxBatchSize       = 100
	DefaultCategorySampleSize = 1000
)

// Config holds the document store limits.
type Config struct {
	Collection         string
	MaxBatchSize       int
	CategorySampleSize int
}

// Service is the DocumentStore: it embeds and persists records and answers
// similarity, listing and category queries over one collection.
//
// Add and Clear are serialized against each other and against readers;
// reads run concurrently.
type Service struct {
	repo     Repository
	embedder Embedder
	cfg      Config
	logger   *zap.Logger
	newID    func() string
	now      func() time.Time

	mu       sync.RWMutex
	onChange []func()
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator overrides UUID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock overrides the time source used to stamp processed_at.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// New creates a document service.
func New(repo Repository, embedder Embedder, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.CategorySampleSize <= 0 {
		cfg.CategorySampleSize = DefaultCategorySampleSize
	}
	s := &Service{
		repo:     repo,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnChange registers fn to run after every successful Add or Clear.
func (s *Service) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Collection returns the name of the collection the service manages.
func (s *Service) Collection() string { return s.cfg.Collection }

// MaxBatchSize returns the largest batch Add accepts.
func (s *Service) MaxBatchSize() int { return s.cfg.MaxBatchSize }

// Add validates, embeds and persists records as one batch and returns the number stored.
// An empty batch is a no-op. If any record is invalid nothing is written.
func (s *Service) Add(ctx context.Context, records []domdoc.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if len(records) > s.cfg.MaxBatchSize {
		return 0, fmt.Errorf("%d records, max %d: %w", len(records), s.cfg.MaxBatchSize, domain.ErrBatchTooLarge)
	}

	now := s.now().UTC()
	docs := make([]domdoc.Document, len(records))
	texts := make([]string, len(records))
	for i := range records {
		d, err := domdoc.New(s.newID(), records[i], now)
		if err != nil {
			return 0, fmt.Errorf("record %d: %w: %w", i, domain.ErrInvalidDocument, err)
		}
		docs[i] = d
		texts[i] = records[i].EmbeddingText()
	}

	vectors := s.embedder.Embed(ctx, texts)
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts: %w",
			len(vectors), len(docs), domain.ErrVectorDimMismatch)
	}
	dims := s.embedder.Dimensions()
	for i := range docs {
		if len(vectors[i]) != dims {
			return 0, fmt.Errorf("vector %d has %d dimensions, want %d: %w",
				i, len(vectors[i]), dims, domain.ErrVectorDimMismatch)
		}
		docs[i] = docs[i].WithVector(vectors[i])
	}

	s.mu.Lock()
	err := s.repo.Insert(ctx, docs)
	hooks := s.onChange
	s.mu.Unlock()
	if err != nil {
		return 0, s.storeErr("add", err)
	}

	for _, fn := range hooks {
		fn()
	}
	s.logger.Debug("documents added",
		zap.String("collection", s.cfg.Collection),
		zap.Int("count", len(docs)),
	)
	return len(docs), nil
}

// SimilarityQuery returns up to k documents most similar to vec that match f,
// best first. A filter that matches nothing yields an empty result.
func (s *Service) SimilarityQuery(ctx context.Context, vec []float32, k int, f filter.Filter) ([]result.Result, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.repo.Search(ctx, vec, k, f)
	if err != nil {
		return nil, s.storeErr("search", err)
	}
	return res, nil
}

// Get returns the stored document id, including its vector.
func (s *Service) Get(ctx context.Context, id string) (domdoc.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return domdoc.Document{}, s.storeErr("get", err)
	}
	return d, nil
}

// List returns up to limit documents matching f in insertion order.
func (s *Service) List(ctx context.Context, limit int, f filter.Filter) ([]domdoc.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, err := s.repo.List(ctx, limit, f)
	if err != nil {
		return nil, s.storeErr("list", err)
	}
	return docs, nil
}

// Categories returns the sorted distinct categories, sampled over the first
// CategorySampleSize documents.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cats, err := s.repo.Categories(ctx, s.cfg.CategorySampleSize)
	if err != nil {
		return nil, s.storeErr("categories", err)
	}
	return cats, nil
}

// Count returns the number of stored documents.
func (s *Service) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, s.storeErr("count", err)
	}
	return n, nil
}

// Clear removes every document. Clearing an empty collection succeeds.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	err := s.repo.Clear(ctx)
	hooks := s.onChange
	s.mu.Unlock()
	if err != nil {
		return s.storeErr("clear", err)
	}

	for _, fn := range hooks {
		fn()
	}
	s.logger.Info("collection cleared", zap.String("collection", s.cfg.Collection))
	return nil
}

// storeErr wraps backend failures as StoreError. Missing documents, dimension
// mismatches and context cancellation are caller errors and pass through.
func (s *Service) storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrDocumentNotFound) || errors.Is(err, domain.ErrVectorDimMismatch) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s documents: %w", op, err)
	}
	s.logger.Error("store operation failed",
		zap.String("op", op),
		zap.String("collection", s.cfg.Collection),
		zap.Error(err),
	)
	return domain.NewStoreError(op, s.cfg.Collection, err)
}
