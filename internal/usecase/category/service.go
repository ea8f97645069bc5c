// Package category maintains the category vocabulary and per-category statistics
// of the document store behind a short-lived cache.
package category

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/stats"
)

// DefaultCacheTTL applies when Config leaves CacheTTL unset.
const DefaultCacheTTL = 5 * time.Minute

// Config configures the category index.
type Config struct {
	// CacheTTL bounds how long categories and stats are served from cache.
	// A negative value disables caching.
	CacheTTL time.Duration
	Periods  []stats.Period
}

type cached[T any] struct {
	value   T
	expires time.Time
	ok      bool
}

func (c *cached[T]) get(now time.Time) (T, bool) {
	if !c.ok || !now.Before(c.expires) {
		var zero T
		return zero, false
	}
	return c.value, true
}

func (c *cached[T]) set(v T, now time.Time, ttl time.Duration) {
	if ttl < 0 {
		return
	}
	c.value, c.expires, c.ok = v, now.Add(ttl), true
}

// Service is the CategoryIndex.
type Service struct {
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	cats  cached[[]string]
	snap  cached[stats.Snapshot]
	epoch uint64
}

// New creates a category index over store.
func New(store Store, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Periods == nil {
		cfg.Periods = stats.DefaultPeriods
	}
	return &Service{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Categories returns the sorted distinct categories present in the store.
// The returned slice belongs to the caller.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	if v, ok := s.cats.get(s.now()); ok {
		s.mu.Unlock()
		return slices.Clone(v), nil
	}
	epoch := s.epoch
	s.mu.Unlock()

	cats, err := s.store.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	s.mu.Lock()
	if epoch == s.epoch {
		s.cats.set(cats, s.now(), s.cfg.CacheTTL)
	}
	s.mu.Unlock()
	return slices.Clone(cats), nil
}

// Stats returns per-category totals and recency windows over the whole collection.
// Total is the store's document count. The returned snapshot belongs to the caller.
func (s *Service) Stats(ctx context.Context) (stats.Snapshot, error) {
	s.mu.Lock()
	if v, ok := s.snap.get(s.now()); ok {
		s.mu.Unlock()
		return v.Clone(), nil
	}
	epoch := s.epoch
	s.mu.Unlock()

	total, err := s.store.Count(ctx)
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("count documents: %w", err)
	}
	docs, err := s.store.List(ctx, 0, filter.None())
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("list documents: %w", err)
	}
	snap := stats.Compute(docs, s.cfg.Periods, s.now().UTC())
	if total != len(docs) {
		s.logger.Debug("collection changed while computing stats",
			zap.Int("count", total), zap.Int("scanned", len(docs)))
	}
	snap.Total = total

	s.mu.Lock()
	if epoch == s.epoch {
		s.snap.set(snap, s.now(), s.cfg.CacheTTL)
	}
	s.mu.Unlock()
	return snap.Clone(), nil
}

// Invalidate drops cached values. It is registered as a document store change hook.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.epoch++
	s.cats = cached[[]string]{}
	s.snap = cached[stats.Snapshot]{}
	s.mu.Unlock()
}
