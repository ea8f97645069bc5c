package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/problemdex/internal/domain"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/mode"
	"github.com/kailas-cloud/problemdex/internal/domain/search/request"
	"github.com/kailas-cloud/problemdex/internal/domain/search/result"
	"github.com/kailas-cloud/problemdex/internal/metrics"
	"github.com/kailas-cloud/problemdex/internal/vector"
)

// DefaultSampleQueries are the canned queries merged by Sample.
var DefaultSampleQueries = []string{
	"software bug error crash",
	"install setup configuration",
	"performance slow optimization",
	"database connection issue",
	"web development problem",
}

// Response is the outcome of a search in any mode.
// For similar searches Query is the anchor document's title.
type Response struct {
	Query   string
	Mode    mode.Mode
	Results []result.Result
}

// Groups partitions the results by category, preserving rank order.
func (r Response) Groups() []result.Group {
	return result.GroupByCategory(r.Results)
}

// Service answers semantic, browse and sample searches over the document store.
type Service struct {
	store         Store
	embed         Embedder
	sampleQueries []string
	logger        *zap.Logger
}

// New creates a search service. An empty sampleQueries uses DefaultSampleQueries.
func New(store Store, embed Embedder, sampleQueries []string, logger *zap.Logger) *Service {
	if len(sampleQueries) == 0 {
		sampleQueries = DefaultSampleQueries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, embed: embed, sampleQueries: sampleQueries, logger: logger}
}

// Search executes req. Semantic requests embed the query and rank by similarity;
// browse requests list documents in insertion order without scores.
func (s *Service) Search(ctx context.Context, req *request.Request) (Response, error) {
	start := time.Now()
	metrics.SearchRequestsTotal.WithLabelValues(string(req.Mode())).Inc()

	var (
		results []result.Result
		err     error
	)
	switch req.Mode() {
	case mode.Semantic:
		results, err = s.semantic(ctx, req.Query(), req.TopK(), req.Filter())
	case mode.Browse:
		results, err = s.browse(ctx, req.TopK(), req.Filter())
	case mode.Sample:
		results, err = s.sample(ctx, req.TopK(), req.Filter())
	default:
		return Response{}, fmt.Errorf("unsupported search mode %q: %w", req.Mode(), domain.ErrInvalidRequest)
	}
	if err != nil {
		return Response{}, err
	}

	s.logger.Debug("search completed",
		zap.String("mode", string(req.Mode())),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
	)
	return Response{Query: req.Query(), Mode: req.Mode(), Results: results}, nil
}

// Sample merges the canned queries into a diverse, de-duplicated set of at most limit results.
func (s *Service) Sample(ctx context.Context, f filter.Filter, limit int) (Response, error) {
	req, err := request.New("", mode.Sample, f, limit)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return s.Search(ctx, &req)
}

// Similar ranks documents by similarity to the stored vector of document req.ID().
// The anchor itself is never returned. A document stored with a zero vector has
// no meaningful neighbours and yields an empty result.
func (s *Service) Similar(ctx context.Context, req *request.Similar) (Response, error) {
	start := time.Now()
	metrics.SearchRequestsTotal.WithLabelValues(string(mode.Similar)).Inc()

	anchor, err := s.store.Get(ctx, req.ID())
	if err != nil {
		return Response{}, fmt.Errorf("load document: %w", err)
	}

	results := []result.Result{}
	if vec := anchor.Vector(); len(vec) > 0 && !vector.IsZero(vec) {
		res, err := s.store.SimilarityQuery(ctx, vec, req.Limit()+1, req.Filter())
		if err != nil {
			return Response{}, fmt.Errorf("similarity query: %w", err)
		}
		results = make([]result.Result, 0, len(res))
		for _, r := range res {
			if r.ID() != anchor.ID() {
				results = append(results, r)
			}
		}
		if len(results) > req.Limit() {
			results = results[:req.Limit()]
		}
	}

	s.logger.Debug("similar search completed",
		zap.String("id", anchor.ID()),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
	)
	return Response{Query: anchor.Title(), Mode: mode.Similar, Results: results}, nil
}

func (s *Service) semantic(ctx context.Context, query string, k int, f filter.Filter) ([]result.Result, error) {
	vec := s.embed.EmbedQuery(ctx, query)
	res, err := s.store.SimilarityQuery(ctx, vec, k, f)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	return res, nil
}

func (s *Service) browse(ctx context.Context, limit int, f filter.Filter) ([]result.Result, error) {
	docs, err := s.store.List(ctx, limit, f)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]result.Result, len(docs))
	for i := range docs {
		out[i] = result.FromDocument(&docs[i])
	}
	return out, nil
}

// sample runs every canned query concurrently with limit/len+2 results each,
// then merges in query order keeping the first occurrence of each document.
func (s *Service) sample(ctx context.Context, limit int, f filter.Filter) ([]result.Result, error) {
	perQuery := limit/len(s.sampleQueries) + 2
	lists := make([][]result.Result, len(s.sampleQueries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range s.sampleQueries {
		g.Go(func() error {
			res, err := s.semantic(gctx, q, perQuery, f)
			if err != nil {
				return err
			}
			lists[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := result.Dedupe(lists...)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}
