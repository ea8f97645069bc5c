package chi

import (
	"context"

	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/request"
	"github.com/kailas-cloud/problemdex/internal/domain/stats"
	healthuc "github.com/kailas-cloud/problemdex/internal/usecase/health"
	"github.com/kailas-cloud/problemdex/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/problemdex/internal/usecase/search"
)

// Index is the problem index served over HTTP.
//
//nolint:interfacebloat // one facade per host
type Index interface {
	Add(ctx context.Context, records []domdoc.Record) (ingest.Report, error)
	Execute(ctx context.Context, req *request.Request) (searchuc.Response, error)
	ExecuteSimilar(ctx context.Context, req *request.Similar) (searchuc.Response, error)
	Filter(category string, techOnly bool) (filter.Filter, error)
	Categories(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (stats.Snapshot, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Health(ctx context.Context) healthuc.Report
	ModelName() string
	Collection() string
	Backend() string
}
