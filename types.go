package problemdex

import (
	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/mode"
	"github.com/kailas-cloud/problemdex/internal/domain/search/result"
	"github.com/kailas-cloud/problemdex/internal/domain/stats"
	"github.com/kailas-cloud/problemdex/internal/usecase/health"
	"github.com/kailas-cloud/problemdex/internal/usecase/ingest"
	"github.com/kailas-cloud/problemdex/internal/usecase/search"
)

// Record is a normalized problem handed over by the ingestion pipeline.
type Record = domdoc.Record

// Result is one retrieved problem.
type Result = result.Result

// Group is the ranked results of one category.
type Group = result.Group

// Response is the outcome of Search, Browse or Sample.
type Response = search.Response

// Mode names how a response was produced: semantic, browse, sample or similar.
type Mode = mode.Mode

// Stats is a category and recency breakdown of the collection.
type Stats = stats.Snapshot

// HealthReport aggregates component health.
type HealthReport = health.Report

// IngestReport summarizes an Add call.
type IngestReport = ingest.Report

// AllCategories is the category value meaning "no category filter".
const AllCategories = "All"
