package problemdex

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex/internal/config"
	"github.com/kailas-cloud/problemdex/internal/domain"
	"github.com/kailas-cloud/problemdex/internal/repository/local"
)

// Store backends.
const (
	BackendLocal  = config.DriverLocal
	BackendValkey = config.DriverValkey
	BackendRedis  = config.DriverRedis
	BackendQdrant = config.DriverQdrant
)

// MemoryPath keeps the local backend entirely in memory.
const MemoryPath = local.MemoryPath

// Embedder is an embedding provider plugged in with WithEmbedder.
// Providers that also implement BatchEmbed are called with whole batches.
type Embedder = domain.Embedder

// Option configures Open.
type Option interface {
	apply(*options)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

type options struct {
	cfg      config.Config
	embedder domain.BatchEmbedder
	model    string
	logger   *zap.Logger
	registry prometheus.Registerer
}

func defaultOptions() *options {
	o := &options{}
	o.cfg.Store.Path = MemoryPath
	return o
}

// FromConfig starts from a loaded service configuration. Later options override it.
func FromConfig(cfg config.Config) Option {
	return optionFunc(func(o *options) {
		o.cfg = cfg
	})
}

// WithLocal stores documents in a sqlite file at path (MemoryPath for a throwaway index).
func WithLocal(path string) Option {
	return optionFunc(func(o *options) {
		o.cfg.Store.Driver = BackendLocal
		o.cfg.Store.Path = path
	})
}

// WithValkey stores documents in Valkey with the valkey-search module.
func WithValkey(addr, password string) Option {
	return optionFunc(func(o *options) {
		o.cfg.Store.Driver = BackendValkey
		o.cfg.Store.Addrs = []string{addr}
		o.cfg.Store.Password = password
	})
}

// WithRedis stores documents in Redis Stack.
func WithRedis(addr, password string) Option {
	return optionFunc(func(o *options) {
		o.cfg.Store.Driver = BackendRedis
		o.cfg.Store.Addrs = []string{addr}
		o.cfg.Store.Password = password
	})
}

// WithQdrant stores documents in a Qdrant collection reached over gRPC.
func WithQdrant(addr string) Option {
	return optionFunc(func(o *options) {
		o.cfg.Store.Driver = BackendQdrant
		o.cfg.Store.Addrs = []string{addr}
	})
}

// WithCollection names the collection. Defaults to "reddit_tech_problems".
func WithCollection(name string) Option {
	return optionFunc(func(o *options) {
		o.cfg.Store.Collection = name
	})
}

// WithDimensions sets the embedding dimensionality. Defaults to 384.
func WithDimensions(dims int) Option {
	return optionFunc(func(o *options) {
		o.cfg.Embedding.Dimensions = dims
	})
}

// WithEmbedder plugs in a custom embedding provider, reported under model.
func WithEmbedder(e Embedder, model string) Option {
	return optionFunc(func(o *options) {
		o.embedder = domain.Batch(e)
		o.model = model
	})
}

// WithOpenAI embeds through an OpenAI-compatible /embeddings endpoint.
func WithOpenAI(baseURL, apiKey, model string) Option {
	return optionFunc(func(o *options) {
		o.cfg.Embedding.Provider = config.ProviderOpenAI
		o.cfg.Embedding.BaseURL = baseURL
		o.cfg.Embedding.APIKey = apiKey
		o.cfg.Embedding.Model = model
	})
}

// WithTagFilter configures the allow-list applied by TechOnly queries.
func WithTagFilter(key string, values ...string) Option {
	return optionFunc(func(o *options) {
		o.cfg.TagFilter.Key = key
		o.cfg.TagFilter.Values = values
	})
}

// WithSampleQueries replaces the canned queries used by Sample.
func WithSampleQueries(queries ...string) Option {
	return optionFunc(func(o *options) {
		o.cfg.Search.SampleQueries = queries
	})
}

// WithMaxBatchSize bounds a single store write. Add splits larger inputs.
func WithMaxBatchSize(n int) Option {
	return optionFunc(func(o *options) {
		o.cfg.Store.MaxBatchSize = n
	})
}

// WithCategoryCacheTTL sets how long categories and stats are cached. Negative disables caching.
func WithCategoryCacheTTL(ttl time.Duration) Option {
	return optionFunc(func(o *options) {
		o.cfg.Categories.CacheTTLSec = int(ttl / time.Second)
		if ttl < 0 {
			o.cfg.Categories.CacheTTLSec = -1
		}
	})
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// WithMetrics registers per-operation counters and latency histograms on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return optionFunc(func(o *options) {
		o.registry = reg
	})
}
