package embedding

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex/internal/domain"
	"github.com/kailas-cloud/problemdex/internal/metrics"
	"github.com/kailas-cloud/problemdex/internal/vector"
)

// Loader initializes the underlying provider. It runs at most once per Model.
type Loader func(ctx context.Context) (domain.BatchEmbedder, error)

// Fallback reasons, used as metric labels.
const (
	reasonLoad     = "load"
	reasonProvider = "provider"
	reasonShape    = "shape"
)

// Model is the fail-soft embedding model used by the document store and search.
//
// Embed never returns an error: inputs the provider cannot embed get a zero
// vector of the configured dimension and the failure is logged and counted.
// The provider is loaded lazily on first use and shared afterwards.
type Model struct {
	name      string
	dims      int
	normalize bool
	load      Loader
	logger    *zap.Logger

	docInstruction   string
	queryInstruction string

	once    sync.Once
	base    domain.BatchEmbedder
	docs    domain.BatchEmbedder
	queries domain.BatchEmbedder
	loadErr error
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithoutNormalization keeps provider vectors as returned instead of scaling them to unit length.
func WithoutNormalization() ModelOption {
	return func(m *Model) { m.normalize = false }
}

// WithInstructions prefixes document and query texts before they reach the provider.
// Models such as e5 expect "passage: " and "query: ". Empty strings leave texts as is.
func WithInstructions(document, query string) ModelOption {
	return func(m *Model) { m.docInstruction, m.queryInstruction = document, query }
}

// NewModel creates a lazily loaded fail-soft model producing vectors of dims components.
func NewModel(name string, dims int, load Loader, logger *zap.Logger, opts ...ModelOption) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Model{name: name, dims: dims, normalize: true, load: load, logger: logger}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Static wraps an already constructed provider as a Loader.
func Static(p domain.BatchEmbedder) Loader {
	return func(context.Context) (domain.BatchEmbedder, error) { return p, nil }
}

// Name returns the model identifier.
func (m *Model) Name() string { return m.name }

// Dimensions returns the vector length every Embed output has.
func (m *Model) Dimensions() int { return m.dims }

// Embed maps document texts to vectors, one per input, in input order.
func (m *Model) Embed(ctx context.Context, texts []string) [][]float32 {
	return m.embed(ctx, texts, false)
}

// EmbedQuery embeds a single search query.
func (m *Model) EmbedQuery(ctx context.Context, text string) []float32 {
	return m.embed(ctx, []string{text}, true)[0]
}

func (m *Model) embed(ctx context.Context, texts []string, query bool) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}

	_, err := m.ensureLoaded(ctx)
	p := m.docs
	if query {
		p = m.queries
	}
	if err != nil {
		m.fallback(reasonLoad, len(texts), err)
		for i := range out {
			out[i] = vector.Zero(m.dims)
		}
		return out
	}

	res, err := p.BatchEmbed(ctx, texts)
	if err == nil && len(res.Embeddings) != len(texts) {
		err = fmt.Errorf("provider returned %d vectors for %d inputs", len(res.Embeddings), len(texts))
	}
	if err == nil {
		copy(out, res.Embeddings)
	} else {
		m.logger.Warn("Batch embedding failed, retrying inputs individually",
			zap.String("model", m.name),
			zap.Int("batch_size", len(texts)),
			zap.Error(err),
		)
		m.embedEach(ctx, p, texts, out)
	}

	for i, v := range out {
		out[i] = m.finish(v, i)
	}
	return out
}

// HealthCheck loads the provider if needed and checks it when it supports health checks.
func (m *Model) HealthCheck(ctx context.Context) error {
	p, err := m.ensureLoaded(ctx)
	if err != nil {
		return fmt.Errorf("load embedding model %s: %w", m.name, err)
	}
	if hc, ok := p.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding model %s: %w", m.name, err)
		}
	}
	return nil
}

func (m *Model) ensureLoaded(ctx context.Context) (domain.BatchEmbedder, error) {
	m.once.Do(func() {
		if m.load == nil {
			m.loadErr = fmt.Errorf("no loader configured")
			return
		}
		m.base, m.loadErr = m.load(ctx)
		if m.loadErr == nil && m.base == nil {
			m.loadErr = fmt.Errorf("loader returned no provider")
		}
		if m.loadErr != nil {
			m.logger.Error("Embedding model failed to load, all embeddings will be zero vectors",
				zap.String("model", m.name),
				zap.Error(m.loadErr),
			)
			return
		}
		m.docs = instruct(m.base, m.docInstruction)
		m.queries = instruct(m.base, m.queryInstruction)
		m.logger.Info("Embedding model loaded",
			zap.String("model", m.name),
			zap.Int("dimensions", m.dims),
		)
	})
	return m.base, m.loadErr
}

func instruct(p domain.BatchEmbedder, instruction string) domain.BatchEmbedder {
	if instruction == "" {
		return p
	}
	return domain.NewInstructionEmbedder(p, instruction)
}

func (m *Model) embedEach(ctx context.Context, p domain.BatchEmbedder, texts []string, out [][]float32) {
	for i, t := range texts {
		res, err := p.BatchEmbed(ctx, []string{t})
		if err == nil && len(res.Embeddings) != 1 {
			err = fmt.Errorf("provider returned %d vectors for 1 input", len(res.Embeddings))
		}
		if err != nil {
			m.fallback(reasonProvider, 1, err)
			out[i] = vector.Zero(m.dims)
			continue
		}
		out[i] = res.Embeddings[0]
	}
}

// finish enforces the output shape and normalizes.
func (m *Model) finish(v []float32, idx int) []float32 {
	if len(v) != m.dims || !vector.IsFinite(v) {
		m.fallback(reasonShape, 1, fmt.Errorf("input %d: got %d components, want %d finite", idx, len(v), m.dims))
		return vector.Zero(m.dims)
	}
	if m.normalize {
		return vector.Normalize(v)
	}
	return v
}

func (m *Model) fallback(reason string, n int, err error) {
	metrics.EmbeddingFallbacksTotal.WithLabelValues(m.name, reason).Add(float64(n))
	m.logger.Warn("Embedding fell back to zero vectors",
		zap.String("model", m.name),
		zap.String("reason", reason),
		zap.Int("inputs", n),
		zap.Error(err),
	)
}
