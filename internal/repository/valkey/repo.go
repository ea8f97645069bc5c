// Package valkey stores documents as Valkey/Redis hashes indexed by an FT vector index.
package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex/internal/db"
	"github.com/kailas-cloud/problemdex/internal/domain"
	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/result"
	"github.com/kailas-cloud/problemdex/internal/metrics"
	"github.com/kailas-cloud/problemdex/internal/vector"
)

const backend = "valkey"

// DefaultKeyPrefix namespaces every key the repository writes.
const DefaultKeyPrefix = "problemdex:"

// Hash field names.
const (
	fieldTitle     = "title"
	fieldBody      = "body"
	fieldSummary   = "summary"
	fieldCategory  = "category"
	fieldTag       = "tag"
	fieldSeq       = "seq"
	fieldCreatedAt = "created_at"
	fieldSource    = "source"
	fieldVector    = "__vector"
	vectorAlias    = "vector"
)

const delChunk = 500

// store is the consumer interface for the hash-backed document store (ISP).
type store interface {
	HSetTx(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	IncrBy(ctx context.Context, key string, val int64) (int64, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// Config describes the collection layout.
type Config struct {
	KeyPrefix      string
	Collection     string
	Dimensions     int
	TagKey         string // metadata key mirrored into the indexed "tag" field
	Algorithm      db.VectorAlgorithm
	M              int
	EFConstruction int
}

// Repo implements usecase/document.Repository on Valkey/Redis.
type Repo struct {
	store  store
	cfg    Config
	logger *zap.Logger
}

// New creates a hash-backed document repository.
func New(s store, cfg Config, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = db.VectorHNSW
	}
	return &Repo{store: s, cfg: cfg, logger: logger}
}

// EnsureIndex creates the collection index unless it already exists.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	def, err := r.indexDefinition()
	if err != nil {
		return err
	}
	exists, err := r.store.IndexExists(ctx, def.Name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", def.Name, err)
	}
	if exists {
		return nil
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", def.Name, err)
	}
	return nil
}

func (r *Repo) indexDefinition() (*db.IndexDefinition, error) {
	return db.NewIndex(r.indexName()).
		Prefix(r.keyPrefix()).
		Tag(fieldCategory).
		Tag(fieldTag).
		Numeric(fieldSeq).
		Numeric(fieldCreatedAt).
		Vector(fieldVector, vectorAlias, r.cfg.Dimensions, r.cfg.Algorithm, db.DistanceCosine,
			r.cfg.M, r.cfg.EFConstruction).
		Build()
}

// Insert writes the batch in one MULTI/EXEC transaction.
func (r *Repo) Insert(ctx context.Context, docs []domdoc.Document) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(backend, "insert", start, err) }()

	if len(docs) == 0 {
		return nil
	}
	for i := range docs {
		if n := len(docs[i].Vector()); n != r.cfg.Dimensions {
			return fmt.Errorf("document %s has %d dimensions, want %d: %w",
				docs[i].ID(), n, r.cfg.Dimensions, domain.ErrVectorDimMismatch)
		}
	}

	last, err := r.store.IncrBy(ctx, r.seqKey(), int64(len(docs)))
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}
	first := last - int64(len(docs)) + 1

	items := make([]db.HashSetItem, len(docs))
	for i := range docs {
		d := docs[i].WithSeq(first + int64(i))
		fields, err := r.buildHashFields(&d)
		if err != nil {
			return err
		}
		items[i] = db.HashSetItem{Key: r.docKey(d.ID()), Fields: fields}
	}

	if err := r.store.HSetTx(ctx, items); err != nil {
		return fmt.Errorf("hset batch: %w", err)
	}
	return nil
}

// Search runs a KNN query with category and tag pre-filters and returns
// results ordered by score, ties by insertion order.
func (r *Repo) Search(ctx context.Context, vec []float32, k int, f filter.Filter) (res []result.Result, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(backend, "search", start, err) }()

	if k <= 0 {
		return nil, nil
	}
	tags, err := r.tagConditions(f)
	if err != nil {
		return nil, err
	}

	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName(),
		VectorField:  vectorAlias,
		Tags:         tags,
		Vector:       vec,
		K:            k,
		ReturnFields: []string{fieldTitle, fieldBody, fieldSummary, fieldCategory, fieldSeq, fieldSource},
	})
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w", r.cfg.Collection, err)
	}
	if sr == nil || len(sr.Entries) == 0 {
		return nil, nil
	}

	type hit struct {
		doc   domdoc.Document
		score float64
	}
	hits := make([]hit, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		d, err := r.parseHashFields(r.extractDocID(e.Key), e.Fields)
		if err != nil {
			r.logger.Warn("skipping unreadable document", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		// TAG matching is case-insensitive server side; categories are exact.
		if !f.Matches(&d) {
			continue
		}
		hits = append(hits, hit{doc: d, score: vector.ScoreFromDistance(e.Distance)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].doc.Seq() < hits[j].doc.Seq()
	})

	res = make([]result.Result, len(hits))
	for i := range hits {
		res[i] = result.Scored(&hits[i].doc, hits[i].score)
	}
	return res, nil
}

// Get reads one document hash, vector included.
func (r *Repo) Get(ctx context.Context, id string) (domdoc.Document, error) {
	h, err := r.store.HGetAll(ctx, r.docKey(id))
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("hgetall %s: %w", id, err)
	}
	if len(h) == 0 {
		return domdoc.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrDocumentNotFound)
	}
	d, err := r.parseHashFields(id, h)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("parse document %s: %w", id, err)
	}
	return d, nil
}

// List returns documents matching f in insertion order. limit <= 0 means all.
// Valkey search has no match-all query, so listing walks the key space and
// loads every hash before the limit applies. This is linear in the collection.
func (r *Repo) List(ctx context.Context, limit int, f filter.Filter) ([]domdoc.Document, error) {
	docs, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domdoc.Document, 0, len(docs))
	for i := range docs {
		if limit > 0 && len(out) >= limit {
			break
		}
		if f.Matches(&docs[i]) {
			out = append(out, docs[i])
		}
	}
	return out, nil
}

// Categories returns the sorted distinct categories of the first sampleSize documents.
func (r *Repo) Categories(ctx context.Context, sampleSize int) ([]string, error) {
	docs, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	if sampleSize > 0 && len(docs) > sampleSize {
		docs = docs[:sampleSize]
	}
	seen := make(map[string]struct{})
	out := []string{}
	for i := range docs {
		c := docs[i].Category()
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of document keys in the collection.
func (r *Repo) Count(ctx context.Context) (int, error) {
	keys, err := r.store.Scan(ctx, r.keyPrefix()+"*")
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", r.cfg.Collection, err)
	}
	metrics.StoreDocuments.WithLabelValues(r.cfg.Collection).Set(float64(len(keys)))
	return len(keys), nil
}

// Clear drops the index, deletes every document and recreates the index.
// The sequence counter is kept so ordering stays monotonic across clears.
func (r *Repo) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(backend, "clear", start, err) }()

	if err := r.store.DropIndex(ctx, r.indexName()); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("drop index: %w", err)
	}

	keys, err := r.store.Scan(ctx, r.keyPrefix()+"*")
	if err != nil {
		return fmt.Errorf("scan %s: %w", r.cfg.Collection, err)
	}
	for i := 0; i < len(keys); i += delChunk {
		end := min(i+delChunk, len(keys))
		if err := r.store.Del(ctx, keys[i:end]...); err != nil {
			return fmt.Errorf("delete documents: %w", err)
		}
	}

	if err := r.EnsureIndex(ctx); err != nil {
		return err
	}
	metrics.StoreDocuments.WithLabelValues(r.cfg.Collection).Set(0)
	return nil
}

// loadAll reads every document of the collection, sorted by insertion sequence.
func (r *Repo) loadAll(ctx context.Context) ([]domdoc.Document, error) {
	start := time.Now()
	keys, err := r.store.Scan(ctx, r.keyPrefix()+"*")
	if err != nil {
		metrics.ObserveStoreOp(backend, "scan", start, err)
		return nil, fmt.Errorf("scan %s: %w", r.cfg.Collection, err)
	}
	if len(keys) == 0 {
		metrics.ObserveStoreOp(backend, "scan", start, nil)
		return nil, nil
	}

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	metrics.ObserveStoreOp(backend, "scan", start, err)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.cfg.Collection, err)
	}

	docs := make([]domdoc.Document, 0, len(hashes))
	for i, h := range hashes {
		if len(h) == 0 {
			continue // deleted between SCAN and HGETALL
		}
		d, err := r.parseHashFields(r.extractDocID(keys[i]), h)
		if err != nil {
			r.logger.Warn("skipping unreadable document", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		docs = append(docs, d)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Seq() < docs[j].Seq() })
	return docs, nil
}

func (r *Repo) tagConditions(f filter.Filter) ([]db.TagCondition, error) {
	var tags []db.TagCondition
	if c := f.Category(); c != "" {
		tags = append(tags, db.TagCondition{Field: fieldCategory, Values: []string{c}})
	}
	if t := f.Tag(); !t.IsEmpty() {
		if t.Key() != r.cfg.TagKey {
			return nil, fmt.Errorf("tag filter on %q is not indexed (indexed key %q): %w",
				t.Key(), r.cfg.TagKey, domain.ErrInvalidRequest)
		}
		tags = append(tags, db.TagCondition{Field: fieldTag, Values: t.Values()})
	}
	return tags, nil
}

func (r *Repo) buildHashFields(d *domdoc.Document) (map[string]string, error) {
	src, err := json.Marshal(d.Source())
	if err != nil {
		return nil, fmt.Errorf("encode source of %s: %w", d.ID(), err)
	}
	m := map[string]string{
		fieldTitle:     d.Title(),
		fieldBody:      d.Body(),
		fieldSummary:   d.Summary(),
		fieldCategory:  d.Category(),
		fieldSeq:       strconv.FormatInt(d.Seq(), 10),
		fieldCreatedAt: strconv.FormatInt(d.Source().CreatedAt, 10),
		fieldSource:    string(src),
		fieldVector:    string(vector.Encode(d.Vector())),
	}
	if r.cfg.TagKey != "" {
		if v, ok := d.Source().Value(r.cfg.TagKey); ok {
			m[fieldTag] = filter.NormalizeTag(v)
		}
	}
	return m, nil
}

func (r *Repo) parseHashFields(id string, m map[string]string) (domdoc.Document, error) {
	seq, err := strconv.ParseInt(m[fieldSeq], 10, 64)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("parse seq: %w", err)
	}
	var src domdoc.Source
	if raw := m[fieldSource]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &src); err != nil {
			return domdoc.Document{}, fmt.Errorf("decode source: %w", err)
		}
	}
	var vec []float32
	if raw, ok := m[fieldVector]; ok {
		if vec, err = vector.Decode([]byte(raw)); err != nil {
			return domdoc.Document{}, err
		}
	}
	return domdoc.Reconstruct(id, m[fieldTitle], m[fieldBody], m[fieldSummary], m[fieldCategory], src, vec, seq), nil
}

func (r *Repo) keyPrefix() string {
	return r.cfg.KeyPrefix + r.cfg.Collection + ":"
}

func (r *Repo) docKey(id string) string {
	return r.keyPrefix() + id
}

func (r *Repo) indexName() string {
	return r.cfg.KeyPrefix + r.cfg.Collection + ":idx"
}

func (r *Repo) seqKey() string {
	return r.cfg.KeyPrefix + "seq:" + r.cfg.Collection
}

func (r *Repo) extractDocID(key string) string {
	return strings.TrimPrefix(key, r.keyPrefix())
}
