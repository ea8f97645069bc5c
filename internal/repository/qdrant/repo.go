// Package qdrant stores documents as points in a Qdrant collection.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kailas-cloud/problemdex/internal/domain"
	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/result"
	"github.com/kailas-cloud/problemdex/internal/metrics"
	"github.com/kailas-cloud/problemdex/internal/vector"
)

const backend = "qdrant"

const scrollPage = 256

// Payload keys.
const (
	keyTitle     = "title"
	keyBody      = "body"
	keySummary   = "summary"
	keyCategory  = "category"
	keyTag       = "tag"
	keySeq       = "seq"
	keyCreatedAt = "created_at"
	keySource    = "source"
)

// pointsClient is the subset of pb.PointsClient the repository uses.
type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsClient is the subset of pb.CollectionsClient the repository uses.
type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Config describes the Qdrant connection and collection.
type Config struct {
	Addr       string
	Collection string
	Dimensions int
	TagKey     string
}

// Repo implements usecase/document.Repository on Qdrant.
type Repo struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	cfg         Config
	logger      *zap.Logger

	seqMu   sync.Mutex
	lastSeq int64
	now     func() time.Time
}

// New dials Qdrant over gRPC.
func New(cfg Config, logger *zap.Logger) (*Repo, error) {
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", cfg.Addr, err)
	}
	r := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg, logger)
	r.conn = conn
	return r, nil
}

// NewWithClients builds a Repo over existing clients.
func NewWithClients(points pointsClient, collections collectionsClient, cfg Config, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{points: points, collections: collections, cfg: cfg, logger: logger, now: time.Now}
}

// Close closes the gRPC connection.
func (r *Repo) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Ping lists collections to verify connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	if _, err := r.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("ping qdrant: %w", err)
	}
	return nil
}

// EnsureCollection creates the cosine collection if it doesn't exist.
func (r *Repo) EnsureCollection(ctx context.Context) error {
	list, err := r.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == r.cfg.Collection {
			return nil
		}
	}

	_, err = r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.cfg.Collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.cfg.Dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", r.cfg.Collection, err)
	}
	r.logger.Info("qdrant collection created", zap.String("collection", r.cfg.Collection))
	return nil
}

// Insert upserts the batch in one request and waits for it to be applied.
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

	first := r.allocSeq(len(docs))
	points := make([]*pb.PointStruct, len(docs))
	for i := range docs {
		d := docs[i].WithSeq(first + int64(i))
		payload, err := r.buildPayload(&d)
		if err != nil {
			return err
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: d.ID()}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: d.Vector()}},
			},
			Payload: payload,
		}
	}

	wait := true
	if _, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// allocSeq reserves n consecutive sequence numbers. Sequences derive from the
// wall clock so they stay increasing across restarts.
func (r *Repo) allocSeq(n int) int64 {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	first := r.now().UnixNano()
	if first <= r.lastSeq {
		first = r.lastSeq + 1
	}
	r.lastSeq = first + int64(n) - 1
	return first
}

// Search runs a filtered k-NN query. Results are ordered by score, ties by insertion order.
func (r *Repo) Search(ctx context.Context, vec []float32, k int, f filter.Filter) (res []result.Result, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(backend, "search", start, err) }()

	if k <= 0 {
		return nil, nil
	}
	qf, err := r.buildFilter(f)
	if err != nil {
		return nil, err
	}

	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.cfg.Collection,
		Vector:         vec,
		Limit:          uint64(k),
		Filter:         qf,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", r.cfg.Collection, err)
	}

	type hit struct {
		doc   domdoc.Document
		score float64
	}
	hits := make([]hit, 0, len(resp.GetResult()))
	for _, sp := range resp.GetResult() {
		d, err := parsePayload(sp.GetId().GetUuid(), sp.GetPayload(), nil)
		if err != nil {
			r.logger.Warn("skipping unreadable point", zap.String("id", sp.GetId().GetUuid()), zap.Error(err))
			continue
		}
		hits = append(hits, hit{doc: d, score: vector.Score(float64(sp.GetScore()))})
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

// Get retrieves one point with its payload and vector.
// Point ids are UUIDs; any other id cannot exist in the collection.
func (r *Repo) Get(ctx context.Context, id string) (domdoc.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domdoc.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrDocumentNotFound)
	}
	resp, err := r.points.Get(ctx, &pb.GetPoints{
		CollectionName: r.cfg.Collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("get %s: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return domdoc.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrDocumentNotFound)
	}
	p := resp.GetResult()[0]
	return parsePayload(id, p.GetPayload(), denseVector(p.GetVectors()))
}

// List returns documents matching f in insertion order. limit <= 0 means all.
// Scroll order is by point id, so every matching point is read and sorted by
// sequence before the limit applies. This is linear in the collection.
func (r *Repo) List(ctx context.Context, limit int, f filter.Filter) ([]domdoc.Document, error) {
	qf, err := r.buildFilter(f)
	if err != nil {
		return nil, err
	}
	docs, err := r.scrollAll(ctx, qf)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Categories returns the sorted distinct categories of the first sampleSize documents.
func (r *Repo) Categories(ctx context.Context, sampleSize int) ([]string, error) {
	docs, err := r.scrollAll(ctx, nil)
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

// Count returns the exact number of points in the collection.
func (r *Repo) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := r.points.Count(ctx, &pb.CountPoints{CollectionName: r.cfg.Collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.cfg.Collection, err)
	}
	n := int(resp.GetResult().GetCount())
	metrics.StoreDocuments.WithLabelValues(r.cfg.Collection).Set(float64(n))
	return n, nil
}

// Clear deletes and recreates the collection.
func (r *Repo) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(backend, "clear", start, err) }()

	if _, err := r.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: r.cfg.Collection}); err != nil {
		return fmt.Errorf("delete collection %s: %w", r.cfg.Collection, err)
	}
	if err := r.EnsureCollection(ctx); err != nil {
		return err
	}
	metrics.StoreDocuments.WithLabelValues(r.cfg.Collection).Set(0)
	return nil
}

// scrollAll pages through every matching point and sorts by insertion sequence.
func (r *Repo) scrollAll(ctx context.Context, qf *pb.Filter) (docs []domdoc.Document, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(backend, "scroll", start, err) }()

	limit := uint32(scrollPage)
	var offset *pb.PointId
	for {
		resp, err := r.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: r.cfg.Collection,
			Filter:         qf,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("scroll %s: %w", r.cfg.Collection, err)
		}
		for _, p := range resp.GetResult() {
			d, err := parsePayload(p.GetId().GetUuid(), p.GetPayload(), nil)
			if err != nil {
				r.logger.Warn("skipping unreadable point", zap.String("id", p.GetId().GetUuid()), zap.Error(err))
				continue
			}
			docs = append(docs, d)
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Seq() < docs[j].Seq() })
	return docs, nil
}

func (r *Repo) buildFilter(f filter.Filter) (*pb.Filter, error) {
	var must []*pb.Condition
	if c := f.Category(); c != "" {
		must = append(must, fieldMatch(keyCategory, c))
	}
	if t := f.Tag(); !t.IsEmpty() {
		if t.Key() != r.cfg.TagKey {
			return nil, fmt.Errorf("tag filter on %q is not indexed (indexed key %q): %w",
				t.Key(), r.cfg.TagKey, domain.ErrInvalidRequest)
		}
		must = append(must, fieldMatchAny(keyTag, t.Values()))
	}
	if len(must) == 0 {
		return nil, nil
	}
	return &pb.Filter{Must: must}, nil
}

func (r *Repo) buildPayload(d *domdoc.Document) (map[string]*pb.Value, error) {
	src, err := json.Marshal(d.Source())
	if err != nil {
		return nil, fmt.Errorf("encode source of %s: %w", d.ID(), err)
	}
	p := map[string]*pb.Value{
		keyTitle:     stringValue(d.Title()),
		keyBody:      stringValue(d.Body()),
		keySummary:   stringValue(d.Summary()),
		keyCategory:  stringValue(d.Category()),
		keySeq:       intValue(d.Seq()),
		keyCreatedAt: intValue(d.Source().CreatedAt),
		keySource:    stringValue(string(src)),
	}
	if r.cfg.TagKey != "" {
		if v, ok := d.Source().Value(r.cfg.TagKey); ok {
			p[keyTag] = stringValue(filter.NormalizeTag(v))
		}
	}
	return p, nil
}

func denseVector(v *pb.VectorsOutput) []float32 {
	out := v.GetVector()
	if d := out.GetDense(); d != nil {
		return d.GetData()
	}
	return out.GetData() //nolint:staticcheck // older servers only fill data
}

func parsePayload(id string, p map[string]*pb.Value, vec []float32) (domdoc.Document, error) {
	var src domdoc.Source
	if raw := p[keySource].GetStringValue(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &src); err != nil {
			return domdoc.Document{}, fmt.Errorf("decode source: %w", err)
		}
	}
	return domdoc.Reconstruct(id,
		p[keyTitle].GetStringValue(),
		p[keyBody].GetStringValue(),
		p[keySummary].GetStringValue(),
		p[keyCategory].GetStringValue(),
		src, vec,
		p[keySeq].GetIntegerValue(),
	), nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func fieldMatchAny(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{MatchValue: &pb.Match_Keywords{
					Keywords: &pb.RepeatedStrings{Strings: values},
				}},
			},
		},
	}
}
