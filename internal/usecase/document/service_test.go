package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/problemdex/internal/domain"
	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/result"
)

// --- Mocks ---

type mockRepo struct {
	mu         sync.Mutex
	inserted   [][]domdoc.Document
	insertErr  error
	searchRes  []result.Result
	searchErr  error
	searchK    int
	listDocs   []domdoc.Document
	listErr    error
	cats       []string
	catsSample int
	count      int
	clearErr   error
	clears     int
	getDoc     *domdoc.Document
	getErr     error
}

func (m *mockRepo) Insert(_ context.Context, docs []domdoc.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, docs)
	return nil
}

func (m *mockRepo) Search(_ context.Context, _ []float32, k int, _ filter.Filter) ([]result.Result, error) {
	m.searchK = k
	return m.searchRes, m.searchErr
}

func (m *mockRepo) Get(_ context.Context, id string) (domdoc.Document, error) {
	if m.getErr != nil {
		return domdoc.Document{}, m.getErr
	}
	if m.getDoc == nil || m.getDoc.ID() != id {
		return domdoc.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrDocumentNotFound)
	}
	return *m.getDoc, nil
}

func (m *mockRepo) List(_ context.Context, _ int, _ filter.Filter) ([]domdoc.Document, error) {
	return m.listDocs, m.listErr
}

func (m *mockRepo) Categories(_ context.Context, sampleSize int) ([]string, error) {
	m.catsSample = sampleSize
	return m.cats, nil
}

func (m *mockRepo) Count(_ context.Context) (int, error) { return m.count, nil }

func (m *mockRepo) Clear(_ context.Context) error {
	m.clears++
	return m.clearErr
}

type mockEmbedder struct {
	mu    sync.Mutex
	dims  int
	texts []string
	short bool
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) [][]float32 {
	m.mu.Lock()
	m.texts = append(m.texts, texts...)
	m.mu.Unlock()
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, m.dims)
		if m.short {
			out[i] = out[i][:m.dims-1]
		}
	}
	return out
}

func (m *mockEmbedder) Dimensions() int { return m.dims }

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestService(repo *mockRepo, emb *mockEmbedder, cfg Config) *Service {
	if cfg.Collection == "" {
		cfg.Collection = "problems"
	}
	return New(repo, emb, cfg, nil,
		WithIDGenerator(seqIDs()),
		WithClock(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }),
	)
}

// --- Add ---

func TestAdd_Success(t *testing.T) {
	repo := &mockRepo{}
	emb := &mockEmbedder{dims: 3}
	svc := newTestService(repo, emb, Config{})

	n, err := svc.Add(context.Background(), []domdoc.Record{
		{Title: "React app crashes", Summary: "Build fails", Body: "webpack"},
		{Title: "PostgreSQL timeouts", Category: "Database"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 added, got %d", n)
	}
	if len(repo.inserted) != 1 || len(repo.inserted[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %v", repo.inserted)
	}

	docs := repo.inserted[0]
	if docs[0].ID() != "id-1" || docs[1].ID() != "id-2" {
		t.Errorf("unexpected ids: %s, %s", docs[0].ID(), docs[1].ID())
	}
	if docs[0].Category() != domdoc.DefaultCategory {
		t.Errorf("blank category not defaulted: %q", docs[0].Category())
	}
	if len(docs[1].Vector()) != 3 {
		t.Errorf("vector not attached: %v", docs[1].Vector())
	}
	if docs[0].Source().ProcessedAt != "2024-01-02T03:04:05Z" {
		t.Errorf("processed_at = %q", docs[0].Source().ProcessedAt)
	}
	if emb.texts[0] != "React app crashes Build fails webpack" {
		t.Errorf("embedding text = %q", emb.texts[0])
	}
}

func TestAdd_EmbeddingTextUsesUntruncatedRecord(t *testing.T) {
	repo := &mockRepo{}
	emb := &mockEmbedder{dims: 3}
	svc := newTestService(repo, emb, Config{})

	title := strings.Repeat("t", domdoc.MaxTitleLen+50)
	if _, err := svc.Add(context.Background(), []domdoc.Record{{Title: title}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(emb.texts[0], title) {
		t.Error("embedding text should use the full title")
	}
	if got := len([]rune(repo.inserted[0][0].Title())); got != domdoc.MaxTitleLen {
		t.Errorf("stored title length = %d", got)
	}
}

func TestAdd_Empty(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo, &mockEmbedder{dims: 3}, Config{})

	n, err := svc.Add(context.Background(), nil)
	if err != nil || n != 0 {
		t.Fatalf("Add(nil) = %d, %v; want 0, nil", n, err)
	}
	if len(repo.inserted) != 0 {
		t.Error("empty batch should not reach the repository")
	}
}

func TestAdd_InvalidRecordWritesNothing(t *testing.T) {
	repo := &mockRepo{}
	emb := &mockEmbedder{dims: 3}
	svc := newTestService(repo, emb, Config{})

	_, err := svc.Add(context.Background(), []domdoc.Record{{Title: "ok"}, {Title: "   "}})
	if !errors.Is(err, domain.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	if len(repo.inserted) != 0 || len(emb.texts) != 0 {
		t.Error("invalid batch should not be embedded or stored")
	}
}

func TestAdd_BatchTooLarge(t *testing.T) {
	svc := newTestService(&mockRepo{}, &mockEmbedder{dims: 3}, Config{MaxBatchSize: 2})

	_, err := svc.Add(context.Background(), []domdoc.Record{{Title: "a"}, {Title: "b"}, {Title: "c"}})
	if !errors.Is(err, domain.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestAdd_DimensionMismatch(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo, &mockEmbedder{dims: 3, short: true}, Config{})

	_, err := svc.Add(context.Background(), []domdoc.Record{{Title: "a"}})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Error("mismatched vectors should not be stored")
	}
}

func TestAdd_StoreFailure(t *testing.T) {
	cause := errors.New("disk full")
	svc := newTestService(&mockRepo{insertErr: cause}, &mockEmbedder{dims: 3}, Config{})

	_, err := svc.Add(context.Background(), []domdoc.Record{{Title: "a"}})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be preserved")
	}
	var se *domain.StoreError
	if !errors.As(err, &se) || se.Op != "add" || se.Collection != "problems" {
		t.Errorf("unexpected StoreError: %+v", se)
	}
}

func TestAdd_CanceledContext(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo, &mockEmbedder{dims: 3}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Add(ctx, []domdoc.Record{{Title: "a"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Error("canceled add should not store")
	}
}

func TestAdd_NotifiesOnChange(t *testing.T) {
	svc := newTestService(&mockRepo{}, &mockEmbedder{dims: 3}, Config{})
	calls := 0
	svc.OnChange(func() { calls++ })

	_, _ = svc.Add(context.Background(), []domdoc.Record{{Title: "a"}})
	_ = svc.Clear(context.Background())
	if calls != 2 {
		t.Errorf("expected 2 change notifications, got %d", calls)
	}
}

// --- Reads ---

func TestSimilarityQuery_StoreFailure(t *testing.T) {
	svc := newTestService(&mockRepo{searchErr: errors.New("conn reset")}, &mockEmbedder{dims: 3}, Config{})

	_, err := svc.SimilarityQuery(context.Background(), []float32{1, 0, 0}, 5, filter.None())
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSimilarityQuery_ZeroK(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo, &mockEmbedder{dims: 3}, Config{})

	res, err := svc.SimilarityQuery(context.Background(), []float32{1, 0, 0}, 0, filter.None())
	if err != nil || len(res) != 0 {
		t.Fatalf("SimilarityQuery(k=0) = %v, %v", res, err)
	}
	if repo.searchK != 0 {
		t.Error("k=0 should not reach the repository")
	}
}

func TestCategories_UsesSampleSize(t *testing.T) {
	repo := &mockRepo{cats: []string{"A", "B"}}
	svc := newTestService(repo, &mockEmbedder{dims: 3}, Config{})

	cats, err := svc.Categories(context.Background())
	if err != nil || len(cats) != 2 {
		t.Fatalf("Categories = %v, %v", cats, err)
	}
	if repo.catsSample != DefaultCategorySampleSize {
		t.Errorf("sample size = %d, want %d", repo.catsSample, DefaultCategorySampleSize)
	}
}

func TestGet(t *testing.T) {
	d, _ := domdoc.New("doc-1", domdoc.Record{Title: "React build"}, time.Unix(0, 0))
	svc := newTestService(&mockRepo{getDoc: &d}, &mockEmbedder{dims: 3}, Config{})

	got, err := svc.Get(context.Background(), "doc-1")
	if err != nil || got.Title() != "React build" {
		t.Errorf("Get = %q, %v", got.Title(), err)
	}

	_, err = svc.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
	var se *domain.StoreError
	if errors.As(err, &se) {
		t.Error("a missing document is not a store failure")
	}
}

func TestGet_StoreFailure(t *testing.T) {
	svc := newTestService(&mockRepo{getErr: errors.New("conn reset")}, &mockEmbedder{dims: 3}, Config{})
	_, err := svc.Get(context.Background(), "doc-1")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestList_StoreFailure(t *testing.T) {
	svc := newTestService(&mockRepo{listErr: errors.New("boom")}, &mockEmbedder{dims: 3}, Config{})

	if _, err := svc.List(context.Background(), 10, filter.None()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestClear_Failure(t *testing.T) {
	svc := newTestService(&mockRepo{clearErr: errors.New("boom")}, &mockEmbedder{dims: 3}, Config{})
	calls := 0
	svc.OnChange(func() { calls++ })

	if err := svc.Clear(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if calls != 0 {
		t.Error("failed clear should not notify")
	}
}

func TestAdd_ConcurrentBatches(t *testing.T) {
	repo := &mockRepo{}
	svc := New(repo, &mockEmbedder{dims: 3}, Config{Collection: "problems"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.Add(context.Background(), []domdoc.Record{{Title: fmt.Sprintf("doc %d", i)}})
		}(i)
	}
	wg.Wait()

	if len(repo.inserted) != 8 {
		t.Errorf("expected 8 batches, got %d", len(repo.inserted))
	}
}
