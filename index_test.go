package problemdex

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/problemdex/internal/domain"
	"github.com/kailas-cloud/problemdex/internal/domain/search/mode"
)

func openTestIndex(t *testing.T, opts ...Option) *Index {
	t.Helper()
	ix, err := Open(context.Background(), append([]Option{WithLocal(MemoryPath)}, opts...)...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func scenarioRecords() []Record {
	return []Record{
		{Title: "React app crashes on build", Category: "Web Development", Metadata: map[string]string{"subreddit": "webdev"}},
		{Title: "PostgreSQL connection timeout", Category: "Database", Metadata: map[string]string{"subreddit": "PostgreSQL"}},
	}
}

func TestIndex_SearchScenario(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)

	rep, err := ix.Add(ctx, scenarioRecords())
	if err != nil || rep.Added != 2 {
		t.Fatalf("Add = %+v, %v", rep, err)
	}

	resp, err := ix.Search(ctx, "React build problems", Limit(5))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Mode != mode.Semantic {
		t.Errorf("mode = %q", resp.Mode)
	}
	if len(resp.Results) != 2 || resp.Results[0].Title() != "React app crashes on build" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if s, ok := resp.Results[0].Score(); !ok || s < 0 {
		t.Errorf("top score = %v, %v", s, ok)
	}

	groups := resp.Groups()
	var web []Result
	for _, g := range groups {
		if g.Category == "Web Development" {
			web = g.Results
		}
	}
	if len(web) != 1 {
		t.Errorf("Web Development group = %d entries, want 1", len(web))
	}
}

func TestIndex_CategoryFilter(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)
	if _, err := ix.Add(ctx, scenarioRecords()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	resp, err := ix.Search(ctx, "React build problems", InCategory("Database"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Category() != "Database" {
		t.Errorf("results = %+v", resp.Results)
	}

	resp, err = ix.Search(ctx, "React build problems", InCategory(AllCategories))
	if err != nil || len(resp.Results) != 2 {
		t.Errorf("All category: %d results, %v", len(resp.Results), err)
	}

	resp, err = ix.Search(ctx, "React", InCategory("Gardening"))
	if err != nil || len(resp.Results) != 0 {
		t.Errorf("unknown category: %d results, %v", len(resp.Results), err)
	}
}

func TestIndex_TechOnly(t *testing.T) {
	ctx := context.Background()

	plain := openTestIndex(t)
	if _, err := plain.Browse(ctx, TechOnly()); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("unconfigured TechOnly err = %v, want ErrInvalidRequest", err)
	}

	ix := openTestIndex(t, WithTagFilter("subreddit", "webdev", "sysadmin"))
	if _, err := ix.Add(ctx, scenarioRecords()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	resp, err := ix.Browse(ctx, TechOnly())
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Category() != "Web Development" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestIndex_BrowseAndSample(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)
	if _, err := ix.Add(ctx, scenarioRecords()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	resp, err := ix.Search(ctx, "   ")
	if err != nil || resp.Mode != mode.Browse {
		t.Fatalf("blank Search = %q, %v", resp.Mode, err)
	}
	if resp.Results[0].Title() != "React app crashes on build" {
		t.Errorf("browse order = %q first", resp.Results[0].Title())
	}
	if _, ok := resp.Results[0].Score(); ok {
		t.Error("browse results carry no score")
	}

	resp, err = ix.Sample(ctx, Limit(10))
	if err != nil || resp.Mode != mode.Sample {
		t.Fatalf("Sample = %q, %v", resp.Mode, err)
	}
	if len(resp.Results) != 2 {
		t.Errorf("sample returned %d results, want 2 unique", len(resp.Results))
	}
}

func TestIndex_CategoriesStatsClear(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t, WithCategoryCacheTTL(time.Hour))

	cats, err := ix.Categories(ctx)
	if err != nil || len(cats) != 0 {
		t.Fatalf("empty Categories = %v, %v", cats, err)
	}

	if _, err := ix.Add(ctx, scenarioRecords()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	cats, err = ix.Categories(ctx)
	if err != nil || len(cats) != 2 || cats[0] != "Database" {
		t.Errorf("Categories after Add = %v, %v", cats, err)
	}

	st, err := ix.Stats(ctx)
	if err != nil || st.Total != 2 || st.ByCategory["Database"] != 1 {
		t.Errorf("Stats = %+v, %v", st, err)
	}

	if err := ix.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := ix.Clear(ctx); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	n, err := ix.Count(ctx)
	if err != nil || n != 0 {
		t.Errorf("Count after Clear = %d, %v", n, err)
	}
	cats, _ = ix.Categories(ctx)
	if len(cats) != 0 {
		t.Errorf("Categories after Clear = %v", cats)
	}
}

func TestIndex_AddSplitsBatches(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t, WithMaxBatchSize(2))

	recs := []Record{{Title: "a"}, {Title: "b"}, {Title: "c"}, {Title: " "}, {Title: "e"}}
	rep, err := ix.Add(ctx, recs)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if rep.Added != 3 || len(rep.Chunks) != 3 || len(rep.Failed()) != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestIndex_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "problems.db")

	ix, err := Open(ctx, WithLocal(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := ix.Add(ctx, scenarioRecords()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ix, err = Open(ctx, WithLocal(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ix.Close() //nolint:errcheck

	resp, err := ix.Search(ctx, "PostgreSQL timeout")
	if err != nil || len(resp.Results) == 0 {
		t.Fatalf("Search after reopen = %v, %v", resp.Results, err)
	}
	if resp.Results[0].Category() != "Database" {
		t.Errorf("top result category = %q", resp.Results[0].Category())
	}
}

func TestIndex_HealthAndInfo(t *testing.T) {
	ix := openTestIndex(t, WithCollection("problems"))
	if _, err := ix.Add(context.Background(), scenarioRecords()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	r := ix.Health(context.Background())
	if r.Status != "ok" || r.Documents != 2 {
		t.Errorf("Health = %+v", r)
	}
	if ix.Collection() != "problems" || ix.Backend() != BackendLocal || ix.ModelName() == "" {
		t.Errorf("info = %s/%s/%s", ix.Collection(), ix.Backend(), ix.ModelName())
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	if _, err := Open(context.Background(), WithLocal(MemoryPath), WithOpenAI("", "", "m")); err == nil {
		t.Error("expected error for openai without base url")
	}
	if _, err := Open(context.Background(), WithLocal(MemoryPath), WithTagFilter("subreddit")); err == nil {
		t.Error("expected error for tag filter without values")
	}
}

func TestIndex_StatsCoverWholeCollection(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t, WithMaxBatchSize(7))

	now := time.Now()
	var recs []Record
	for i := range 30 {
		recs = append(recs, Record{
			Title:     fmt.Sprintf("old database problem %d", i),
			Category:  "Database",
			CreatedAt: now.Add(-90 * 24 * time.Hour).Unix(),
		})
	}
	recs = append(recs,
		Record{Title: "fresh webpack error", Category: "Web Development", CreatedAt: now.Add(-time.Hour).Unix()},
		Record{Title: "fresh vite error", Category: "Web Development", CreatedAt: now.Add(-time.Hour).Unix()},
	)
	if rep, err := ix.Add(ctx, recs); err != nil || rep.Added != 32 {
		t.Fatalf("Add = %+v, %v", rep, err)
	}

	st, err := ix.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	n, _ := ix.Count(ctx)
	if st.Total != n || n != 32 {
		t.Errorf("Stats.Total = %d, Count = %d, want 32", st.Total, n)
	}
	if st.ByCategory["Database"] != 30 || st.ByCategory["Web Development"] != 2 {
		t.Errorf("ByCategory = %v", st.ByCategory)
	}
	if st.Windows[0].Total != 2 {
		t.Errorf("%s total = %d, want the 2 newest", st.Windows[0].Period.Name, st.Windows[0].Total)
	}
}

// singleEmbedder has no native batching.
type singleEmbedder struct{ calls atomic.Int32 }

func (e *singleEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.calls.Add(1)
	v := make([]float32, 8)
	v[len(text)%8] = 1
	return domain.EmbeddingResult{Embedding: v}, nil
}

func TestIndex_WithSingleTextEmbedder(t *testing.T) {
	ctx := context.Background()
	emb := &singleEmbedder{}
	ix := openTestIndex(t, WithDimensions(8), WithEmbedder(emb, "single"))

	if ix.ModelName() != "single" {
		t.Errorf("model = %q", ix.ModelName())
	}
	rep, err := ix.Add(ctx, scenarioRecords())
	if err != nil || rep.Added != 2 {
		t.Fatalf("Add = %+v, %v", rep, err)
	}
	if got := emb.calls.Load(); got != 2 {
		t.Errorf("embed calls = %d, want one per record", got)
	}
	resp, err := ix.Search(ctx, "React build problems")
	if err != nil || len(resp.Results) != 2 {
		t.Fatalf("Search = %+v, %v", resp, err)
	}
}

func TestIndex_Similar(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)
	records := append(scenarioRecords(),
		Record{Title: "React build fails after upgrade", Category: "Web Development"},
	)
	if _, err := ix.Add(ctx, records); err != nil {
		t.Fatalf("Add: %v", err)
	}
	browse, err := ix.Browse(ctx)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	anchor := browse.Results[0]

	resp, err := ix.Similar(ctx, anchor.ID(), Limit(5))
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if resp.Mode != mode.Similar || resp.Query != anchor.Title() {
		t.Errorf("response = %q / %q", resp.Mode, resp.Query)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	for _, r := range resp.Results {
		if r.ID() == anchor.ID() {
			t.Error("anchor must not be returned")
		}
	}

	resp, err = ix.Similar(ctx, anchor.ID(), InCategory("Database"))
	if err != nil || len(resp.Results) != 1 || resp.Results[0].Category() != "Database" {
		t.Errorf("filtered = %+v, %v", resp.Results, err)
	}

	if _, err := ix.Similar(ctx, "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
	if _, err := ix.Similar(ctx, " "); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}
