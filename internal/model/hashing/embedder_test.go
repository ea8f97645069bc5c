package hashing

import (
	"context"
	"testing"

	"github.com/kailas-cloud/problemdex/internal/vector"
)

func mustNew(t *testing.T) *Embedder {
	t.Helper()
	e, err := New(384)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_InvalidDims(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestEmbed_Deterministic(t *testing.T) {
	e := mustNew(t)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "React app crashes on build")
	b, _ := e.Embed(ctx, "React app crashes on build")

	if len(a.Embedding) != 384 {
		t.Fatalf("len = %d, want 384", len(a.Embedding))
	}
	for i := range a.Embedding {
		if a.Embedding[i] != b.Embedding[i] {
			t.Fatalf("component %d differs: %f vs %f", i, a.Embedding[i], b.Embedding[i])
		}
	}
}

func TestEmbed_UnitLength(t *testing.T) {
	e := mustNew(t)
	res, _ := e.Embed(context.Background(), "database connection timeout")
	if n := vector.Norm(res.Embedding); n < 0.999 || n > 1.001 {
		t.Errorf("norm = %f, want 1", n)
	}
}

func TestEmbed_EmptyText(t *testing.T) {
	e := mustNew(t)
	res, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 384 || !vector.IsZero(res.Embedding) {
		t.Error("empty text should embed to a zero vector of full length")
	}
}

func TestEmbed_SharedVocabularyIsCloser(t *testing.T) {
	e := mustNew(t)
	ctx := context.Background()
	res, _ := e.BatchEmbed(ctx, []string{
		"React build problems",
		"React app crashes on build",
		"PostgreSQL connection timeout",
	})
	q, near, far := res.Embeddings[0], res.Embeddings[1], res.Embeddings[2]

	if vector.Cosine(q, near) <= vector.Cosine(q, far) {
		t.Errorf("cos(near)=%f should exceed cos(far)=%f", vector.Cosine(q, near), vector.Cosine(q, far))
	}
}

func TestBatchEmbed_Order(t *testing.T) {
	e := mustNew(t)
	ctx := context.Background()
	texts := []string{"alpha bug", "beta crash", "gamma error"}

	batch, err := e.BatchEmbed(ctx, texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, text := range texts {
		single, _ := e.Embed(ctx, text)
		if vector.Cosine(batch.Embeddings[i], single.Embedding) < 0.9999 {
			t.Errorf("batch[%d] differs from single embed", i)
		}
	}
}

func TestEmbed_CanceledContext(t *testing.T) {
	e := mustNew(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Embed(ctx, "x"); err == nil {
		t.Error("expected context error")
	}
}

func TestStem(t *testing.T) {
	tests := map[string]string{
		"builds":    "build",
		"crashing":  "crash",
		"libraries": "library",
		"class":     "class",
		"bus":       "bus",
	}
	for in, want := range tests {
		if got := stem(in); got != want {
			t.Errorf("stem(%q) = %q, want %q", in, got, want)
		}
	}
}
