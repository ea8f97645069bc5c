package domain

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	result EmbeddingResult
	err    error
	calls  []string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	s.calls = append(s.calls, text)
	return s.result, s.err
}

type stubBatchEmbedder struct {
	stubEmbedder
	batchResult BatchEmbeddingResult
	batchErr    error
	batchTexts  []string
}

func (s *stubBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchEmbeddingResult, error) {
	s.batchTexts = texts
	return s.batchResult, s.batchErr
}

func TestBatchFallback_Success(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{
		Embedding:    []float32{0.1, 0.2},
		PromptTokens: 5,
		TotalTokens:  5,
	}}

	res, err := BatchFallback(context.Background(), inner, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(res.Embeddings))
	}
	if res.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", res.TotalTokens)
	}
	if len(inner.calls) != 3 {
		t.Errorf("expected 3 Embed calls, got %d", len(inner.calls))
	}
}

func TestBatchFallback_Error(t *testing.T) {
	innerErr := errors.New("provider down")
	inner := &stubEmbedder{err: innerErr}

	_, err := BatchFallback(context.Background(), inner, []string{"a"})
	if !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestBatch_PrefersNative(t *testing.T) {
	inner := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{Embeddings: [][]float32{{1}}}}

	res, err := Batch(inner).BatchEmbed(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 1 {
		t.Fatalf("expected 1 embedding, got %d", len(res.Embeddings))
	}
	if len(inner.calls) != 0 {
		t.Error("native batcher should not fall back to Embed")
	}
}

func TestBatch_FallsBackToEmbed(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{1}}}

	res, err := Batch(inner).BatchEmbed(context.Background(), []string{"x", "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 || len(inner.calls) != 2 {
		t.Errorf("embeddings=%d calls=%d, want 2/2", len(res.Embeddings), len(inner.calls))
	}
}

func TestInstructionEmbedder_PrependsInstruction(t *testing.T) {
	inner := &stubBatchEmbedder{batchResult: BatchEmbeddingResult{Embeddings: [][]float32{{1}, {2}}}}
	emb := NewInstructionEmbedder(inner, "query: ")

	_, err := emb.BatchEmbed(context.Background(), []string{"react build", "postgres"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.batchTexts[0] != "query: react build" || inner.batchTexts[1] != "query: postgres" {
		t.Errorf("unexpected texts: %q", inner.batchTexts)
	}
}

func TestInstructionEmbedder_ErrorPropagation(t *testing.T) {
	innerErr := errors.New("provider down")
	emb := NewInstructionEmbedder(&stubBatchEmbedder{batchErr: innerErr}, "query: ")

	if _, err := emb.BatchEmbed(context.Background(), []string{"x"}); !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestStoreError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreError("add", "reddit_tech_problems", cause)

	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("expected ErrStoreUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "add" {
		t.Errorf("errors.As failed: %v", err)
	}
	want := "store unavailable: add reddit_tech_problems: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
