// Package hashing is a deterministic in-process embedding model.
//
// Texts are tokenized, stopwords dropped, and unigrams plus bigrams are hashed
// into a fixed number of signed buckets (the "hashing trick"). The result is
// L2-normalized, so cosine similarity reflects shared vocabulary. It needs no
// network or model files and is the default provider for local runs and tests.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/kailas-cloud/problemdex/internal/domain"
	"github.com/kailas-cloud/problemdex/internal/vector"
)

// ModelName identifies this model in status reports.
const ModelName = "feature-hashing"

const bigramWeight = 0.5

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)

// Embedder hashes token features into a fixed-size vector.
type Embedder struct {
	dims      int
	stopwords map[string]struct{}
}

// New creates a hashing embedder producing vectors of the given dimension.
func New(dims int) (*Embedder, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("hashing embedder: dimensions must be positive, got %d", dims)
	}
	return &Embedder{dims: dims, stopwords: defaultStopwords()}, nil
}

// Name returns the model identifier.
func (e *Embedder) Name() string { return ModelName }

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed vectorizes a single text.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("hashing embed: %w", err)
	}
	vec, n := e.vectorize(text)
	return domain.EmbeddingResult{Embedding: vec, PromptTokens: n, TotalTokens: n}, nil
}

// BatchEmbed vectorizes texts in order.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("hashing batch embed: %w", err)
		}
		vec, n := e.vectorize(t)
		out.Embeddings[i] = vec
		out.PromptTokens += n
		out.TotalTokens += n
	}
	return out, nil
}

// HealthCheck always succeeds: the model is in-process.
func (e *Embedder) HealthCheck(context.Context) error { return nil }

func (e *Embedder) vectorize(text string) ([]float32, int) {
	tokens := e.tokenize(text)
	raw := make([]float32, e.dims)
	for i, tok := range tokens {
		e.add(raw, "u:"+tok, 1)
		if i > 0 {
			e.add(raw, "b:"+tokens[i-1]+" "+tok, bigramWeight)
		}
	}
	return vector.Normalize(raw), len(tokens)
}

func (e *Embedder) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

func (e *Embedder) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := e.stopwords[t]; stop {
			continue
		}
		out = append(out, stem(t))
	}
	return out
}

// stem strips the most common English inflections so "builds" and "build" share a feature.
func stem(t string) string {
	switch {
	case len(t) > 5 && strings.HasSuffix(t, "ing"):
		return t[:len(t)-3]
	case len(t) > 4 && strings.HasSuffix(t, "ies"):
		return t[:len(t)-3] + "y"
	case len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss"):
		return t[:len(t)-1]
	}
	return t
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on",
		"at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this",
		"that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than",
		"so", "such", "into", "about", "between", "through", "during", "before", "after", "above",
		"below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should",
		"now", "i", "my", "me", "we", "our", "you", "your", "how", "what", "why", "when", "do", "does",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
