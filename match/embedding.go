package match

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/ontology"
)

// embedIndex holds the cached embedding matrix for one ontology subset.
type embedIndex struct {
	entries []*ontology.Entry
	vectors [][]float32
}

// EmbeddingMatcher scores raw names against ontology entries by cosine
// similarity of their embeddings. Index building is expensive; the matcher
// caches one index per search subset and rebuilds only when the subset
// changes.
type EmbeddingMatcher struct {
	provider llm.Provider
	model    string
}

// NewEmbeddingMatcher wraps an embedding provider. The model is typically
// embed-english-v3.0.
func NewEmbeddingMatcher(provider llm.Provider, model string) *EmbeddingMatcher {
	return &EmbeddingMatcher{provider: provider, model: model}
}

// entryString builds the document text for an entry: the canonical name
// joined with its top two aliases for richer context.
func entryString(e *ontology.Entry) string {
	parts := []string{e.CanonicalName}
	for i, v := range e.VariationsFound {
		if i >= 2 {
			break
		}
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " | ")
}

// buildIndex embeds every entry and returns the cached matrix.
func (m *EmbeddingMatcher) buildIndex(ctx context.Context, entries []*ontology.Entry) (*embedIndex, error) {
	if len(entries) == 0 {
		return &embedIndex{}, nil
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = entryString(e)
	}
	vectors, err := m.provider.Embed(ctx, llm.EmbedRequest{
		Model:     m.model,
		Texts:     texts,
		InputType: llm.InputSearchDocument,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding ontology subset: %w", err)
	}
	if len(vectors) != len(entries) {
		return nil, fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(entries), len(vectors))
	}
	return &embedIndex{entries: entries, vectors: vectors}, nil
}

// embedQuery embeds the raw name with the query input type.
func (m *EmbeddingMatcher) embedQuery(ctx context.Context, rawName string) ([]float32, error) {
	vectors, err := m.provider.Embed(ctx, llm.EmbedRequest{
		Model:     m.model,
		Texts:     []string{rawName},
		InputType: llm.InputSearchQuery,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors, want 1", len(vectors))
	}
	return vectors[0], nil
}

// findSimilar returns the entry most similar to rawName, or nil when the
// best cosine score falls below threshold.
func (m *EmbeddingMatcher) findSimilar(ctx context.Context, idx *embedIndex, rawName string, threshold float64) (*ontology.Entry, float64, error) {
	if idx == nil || len(idx.entries) == 0 {
		return nil, 0, nil
	}
	query, err := m.embedQuery(ctx, rawName)
	if err != nil {
		return nil, 0, err
	}

	bestScore := -1.0
	bestIdx := -1
	for i, v := range idx.vectors {
		s := cosine(query, v)
		if s > bestScore {
			bestScore = s
			bestIdx = i
		}
	}
	if bestIdx < 0 || bestScore < threshold {
		return nil, 0, nil
	}
	return idx.entries[bestIdx], bestScore, nil
}

// findTopN returns the n most similar entries above minScore, descending.
func (m *EmbeddingMatcher) findTopN(ctx context.Context, idx *embedIndex, rawName string, n int, minScore float64) ([]Scored, error) {
	if idx == nil || len(idx.entries) == 0 {
		return nil, nil
	}
	query, err := m.embedQuery(ctx, rawName)
	if err != nil {
		return nil, err
	}

	scored := make([]Scored, 0, len(idx.entries))
	for i, v := range idx.vectors {
		s := cosine(query, v)
		if s >= minScore {
			scored = append(scored, Scored{Entry: idx.entries[i], Score: s})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored, nil
}

// cosine computes cosine similarity with zero-norm guards.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
