package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/store"
)

// Config holds retrieval engine configuration.
type Config struct {
	// SimilarityThreshold drops chunks scoring below it. Filters boilerplate
	// and navigation debris that embeds far from any biographical query.
	SimilarityThreshold float64
	// TopK caps the candidate list after similarity ranking.
	TopK int
	// EmbedModel overrides the embedder's configured model when set.
	EmbedModel string
	// RerankModel names the rerank model. Empty disables reranking.
	RerankModel string
	// RerankTopN caps the reranked list.
	RerankTopN int
}

// RankedChunk is a person chunk annotated with retrieval scores.
// RerankScore is nil when reranking was skipped or failed.
type RankedChunk struct {
	store.PersonChunk
	Similarity  float64  `json:"similarity"`
	RerankScore *float64 `json:"rerank_score"`
}

// TraceChunk is the per-chunk entry recorded in a Trace.
type TraceChunk struct {
	ChunkID     int64    `json:"chunk_id"`
	URL         string   `json:"url"`
	Domain      string   `json:"domain"`
	Similarity  float64  `json:"similarity"`
	RerankScore *float64 `json:"rerank_score"`
}

// Trace records the breakdown of one retrieval operation.
type Trace struct {
	Query           string       `json:"query"`
	ChunksInDB      int          `json:"chunks_in_db"`
	ChunksRetrieved int          `json:"chunks_retrieved"`
	Reranked        bool         `json:"reranked"`
	TopChunks       []TraceChunk `json:"top_chunks"`
	ElapsedMs       int64        `json:"elapsed_ms"`
}

// Engine performs person-scoped retrieval: cosine ranking over the
// person's chunks, then optional reranking.
type Engine struct {
	store    *store.Store
	embedder llm.Provider
	reranker llm.Reranker
	cfg      Config
	logger   *slog.Logger
}

// New creates a retrieval engine. reranker may be nil to disable reranking.
func New(s *store.Store, embedder llm.Provider, reranker llm.Reranker, cfg Config, logger *slog.Logger) *Engine {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.15
	}
	if cfg.TopK == 0 {
		cfg.TopK = 20
	}
	if cfg.RerankTopN == 0 {
		cfg.RerankTopN = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    s,
		embedder: embedder,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve ranks the person's chunks against the query and returns the
// top candidates plus a trace. The result is reranked when a reranker
// is configured; rerank failure degrades to similarity order.
func (e *Engine) Retrieve(ctx context.Context, person, query string) ([]RankedChunk, *Trace, error) {
	start := time.Now()

	total, err := e.store.CountChunksForPerson(ctx, person)
	if err != nil {
		return nil, nil, fmt.Errorf("counting chunks: %w", err)
	}

	trace := &Trace{Query: query, ChunksInDB: total}
	if total == 0 {
		trace.ElapsedMs = time.Since(start).Milliseconds()
		return nil, trace, nil
	}

	chunks, err := e.store.ChunksForPerson(ctx, person)
	if err != nil {
		return nil, nil, fmt.Errorf("loading chunks: %w", err)
	}
	embeddings, err := e.store.EmbeddingsForPerson(ctx, person)
	if err != nil {
		return nil, nil, fmt.Errorf("loading embeddings: %w", err)
	}

	queryVecs, err := e.embedder.Embed(ctx, llm.EmbedRequest{
		Model:     e.cfg.EmbedModel,
		Texts:     []string{query},
		InputType: llm.InputSearchQuery,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(queryVecs) != 1 {
		return nil, nil, fmt.Errorf("expected 1 query embedding, got %d", len(queryVecs))
	}

	ranked := e.rank(chunks, embeddings, queryVecs[0])
	trace.ChunksRetrieved = len(ranked)

	if e.reranker != nil && e.cfg.RerankModel != "" && len(ranked) > 0 {
		ranked = e.rerank(ctx, query, ranked)
		trace.Reranked = ranked[0].RerankScore != nil
	}

	for i, c := range ranked {
		if i >= 5 {
			break
		}
		trace.TopChunks = append(trace.TopChunks, TraceChunk{
			ChunkID:     c.ChunkID,
			URL:         c.URL,
			Domain:      c.Domain,
			Similarity:  round4(c.Similarity),
			RerankScore: roundPtr(c.RerankScore),
		})
	}
	trace.ElapsedMs = time.Since(start).Milliseconds()
	return ranked, trace, nil
}

// rank scores every embedded chunk against the query vector, applies the
// similarity threshold, sorts descending, and caps at TopK.
func (e *Engine) rank(chunks []store.PersonChunk, embeddings []store.ChunkEmbedding, queryVec []float32) []RankedChunk {
	byID := make(map[int64]store.PersonChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}

	var ranked []RankedChunk
	for _, emb := range embeddings {
		chunk, ok := byID[emb.ChunkID]
		if !ok {
			continue
		}
		sim := cosineSimilarity(queryVec, emb.Embedding)
		if sim < e.cfg.SimilarityThreshold {
			continue
		}
		if chunk.Domain == "" {
			chunk.Domain = ExtractDomain(chunk.URL)
		}
		ranked = append(ranked, RankedChunk{PersonChunk: chunk, Similarity: sim})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Similarity > ranked[j].Similarity
	})
	if len(ranked) > e.cfg.TopK {
		ranked = ranked[:e.cfg.TopK]
	}
	return ranked
}

// rerank reorders candidates with the rerank model. Any failure returns
// the original similarity order so a rerank outage never fails a question.
func (e *Engine) rerank(ctx context.Context, query string, candidates []RankedChunk) []RankedChunk {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}

	topN := e.cfg.RerankTopN
	if topN > len(candidates) {
		topN = len(candidates)
	}

	resp, err := e.reranker.Rerank(ctx, llm.RerankRequest{
		Model:     e.cfg.RerankModel,
		Query:     query,
		Documents: docs,
		TopN:      topN,
	})
	if err != nil {
		e.logger.Warn("rerank failed, falling back to similarity order", "error", err)
		if len(candidates) > topN {
			return candidates[:topN]
		}
		return candidates
	}

	reranked := make([]RankedChunk, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		c := candidates[r.Index]
		score := r.RelevanceScore
		c.RerankScore = &score
		reranked = append(reranked, c)
	}
	if len(reranked) == 0 {
		e.logger.Warn("rerank returned no usable results, falling back to similarity order")
		if len(candidates) > topN {
			return candidates[:topN]
		}
		return candidates
	}
	return reranked
}
