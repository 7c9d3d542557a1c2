//go:build cgo

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/store"
)

// fakeEmbedder returns a fixed vector for every query.
type fakeEmbedder struct {
	queryVec []float32
	err      error
}

func (f *fakeEmbedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeEmbedder) Embed(ctx context.Context, req llm.EmbedRequest) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(req.Texts))
	for i := range out {
		out[i] = f.queryVec
	}
	return out, nil
}

// fakeReranker either reverses the candidate order or fails.
type fakeReranker struct {
	fail bool
}

func (f *fakeReranker) Rerank(ctx context.Context, req llm.RerankRequest) (*llm.RerankResponse, error) {
	if f.fail {
		return nil, fmt.Errorf("rerank service down")
	}
	resp := &llm.RerankResponse{}
	n := req.TopN
	if n == 0 || n > len(req.Documents) {
		n = len(req.Documents)
	}
	for i := len(req.Documents) - 1; i >= len(req.Documents)-n; i-- {
		resp.Results = append(resp.Results, llm.RerankResult{
			Index:          i,
			RelevanceScore: float64(i) / 10,
		})
	}
	return resp, nil
}

func newTestEngine(t *testing.T, reranker llm.Reranker) (*Engine, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	embedder := &fakeEmbedder{queryVec: []float32{1, 0, 0, 0}}
	cfg := Config{SimilarityThreshold: 0.15, TopK: 20, RerankModel: "rerank-v3.5", RerankTopN: 10}
	if reranker == nil {
		cfg.RerankModel = ""
	}
	return New(s, embedder, reranker, cfg, slog.Default()), s
}

// seed inserts a person with chunks at the given embedding vectors.
func seed(t *testing.T, s *store.Store, person string, vectors [][]float32) []int64 {
	t.Helper()
	ctx := context.Background()
	personID, err := s.UpsertPerson(ctx, person, 0)
	if err != nil {
		t.Fatalf("upserting person: %v", err)
	}
	srID, err := s.UpsertSearchResult(ctx, store.SearchResult{
		PersonID: personID,
		URL:      "https://www.example.org/bio",
		Rank:     1,
	})
	if err != nil {
		t.Fatalf("upserting search result: %v", err)
	}

	chunks := make([]store.Chunk, len(vectors))
	for i := range vectors {
		chunks[i] = store.Chunk{SearchResultID: srID, ChunkIndex: i, Content: fmt.Sprintf("chunk %d", i)}
	}
	ids, err := s.InsertChunks(ctx, chunks)
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	for i, v := range vectors {
		if err := s.InsertEmbedding(ctx, ids[i], v); err != nil {
			t.Fatalf("inserting embedding: %v", err)
		}
	}
	return ids
}

// ---------------------------------------------------------------------------
// Ranking
// ---------------------------------------------------------------------------

func TestRetrieveRanksBySimilarity(t *testing.T) {
	e, s := newTestEngine(t, nil)
	ids := seed(t, s, "Ada Lovelace", [][]float32{
		{0, 1, 0, 0},       // orthogonal, below threshold
		{1, 0, 0, 0},       // exact match
		{0.7, 0.7, 0, 0},   // partial match
	})

	ranked, trace, err := e.Retrieve(context.Background(), "Ada Lovelace", "birth year")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("got %d chunks, want 2 (threshold should drop orthogonal)", len(ranked))
	}
	if ranked[0].ChunkID != ids[1] {
		t.Errorf("top chunk = %d, want %d", ranked[0].ChunkID, ids[1])
	}
	if ranked[0].Similarity < ranked[1].Similarity {
		t.Error("similarity not descending")
	}
	if trace.ChunksInDB != 3 || trace.ChunksRetrieved != 2 {
		t.Errorf("trace counts = %d/%d, want 3/2", trace.ChunksInDB, trace.ChunksRetrieved)
	}
	// www. stripped from the trace domain.
	if trace.TopChunks[0].Domain != "example.org" {
		t.Errorf("trace domain = %q, want example.org", trace.TopChunks[0].Domain)
	}
}

func TestRetrieveNoChunks(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	ranked, trace, err := e.Retrieve(context.Background(), "Nobody", "anything")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(ranked) != 0 {
		t.Errorf("got %d chunks, want 0", len(ranked))
	}
	if trace.ChunksInDB != 0 {
		t.Errorf("chunks in db = %d, want 0", trace.ChunksInDB)
	}
}

func TestRetrieveTopKCap(t *testing.T) {
	e, s := newTestEngine(t, nil)
	e.cfg.TopK = 2

	vectors := make([][]float32, 5)
	for i := range vectors {
		vectors[i] = []float32{1, float32(i) * 0.01, 0, 0}
	}
	seed(t, s, "Ada", vectors)

	ranked, _, err := e.Retrieve(context.Background(), "Ada", "q")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(ranked) != 2 {
		t.Errorf("got %d chunks, want TopK=2", len(ranked))
	}
}

// ---------------------------------------------------------------------------
// Reranking
// ---------------------------------------------------------------------------

func TestRetrieveWithReranker(t *testing.T) {
	e, s := newTestEngine(t, &fakeReranker{})
	seed(t, s, "Ada", [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0.8, 0.2, 0, 0},
	})

	ranked, trace, err := e.Retrieve(context.Background(), "Ada", "q")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !trace.Reranked {
		t.Error("trace.Reranked = false, want true")
	}
	for _, c := range ranked {
		if c.RerankScore == nil {
			t.Error("reranked chunk missing rerank score")
		}
	}
}

func TestRerankFailureFallsBack(t *testing.T) {
	e, s := newTestEngine(t, &fakeReranker{fail: true})
	ids := seed(t, s, "Ada", [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
	})

	ranked, trace, err := e.Retrieve(context.Background(), "Ada", "q")
	if err != nil {
		t.Fatalf("Retrieve should not fail when rerank fails: %v", err)
	}
	if trace.Reranked {
		t.Error("trace.Reranked = true after rerank failure")
	}
	// Similarity order preserved, scores nil.
	if ranked[0].ChunkID != ids[0] {
		t.Errorf("top chunk = %d, want %d", ranked[0].ChunkID, ids[0])
	}
	for _, c := range ranked {
		if c.RerankScore != nil {
			t.Error("rerank score set despite failure")
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{0, 0}, []float32{1, 0}, 0}, // zero-norm guard
		{[]float32{1, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tt := range tests {
		got := cosineSimilarity(tt.a, tt.b)
		if got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.un.org/sg/en/bio", "un.org"},
		{"http://example.com", "example.com"},
		{"https://En.Wikipedia.org/wiki/X", "en.wikipedia.org"},
		{"example.org/path", "example.org"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractDomain(tt.url); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
