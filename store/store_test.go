//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedPerson inserts a person with one search result and chunks,
// returning the chunk IDs.
func seedPerson(t *testing.T, s *Store, name string, rank int, url string, texts []string) []int64 {
	t.Helper()
	ctx := context.Background()

	personID, err := s.UpsertPerson(ctx, name, 2005)
	if err != nil {
		t.Fatalf("upserting person: %v", err)
	}
	srID, err := s.UpsertSearchResult(ctx, SearchResult{
		PersonID: personID,
		URL:      url,
		Title:    "Test Source",
		Domain:   "example.org",
		Rank:     rank,
	})
	if err != nil {
		t.Fatalf("upserting search result: %v", err)
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{SearchResultID: srID, ChunkIndex: i, Content: text, TokenCount: len(text) / 4}
	}
	ids, err := s.InsertChunks(ctx, chunks)
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	return ids
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

// ---------------------------------------------------------------------------
// Persons
// ---------------------------------------------------------------------------

func TestUpsertPersonIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertPerson(ctx, "Ada Lovelace", 1842)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	id2, err := s.UpsertPerson(ctx, "Ada Lovelace", 0)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert created new row: id1=%d id2=%d", id1, id2)
	}

	p, err := s.GetPerson(ctx, "Ada Lovelace")
	if err != nil {
		t.Fatalf("GetPerson: %v", err)
	}
	// A zero nomination year must not clobber the stored one.
	if p.NominationYear != 1842 {
		t.Errorf("nomination year = %d, want 1842", p.NominationYear)
	}
}

func TestUpsertPersonReturnsExistingRowID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idA, err := s.UpsertPerson(ctx, "Person A", 0)
	if err != nil {
		t.Fatalf("upserting A: %v", err)
	}
	if _, err := s.UpsertPerson(ctx, "Person B", 0); err != nil {
		t.Fatalf("upserting B: %v", err)
	}

	// Re-upserting A must return A's row, not the most recent insert.
	again, err := s.UpsertPerson(ctx, "Person A", 2005)
	if err != nil {
		t.Fatalf("re-upserting A: %v", err)
	}
	if again != idA {
		t.Errorf("re-upsert returned id %d, want %d", again, idA)
	}
}

func TestListPersons(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Zia", "Ada", "Mona"} {
		if _, err := s.UpsertPerson(ctx, name, 0); err != nil {
			t.Fatalf("upserting %s: %v", name, err)
		}
	}

	persons, err := s.ListPersons(ctx)
	if err != nil {
		t.Fatalf("ListPersons: %v", err)
	}
	if len(persons) != 3 {
		t.Fatalf("got %d persons, want 3", len(persons))
	}
	if persons[0].Name != "Ada" || persons[2].Name != "Zia" {
		t.Errorf("persons not ordered by name: %v", persons)
	}
}

// ---------------------------------------------------------------------------
// Search results and chunks
// ---------------------------------------------------------------------------

func TestUpsertSearchResultConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	personID, err := s.UpsertPerson(ctx, "Ada", 0)
	if err != nil {
		t.Fatalf("upserting person: %v", err)
	}
	sr := SearchResult{PersonID: personID, URL: "https://example.org/bio", Rank: 3}

	id1, err := s.UpsertSearchResult(ctx, sr)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	sr.Rank = 1
	id2, err := s.UpsertSearchResult(ctx, sr)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("same url created a new row: %d vs %d", id1, id2)
	}

	// A later insert must not bleed into the id of a re-upserted row.
	other := SearchResult{PersonID: personID, URL: "https://example.org/other", Rank: 2}
	if _, err := s.UpsertSearchResult(ctx, other); err != nil {
		t.Fatalf("inserting other result: %v", err)
	}
	id3, err := s.UpsertSearchResult(ctx, sr)
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if id3 != id1 {
		t.Errorf("re-upsert returned id %d, want %d", id3, id1)
	}
}

func TestChunksForPerson(t *testing.T) {
	s := newTestStore(t)
	seedPerson(t, s, "Ada Lovelace", 1, "https://example.org/a", []string{"first chunk", "second chunk"})
	seedPerson(t, s, "Ada Lovelace", 2, "https://example.org/b", []string{"third chunk"})
	seedPerson(t, s, "Someone Else", 1, "https://example.org/c", []string{"other person"})

	chunks, err := s.ChunksForPerson(context.Background(), "Ada Lovelace")
	if err != nil {
		t.Fatalf("ChunksForPerson: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for _, c := range chunks {
		if c.Content == "other person" {
			t.Error("chunk from another person leaked into results")
		}
	}
	if chunks[0].Domain != "example.org" {
		t.Errorf("domain = %q, want example.org", chunks[0].Domain)
	}

	count, err := s.CountChunksForPerson(context.Background(), "Ada Lovelace")
	if err != nil {
		t.Fatalf("CountChunksForPerson: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestChunksForPersonUnknown(t *testing.T) {
	s := newTestStore(t)
	chunks, err := s.ChunksForPerson(context.Background(), "Nobody")
	if err != nil {
		t.Fatalf("ChunksForPerson: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks for unknown person, want 0", len(chunks))
	}
}

// ---------------------------------------------------------------------------
// Embeddings
// ---------------------------------------------------------------------------

func TestEmbeddingRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ids := seedPerson(t, s, "Ada", 1, "https://example.org/a", []string{"alpha", "beta"})
	ctx := context.Background()

	if err := s.InsertEmbedding(ctx, ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[1], []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}

	embeddings, err := s.EmbeddingsForPerson(ctx, "Ada")
	if err != nil {
		t.Fatalf("EmbeddingsForPerson: %v", err)
	}
	if len(embeddings) != 2 {
		t.Fatalf("got %d embeddings, want 2", len(embeddings))
	}
	if embeddings[0].Embedding[0] != 1 {
		t.Errorf("embedding not round-tripped: %v", embeddings[0].Embedding)
	}

	has, err := s.ChunkHasEmbedding(ctx, ids[0])
	if err != nil {
		t.Fatalf("ChunkHasEmbedding: %v", err)
	}
	if !has {
		t.Error("ChunkHasEmbedding = false, want true")
	}
}

func TestInsertEmbeddingWrongDim(t *testing.T) {
	s := newTestStore(t)
	ids := seedPerson(t, s, "Ada", 1, "https://example.org/a", []string{"alpha"})

	if err := s.InsertEmbedding(context.Background(), ids[0], []float32{1, 0}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ids := seedPerson(t, s, "Ada", 1, "https://example.org/a", []string{"alpha", "beta", "gamma"})
	ctx := context.Background()

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	for i, v := range vectors {
		if err := s.InsertEmbedding(ctx, ids[i], v); err != nil {
			t.Fatalf("InsertEmbedding: %v", err)
		}
	}

	results, scores, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ChunkID != ids[0] {
		t.Errorf("nearest chunk = %d, want %d", results[0].ChunkID, ids[0])
	}
	if scores[0] < scores[1] {
		t.Errorf("scores not descending: %v", scores)
	}
}

// ---------------------------------------------------------------------------
// Diagnostics and helpers
// ---------------------------------------------------------------------------

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ids := seedPerson(t, s, "Ada", 1, "https://example.org/a", []string{"alpha", "beta"})
	if err := s.InsertEmbedding(context.Background(), ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Persons != 1 || stats.SearchResults != 1 || stats.Chunks != 2 || stats.Embeddings != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSerializeRoundtrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	out := deserializeFloat32(serializeFloat32(in))
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: %v != %v", i, in[i], out[i])
		}
	}
}
