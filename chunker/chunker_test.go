package chunker

import (
	"strings"
	"testing"
)

func repeatSentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("The laureate spent several years working on rural credit programs in South Asia. ")
	}
	return strings.TrimSpace(b.String())
}

// ---------------------------------------------------------------------------
// Split
// ---------------------------------------------------------------------------

func TestSplitShortTextSingleFragment(t *testing.T) {
	c := New(Config{})
	got := c.Split("A short biography paragraph.")
	if len(got) != 1 || got[0] != "A short biography paragraph." {
		t.Errorf("Split = %v", got)
	}
}

func TestSplitEmptyText(t *testing.T) {
	c := New(Config{})
	if got := c.Split("   \n\n  "); got != nil {
		t.Errorf("Split on blank text = %v", got)
	}
}

func TestSplitRespectsMaxTokens(t *testing.T) {
	c := New(Config{MaxTokens: 100, Overlap: 10})

	paras := make([]string, 8)
	for i := range paras {
		paras[i] = repeatSentences(4)
	}
	fragments := c.Split(strings.Join(paras, "\n\n"))

	if len(fragments) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(fragments))
	}
	for i, f := range fragments {
		// Overlap can push a fragment slightly past the cap; sentence
		// granularity bounds the excess.
		if tokens := estimateTokens(f); tokens > c.cfg.MaxTokens+c.cfg.Overlap {
			t.Errorf("fragment %d has %d tokens", i, tokens)
		}
	}
}

func TestSplitOverlapCarriesTrailingText(t *testing.T) {
	c := New(Config{MaxTokens: 60, Overlap: 15})
	fragments := c.Split(repeatSentences(3) + "\n\n" + repeatSentences(3) + "\n\n" + repeatSentences(3))
	if len(fragments) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(fragments))
	}

	tail := extractOverlap(fragments[0], c.cfg.Overlap)
	if tail == "" {
		t.Fatal("no overlap extracted")
	}
	if !strings.HasPrefix(fragments[1], tail) {
		t.Errorf("fragment 1 does not start with overlap of fragment 0:\n%q\nvs\n%q", tail, fragments[1])
	}
}

func TestSplitOversizedParagraphFallsBackToSentences(t *testing.T) {
	c := New(Config{MaxTokens: 40, Overlap: 5})
	fragments := c.Split(repeatSentences(10)) // one paragraph, well over budget
	if len(fragments) < 3 {
		t.Fatalf("expected sentence-level fragments, got %d", len(fragments))
	}
	for i, f := range fragments {
		if strings.TrimSpace(f) == "" {
			t.Errorf("fragment %d is empty", i)
		}
	}
}

// ---------------------------------------------------------------------------
// Chunk
// ---------------------------------------------------------------------------

func TestChunkAssignsIndexesAndHashes(t *testing.T) {
	c := New(Config{MaxTokens: 60, Overlap: 10})
	chunks := c.Chunk(42, repeatSentences(12))
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	seen := make(map[string]bool)
	for i, ch := range chunks {
		if ch.SearchResultID != 42 {
			t.Errorf("chunk %d search result id = %d", i, ch.SearchResultID)
		}
		if ch.ChunkIndex != i {
			t.Errorf("chunk %d index = %d", i, ch.ChunkIndex)
		}
		if ch.TokenCount != estimateTokens(ch.Content) {
			t.Errorf("chunk %d token count = %d", i, ch.TokenCount)
		}
		if len(ch.ContentHash) != 64 {
			t.Errorf("chunk %d hash = %q", i, ch.ContentHash)
		}
		seen[ch.ContentHash] = true
	}
	if ch := contentHash(chunks[0].Content); ch != chunks[0].ContentHash {
		t.Error("content hash not deterministic")
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != 0 {
		t.Errorf("empty = %d", got)
	}
	if got := estimateTokens("one two three four"); got != 6 { // ceil(4*1.3)
		t.Errorf("four words = %d", got)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First sentence. Second one? Third!")
	want := []string{"First sentence.", "Second one?", "Third!"}
	if len(got) != len(want) {
		t.Fatalf("sentences = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
