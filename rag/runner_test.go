package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/retrieval"
)

// fakeRetriever returns a fixed candidate list.
type fakeRetriever struct {
	chunks []retrieval.RankedChunk
	err    error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, person, query string) ([]retrieval.RankedChunk, *retrieval.Trace, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.chunks, &retrieval.Trace{
		Query:           query,
		ChunksInDB:      len(f.chunks),
		ChunksRetrieved: len(f.chunks),
	}, nil
}

// scriptedChat replays canned responses in order.
type scriptedChat struct {
	responses []string
	calls     int
}

func (s *scriptedChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", s.calls)
	}
	content := s.responses[s.calls]
	s.calls++
	if content == "FAIL" {
		return nil, fmt.Errorf("simulated API failure")
	}
	return &llm.ChatResponse{Content: content}, nil
}

func (s *scriptedChat) Embed(ctx context.Context, req llm.EmbedRequest) ([][]float32, error) {
	return nil, fmt.Errorf("not implemented")
}

func testChunks(n int) []retrieval.RankedChunk {
	chunks := make([]retrieval.RankedChunk, n)
	for i := range chunks {
		chunks[i].ChunkID = int64(i + 1)
		chunks[i].SearchResultID = int64(i + 1)
		chunks[i].ChunkIndex = i
		chunks[i].Content = fmt.Sprintf("chunk %d content", i)
		chunks[i].URL = fmt.Sprintf("https://site%d.org/page", i)
		chunks[i].Domain = fmt.Sprintf("site%d.org", i)
		chunks[i].Similarity = 1 - float64(i)*0.1
	}
	return chunks
}

func newTestRunner(t *testing.T, retriever Retriever, chat llm.Provider) *Runner {
	t.Helper()
	return NewRunner(retriever, chat, Config{
		MaxChunksToScan:        5,
		VerificationMaxSources: 3,
		ChatModel:              "test-model",
	}, slog.Default())
}

// writeRAGQuestion creates a standard extraction question with a
// verification template.
func writeRAGQuestion(t *testing.T, root string, extra string) *QuestionConfig {
	t.Helper()
	cfg := `{"question": "birth year", "query": "{{PERSON_NAME}} born",
		"verification_prompt_file": "verify.txt"` + extra + `}`
	dir := writeQuestion(t, root, "birth_year", cfg,
		"Find facts about {{PERSON_NAME}} in: {{CHUNK_TEXT}}",
		"Does {{CHUNK_TEXT}} confirm {{CANDIDATE_ANSWER}}?")
	q, err := LoadQuestion(dir)
	if err != nil {
		t.Fatalf("loading question: %v", err)
	}
	return q
}

// ---------------------------------------------------------------------------
// Extraction and status determination
// ---------------------------------------------------------------------------

func TestRunFoundAndVerified(t *testing.T) {
	q := writeRAGQuestion(t, t.TempDir(), `, "early_stop_on_high_confidence": true`)
	chat := &scriptedChat{responses: []string{
		// Extraction on chunk 0: high confidence answer triggers early stop.
		`{"job_title_at_nomination": "Finance Minister", "confidence": "high", "supporting_quote": "she served as finance minister", "cannot_determine": false}`,
		// Verification on a different-domain chunk confirms.
		`{"confirms": true, "evidence": "matches"}`,
		`{"confirms": false}`,
		`{"confirms": true}`,
	}}
	r := newTestRunner(t, &fakeRetriever{chunks: testChunks(5)}, chat)

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada Lovelace"}, q)

	if out.Result.Status != StatusFoundAndVerified {
		t.Fatalf("status = %q, want %q", out.Result.Status, StatusFoundAndVerified)
	}
	if out.Result.ConfirmationCount != 2 {
		t.Errorf("confirmations = %d, want 2", out.Result.ConfirmationCount)
	}
	if out.Result.PrimarySourceDomain != "site0.org" {
		t.Errorf("primary domain = %q", out.Result.PrimarySourceDomain)
	}
	if out.Result.SupportingQuote == "" {
		t.Error("supporting quote missing")
	}
	// Early stop: only one extraction call happened.
	if len(out.ExtractionTrace) != 1 {
		t.Fatalf("extraction trace has %d entries, want 1", len(out.ExtractionTrace))
	}
	if !out.ExtractionTrace[0].EarlyStopTriggered {
		t.Error("early stop flag not set")
	}
	// Content field survives into the result, meta keys do not.
	if out.Result.Fields["job_title_at_nomination"] != "Finance Minister" {
		t.Errorf("content fields = %v", out.Result.Fields)
	}
	if _, ok := out.Result.Fields["confidence"]; ok {
		t.Error("meta key leaked into content fields")
	}
}

func TestRunNoConfirmingSources(t *testing.T) {
	q := writeRAGQuestion(t, t.TempDir(), "")
	chat := &scriptedChat{responses: []string{
		`{"job_title_at_nomination": "Professor", "confidence": "medium", "cannot_determine": false}`,
		`{"cannot_determine": true, "confidence": "low"}`,
		`{"cannot_determine": true, "confidence": "low"}`,
		`{"cannot_determine": true, "confidence": "low"}`,
		`{"cannot_determine": true, "confidence": "low"}`,
		// No verification chunks remain (all scanned), so no confirms.
	}}
	r := newTestRunner(t, &fakeRetriever{chunks: testChunks(5)}, chat)

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada"}, q)
	if out.Result.Status != StatusFoundNoConfirming {
		t.Fatalf("status = %q, want %q", out.Result.Status, StatusFoundNoConfirming)
	}
	if out.Result.ConfirmationCount != 0 {
		t.Errorf("confirmations = %d, want 0", out.Result.ConfirmationCount)
	}
	if len(out.ExtractionTrace) != 5 {
		t.Errorf("extraction trace has %d entries, want 5", len(out.ExtractionTrace))
	}
}

func TestRunCannotDetermine(t *testing.T) {
	q := writeRAGQuestion(t, t.TempDir(), "")
	chat := &scriptedChat{responses: []string{
		`{"cannot_determine": true}`,
		`{"cannot_determine": true}`,
	}}
	r := newTestRunner(t, &fakeRetriever{chunks: testChunks(2)}, chat)

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada"}, q)
	if out.Result.Status != StatusCannotDetermine {
		t.Fatalf("status = %q, want %q", out.Result.Status, StatusCannotDetermine)
	}
}

func TestRunNoChunks(t *testing.T) {
	q := writeRAGQuestion(t, t.TempDir(), "")
	r := newTestRunner(t, &fakeRetriever{}, &scriptedChat{})

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada"}, q)
	if out.Result.Status != StatusNoChunksRetrieved {
		t.Fatalf("status = %q, want %q", out.Result.Status, StatusNoChunksRetrieved)
	}
}

func TestRunRetrievalError(t *testing.T) {
	q := writeRAGQuestion(t, t.TempDir(), "")
	r := newTestRunner(t, &fakeRetriever{err: fmt.Errorf("db locked")}, &scriptedChat{})

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada"}, q)
	if out.Result.Status != StatusError {
		t.Fatalf("status = %q, want %q", out.Result.Status, StatusError)
	}
}

func TestRunLLMFailureRecordedInTrace(t *testing.T) {
	q := writeRAGQuestion(t, t.TempDir(), "")
	chat := &scriptedChat{responses: []string{
		"FAIL",
		`{"job_title_at_nomination": "Professor", "confidence": "medium", "cannot_determine": false}`,
	}}
	r := newTestRunner(t, &fakeRetriever{chunks: testChunks(2)}, chat)

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada"}, q)
	// First chunk errored, second chunk answered.
	if out.ExtractionTrace[0].Error == "" {
		t.Error("first entry should record the API error")
	}
	if out.Result.Status != StatusFoundNoConfirming {
		t.Errorf("status = %q", out.Result.Status)
	}
}

// ---------------------------------------------------------------------------
// Best-answer policy
// ---------------------------------------------------------------------------

func TestBestAnswerPrimaryListField(t *testing.T) {
	root := t.TempDir()
	cfg := `{"question": "degrees", "query": "q", "primary_list_field": "degrees"}`
	dir := writeQuestion(t, root, "education", cfg, "{{CHUNK_TEXT}}", "")
	q, err := LoadQuestion(dir)
	if err != nil {
		t.Fatal(err)
	}

	chat := &scriptedChat{responses: []string{
		`{"degrees": [{"degree_type": "BA"}], "confidence": "medium", "cannot_determine": false}`,
		`{"degrees": [{"degree_type": "BA"}, {"degree_type": "PhD"}], "confidence": "medium", "cannot_determine": false}`,
		`{"degrees": [{"degree_type": "MA"}, {"degree_type": "MSc"}], "confidence": "medium", "cannot_determine": false}`,
	}}
	r := newTestRunner(t, &fakeRetriever{chunks: testChunks(3)}, chat)

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada"}, q)
	// Richest list wins; the later tie (2 items) does not displace it.
	degrees, ok := out.Result.Fields["degrees"].([]interface{})
	if !ok || len(degrees) != 2 {
		t.Fatalf("winning degrees = %v", out.Result.Fields["degrees"])
	}
	first := degrees[0].(map[string]interface{})
	if first["degree_type"] != "BA" {
		t.Errorf("tie broken against first-seen: %v", first)
	}
}

func TestBetterAnswerFirstUsableStands(t *testing.T) {
	a := &ExtractionEntry{Parsed: map[string]interface{}{"x": "1"}}
	b := &ExtractionEntry{Parsed: map[string]interface{}{"x": "2"}}
	if !betterAnswer(a, nil, "") {
		t.Error("first usable answer should win over nil")
	}
	if betterAnswer(b, a, "") {
		t.Error("later answer should not displace first without a list field")
	}
	cd := &ExtractionEntry{CannotDetermine: true}
	if betterAnswer(cd, nil, "") {
		t.Error("cannot_determine entry should never win")
	}
}

// ---------------------------------------------------------------------------
// Verification candidates
// ---------------------------------------------------------------------------

func TestVerificationSkipsPrimaryDomainAndUsedChunks(t *testing.T) {
	q := writeRAGQuestion(t, t.TempDir(), "")
	chunks := testChunks(5)
	// Make chunk 3 share the primary source domain.
	chunks[3].Domain = "site0.org"

	chat := &scriptedChat{responses: []string{
		`{"job_title_at_nomination": "Professor", "confidence": "high", "cannot_determine": false}`,
		`{"cannot_determine": true}`,
		`{"cannot_determine": true}`,
		`{"cannot_determine": true}`,
		`{"cannot_determine": true}`,
		// Verification: only chunk 4 qualifies (0-3 used, and a used
		// domain repeat would have been skipped anyway).
		`{"confirms": true}`,
	}}
	r := newTestRunner(t, &fakeRetriever{chunks: chunks}, chat)

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada"}, q)
	if len(out.VerificationTrace) != 0 {
		t.Fatalf("verification ran against used chunks: %d entries", len(out.VerificationTrace))
	}
}

func TestBuildCandidateStrings(t *testing.T) {
	parsed := map[string]interface{}{
		"degrees": []interface{}{
			map[string]interface{}{"degree_type": "PhD", "field": "Economics", "institution": "MIT", "year": "1981"},
			map[string]interface{}{"degree_type": "BA", "institution": "Harvard"},
			map[string]interface{}{"degree_type": "MA"},
			map[string]interface{}{"degree_type": "Dropped"},
		},
	}
	claims := buildCandidateStrings(parsed, &QuestionConfig{PrimaryListField: "degrees"})
	if len(claims) != 3 {
		t.Fatalf("got %d claims, want 3 (top 3 items)", len(claims))
	}
	want := "PhD Economics, MIT (1981)"
	if claims[0] != want {
		t.Errorf("claim = %q, want %q", claims[0], want)
	}

	// Configured single-fact fields are used directly, in order.
	claims = buildCandidateStrings(map[string]interface{}{
		"job_title_at_nomination":    "Minister",
		"organization_at_nomination": "World Bank",
		"notes":                      "ignored",
	}, &QuestionConfig{
		CandidateTitleField: "job_title_at_nomination",
		CandidateOrgField:   "organization_at_nomination",
	})
	if len(claims) != 2 || claims[0] != "Minister" || claims[1] != "World Bank" {
		t.Fatalf("configured claims = %v", claims)
	}

	// Without configured fields the content strings still yield a summary.
	claims = buildCandidateStrings(map[string]interface{}{
		"institution":      "Mount St. Scholastica College",
		"confidence":       "high",
		"supporting_quote": "she studied there",
	}, &QuestionConfig{})
	if len(claims) != 1 || claims[0] != "Mount St. Scholastica College" {
		t.Fatalf("fallback claims = %v", claims)
	}
}

// ---------------------------------------------------------------------------
// Skip predicate
// ---------------------------------------------------------------------------

func TestRunSkipsWhenRequiredBaseFieldEmpty(t *testing.T) {
	q := writeRAGQuestion(t, t.TempDir(), `, "skip_if_null": ["nomination_year"]`)
	chat := &scriptedChat{}
	r := newTestRunner(t, &fakeRetriever{chunks: testChunks(3)}, chat)

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada"}, q)
	if out.Result.Status != StatusSkipped {
		t.Fatalf("status = %q, want %q", out.Result.Status, StatusSkipped)
	}
	if chat.calls != 0 {
		t.Errorf("skip made %d LLM calls, want 0", chat.calls)
	}
	if out.Retrieval != nil {
		t.Error("skip ran retrieval")
	}
	if !strings.Contains(out.Result.Notes, "nomination_year") {
		t.Errorf("notes = %q, want the missing field named", out.Result.Notes)
	}
}

func TestRunProceedsWhenRequiredBaseFieldPresent(t *testing.T) {
	q := writeRAGQuestion(t, t.TempDir(), `, "skip_if_null": ["nomination_year"]`)
	chat := &scriptedChat{responses: []string{
		`{"cannot_determine": true}`,
		`{"cannot_determine": true}`,
	}}
	r := newTestRunner(t, &fakeRetriever{chunks: testChunks(2)}, chat)

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada", NominationYear: "1947"}, q)
	if out.Result.Status == StatusSkipped {
		t.Fatal("question skipped despite populated base field")
	}
}

func TestVerificationRunsForSingleFactAnswerWithoutConfiguredFields(t *testing.T) {
	q := writeRAGQuestion(t, t.TempDir(), `, "max_chunks_to_scan": 1`)
	chat := &scriptedChat{responses: []string{
		`{"institution": "Mount St. Scholastica College", "confidence": "high", "cannot_determine": false}`,
		`{"confirms": true}`,
		`{"confirms": true}`,
		`{"confirms": false}`,
	}}
	r := newTestRunner(t, &fakeRetriever{chunks: testChunks(5)}, chat)

	out := r.Run(context.Background(), &BaseData{PersonName: "Ada"}, q)
	if out.Result.Status != StatusFoundAndVerified {
		t.Fatalf("status = %q, want %q", out.Result.Status, StatusFoundAndVerified)
	}
	if len(out.VerificationTrace) != 3 {
		t.Errorf("verification trace has %d entries, want 3", len(out.VerificationTrace))
	}
	if out.Result.ConfirmationCount != 2 {
		t.Errorf("confirmations = %d, want 2", out.Result.ConfirmationCount)
	}
}
