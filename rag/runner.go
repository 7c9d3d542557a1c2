package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/retrieval"
)

// Question result statuses.
const (
	StatusFoundAndVerified    = "found_and_verified"
	StatusFoundNoConfirming   = "found_no_confirming_sources"
	StatusFound               = "found" // reserved, not currently emitted
	StatusCannotDetermine     = "cannot_determine"
	StatusNoChunksRetrieved   = "no_chunks_retrieved"
	StatusSkipped             = "skipped"
	StatusError               = "error"
)

// metaKeys are extraction-output fields that describe the extraction
// itself rather than biographical content. They are excluded when the
// best answer's fields are merged into the result block.
var metaKeys = map[string]bool{
	"reasoning":        true,
	"confidence":       true,
	"supporting_quote": true,
	"cannot_determine": true,
}

// Config holds the runner's LLM knobs.
type Config struct {
	MaxChunksToScan         int
	ExtractionTemperature   float64
	ExtractionMaxTokens     int
	VerificationMaxSources  int
	VerificationTemperature float64
	VerificationMaxTokens   int
	ChatModel               string
}

// Retriever is the slice of the retrieval engine the runner needs.
type Retriever interface {
	Retrieve(ctx context.Context, person, query string) ([]retrieval.RankedChunk, *retrieval.Trace, error)
}

// Runner executes one question against one person: retrieval, chunk-by-
// chunk extraction, best-answer selection, and cross-source verification.
type Runner struct {
	retriever Retriever
	chat      llm.Provider
	cfg       Config
	logger    *slog.Logger
}

// NewRunner creates a question runner.
func NewRunner(retriever Retriever, chat llm.Provider, cfg Config, logger *slog.Logger) *Runner {
	if cfg.MaxChunksToScan == 0 {
		cfg.MaxChunksToScan = 5
	}
	if cfg.ExtractionMaxTokens == 0 {
		cfg.ExtractionMaxTokens = 1200
	}
	if cfg.VerificationMaxSources == 0 {
		cfg.VerificationMaxSources = 3
	}
	if cfg.VerificationMaxTokens == 0 {
		cfg.VerificationMaxTokens = 800
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{retriever: retriever, chat: chat, cfg: cfg, logger: logger}
}

// ExtractionEntry records one extraction LLM call in the trace.
type ExtractionEntry struct {
	ChunkID            int64                  `json:"chunk_id"`
	ChunkIndex         int                    `json:"chunk_index"`
	SourceID           int64                  `json:"source_id"`
	URL                string                 `json:"url"`
	Domain             string                 `json:"domain"`
	Similarity         float64                `json:"similarity"`
	RerankScore        *float64               `json:"rerank_score"`
	RawLLMOutput       string                 `json:"raw_llm_output"`
	Parsed             map[string]interface{} `json:"parsed,omitempty"`
	Confidence         string                 `json:"confidence,omitempty"`
	CannotDetermine    bool                   `json:"cannot_determine"`
	EarlyStopTriggered bool                   `json:"early_stop_triggered"`
	Error              string                 `json:"error,omitempty"`
}

// VerificationEntry records one verification LLM call in the trace.
type VerificationEntry struct {
	ChunkID      int64  `json:"chunk_id"`
	URL          string `json:"url"`
	Domain       string `json:"domain"`
	RawLLMOutput string `json:"raw_llm_output"`
	Confirms     *bool  `json:"confirms"`
	Error        string `json:"error,omitempty"`
}

// Result is the final answer block of an output file.
type Result struct {
	Status              string                 `json:"status"`
	Confidence          string                 `json:"confidence,omitempty"`
	SupportingQuote     string                 `json:"supporting_quote,omitempty"`
	ConfirmationCount   int                    `json:"confirmation_count"`
	PrimarySourceDomain string                 `json:"primary_source_domain,omitempty"`
	Notes               string                 `json:"notes,omitempty"`
	Fields              map[string]interface{} `json:"-"` // merged into the JSON object on save
}

// Run answers one RAG question for one person.
func (r *Runner) Run(ctx context.Context, base *BaseData, q *QuestionConfig) *Output {
	start := time.Now()
	out := NewOutput(base, q, r.cfg.ChatModel)

	// Skip predicate: required base fields must be present before any
	// retrieval or LLM work happens.
	if missing := q.MissingRequiredFields(base); len(missing) > 0 {
		out.Result = Result{
			Status: StatusSkipped,
			Notes:  fmt.Sprintf("missing base fields: %s", strings.Join(missing, ", ")),
		}
		out.finish(start)
		return out
	}

	query := FillTemplate(q.Query, base.TemplateVars())
	ranked, trace, err := r.retriever.Retrieve(ctx, base.PersonName, query)
	out.Retrieval = trace
	if err != nil {
		out.Result = Result{Status: StatusError, Notes: fmt.Sprintf("retrieval failed: %v", err)}
		out.finish(start)
		return out
	}
	if len(ranked) == 0 {
		out.Result = Result{Status: StatusNoChunksRetrieved}
		out.finish(start)
		return out
	}

	best := r.extract(ctx, base, q, ranked, out)
	if best == nil {
		out.Result = Result{Status: StatusCannotDetermine}
		out.finish(start)
		return out
	}

	confirmations, primaryDomain := r.verify(ctx, base, q, ranked, best, out)

	result := Result{
		Confidence:          best.Confidence,
		ConfirmationCount:   confirmations,
		PrimarySourceDomain: primaryDomain,
		Fields:              contentFields(best.Parsed),
	}
	if quote, ok := best.Parsed["supporting_quote"].(string); ok {
		result.SupportingQuote = quote
	}
	if confirmations >= 1 {
		result.Status = StatusFoundAndVerified
	} else {
		result.Status = StatusFoundNoConfirming
	}
	out.Result = result
	out.finish(start)
	return out
}

// extract scans the top chunks, calling the extraction prompt on each,
// and returns the best entry (nil when every chunk came up empty).
func (r *Runner) extract(ctx context.Context, base *BaseData, q *QuestionConfig, ranked []retrieval.RankedChunk, out *Output) *ExtractionEntry {
	maxScan := q.MaxChunksToScan
	if maxScan == 0 {
		maxScan = r.cfg.MaxChunksToScan
	}
	temperature := q.Temperature
	if temperature == 0 {
		temperature = r.cfg.ExtractionTemperature
	}
	maxTokens := q.MaxTokens
	if maxTokens == 0 {
		maxTokens = r.cfg.ExtractionMaxTokens
	}

	var best *ExtractionEntry
	for i, chunk := range ranked {
		if i >= maxScan {
			break
		}

		vars := base.TemplateVars()
		vars["CHUNK_TEXT"] = chunk.Content
		prompt, err := q.Prompt(vars)

		entry := &ExtractionEntry{
			ChunkID:     chunk.ChunkID,
			ChunkIndex:  chunk.ChunkIndex,
			SourceID:    chunk.SearchResultID,
			URL:         chunk.URL,
			Domain:      chunk.Domain,
			Similarity:  chunk.Similarity,
			RerankScore: chunk.RerankScore,
		}
		if err != nil {
			entry.Error = err.Error()
			out.ExtractionTrace = append(out.ExtractionTrace, entry)
			continue
		}

		parsed, raw := r.callLLM(ctx, prompt, temperature, maxTokens)
		entry.RawLLMOutput = raw
		entry.Parsed = parsed
		if parsed == nil {
			if strings.HasPrefix(raw, "ERROR: ") {
				entry.Error = strings.TrimPrefix(raw, "ERROR: ")
			} else {
				entry.Error = "unparseable LLM output"
			}
			out.ExtractionTrace = append(out.ExtractionTrace, entry)
			continue
		}

		if c, ok := parsed["confidence"].(string); ok {
			entry.Confidence = c
		}
		if cd, ok := parsed["cannot_determine"].(bool); ok {
			entry.CannotDetermine = cd
		}
		out.ExtractionTrace = append(out.ExtractionTrace, entry)

		if betterAnswer(entry, best, q.PrimaryListField) {
			best = entry
		}

		// Stop scanning once a high-confidence answer is in hand.
		if q.EarlyStopOnHighConfidence && best != nil && best.Confidence == "high" {
			entry.EarlyStopTriggered = true
			break
		}
	}
	return best
}

// betterAnswer reports whether candidate beats current under the
// question's selection policy. With a primary list field the entry with
// strictly more list items wins (ties keep the first seen); otherwise
// the first non-cannot_determine entry wins.
func betterAnswer(candidate, current *ExtractionEntry, primaryListField string) bool {
	if candidate.CannotDetermine {
		return false
	}
	if current == nil {
		return true
	}
	if primaryListField == "" {
		return false // first usable answer stands
	}
	return listLen(candidate.Parsed, primaryListField) > listLen(current.Parsed, primaryListField)
}

func listLen(parsed map[string]interface{}, field string) int {
	items, ok := parsed[field].([]interface{})
	if !ok {
		return 0
	}
	return len(items)
}

// verify runs the cross-source verification pass. Chunks already used
// for extraction and chunks from the primary source domain are skipped.
func (r *Runner) verify(ctx context.Context, base *BaseData, q *QuestionConfig, ranked []retrieval.RankedChunk, best *ExtractionEntry, out *Output) (confirmations int, primaryDomain string) {
	primaryDomain = best.Domain

	used := make(map[int64]bool, len(out.ExtractionTrace))
	for _, e := range out.ExtractionTrace {
		used[e.ChunkID] = true
	}

	candidateSummary := strings.Join(buildCandidateStrings(best.Parsed, q), "; ")
	if candidateSummary == "" {
		return 0, primaryDomain
	}

	checked := 0
	for _, chunk := range ranked {
		if checked >= r.cfg.VerificationMaxSources {
			break
		}
		if used[chunk.ChunkID] || chunk.Domain == primaryDomain {
			continue
		}

		vars := base.TemplateVars()
		vars["CHUNK_TEXT"] = chunk.Content
		vars["CANDIDATE_ANSWER"] = candidateSummary
		prompt, err := q.VerifyPrompt(vars)
		if err != nil || prompt == "" {
			return confirmations, primaryDomain
		}

		entry := VerificationEntry{
			ChunkID: chunk.ChunkID,
			URL:     chunk.URL,
			Domain:  chunk.Domain,
		}
		parsed, raw := r.callLLM(ctx, prompt, r.cfg.VerificationTemperature, r.cfg.VerificationMaxTokens)
		entry.RawLLMOutput = raw
		if parsed == nil {
			if strings.HasPrefix(raw, "ERROR: ") {
				entry.Error = strings.TrimPrefix(raw, "ERROR: ")
			} else {
				entry.Error = "unparseable LLM output"
			}
		} else if confirms, ok := parsed["confirms"].(bool); ok {
			entry.Confirms = &confirms
			if confirms {
				confirmations++
			}
		}
		out.VerificationTrace = append(out.VerificationTrace, entry)
		checked++
	}
	return confirmations, primaryDomain
}

// callLLM sends a prompt and parses the JSON response. The raw output
// is always returned for the trace; parsed is nil when the call failed
// or the output was not valid JSON.
func (r *Runner) callLLM(ctx context.Context, prompt string, temperature float64, maxTokens int) (map[string]interface{}, string) {
	resp, err := r.chat.Chat(ctx, llm.ChatRequest{
		Model:       r.cfg.ChatModel,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, "ERROR: " + err.Error()
	}

	var parsed map[string]interface{}
	if err := llm.ParseJSON(resp.Content, &parsed); err != nil {
		return nil, resp.Content
	}
	return parsed, resp.Content
}

// buildCandidateStrings renders the best answer's content as short
// human-readable claims for the verification prompt. List questions
// summarize their richest-list entries; single-fact questions use the
// configured candidate fields, falling back to the parsed content
// fields so every answer schema produces a verifiable summary.
func buildCandidateStrings(parsed map[string]interface{}, q *QuestionConfig) []string {
	if q.PrimaryListField != "" {
		if items, ok := parsed[q.PrimaryListField].([]interface{}); ok {
			var claims []string
			for i, item := range items {
				if i >= 3 {
					break
				}
				m, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				if claim := formatListItem(m); claim != "" {
					claims = append(claims, claim)
				}
			}
			if len(claims) > 0 {
				return claims
			}
		}
	}

	var claims []string
	for _, field := range []string{q.CandidateTitleField, q.CandidateOrgField} {
		if field == "" {
			continue
		}
		if v, ok := parsed[field].(string); ok && v != "" {
			claims = append(claims, v)
		}
	}
	if len(claims) > 0 {
		return claims
	}

	// No configured fields matched: collect the string-valued content
	// fields in a stable order.
	keys := make([]string, 0, len(parsed))
	for k := range parsed {
		if !metaKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(claims) >= 3 {
			break
		}
		if v, ok := parsed[k].(string); ok && v != "" {
			claims = append(claims, v)
		}
	}
	return claims
}

// formatListItem renders one list entry as "label sub, org (period)".
// Field names vary per question, so each component tries a few keys.
func formatListItem(item map[string]interface{}) string {
	label := firstString(item, "title", "degree_type", "sector", "award", "organization", "city")
	sub := firstString(item, "field", "role_context", "evidence")
	org := firstString(item, "organization", "institution", "awarding_body", "country")
	period := firstString(item, "approximate_period", "year")

	var b strings.Builder
	b.WriteString(label)
	if sub != "" && sub != label {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(sub)
	}
	if org != "" && org != label {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(org)
	}
	if period != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("(" + period + ")")
	}
	return strings.TrimSpace(b.String())
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
		if v, ok := m[k].(float64); ok {
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

// contentFields returns the parsed fields minus extraction metadata.
func contentFields(parsed map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	for k, v := range parsed {
		if metaKeys[k] {
			continue
		}
		fields[k] = v
	}
	return fields
}
