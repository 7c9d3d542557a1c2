package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/biograph/retrieval"
)

// Output is the full result file written for one (person, question) pair.
type Output struct {
	Input             Input                `json:"input"`
	Retrieval         *retrieval.Trace     `json:"retrieval,omitempty"`
	ExtractionTrace   []*ExtractionEntry   `json:"extraction_trace"`
	VerificationTrace []VerificationEntry  `json:"verification_trace"`
	Result            Result               `json:"result"`
	Meta              Meta                 `json:"meta"`
}

// Input echoes what the question was asked about.
type Input struct {
	PersonName     string `json:"person_name"`
	Question       string `json:"question"`
	NominationYear string `json:"nomination_year,omitempty"`
}

// Meta records provenance for the output file.
type Meta struct {
	GeneratedAt string `json:"generated_at"`
	ChatModel   string `json:"chat_model"`
	DurationMs  int64  `json:"duration_ms"`
}

// NewOutput initialises an output frame for a run.
func NewOutput(base *BaseData, q *QuestionConfig, chatModel string) *Output {
	return &Output{
		Input: Input{
			PersonName:     base.PersonName,
			Question:       q.Question,
			NominationYear: base.NominationYear,
		},
		ExtractionTrace:   []*ExtractionEntry{},
		VerificationTrace: []VerificationEntry{},
		Meta:              Meta{ChatModel: chatModel},
	}
}

func (o *Output) finish(start time.Time) {
	o.Meta.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	o.Meta.DurationMs = time.Since(start).Milliseconds()
}

// MarshalJSON flattens the best answer's content fields into the result
// object alongside the fixed keys.
func (r Result) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"status":             r.Status,
		"confirmation_count": r.ConfirmationCount,
	}
	if r.Confidence != "" {
		m["confidence"] = r.Confidence
	}
	if r.SupportingQuote != "" {
		m["supporting_quote"] = r.SupportingQuote
	}
	if r.PrimarySourceDomain != "" {
		m["primary_source_domain"] = r.PrimarySourceDomain
	}
	if r.Notes != "" {
		m["notes"] = r.Notes
	}
	for k, v := range r.Fields {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON restores the fixed keys and collects the rest into Fields.
func (r *Result) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if v, ok := m["status"].(string); ok {
		r.Status = v
	}
	if v, ok := m["confidence"].(string); ok {
		r.Confidence = v
	}
	if v, ok := m["supporting_quote"].(string); ok {
		r.SupportingQuote = v
	}
	if v, ok := m["primary_source_domain"].(string); ok {
		r.PrimarySourceDomain = v
	}
	if v, ok := m["notes"].(string); ok {
		r.Notes = v
	}
	if v, ok := m["confirmation_count"].(float64); ok {
		r.ConfirmationCount = int(v)
	}
	for _, k := range []string{"status", "confidence", "supporting_quote",
		"primary_source_domain", "notes", "confirmation_count"} {
		delete(m, k)
	}
	if len(m) > 0 {
		r.Fields = m
	}
	return nil
}

// OutputPath returns outputs/<dir>/<dir>_<suffix>.json.
func OutputPath(outputDir, personDir, suffix string) string {
	return filepath.Join(outputDir, personDir, personDir+"_"+suffix+".json")
}

// Save writes the output file atomically, overwriting any previous run.
func (o *Output) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".result_*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing output: %w", err)
	}
	return nil
}

// LoadOutput reads a previously saved output file.
func LoadOutput(path string) (*Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	o := &Output{}
	if err := json.Unmarshal(data, o); err != nil {
		return nil, fmt.Errorf("parsing output %s: %w", path, err)
	}
	return o, nil
}

// LoadResultBlock reads just the "result" object of a saved output file
// as indented JSON, for injection into synthesis prompts.
func LoadResultBlock(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var raw struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("parsing output %s: %w", path, err)
	}
	if len(raw.Result) == 0 {
		return "", fmt.Errorf("output %s has no result block", path)
	}
	var buf interface{}
	if err := json.Unmarshal(raw.Result, &buf); err != nil {
		return "", err
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}
