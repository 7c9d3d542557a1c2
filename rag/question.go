package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// QuestionConfig describes one question directory. Every question has a
// config.json; RAG questions additionally carry a prompt template and a
// retrieval query, synthesis questions a depends_on map.
type QuestionConfig struct {
	// Name is the question directory name, e.g. "birth_year".
	Name string `json:"-"`
	// Dir is the absolute path of the question directory.
	Dir string `json:"-"`

	Question     string `json:"question"`
	Mode         string `json:"mode"` // "rag" (default) or "synthesis"
	Query        string `json:"query"`
	PromptFile   string `json:"prompt_file"`
	VerifyFile   string `json:"verification_prompt_file"`
	OutputSuffix string `json:"output_suffix"`

	PrimaryListField          string `json:"primary_list_field"`
	MaxChunksToScan           int    `json:"max_chunks_to_scan"`
	EarlyStopOnHighConfidence bool   `json:"early_stop_on_high_confidence"`

	// SkipIfNull lists base-record fields that must be non-empty for the
	// question to run at all; a missing field yields a skipped result.
	SkipIfNull []string `json:"skip_if_null"`

	// Candidate fields feed the verification summary for single-fact
	// questions. When unset the summary falls back to the parsed content
	// fields.
	CandidateTitleField string `json:"candidate_title_field"`
	CandidateOrgField   string `json:"candidate_org_field"`

	// DependsOn maps template placeholders to the output suffix of the
	// question whose result block fills them. Synthesis questions only.
	DependsOn map[string]string `json:"depends_on"`

	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Synthesis reports whether this question combines prior answers
// instead of running retrieval.
func (q *QuestionConfig) Synthesis() bool {
	return q.Mode == "synthesis"
}

// MissingRequiredFields returns the skip_if_null fields that are empty
// in the base record.
func (q *QuestionConfig) MissingRequiredFields(b *BaseData) []string {
	var missing []string
	for _, field := range q.SkipIfNull {
		if strings.TrimSpace(b.Field(field)) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// Suffix returns the output file suffix, defaulting to the question name.
func (q *QuestionConfig) Suffix() string {
	if q.OutputSuffix != "" {
		return q.OutputSuffix
	}
	return q.Name
}

// LoadQuestion reads a question directory's config.json.
func LoadQuestion(dir string) (*QuestionConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("reading question config: %w", err)
	}
	q := &QuestionConfig{}
	if err := json.Unmarshal(data, q); err != nil {
		return nil, fmt.Errorf("parsing question config %s: %w", dir, err)
	}
	q.Name = filepath.Base(dir)
	q.Dir = dir
	if q.PromptFile == "" {
		q.PromptFile = "prompt.txt"
	}
	return q, nil
}

// DiscoverQuestions scans questionsDir for subdirectories containing a
// config.json and partitions them into RAG and synthesis questions,
// each sorted by name.
func DiscoverQuestions(questionsDir string) (rag, synthesis []*QuestionConfig, err error) {
	entries, err := os.ReadDir(questionsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading questions dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cfgPath := filepath.Join(questionsDir, e.Name(), "config.json")
		if _, err := os.Stat(cfgPath); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		q, err := LoadQuestion(filepath.Join(questionsDir, name))
		if err != nil {
			return nil, nil, err
		}
		if q.Synthesis() {
			synthesis = append(synthesis, q)
		} else {
			rag = append(rag, q)
		}
	}
	return rag, synthesis, nil
}

// Prompt loads and fills the question's extraction prompt template.
func (q *QuestionConfig) Prompt(vars map[string]string) (string, error) {
	data, err := os.ReadFile(filepath.Join(q.Dir, q.PromptFile))
	if err != nil {
		return "", fmt.Errorf("reading prompt template: %w", err)
	}
	return FillTemplate(string(data), vars), nil
}

// VerifyPrompt loads and fills the verification prompt template.
// Returns "" when the question has no verification template.
func (q *QuestionConfig) VerifyPrompt(vars map[string]string) (string, error) {
	if q.VerifyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(q.Dir, q.VerifyFile))
	if err != nil {
		return "", fmt.Errorf("reading verification template: %w", err)
	}
	return FillTemplate(string(data), vars), nil
}

// FillTemplate replaces {{KEY}} placeholders with their values.
// Unmatched placeholders are left in place so broken templates surface
// in the raw LLM output instead of silently producing empty prompts.
func FillTemplate(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// ParseNominationYear extracts the first plausible year from a free-form
// nomination field.
func ParseNominationYear(s string) int {
	m := yearRe.FindString(s)
	if m == "" {
		return 0
	}
	year, _ := strconv.Atoi(m)
	return year
}

// DirName converts a database person name ("Ngozi Okonjo-Iweala") to the
// on-disk directory form ("Ngozi_Okonjo-Iweala").
func DirName(personName string) string {
	return strings.ReplaceAll(personName, " ", "_")
}

// DBName converts a directory name back to the database person name.
func DBName(dirName string) string {
	return strings.ReplaceAll(dirName, "_", " ")
}

// BaseData holds the per-person base file contents used to fill
// prompt templates.
type BaseData struct {
	PersonName     string `json:"person_name"`
	NominationYear string `json:"nomination_year"`
	BirthYear      string `json:"birth_year,omitempty"`
	Nationality    string `json:"nationality,omitempty"`
}

// LoadBaseData reads data/<dir>/<dir>_base.json. A missing base file is
// an error; the wrapped cause satisfies errors.Is(err, fs.ErrNotExist).
func LoadBaseData(dataDir, personDir string) (*BaseData, error) {
	path := filepath.Join(dataDir, personDir, personDir+"_base.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading base data: %w", err)
	}
	base := &BaseData{}
	if err := json.Unmarshal(data, base); err != nil {
		return nil, fmt.Errorf("parsing base data %s: %w", path, err)
	}
	if base.PersonName == "" {
		base.PersonName = DBName(personDir)
	}
	return base, nil
}

// Field returns a base-record field by its JSON name, "" when the
// field is absent or unknown.
func (b *BaseData) Field(name string) string {
	switch name {
	case "person_name":
		return b.PersonName
	case "nomination_year":
		return b.NominationYear
	case "birth_year":
		return b.BirthYear
	case "nationality":
		return b.Nationality
	}
	return ""
}

// TemplateVars builds the standard variable set for prompt templates.
func (b *BaseData) TemplateVars() map[string]string {
	vars := map[string]string{
		"PERSON_NAME":     b.PersonName,
		"NOMINATION_YEAR": b.NominationYear,
	}
	if year := ParseNominationYear(b.NominationYear); year != 0 {
		vars["NOMINATION_YEAR"] = strconv.Itoa(year)
	}
	if b.BirthYear != "" {
		vars["BIRTH_YEAR"] = b.BirthYear
	}
	if b.Nationality != "" {
		vars["NATIONALITY"] = b.Nationality
	}
	return vars
}
