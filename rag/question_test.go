package rag

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// writeQuestion creates a question directory with config and templates.
func writeQuestion(t *testing.T, root, name, configJSON, prompt, verify string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating question dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(configJSON), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if prompt != "" {
		if err := os.WriteFile(filepath.Join(dir, "prompt.txt"), []byte(prompt), 0644); err != nil {
			t.Fatalf("writing prompt: %v", err)
		}
	}
	if verify != "" {
		if err := os.WriteFile(filepath.Join(dir, "verify.txt"), []byte(verify), 0644); err != nil {
			t.Fatalf("writing verify template: %v", err)
		}
	}
	return dir
}

func TestFillTemplate(t *testing.T) {
	got := FillTemplate("Find {{PERSON_NAME}} born {{YEAR}}. {{MISSING}} stays.",
		map[string]string{"PERSON_NAME": "Ada Lovelace", "YEAR": "1815"})
	want := "Find Ada Lovelace born 1815. {{MISSING}} stays."
	if got != want {
		t.Errorf("FillTemplate = %q, want %q", got, want)
	}
}

func TestParseNominationYear(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"2005", 2005},
		{"nominated in 1998 (spring)", 1998},
		{"panel of 1947, renominated 2020", 1947},
		{"born 1815", 0},
		{"342", 0},
		{"", 0},
		{"year 2105", 0},
	}
	for _, tt := range tests {
		if got := ParseNominationYear(tt.in); got != tt.want {
			t.Errorf("ParseNominationYear(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDirAndDBNames(t *testing.T) {
	if got := DirName("Ngozi Okonjo-Iweala"); got != "Ngozi_Okonjo-Iweala" {
		t.Errorf("DirName = %q", got)
	}
	if got := DBName("Ngozi_Okonjo-Iweala"); got != "Ngozi Okonjo-Iweala" {
		t.Errorf("DBName = %q", got)
	}
}

func TestDiscoverQuestions(t *testing.T) {
	root := t.TempDir()
	writeQuestion(t, root, "birth_year", `{"question": "birth year", "query": "q"}`, "p", "")
	writeQuestion(t, root, "career_summary", `{"question": "summary", "mode": "synthesis", "depends_on": {"A": "birth_year"}}`, "p", "")
	writeQuestion(t, root, "nationality", `{"question": "nationality", "query": "q"}`, "p", "")
	// Directory without config.json is ignored.
	if err := os.MkdirAll(filepath.Join(root, "notes"), 0755); err != nil {
		t.Fatal(err)
	}

	rag, synthesis, err := DiscoverQuestions(root)
	if err != nil {
		t.Fatalf("DiscoverQuestions: %v", err)
	}
	if len(rag) != 2 {
		t.Fatalf("got %d rag questions, want 2", len(rag))
	}
	if rag[0].Name != "birth_year" || rag[1].Name != "nationality" {
		t.Errorf("rag questions not sorted: %s, %s", rag[0].Name, rag[1].Name)
	}
	if len(synthesis) != 1 || synthesis[0].Name != "career_summary" {
		t.Errorf("synthesis partition wrong: %v", synthesis)
	}
	if synthesis[0].DependsOn["A"] != "birth_year" {
		t.Errorf("depends_on not loaded: %v", synthesis[0].DependsOn)
	}
}

func TestQuestionSuffix(t *testing.T) {
	q := &QuestionConfig{Name: "birth_year"}
	if q.Suffix() != "birth_year" {
		t.Errorf("default suffix = %q", q.Suffix())
	}
	q.OutputSuffix = "by"
	if q.Suffix() != "by" {
		t.Errorf("explicit suffix = %q", q.Suffix())
	}
}

func TestLoadBaseData(t *testing.T) {
	dataDir := t.TempDir()
	personDir := "Ada_Lovelace"
	if err := os.MkdirAll(filepath.Join(dataDir, personDir), 0755); err != nil {
		t.Fatal(err)
	}
	base := `{"person_name": "Ada Lovelace", "nomination_year": "nominated 1942", "nationality": "British"}`
	if err := os.WriteFile(filepath.Join(dataDir, personDir, personDir+"_base.json"), []byte(base), 0644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadBaseData(dataDir, personDir)
	if err != nil {
		t.Fatalf("LoadBaseData: %v", err)
	}
	if b.PersonName != "Ada Lovelace" {
		t.Errorf("person name = %q", b.PersonName)
	}

	vars := b.TemplateVars()
	if vars["NOMINATION_YEAR"] != "1942" {
		t.Errorf("NOMINATION_YEAR = %q, want parsed year", vars["NOMINATION_YEAR"])
	}
	if vars["NATIONALITY"] != "British" {
		t.Errorf("NATIONALITY = %q", vars["NATIONALITY"])
	}
}

func TestLoadBaseDataMissingFile(t *testing.T) {
	_, err := LoadBaseData(t.TempDir(), "Jane_Doe")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestBaseDataField(t *testing.T) {
	b := &BaseData{PersonName: "Ada", NominationYear: "1942", Nationality: "British"}
	tests := []struct{ field, want string }{
		{"person_name", "Ada"},
		{"nomination_year", "1942"},
		{"nationality", "British"},
		{"birth_year", ""},
		{"unknown_field", ""},
	}
	for _, tt := range tests {
		if got := b.Field(tt.field); got != tt.want {
			t.Errorf("Field(%q) = %q, want %q", tt.field, got, tt.want)
		}
	}
}

func TestMissingRequiredFields(t *testing.T) {
	q := &QuestionConfig{SkipIfNull: []string{"nomination_year", "birth_year"}}
	b := &BaseData{PersonName: "Ada", NominationYear: "1942"}
	got := q.MissingRequiredFields(b)
	if len(got) != 1 || got[0] != "birth_year" {
		t.Errorf("missing fields = %v, want [birth_year]", got)
	}
	b.BirthYear = "1915"
	if got := q.MissingRequiredFields(b); got != nil {
		t.Errorf("missing fields = %v, want none", got)
	}
}
