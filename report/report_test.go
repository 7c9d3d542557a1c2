package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func seedOutputs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Wangari_Maathai", "Wangari_Maathai_education.json"), `{
		"input": {"person_name": "Wangari Maathai", "question": "Where did she study?"},
		"extraction_trace": [],
		"verification_trace": [],
		"result": {
			"status": "found_and_verified",
			"confidence": "high",
			"confirmation_count": 2,
			"primary_source_domain": "nobelprize.org",
			"notes": ""
		},
		"meta": {"generated_at": "2026-08-24T00:00:00Z", "chat_model": "command-a-03-2025"}
	}`)
	writeFile(t, filepath.Join(dir, "Wangari_Maathai", "Wangari_Maathai_career.json"), `{
		"input": {"person_name": "Wangari Maathai", "question": "Career?"},
		"extraction_trace": [],
		"verification_trace": [],
		"result": {"status": "cannot_determine", "confirmation_count": 0},
		"meta": {}
	}`)
	// Not a result file; must be ignored.
	writeFile(t, filepath.Join(dir, "Wangari_Maathai", "notes.json"), `{"foo": 1}`)
	return dir
}

func seedSidecars(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Wangari_Maathai_org_links.json"), `{
		"person_name": "Wangari Maathai",
		"generated_at": "2026-08-24T00:00:00Z",
		"total_orgs": 2,
		"matched_count": 1,
		"review_needed_count": 1,
		"stubs_created_count": 0,
		"org_links": [
			{
				"raw_name": "University of Nairobi",
				"canonical_name": "University of Nairobi",
				"match_method": "exact_canonical",
				"meta_type": "university",
				"matched": true,
				"needs_review": false,
				"org_type_classified": "university"
			},
			{
				"raw_name": "Green Belt Mvmt",
				"meta_type": "ngo",
				"matched": false,
				"needs_review": true,
				"org_type_classified": "ngo",
				"stub_created": false,
				"proposed_match_canonical": "Green Belt Movement",
				"proposed_match_confidence": 0.74
			}
		]
	}`)
	return dir
}

// ---------------------------------------------------------------------------
// collection
// ---------------------------------------------------------------------------

func TestCollectResults(t *testing.T) {
	rows, err := CollectResults(seedOutputs(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// Sorted by question within person.
	if rows[0].Question != "career" || rows[1].Question != "education" {
		t.Errorf("question order = %q, %q", rows[0].Question, rows[1].Question)
	}
	edu := rows[1]
	if edu.Person != "Wangari Maathai" || edu.Status != "found_and_verified" ||
		edu.Confidence != "high" || edu.Confirmations != 2 || edu.PrimaryDomain != "nobelprize.org" {
		t.Errorf("education row = %+v", edu)
	}
}

func TestCollectOrgReview(t *testing.T) {
	rows, err := CollectOrgReview(seedSidecars(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 (matched entries excluded)", len(rows))
	}
	r := rows[0]
	if r.RawName != "Green Belt Mvmt" || r.ProposedMatch != "Green Belt Movement" ||
		r.ProposedConfidence != 0.74 || r.Classified != "ngo" {
		t.Errorf("review row = %+v", r)
	}
}

// ---------------------------------------------------------------------------
// workbook
// ---------------------------------------------------------------------------

func TestWriteWorkbook(t *testing.T) {
	results, err := CollectResults(seedOutputs(t))
	if err != nil {
		t.Fatal(err)
	}
	review, err := CollectOrgReview(seedSidecars(t))
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "review.xlsx")
	if err := WriteWorkbook(path, results, review); err != nil {
		t.Fatalf("WriteWorkbook: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != resultsSheet || sheets[1] != reviewSheet {
		t.Errorf("sheets = %v", sheets)
	}

	if got, _ := f.GetCellValue(resultsSheet, "C1"); got != "Status" {
		t.Errorf("results header C1 = %q", got)
	}
	if got, _ := f.GetCellValue(resultsSheet, "C3"); got != "found_and_verified" {
		t.Errorf("results C3 = %q", got)
	}
	if got, _ := f.GetCellValue(reviewSheet, "B2"); got != "Green Belt Mvmt" {
		t.Errorf("review B2 = %q", got)
	}
	if got, _ := f.GetCellValue(reviewSheet, "D2"); got != "Green Belt Movement" {
		t.Errorf("review D2 = %q", got)
	}
}
