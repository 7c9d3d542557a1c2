// Package report exports review workbooks summarising pipeline runs:
// one sheet of per-question answers, one sheet of organization matches
// waiting on a human decision.
package report

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/biograph/match"
	"github.com/brunobiangulo/biograph/rag"
)

// ResultRow is one answer in the results sheet.
type ResultRow struct {
	Person        string
	Question      string
	Status        string
	Confidence    string
	Confirmations int
	PrimaryDomain string
	Notes         string
}

// ReviewRow is one needs-review organization in the review sheet.
type ReviewRow struct {
	Person             string
	RawName            string
	Classified         string
	ProposedMatch      string
	ProposedConfidence float64
	StubCreated        bool
}

// CollectResults walks outputs/<person>/<person>_<question>.json files
// and flattens their result blocks. Unparseable files are skipped.
func CollectResults(outputsDir string) ([]ResultRow, error) {
	var rows []ResultRow
	err := filepath.WalkDir(outputsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		personDir := filepath.Base(filepath.Dir(path))
		stem := strings.TrimSuffix(d.Name(), ".json")
		if !strings.HasPrefix(stem, personDir+"_") {
			return nil
		}

		out, err := rag.LoadOutput(path)
		if err != nil || out.Result.Status == "" {
			return nil
		}
		person := out.Input.PersonName
		if person == "" {
			person = strings.ReplaceAll(personDir, "_", " ")
		}
		rows = append(rows, ResultRow{
			Person:        person,
			Question:      strings.TrimPrefix(stem, personDir+"_"),
			Status:        out.Result.Status,
			Confidence:    out.Result.Confidence,
			Confirmations: out.Result.ConfirmationCount,
			PrimaryDomain: out.Result.PrimarySourceDomain,
			Notes:         out.Result.Notes,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting results in %s: %w", outputsDir, err)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Person != rows[j].Person {
			return rows[i].Person < rows[j].Person
		}
		return rows[i].Question < rows[j].Question
	})
	return rows, nil
}

// CollectOrgReview walks *_org_links.json sidecars under baseDir and
// returns the entries flagged for review.
func CollectOrgReview(baseDir string) ([]ReviewRow, error) {
	var rows []ReviewRow
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), "_org_links.json") {
			return nil
		}
		sc, err := match.LoadSidecar(path)
		if err != nil {
			return nil
		}
		for _, link := range sc.OrgLinks {
			if !link.NeedsReview {
				continue
			}
			row := ReviewRow{
				Person:        sc.PersonName,
				RawName:       link.RawName,
				Classified:    link.OrgTypeClassified,
				ProposedMatch: link.ProposedMatchCanonical,
				StubCreated:   link.StubCreated,
			}
			if link.ProposedMatchConfidence != nil {
				row.ProposedConfidence = *link.ProposedMatchConfidence
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting org reviews in %s: %w", baseDir, err)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Person != rows[j].Person {
			return rows[i].Person < rows[j].Person
		}
		return rows[i].RawName < rows[j].RawName
	})
	return rows, nil
}

const (
	resultsSheet = "Results"
	reviewSheet  = "Org Review"
)

// WriteWorkbook writes both sheets to an xlsx file at path.
func WriteWorkbook(path string, results []ResultRow, review []ReviewRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	if _, err := f.NewSheet(reviewSheet); err != nil {
		return fmt.Errorf("adding sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	resultHeaders := []string{"Person", "Question", "Status", "Confidence", "Confirmations", "Primary Domain", "Notes"}
	if err := writeRow(f, resultsSheet, 1, toCells(resultHeaders)); err != nil {
		return err
	}
	for i, r := range results {
		cells := []interface{}{r.Person, r.Question, r.Status, r.Confidence, r.Confirmations, r.PrimaryDomain, r.Notes}
		if err := writeRow(f, resultsSheet, i+2, cells); err != nil {
			return err
		}
	}

	reviewHeaders := []string{"Person", "Raw Name", "Classified Type", "Proposed Match", "Proposed Confidence", "Stub Created"}
	if err := writeRow(f, reviewSheet, 1, toCells(reviewHeaders)); err != nil {
		return err
	}
	for i, r := range review {
		cells := []interface{}{r.Person, r.RawName, r.Classified, r.ProposedMatch, r.ProposedConfidence, r.StubCreated}
		if err := writeRow(f, reviewSheet, i+2, cells); err != nil {
			return err
		}
	}

	for _, sheet := range []string{resultsSheet, reviewSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
			return fmt.Errorf("styling header: %w", err)
		}
		if err := f.SetColWidth(sheet, "A", "B", 28); err != nil {
			return fmt.Errorf("setting column width: %w", err)
		}
		if err := f.SetColWidth(sheet, "C", "G", 18); err != nil {
			return fmt.Errorf("setting column width: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func toCells(headers []string) []interface{} {
	cells := make([]interface{}, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	return cells
}

func writeRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	for i, v := range cells {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("writing %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}
