package match

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CareerEvent is one event in a person's extracted timeline. Only the
// organization list matters for matching; the remaining fields ride along
// for sidecar consumers.
type CareerEvent struct {
	Year          string   `json:"year,omitempty"`
	Description   string   `json:"description,omitempty"`
	Organizations []string `json:"organizations"`
}

// Timeline is the content of a *_career_events.json file.
type Timeline struct {
	PersonName   string        `json:"person_name"`
	CareerEvents []CareerEvent `json:"career_events"`
}

// TimelineFile pairs a person with the file their timeline lives in.
type TimelineFile struct {
	PersonName string
	Path       string
}

// DiscoverTimelines finds every *_career_events.json under baseDir,
// recursively, sorted by person name. The person name comes from the file
// content, falling back to the filename stem.
func DiscoverTimelines(baseDir string) ([]TimelineFile, error) {
	var out []TimelineFile
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), "_career_events.json") {
			return nil
		}
		name := strings.TrimSuffix(d.Name(), ".json")
		if tl, err := LoadTimeline(path); err == nil && tl.PersonName != "" {
			name = tl.PersonName
		}
		out = append(out, TimelineFile{PersonName: name, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering timelines in %s: %w", baseDir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonName < out[j].PersonName })
	return out, nil
}

// LoadTimeline reads one timeline file.
func LoadTimeline(path string) (*Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading timeline: %w", err)
	}
	var tl Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, fmt.Errorf("parsing timeline %s: %w", path, err)
	}
	return &tl, nil
}

// OrgLink is one sidecar row for a matched or unmatched organization.
type OrgLink struct {
	RawName                 string   `json:"raw_name"`
	CanonicalName           string   `json:"canonical_name,omitempty"`
	MatchMethod             string   `json:"match_method,omitempty"`
	MatchConfidence         *float64 `json:"match_confidence,omitempty"`
	OntologyTag             string   `json:"ontology_tag,omitempty"`
	MetaType                string   `json:"meta_type"`
	Matched                 bool     `json:"matched"`
	NeedsReview             bool     `json:"needs_review"`
	OrgTypeClassified       string   `json:"org_type_classified"`
	StubCreated             bool     `json:"stub_created"`
	ProposedMatchCanonical  string   `json:"proposed_match_canonical,omitempty"`
	ProposedMatchConfidence *float64 `json:"proposed_match_confidence,omitempty"`
}

// Sidecar is the per-person output written next to the timeline file.
type Sidecar struct {
	PersonName        string    `json:"person_name"`
	GeneratedAt       time.Time `json:"generated_at"`
	TotalOrgs         int       `json:"total_orgs"`
	MatchedCount      int       `json:"matched_count"`
	ReviewNeededCount int       `json:"review_needed_count"`
	StubsCreatedCount int       `json:"stubs_created_count"`
	OrgLinks          []OrgLink `json:"org_links"`
}

// BuildSidecar converts match results to a sidecar document. stubCreated
// maps raw names to whether a stub was written for them this run.
func BuildSidecar(personName string, results []*Result, stubCreated map[string]bool) *Sidecar {
	sc := &Sidecar{
		PersonName:  personName,
		GeneratedAt: time.Now().UTC(),
		TotalOrgs:   len(results),
		OrgLinks:    make([]OrgLink, 0, len(results)),
	}
	for _, r := range results {
		link := OrgLink{
			RawName:           r.RawName,
			CanonicalName:     r.MatchedCanonical,
			MatchMethod:       r.MatchMethod,
			MatchConfidence:   r.MatchConfidence,
			OntologyTag:       r.OntologyTag,
			MetaType:          r.MetaType,
			Matched:           r.Matched,
			NeedsReview:       r.NeedsReview,
			OrgTypeClassified: r.OrgTypeClassified,
			StubCreated:       stubCreated[r.RawName],
		}
		if r.NeedsReview {
			link.ProposedMatchCanonical = r.ProposedMatchCanonical
			link.ProposedMatchConfidence = r.ProposedMatchConfidence
		}
		if link.Matched {
			sc.MatchedCount++
		}
		if link.NeedsReview {
			sc.ReviewNeededCount++
		}
		if link.StubCreated {
			sc.StubsCreatedCount++
		}
		sc.OrgLinks = append(sc.OrgLinks, link)
	}
	return sc
}

// LoadSidecar reads a previously written sidecar file.
func LoadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sidecar: %w", err)
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing sidecar %s: %w", path, err)
	}
	return &sc, nil
}

// SaveSidecar writes the sidecar as <Person_Name>_org_links.json next to
// the timeline file and returns the path written.
func SaveSidecar(sc *Sidecar, timelinePath string) (string, error) {
	safeName := strings.ReplaceAll(sc.PersonName, " ", "_")
	outPath := filepath.Join(filepath.Dir(timelinePath), safeName+"_org_links.json")

	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding sidecar: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing sidecar: %w", err)
	}
	return outPath, nil
}
