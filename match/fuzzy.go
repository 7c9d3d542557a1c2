// Package match resolves raw organization name strings against the
// ontology through a cascade of exact, fuzzy, embedding, and LLM tiers.
package match

import (
	"regexp"
	"sort"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/brunobiangulo/biograph/ontology"
)

var (
	parenRe   = regexp.MustCompile(`\s*\([^)]*\)\s*`)
	spaceRe   = regexp.MustCompile(`\s+`)
	acronymRe = regexp.MustCompile(`\(([A-Z][A-Z0-9\-]{1,7})\)`)
)

// Normalize prepares a name for fuzzy comparison: strip parenthetical
// content, collapse whitespace, lowercase, drop trailing punctuation.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	name = parenRe.ReplaceAllString(name, " ")
	name = spaceRe.ReplaceAllString(name, " ")
	name = strings.ToLower(name)
	name = strings.TrimRight(name, ".,;:")
	return strings.TrimSpace(name)
}

// ExtractAcronym pulls an acronym-like parenthesized token out of a name:
// "Poverty Action Lab (J-PAL)" yields "J-PAL". Returns "" when the name
// carries no such token.
func ExtractAcronym(name string) string {
	m := acronymRe.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1]
}

// candidate is one scorable string belonging to an entry.
type candidate struct {
	normalized string
	entry      *ontology.Entry
	field      string // "canonical" or "variation"
}

func buildCandidates(entries []*ontology.Entry) []candidate {
	var out []candidate
	for _, e := range entries {
		if e.CanonicalName != "" {
			out = append(out, candidate{Normalize(e.CanonicalName), e, "canonical"})
		}
		for _, v := range e.VariationsFound {
			if v != "" {
				out = append(out, candidate{Normalize(v), e, "variation"})
			}
		}
	}
	return out
}

// scoreAgainst scores one normalized query against one candidate string
// as the max of token-sort ratio and weighted ratio.
func scoreAgainst(query, cand string) float64 {
	ts := fuzzy.TokenSortRatio(query, cand)
	wr := fuzzy.WRatio(query, cand)
	if wr > ts {
		return float64(wr)
	}
	return float64(ts)
}

// FuzzyMatch is the best fuzzy hit for a raw name.
type FuzzyMatch struct {
	Entry         *ontology.Entry
	Score         float64 // 0-100
	Method        string  // fuzzy_canonical or fuzzy_variation
	MatchedString string
}

// BestFuzzy fuzzy-matches rawName against the entries, scoring the
// canonical name and every alias separately, plus a parenthesized acronym
// when present. Returns nil when the best score is below threshold.
func BestFuzzy(rawName string, entries []*ontology.Entry, threshold float64) *FuzzyMatch {
	cands := buildCandidates(entries)
	if len(cands) == 0 {
		return nil
	}

	query := Normalize(rawName)
	acronym := strings.ToLower(strings.TrimSpace(ExtractAcronym(rawName)))

	bestScore := 0.0
	bestIdx := -1
	for i, c := range cands {
		s := scoreAgainst(query, c.normalized)
		if acronym != "" {
			if as := float64(fuzzy.TokenSortRatio(acronym, c.normalized)); as > s {
				s = as
			}
		}
		if s > bestScore {
			bestScore = s
			bestIdx = i
		}
	}

	if bestIdx < 0 || bestScore < threshold {
		return nil
	}
	c := cands[bestIdx]
	return &FuzzyMatch{
		Entry:         c.entry,
		Score:         bestScore,
		Method:        "fuzzy_" + c.field,
		MatchedString: c.normalized,
	}
}

// Scored pairs an entry with a score, used for candidate gathering.
type Scored struct {
	Entry *ontology.Entry
	Score float64
}

// FuzzyTopN returns the best-scoring entries above minScore, deduplicated
// by entry with the maximum score across its candidate strings kept.
func FuzzyTopN(rawName string, entries []*ontology.Entry, n int, minScore float64) []Scored {
	cands := buildCandidates(entries)
	if len(cands) == 0 {
		return nil
	}

	query := Normalize(rawName)
	acronym := strings.ToLower(strings.TrimSpace(ExtractAcronym(rawName)))

	best := make(map[*ontology.Entry]float64)
	for _, c := range cands {
		s := scoreAgainst(query, c.normalized)
		if acronym != "" {
			if as := float64(fuzzy.TokenSortRatio(acronym, c.normalized)); as > s {
				s = as
			}
		}
		if s > best[c.entry] {
			best[c.entry] = s
		}
	}

	var out []Scored
	for e, s := range best {
		if s >= minScore {
			out = append(out, Scored{Entry: e, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
