package match

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"

	biograph "github.com/brunobiangulo/biograph"
	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/ontology"
)

// Match methods, in cascade order.
const (
	MethodExactCanonical = "exact_canonical"
	MethodExactVariation = "exact_variation"
	MethodEmbedding      = "embedding"
	MethodLLM            = "llm"
)

// Result is the outcome of matching one raw organization name.
type Result struct {
	RawName                 string   `json:"raw_name"`
	MatchedCanonical        string   `json:"matched_canonical,omitempty"`
	MatchMethod             string   `json:"match_method,omitempty"`
	MatchConfidence         *float64 `json:"match_confidence,omitempty"`
	OntologyTag             string   `json:"ontology_tag,omitempty"`
	MetaType                string   `json:"meta_type"`
	Matched                 bool     `json:"matched"`
	NeedsReview             bool     `json:"needs_review"`
	OrgTypeClassified       string   `json:"org_type_classified"`
	ProposedMatchCanonical  string   `json:"proposed_match_canonical,omitempty"`
	ProposedMatchConfidence *float64 `json:"proposed_match_confidence,omitempty"`
}

// Matcher runs the classification and matching cascade. Build one and
// reuse it: the ontology subset lists and embedding indexes are cached
// across calls.
type Matcher struct {
	onto     *ontology.Store
	cfg      biograph.MatchingConfig
	embedder *EmbeddingMatcher
	disamb   *Disambiguator
	logger   *slog.Logger

	// Embedding index for the most recently searched subset. Guarded for
	// concurrent MatchPerson callers.
	mu     sync.Mutex
	idxKey string
	idx    *embedIndex
}

// New creates a matcher. embedProvider and chatProvider may be nil to
// disable the embedding and LLM tiers regardless of configuration.
func New(onto *ontology.Store, cfg biograph.MatchingConfig, embedProvider llm.Provider, chatProvider llm.Provider, chatModel string, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Matcher{onto: onto, cfg: cfg, logger: logger}
	if cfg.UseEmbedding && embedProvider != nil {
		m.embedder = NewEmbeddingMatcher(embedProvider, cfg.EmbedModel)
	}
	if (cfg.UseLLMMatch || cfg.UseLLMClassify) && chatProvider != nil {
		m.disamb = NewDisambiguator(chatProvider, chatModel)
	}
	return m
}

// entriesFor returns the ontology subset for a search meta-type; an empty
// subset key means the whole ontology.
func (m *Matcher) entriesFor(searchMetaType string) []*ontology.Entry {
	if searchMetaType == "" {
		return m.onto.All()
	}
	return m.onto.ByMetaType(searchMetaType)
}

// ensureIndex builds the embedding index for the subset if the cached one
// is for a different subset.
func (m *Matcher) ensureIndex(ctx context.Context, searchMetaType string) *embedIndex {
	if m.embedder == nil {
		return nil
	}
	key := searchMetaType
	if key == "" {
		key = "all"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idxKey == key && m.idx != nil {
		return m.idx
	}
	idx, err := m.embedder.buildIndex(ctx, m.entriesFor(searchMetaType))
	if err != nil {
		m.logger.Warn("embedding index build failed, tier disabled for this call",
			"subset", key, "error", err)
		return nil
	}
	m.idxKey = key
	m.idx = idx
	return idx
}

func buildResult(rawName, orgType string) *Result {
	return &Result{
		RawName:           rawName,
		MetaType:          ontology.MetaTypeFor(orgType),
		OrgTypeClassified: orgType,
	}
}

func (r *Result) setMatch(e *ontology.Entry, method string, confidence float64) {
	r.Matched = true
	r.MatchMethod = method
	c := round4(confidence)
	r.MatchConfidence = &c
	r.MatchedCanonical = e.CanonicalName
	r.OntologyTag = e.Tag()
	if e.MetaType != "" {
		r.MetaType = e.MetaType
	}
}

func (r *Result) setProposal(e *ontology.Entry, confidence float64) {
	r.NeedsReview = true
	r.ProposedMatchCanonical = e.CanonicalName
	c := round4(confidence)
	r.ProposedMatchConfidence = &c
	if e.MetaType != "" {
		r.MetaType = e.MetaType
	}
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// MatchOne runs the full cascade for a single raw organization name.
// matchContext is free text shown to the disambiguation LLM, typically
// "Person: <name>".
func (m *Matcher) MatchOne(ctx context.Context, rawName, matchContext string) *Result {
	rawName = strings.TrimSpace(rawName)
	if rawName == "" {
		return buildResult("", ontology.CategoryOther)
	}

	// Classify. The LLM classifier is a hint consulted only when the
	// keyword rules land in the other bucket.
	orgType := ontology.Classify(rawName)
	if orgType == ontology.CategoryOther && m.cfg.UseLLMClassify && m.disamb != nil {
		if llmType := m.disamb.ClassifyOrg(ctx, rawName); llmType != "" && llmType != ontology.CategoryOther {
			orgType = llmType
		}
	}
	searchMetaType := ontology.SearchMetaTypeFor(orgType)
	result := buildResult(rawName, orgType)

	// Exact tiers.
	if e, ok := m.onto.LookupCanonical(rawName); ok {
		result.setMatch(e, MethodExactCanonical, 1.0)
		return result
	}
	if e, ok := m.onto.LookupVariation(rawName); ok {
		result.setMatch(e, MethodExactVariation, 1.0)
		return result
	}

	entries := m.entriesFor(searchMetaType)

	// Fuzzy tier. Scores at or above the accept threshold match outright;
	// the review band is held as a candidate while later tiers run.
	var reviewCandidate *FuzzyMatch
	if f := BestFuzzy(rawName, entries, m.cfg.FuzzyReviewThreshold); f != nil {
		if f.Score >= m.cfg.FuzzyAcceptThreshold {
			result.setMatch(f.Entry, f.Method, f.Score/100.0)
			return result
		}
		reviewCandidate = f
	}

	// Embedding tier.
	if idx := m.ensureIndex(ctx, searchMetaType); idx != nil {
		e, score, err := m.embedder.findSimilar(ctx, idx, rawName, m.cfg.EmbeddingThreshold)
		if err != nil {
			m.logger.Warn("embedding match failed", "org", rawName, "error", err)
		} else if e != nil {
			result.setMatch(e, MethodEmbedding, score)
			return result
		}
	}

	// LLM disambiguation over merged fuzzy and embedding candidates.
	if m.cfg.UseLLMMatch && m.disamb != nil {
		candidates := FuzzyTopN(rawName, entries, m.cfg.MaxLLMCandidates, 40.0)
		if idx := m.ensureIndex(ctx, searchMetaType); idx != nil {
			embedTop, err := m.embedder.findTopN(ctx, idx, rawName, m.cfg.MaxLLMCandidates, 0.50)
			if err != nil {
				m.logger.Warn("embedding candidates failed", "org", rawName, "error", err)
			} else {
				seen := make(map[string]bool, len(candidates))
				for _, c := range candidates {
					seen[c.Entry.CanonicalName] = true
				}
				for _, c := range embedTop {
					if !seen[c.Entry.CanonicalName] {
						candidates = append(candidates, c)
					}
				}
			}
		}
		if len(candidates) > 0 {
			if len(candidates) > m.cfg.MaxLLMCandidates {
				candidates = candidates[:m.cfg.MaxLLMCandidates]
			}
			entryList := make([]*ontology.Entry, len(candidates))
			for i, c := range candidates {
				entryList[i] = c.Entry
			}
			if e, confidence := m.disamb.Disambiguate(ctx, rawName, entryList, matchContext); e != nil {
				result.setMatch(e, MethodLLM, confidence)
				return result
			}
		}
	}

	// Review proposal from the fuzzy band, then no match.
	if reviewCandidate != nil {
		result.setProposal(reviewCandidate.Entry, reviewCandidate.Score/100.0)
	}
	return result
}

// MatchPerson matches every unique organization in a person's career
// events, preserving first-occurrence order. One result per unique name.
func (m *Matcher) MatchPerson(ctx context.Context, personName string, events []CareerEvent) []*Result {
	seen := make(map[string]bool)
	var orgNames []string
	for _, ev := range events {
		for _, org := range ev.Organizations {
			org = strings.TrimSpace(org)
			if org == "" {
				continue
			}
			if m.cfg.DeduplicateOrgs && seen[org] {
				continue
			}
			seen[org] = true
			orgNames = append(orgNames, org)
		}
	}

	matchContext := "Person: " + personName
	results := make([]*Result, 0, len(orgNames))
	for _, org := range orgNames {
		results = append(results, m.MatchOne(ctx, org, matchContext))
	}
	return results
}

// BuildStub converts an unmatched result into a pending ontology entry.
func BuildStub(r *Result) *ontology.Entry {
	category := r.OrgTypeClassified
	return &ontology.Entry{
		CanonicalName:   r.RawName,
		VariationsFound: []string{},
		OrgTypes:        ontology.OrgTypesFor(category),
		MetaType:        ontology.MetaTypeFor(category),
		Sector:          ontology.SectorFor(category),
		Source:          ontology.SourceAutoStub,
		Status:          ontology.StatusPendingReview,
	}
}

// CollectStubs builds stub entries for unmatched, non-review results,
// deduplicated and filtered against canonicals already in the ontology.
func CollectStubs(onto *ontology.Store, results []*Result) []*ontology.Entry {
	seen := make(map[string]bool)
	var stubs []*ontology.Entry
	for _, r := range results {
		if r.Matched || r.NeedsReview || r.RawName == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(r.RawName))
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, exists := onto.LookupCanonical(r.RawName); exists {
			continue
		}
		stubs = append(stubs, BuildStub(r))
	}
	return stubs
}
