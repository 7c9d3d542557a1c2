package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/ontology"
)

const (
	maxExistingTags = 80
	tagsForPrompt   = 30
)

// Enrichment methods.
const (
	MethodSerperLLM  = "serper+llm"
	MethodSerperOnly = "serper_only"
	MethodFallback   = "fallback"
)

// Proposal is the enrichment output for one stub.
type Proposal struct {
	CanonicalName    string   `json:"canonical_name"`
	VariationsFound  []string `json:"variations_found"`
	MetaType         string   `json:"meta_type"`
	Sector           string   `json:"sector"`
	LocationCountry  string   `json:"location_country,omitempty"`
	LocationCity     string   `json:"location_city,omitempty"`
	SuggestedTag     string   `json:"suggested_tag,omitempty"`
	ParentOrg        string   `json:"parent_org,omitempty"`
	Confidence       float64  `json:"confidence"`
	Sources          []string `json:"sources"`
	Reasoning        string   `json:"reasoning"`
	EnrichmentMethod string   `json:"enrichment_method"`
}

// Engine runs per-stub enrichment: search, then LLM field extraction.
type Engine struct {
	serper    *SerperClient
	chat      llm.Provider
	chatModel string
	cache     *Cache
	logger    *slog.Logger
}

// NewEngine wires the search client, chat provider, and cache. chat may be
// nil for search-only operation.
func NewEngine(serper *SerperClient, chat llm.Provider, chatModel string, cache *Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{serper: serper, chat: chat, chatModel: chatModel, cache: cache, logger: logger}
}

// search returns cached results unless useCache is false.
func (e *Engine) search(ctx context.Context, canonicalName string, useCache bool) (*SearchResults, error) {
	if useCache {
		if sr, ok := e.cache.Get(canonicalName); ok {
			return sr, nil
		}
	}
	sr, err := e.serper.Search(ctx, canonicalName)
	if err != nil {
		return nil, err
	}
	e.cache.Put(canonicalName, sr)
	return sr, nil
}

// buildContext flattens search results into labelled prompt blocks.
func buildContext(sr *SearchResults) string {
	var parts []string

	if kg := sr.KnowledgeGraph; kg != nil && (kg.Description != "" || kg.Type != "") {
		parts = append(parts, "[Knowledge Graph]")
		if kg.Title != "" {
			parts = append(parts, "Title: "+kg.Title)
		}
		if kg.Type != "" {
			parts = append(parts, "Type: "+kg.Type)
		}
		if kg.Description != "" {
			parts = append(parts, "Description: "+kg.Description)
		}
		n := 0
		for k, v := range kg.Attributes {
			if n >= 6 {
				break
			}
			parts = append(parts, k+": "+v)
			n++
		}
		parts = append(parts, "")
	}

	if ab := sr.AnswerBox; ab != nil && (ab.Answer != "" || ab.Snippet != "") {
		parts = append(parts, "[Answer Box]")
		if ab.Answer != "" {
			parts = append(parts, ab.Answer)
		}
		if ab.Snippet != "" {
			parts = append(parts, ab.Snippet)
		}
		parts = append(parts, "")
	}

	for i, s := range sr.Snippets {
		source := s.Source
		if source == "" {
			source = "unknown"
		}
		parts = append(parts, fmt.Sprintf("[Result %d — %s]", i+1, source))
		if s.Title != "" {
			parts = append(parts, "Title: "+s.Title)
		}
		if s.Snippet != "" {
			parts = append(parts, s.Snippet)
		}
		parts = append(parts, "")
	}

	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func buildExtractionPrompt(stub *ontology.Entry, searchContext string, existingTags []string) string {
	if len(existingTags) > maxExistingTags {
		existingTags = existingTags[:maxExistingTags]
	}
	var tags strings.Builder
	for _, t := range existingTags {
		tags.WriteString("  " + t + "\n")
	}

	return fmt.Sprintf(`You are enriching an organizational ontology entry.
Given web search results about an organization, extract structured metadata and return JSON only.

Organization name: %q
Current meta_type: %s
Current sector: %s

--- WEB SEARCH RESULTS ---
%s
--- END RESULTS ---

Existing tag examples in our ontology (for reference when suggesting a tag):
%s
Return a JSON object with exactly these fields:
{
  "canonical_name": "<full official name, corrected if needed>",
  "variations_found": ["<alias1>", "<alias2>"],
  "meta_type": "<one of: io, gov, university, ngo, private, other>",
  "sector": "<one of: intergovernmental, government, academia, ngo, private, other, research, media, finance>",
  "location_country": "<ISO 3-letter country code or null>",
  "location_city": "<city name or null>",
  "suggested_tag": "<hierarchical tag like 'ngo:research:poverty_economics' — fit into existing tag style if possible, else propose new>",
  "parent_org": "<canonical name of a parent organization, or null>",
  "confidence": <float 0.0-1.0>,
  "sources": ["<domain1>", "<domain2>"],
  "reasoning": "<one sentence explaining the classification>"
}

Rules:
- meta_type "io" = intergovernmental org (UN bodies, World Bank, NATO, EU, etc.)
- meta_type "gov" = national/subnational government body
- meta_type "university" = academic institution
- meta_type "ngo" = foundation, think tank, research institute, civil society
- meta_type "private" = for-profit company, bank, media
- meta_type "other" = award body, political party, unclear
- If search results are sparse or ambiguous, set confidence below 0.6
- Return ONLY valid JSON — no markdown fences, no explanation outside the JSON`,
		stub.CanonicalName, stub.MetaType, stub.Sector, searchContext, tags.String())
}

// fallbackProposal carries the stub's current fields with zero confidence.
func fallbackProposal(stub *ontology.Entry, reason string) *Proposal {
	if reason == "" {
		reason = "Enrichment failed, fill manually."
	}
	variations := stub.VariationsFound
	if variations == nil {
		variations = []string{}
	}
	return &Proposal{
		CanonicalName:    stub.CanonicalName,
		VariationsFound:  variations,
		MetaType:         stub.MetaType,
		Sector:           stub.Sector,
		LocationCountry:  stub.LocationCountry,
		LocationCity:     stub.LocationCity,
		Confidence:       0,
		Sources:          []string{},
		Reasoning:        reason,
		EnrichmentMethod: MethodFallback,
	}
}

// extractFields asks the chat model to propose field values from the
// search context. Any failure produces a fallback proposal, never an
// error.
func (e *Engine) extractFields(ctx context.Context, stub *ontology.Entry, sr *SearchResults, existingTags []string) *Proposal {
	searchContext := buildContext(sr)
	if searchContext == "" {
		return fallbackProposal(stub, "No search results available")
	}

	prompt := buildExtractionPrompt(stub, searchContext, existingTags)
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Model:       e.chatModel,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   800,
		Temperature: 0.0,
	})
	if err != nil {
		return fallbackProposal(stub, fmt.Sprintf("LLM extraction failed: %v", err))
	}

	var p Proposal
	if err := llm.ParseJSON(resp.Content, &p); err != nil {
		return fallbackProposal(stub, "LLM returned unparseable JSON")
	}
	p.EnrichmentMethod = MethodSerperLLM
	if p.Sources == nil {
		p.Sources = []string{}
	}
	return &p
}

// EnrichStub runs the full pipeline for one stub: search (cached), then
// LLM extraction. Failures degrade to a fallback proposal.
func (e *Engine) EnrichStub(ctx context.Context, stub *ontology.Entry, existingTags []string, useCache bool) *Proposal {
	name := strings.TrimSpace(stub.CanonicalName)
	if name == "" {
		return fallbackProposal(stub, "No canonical name to search for")
	}

	sr, err := e.search(ctx, name, useCache)
	if err != nil {
		return fallbackProposal(stub, fmt.Sprintf("Search failed: %v", err))
	}

	if len(existingTags) > tagsForPrompt {
		existingTags = existingTags[:tagsForPrompt]
	}
	return e.extractFields(ctx, stub, sr, existingTags)
}

// SearchOnly skips LLM extraction and scores confidence heuristically
// from what the search returned.
func (e *Engine) SearchOnly(ctx context.Context, stub *ontology.Entry, useCache bool) *Proposal {
	name := strings.TrimSpace(stub.CanonicalName)
	if name == "" {
		return fallbackProposal(stub, "No canonical name to search for")
	}

	sr, err := e.search(ctx, name, useCache)
	if err != nil {
		return fallbackProposal(stub, fmt.Sprintf("Search failed: %v", err))
	}

	hasKG := sr.KnowledgeGraph != nil
	snippets := len(sr.Snippets)
	p := fallbackProposal(stub, fmt.Sprintf("search-only | %d snippets | KG=%v", snippets, hasKG))
	p.EnrichmentMethod = MethodSerperOnly
	switch {
	case hasKG:
		p.Confidence = 0.6
	case snippets > 1:
		p.Confidence = 0.4
	default:
		p.Confidence = 0.1
	}
	p.Sources = sr.Sources
	if p.Sources == nil {
		p.Sources = []string{}
	}
	return p
}

// MergeStub folds a stub into an existing confirmed entry: the stub's
// name and aliases become aliases of the target, and the stub is marked
// merged rather than deleted.
func MergeStub(onto *ontology.Store, stubCanonical, targetCanonical string) error {
	stub, ok := onto.LookupCanonical(stubCanonical)
	if !ok {
		return fmt.Errorf("merge: stub %q not found", stubCanonical)
	}
	target, ok := onto.LookupCanonical(targetCanonical)
	if !ok {
		return fmt.Errorf("merge: target %q not found", targetCanonical)
	}

	newAliases := []string{stub.CanonicalName}
	for _, v := range stub.VariationsFound {
		if v != "" && v != target.CanonicalName {
			newAliases = append(newAliases, v)
		}
	}

	// Retire the stub first so its aliases are released before the
	// target claims them.
	if err := onto.Update(stub.CanonicalName, func(e *ontology.Entry) {
		e.Status = ontology.StatusMerged
		e.Source = "merged_into:" + target.CanonicalName
	}); err != nil {
		return err
	}

	return onto.Update(target.CanonicalName, func(e *ontology.Entry) {
		for _, alias := range newAliases {
			if !contains(e.VariationsFound, alias) {
				e.VariationsFound = append(e.VariationsFound, alias)
			}
		}
	})
}
