package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/ontology"
)

const maxLLMCandidates = 5

// Disambiguator is the last-resort matching tier: it asks a chat model to
// pick the best candidate, or to classify a name the keyword rules could
// not place.
type Disambiguator struct {
	chat  llm.Provider
	model string
}

// NewDisambiguator wraps a chat provider for disambiguation calls.
func NewDisambiguator(chat llm.Provider, model string) *Disambiguator {
	return &Disambiguator{chat: chat, model: model}
}

type disambiguationResponse struct {
	BestMatchIndex *int    `json:"best_match_index"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// buildDisambiguationPrompt numbers candidates from 0 and requests a
// JSON-only verdict.
func buildDisambiguationPrompt(rawName string, candidates []*ontology.Entry, context string) string {
	var b strings.Builder
	b.WriteString("You are matching a raw organization name to a curated ontology.\n\n")
	fmt.Fprintf(&b, "Raw organization name: %q\n", rawName)
	if context != "" {
		fmt.Fprintf(&b, "Context: %s\n", context)
	}
	b.WriteString("\nCandidate ontology entries (numbered from 0):\n")

	for i, e := range candidates {
		aliases := "none"
		if len(e.VariationsFound) > 0 {
			quoted := make([]string, 0, 3)
			for j, v := range e.VariationsFound {
				if j >= 3 {
					break
				}
				quoted = append(quoted, fmt.Sprintf("%q", v))
			}
			aliases = strings.Join(quoted, ", ")
		}
		fmt.Fprintf(&b, "  %d. %s | type: %s/%s | aliases: %s\n",
			i, e.CanonicalName, e.MetaType, e.Sector, aliases)
	}

	b.WriteString("\nInstructions:\n")
	b.WriteString(`- Return JSON only: {"best_match_index": <int or null>, "confidence": <float 0-1>, "reasoning": "<brief>"}` + "\n")
	b.WriteString("- Set best_match_index to null if none of the candidates match the raw name.\n")
	b.WriteString("- confidence: 1.0 = certain match, 0.5 = plausible, 0.0 = no match.\n")
	b.WriteString("- Do not explain outside the JSON.\n")
	return b.String()
}

// Disambiguate asks the model to choose among candidates. A nil entry
// means no confident match: null index, out-of-range index, confidence
// below 0.4, or any API/parse failure.
func (d *Disambiguator) Disambiguate(ctx context.Context, rawName string, candidates []*ontology.Entry, matchContext string) (*ontology.Entry, float64) {
	if len(candidates) == 0 {
		return nil, 0
	}
	if len(candidates) > maxLLMCandidates {
		candidates = candidates[:maxLLMCandidates]
	}

	prompt := buildDisambiguationPrompt(rawName, candidates, matchContext)
	resp, err := d.chat.Chat(ctx, llm.ChatRequest{
		Model:       d.model,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   500,
		Temperature: 0.0,
	})
	if err != nil {
		return nil, 0
	}

	var parsed disambiguationResponse
	if err := llm.ParseJSON(resp.Content, &parsed); err != nil {
		return nil, 0
	}
	if parsed.BestMatchIndex == nil {
		return nil, 0
	}
	idx := *parsed.BestMatchIndex
	if idx < 0 || idx >= len(candidates) {
		return nil, 0
	}
	if parsed.Confidence < 0.4 {
		return nil, 0
	}
	return candidates[idx], parsed.Confidence
}

type classifyResponse struct {
	Category  string `json:"category"`
	Reasoning string `json:"reasoning"`
}

// ClassifyOrg asks the model to place a name into one of the seven
// categories. Consulted only when the keyword classifier yields other.
// Returns "" on failure or an unrecognized category.
func (d *Disambiguator) ClassifyOrg(ctx context.Context, rawName string) string {
	prompt := fmt.Sprintf(`Classify this organization name into exactly one of these categories:
un_system, intergovernmental, national_government, university, ngo, private, other

Organization: %q

Categories defined:
  un_system: UN bodies, specialized agencies, funds, programmes
  intergovernmental: Non-UN IOs (World Bank, NATO, EU, OECD, IMF)
  national_government: Parliaments, ministries, presidency, central banks
  university: Universities, colleges, polytechnics
  ngo: Foundations, think tanks, research institutes, NGOs
  private: Corporations, media, commercial banks, consultancies
  other: Award bodies, prizes, unclear

Return JSON only: {"category": "<category>", "reasoning": "<one sentence>"}`, rawName)

	resp, err := d.chat.Chat(ctx, llm.ChatRequest{
		Model:       d.model,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   200,
		Temperature: 0.0,
	})
	if err != nil {
		return ""
	}

	var parsed classifyResponse
	if err := llm.ParseJSON(resp.Content, &parsed); err != nil {
		return ""
	}
	category := strings.ToLower(strings.TrimSpace(parsed.Category))
	if !ontology.ValidCategory(category) {
		return ""
	}
	return category
}
