// Package enrich fills in pending ontology stubs with metadata proposed
// from web search results and LLM extraction, in checkpointed batches.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	biograph "github.com/brunobiangulo/biograph"
)

const (
	serperURL       = "https://google.serper.dev/search"
	maxSnippetChars = 400
	maxSnippets     = 4
)

// KnowledgeGraph is the most reliable part of a search response for
// well-known organizations.
type KnowledgeGraph struct {
	Title       string            `json:"title"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Website     string            `json:"website,omitempty"`
}

// Snippet is one organic search result, truncated for prompt use.
type Snippet struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
	Source  string `json:"source"`
}

// AnswerBox sometimes carries a concise description.
type AnswerBox struct {
	Answer  string `json:"answer,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Title   string `json:"title,omitempty"`
}

// SearchResults is the parsed, truncated view of one search response.
type SearchResults struct {
	CanonicalName  string          `json:"canonical_name"`
	KnowledgeGraph *KnowledgeGraph `json:"knowledge_graph,omitempty"`
	Snippets       []Snippet       `json:"snippets"`
	Sources        []string        `json:"sources"`
	AnswerBox      *AnswerBox      `json:"answer_box,omitempty"`
}

// SerperClient queries the Serper search API.
type SerperClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewSerperClient requires a Serper API key.
func NewSerperClient(apiKey string) (*SerperClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: SERPER_API_KEY", biograph.ErrMissingAPIKey)
	}
	return &SerperClient{
		apiKey:     apiKey,
		baseURL:    serperURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
	GL  string `json:"gl"`
	HL  string `json:"hl"`
}

type serperOrganic struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

type serperResponse struct {
	KnowledgeGraph *struct {
		Title       string            `json:"title"`
		Type        string            `json:"type"`
		Description string            `json:"description"`
		Attributes  map[string]string `json:"attributes"`
		Website     string            `json:"website"`
	} `json:"knowledgeGraph"`
	Organic   []serperOrganic `json:"organic"`
	AnswerBox *struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
		Title   string `json:"title"`
	} `json:"answerBox"`
}

// Search runs one organization query and returns parsed results.
func (c *SerperClient) Search(ctx context.Context, canonicalName string) (*SearchResults, error) {
	body, err := json.Marshal(serperRequest{
		Q:   fmt.Sprintf("%q organization", canonicalName),
		Num: 6,
		GL:  "us",
		HL:  "en",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", biograph.ErrSearchFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", biograph.ErrSearchFailed, resp.StatusCode)
	}

	var raw serperResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}
	return parseSearchResults(canonicalName, &raw), nil
}

func parseSearchResults(canonicalName string, raw *serperResponse) *SearchResults {
	result := &SearchResults{CanonicalName: canonicalName}

	if kg := raw.KnowledgeGraph; kg != nil {
		result.KnowledgeGraph = &KnowledgeGraph{
			Title:       kg.Title,
			Type:        kg.Type,
			Description: kg.Description,
			Attributes:  kg.Attributes,
			Website:     kg.Website,
		}
	}

	organic := raw.Organic
	if len(organic) > maxSnippets {
		organic = organic[:maxSnippets]
	}
	for _, item := range organic {
		domain := extractDomain(item.Link)
		result.Snippets = append(result.Snippets, Snippet{
			Title:   item.Title,
			Snippet: truncate(item.Snippet, maxSnippetChars),
			Link:    item.Link,
			Source:  domain,
		})
		if domain != "" && !contains(result.Sources, domain) {
			result.Sources = append(result.Sources, domain)
		}
	}

	if ab := raw.AnswerBox; ab != nil && (ab.Answer != "" || ab.Snippet != "") {
		result.AnswerBox = &AnswerBox{
			Answer:  ab.Answer,
			Snippet: truncate(ab.Snippet, maxSnippetChars),
			Title:   ab.Title,
		}
	}
	return result
}

var domainRe = regexp.MustCompile(`https?://(?:www\.)?([^/]+)`)

func extractDomain(url string) string {
	if url == "" {
		return ""
	}
	m := domainRe.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
