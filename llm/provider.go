package llm

import (
	"context"
	"fmt"
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, error)
}

// Reranker reorders documents by relevance to a query. Only some
// providers support it; callers must degrade to the original order
// when reranking fails or is unavailable.
type Reranker interface {
	Rerank(ctx context.Context, req RerankRequest) (*RerankResponse, error)
}

// Embedding input types. Retrieval quality depends on indexing documents
// and queries with the matching asymmetric types.
const (
	InputSearchDocument = "search_document"
	InputSearchQuery    = "search_query"
)

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// EmbedRequest is a batch embedding request.
type EmbedRequest struct {
	Model     string   `json:"model,omitempty"` // defaults to the provider's configured model
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type,omitempty"` // search_document or search_query
}

// RerankRequest asks a reranker to order documents by relevance.
type RerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

// RerankResult is one reranked document reference.
type RerankResult struct {
	Index          int     `json:"index"` // position in the request documents
	RelevanceScore float64 `json:"relevance_score"`
}

// RerankResponse is the ordered rerank result set.
type RerankResponse struct {
	Results []RerankResult `json:"results"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider"` // cohere, anthropic, openai-compatible
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "cohere":
		return NewCohere(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "openai", "openai-compatible", "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
