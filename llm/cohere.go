package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// cohereBatchSize is the maximum texts per embed call accepted by the
// Cohere v2 API.
const cohereBatchSize = 96

// Cohere implements Provider and Reranker against the Cohere v2 API.
type Cohere struct {
	cfg    Config
	client *http.Client
}

// NewCohere creates a Cohere provider.
func NewCohere(cfg Config) *Cohere {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cohere.com"
	}
	return &Cohere{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type cohereChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type cohereChatResponse struct {
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
	Usage        struct {
		BilledUnits struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"billed_units"`
	} `json:"usage"`
}

func (c *Cohere) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	body := cohereChatRequest{
		Model:     model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if req.ResponseFormat == "json_object" {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	respBody, err := c.doPost(ctx, "/v2/chat", body)
	if err != nil {
		return nil, err
	}

	var resp cohereChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding cohere chat response: %w", err)
	}

	var text string
	for _, part := range resp.Message.Content {
		if part.Type == "text" {
			text += part.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in cohere response")
	}

	in := resp.Usage.BilledUnits.InputTokens
	out := resp.Usage.BilledUnits.OutputTokens
	return &ChatResponse{
		Content:          text,
		Model:            model,
		FinishReason:     resp.FinishReason,
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
	}, nil
}

type cohereEmbedRequest struct {
	Model          string   `json:"model"`
	Texts          []string `json:"texts"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
}

type cohereEmbedResponse struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
}

// Embed generates embeddings, splitting inputs into API-sized batches.
func (c *Cohere) Embed(ctx context.Context, req EmbedRequest) ([][]float32, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	inputType := req.InputType
	if inputType == "" {
		inputType = InputSearchDocument
	}

	embeddings := make([][]float32, 0, len(req.Texts))
	for start := 0; start < len(req.Texts); start += cohereBatchSize {
		end := start + cohereBatchSize
		if end > len(req.Texts) {
			end = len(req.Texts)
		}
		batch := req.Texts[start:end]

		body := cohereEmbedRequest{
			Model:          model,
			Texts:          batch,
			InputType:      inputType,
			EmbeddingTypes: []string{"float"},
		}

		respBody, err := c.doPost(ctx, "/v2/embed", body)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}

		var resp cohereEmbedResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("decoding cohere embed response: %w", err)
		}
		if len(resp.Embeddings.Float) != len(batch) {
			return nil, fmt.Errorf("cohere returned %d embeddings for %d texts",
				len(resp.Embeddings.Float), len(batch))
		}
		embeddings = append(embeddings, resp.Embeddings.Float...)
	}
	return embeddings, nil
}

type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

func (c *Cohere) Rerank(ctx context.Context, req RerankRequest) (*RerankResponse, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	body := cohereRerankRequest{
		Model:     model,
		Query:     req.Query,
		Documents: req.Documents,
		TopN:      req.TopN,
	}

	respBody, err := c.doPost(ctx, "/v2/rerank", body)
	if err != nil {
		return nil, err
	}

	var resp RerankResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding cohere rerank response: %w", err)
	}
	return &resp, nil
}

type cohereErrorResponse struct {
	Message string `json:"message"`
}

func (c *Cohere) doPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := c.cfg.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr cohereErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("cohere API error %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("cohere API error %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
