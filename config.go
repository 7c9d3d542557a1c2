package biograph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the biograph pipeline.
type Config struct {
	// DBPath is the full path to the SQLite chunk database.
	// If empty, defaults to ~/.biograph/<DBName>.db
	DBPath string `json:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "biograph".
	DBName string `json:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.biograph/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir"`

	// DataDir holds per-person question directories and base data files.
	DataDir string `json:"data_dir"`

	// OutputDir receives per-person result JSON files.
	OutputDir string `json:"output_dir"`

	// LLM providers
	Chat      LLMConfig `json:"chat"`      // extraction, verification, synthesis
	Embedding LLMConfig `json:"embedding"` // query and chunk embeddings
	Ontology  LLMConfig `json:"ontology"`  // org disambiguation, classification, enrichment

	// Retrieval
	SimilarityThreshold float64 `json:"similarity_threshold"`
	SimilarityTopK      int     `json:"similarity_top_k"`
	UseRerank           bool    `json:"use_rerank"`
	RerankModel         string  `json:"rerank_model"`
	RerankTopN          int     `json:"rerank_top_n"`

	// Extraction and verification
	MaxChunksToScan         int     `json:"max_chunks_to_scan"`
	ExtractionTemperature   float64 `json:"extraction_temperature"`
	ExtractionMaxTokens     int     `json:"extraction_max_tokens"`
	VerificationMaxSources  int     `json:"verification_max_sources"`
	VerificationTemperature float64 `json:"verification_temperature"`
	VerificationMaxTokens   int     `json:"verification_max_tokens"`

	// Organization matching
	Matching MatchingConfig `json:"matching"`

	// Stub enrichment
	Enrichment EnrichmentConfig `json:"enrichment"`

	// Embedding dimensions (must match the embedding model)
	EmbeddingDim int `json:"embedding_dim"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider"` // cohere, anthropic, openai-compatible
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// MatchingConfig holds the matcher cascade thresholds.
type MatchingConfig struct {
	FuzzyAcceptThreshold float64 `json:"fuzzy_threshold_accept"` // auto-accept at or above
	FuzzyReviewThreshold float64 `json:"fuzzy_threshold_review"` // review band lower bound
	EmbeddingThreshold   float64 `json:"embedding_threshold"`
	UseEmbedding         bool    `json:"use_embedding"`
	UseLLMMatch          bool    `json:"use_llm_match"`
	UseLLMClassify       bool    `json:"use_llm_classify"`
	MaxLLMCandidates     int     `json:"max_llm_candidates"`
	DeduplicateOrgs      bool    `json:"deduplicate_orgs"`
	EmbedModel           string  `json:"embed_model"`
}

// EnrichmentConfig holds the batch enrichment knobs.
type EnrichmentConfig struct {
	Workers         int    `json:"workers"`
	DelayMillis     int    `json:"delay_ms"` // pause between job submissions
	CheckpointEvery int    `json:"checkpoint_every"`
	SearchTimeout   int    `json:"search_timeout_seconds"`
	CacheFile       string `json:"cache_file"`
	SerperAPIKey    string `json:"serper_api_key"`
}

// DefaultConfig returns a Config with the production defaults.
// Database is stored in ~/.biograph/biograph.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "biograph",
		StorageDir: "home",
		DataDir:    "data",
		OutputDir:  "outputs",
		Chat: LLMConfig{
			Provider: "cohere",
			Model:    "command-a-03-2025",
			BaseURL:  "https://api.cohere.com",
		},
		Embedding: LLMConfig{
			Provider: "cohere",
			Model:    "embed-v4.0",
			BaseURL:  "https://api.cohere.com",
		},
		Ontology: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5",
			BaseURL:  "https://api.anthropic.com",
		},
		SimilarityThreshold:     0.15,
		SimilarityTopK:          20,
		UseRerank:               true,
		RerankModel:             "rerank-v3.5",
		RerankTopN:              10,
		MaxChunksToScan:         5,
		ExtractionTemperature:   0.3,
		ExtractionMaxTokens:     1200,
		VerificationMaxSources:  3,
		VerificationTemperature: 0.1,
		VerificationMaxTokens:   800,
		Matching: MatchingConfig{
			FuzzyAcceptThreshold: 88,
			FuzzyReviewThreshold: 70,
			EmbeddingThreshold:   0.82,
			UseEmbedding:         true,
			UseLLMMatch:          true,
			UseLLMClassify:       true,
			MaxLLMCandidates:     5,
			DeduplicateOrgs:      true,
			EmbedModel:           "embed-english-v3.0",
		},
		Enrichment: EnrichmentConfig{
			Workers:         4,
			DelayMillis:     200,
			CheckpointEvery: 25,
			SearchTimeout:   10,
			CacheFile:       "enrichment_cache.json",
		},
		EmbeddingDim: 1536,
	}
}

// LoadConfig reads a JSON config file over DefaultConfig and applies
// environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadDotenv loads a .env file into the process environment if present.
// Real environment variables win over file values.
func LoadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// applyEnv layers BIOGRAPH_* and API-key environment variables over the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("BIOGRAPH_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("BIOGRAPH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("BIOGRAPH_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("COHERE_API_KEY"); v != "" {
		if c.Chat.Provider == "cohere" {
			c.Chat.APIKey = v
		}
		if c.Embedding.Provider == "cohere" {
			c.Embedding.APIKey = v
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && c.Ontology.Provider == "anthropic" {
		c.Ontology.APIKey = v
	}
	if v := os.Getenv("SERPER_API_KEY"); v != "" {
		c.Enrichment.SerperAPIKey = v
	}
}

// Validate checks the config for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	}
	if c.SimilarityTopK <= 0 {
		return fmt.Errorf("%w: similarity_top_k must be positive", ErrInvalidConfig)
	}
	if c.Matching.FuzzyReviewThreshold > c.Matching.FuzzyAcceptThreshold {
		return fmt.Errorf("%w: fuzzy review threshold above accept threshold", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "biograph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".biograph")
		return filepath.Join(dir, name+".db")
	}
}
