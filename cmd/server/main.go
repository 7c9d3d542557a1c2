// Command server exposes the ontology review API: pending stubs,
// approve/dismiss/merge actions, tag completions, and match previews.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	biograph "github.com/brunobiangulo/biograph"
	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/match"
	"github.com/brunobiangulo/biograph/ontology"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	ontologyPath := flag.String("ontology", "data/ontology/unified_ontology.json", "Ontology JSON file")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := biograph.LoadDotenv(""); err != nil {
		slog.Warn("loading .env", "error", err)
	}
	cfg, err := biograph.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	onto, err := ontology.Open(*ontologyPath)
	if err != nil {
		slog.Error("opening ontology", "path", *ontologyPath, "error", err)
		os.Exit(1)
	}

	// Match previews use whatever tiers have credentials; the exact and
	// fuzzy tiers always work.
	var embedProvider, chatProvider llm.Provider
	if cfg.Matching.UseEmbedding && cfg.Embedding.APIKey != "" {
		if embedProvider, err = llm.NewProvider(llm.Config(cfg.Embedding)); err != nil {
			slog.Warn("embedding tier disabled", "error", err)
		}
	}
	if (cfg.Matching.UseLLMMatch || cfg.Matching.UseLLMClassify) && cfg.Ontology.APIKey != "" {
		if chatProvider, err = llm.NewProvider(llm.Config(cfg.Ontology)); err != nil {
			slog.Warn("LLM tiers disabled", "error", err)
		}
	}
	matcher := match.New(onto, cfg.Matching, embedProvider, chatProvider, cfg.Ontology.Model, slog.Default())

	apiKey := os.Getenv("BIOGRAPH_API_KEY")

	h := newHandler(onto, matcher)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /stubs", h.handleListStubs)
	mux.HandleFunc("POST /stubs/{name}/approve", h.handleApproveStub)
	mux.HandleFunc("POST /stubs/{name}/dismiss", h.handleDismissStub)
	mux.HandleFunc("POST /stubs/merge", h.handleMergeStub)
	mux.HandleFunc("GET /tags", h.handleTagCompletions)
	mux.HandleFunc("POST /match/preview", h.handleMatchPreview)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> auth -> request id -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr, "ontology_entries", onto.Count())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
