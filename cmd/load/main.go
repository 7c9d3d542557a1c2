// Command load ingests a person's scraped source files into the chunk
// store and embeds them for retrieval.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	biograph "github.com/brunobiangulo/biograph"
	"github.com/brunobiangulo/biograph/chunker"
	"github.com/brunobiangulo/biograph/parser"
	"github.com/brunobiangulo/biograph/store"
)

// sourceMeta is one entry of an optional sources.json manifest mapping
// scraped files back to the search results they came from.
type sourceMeta struct {
	File  string `json:"file"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Rank  int    `json:"rank"`
}

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	person := flag.String("person", "", "Person the sources belong to (required)")
	sourceDir := flag.String("source-dir", "", "Directory of scraped .txt/.md/.pdf files (required)")
	nominationYear := flag.Int("nomination-year", 0, "Nomination year for the person record")
	maxTokens := flag.Int("max-tokens", 0, "Chunk size budget (default 512)")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if *person == "" || *sourceDir == "" {
		slog.Error("--person and --source-dir are required")
		os.Exit(1)
	}

	if err := biograph.LoadDotenv(""); err != nil {
		slog.Warn("loading .env", "error", err)
	}
	cfg, err := biograph.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	pipeline, err := biograph.NewPipeline(cfg, slog.Default())
	if err != nil {
		slog.Error("creating pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	ctx := context.Background()
	if err := run(ctx, pipeline, *person, *sourceDir, *nominationYear, *maxTokens); err != nil {
		slog.Error("load failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, pipeline *biograph.Pipeline, person, sourceDir string, nominationYear, maxTokens int) error {
	st := pipeline.Store()
	registry := parser.NewRegistry()
	chunk := chunker.New(chunker.Config{MaxTokens: maxTokens})

	personID, err := st.UpsertPerson(ctx, person, nominationYear)
	if err != nil {
		return err
	}

	manifest := loadManifest(sourceDir)

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return fmt.Errorf("reading source dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == "sources.json" {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	loaded, skipped := 0, 0
	for rank, name := range files {
		path := filepath.Join(sourceDir, name)
		p, err := registry.ForFile(path)
		if err != nil {
			slog.Debug("skipping unsupported file", "file", name)
			skipped++
			continue
		}

		doc, err := p.Parse(ctx, path)
		if err != nil {
			slog.Warn("parse failed, skipping", "file", name, "error", err)
			skipped++
			continue
		}
		if strings.TrimSpace(doc.Text) == "" {
			skipped++
			continue
		}

		sr := store.SearchResult{
			PersonID:         personID,
			URL:              "file://" + path,
			Title:            name,
			Domain:           "local",
			Rank:             rank + 1,
			ExtractionMethod: doc.Method,
		}
		if meta, ok := manifest[name]; ok {
			if meta.URL != "" {
				sr.URL = meta.URL
				sr.Domain = urlDomain(meta.URL)
			}
			if meta.Title != "" {
				sr.Title = meta.Title
			}
			if meta.Rank > 0 {
				sr.Rank = meta.Rank
			}
		}
		srID, err := st.UpsertSearchResult(ctx, sr)
		if err != nil {
			return err
		}

		chunks := chunk.Chunk(srID, doc.Text)
		if len(chunks) == 0 {
			skipped++
			continue
		}
		ids, err := st.InsertChunks(ctx, chunks)
		if err != nil {
			return err
		}
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		if err := pipeline.EmbedChunks(ctx, ids, texts); err != nil {
			return fmt.Errorf("embedding %s: %w", name, err)
		}

		slog.Info("source loaded", "file", name, "chunks", len(chunks), "domain", sr.Domain)
		loaded++
	}

	count, err := st.CountChunksForPerson(ctx, person)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s (loaded %d sources, %d skipped)", biograph.ErrNoChunks, person, loaded, skipped)
	}
	fmt.Printf("loaded %d sources (%d skipped); %s now has %d chunks\n", loaded, skipped, person, count)
	return nil
}

// loadManifest reads sources.json if present; a missing or invalid
// manifest just means local-file metadata.
func loadManifest(sourceDir string) map[string]sourceMeta {
	out := make(map[string]sourceMeta)
	data, err := os.ReadFile(filepath.Join(sourceDir, "sources.json"))
	if err != nil {
		return out
	}
	var metas []sourceMeta
	if err := json.Unmarshal(data, &metas); err != nil {
		slog.Warn("invalid sources.json, ignoring", "error", err)
		return out
	}
	for _, m := range metas {
		if m.File != "" {
			out[m.File] = m
		}
	}
	return out
}

var domainRe = regexp.MustCompile(`https?://(?:www\.)?([^/]+)`)

func urlDomain(url string) string {
	m := domainRe.FindStringSubmatch(url)
	if m == nil {
		return "local"
	}
	return m[1]
}
