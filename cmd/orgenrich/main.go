// Command orgenrich fills pending ontology stubs with metadata proposed
// from web search and LLM extraction, in resumable checkpointed batches.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	biograph "github.com/brunobiangulo/biograph"
	"github.com/brunobiangulo/biograph/enrich"
	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/ontology"
)

type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func main() {
	var metaTypes multiFlag
	configPath := flag.String("config", "", "Path to config file (JSON)")
	ontologyPath := flag.String("ontology", "data/ontology/unified_ontology.json", "Ontology JSON file")
	outputsDir := flag.String("outputs", "outputs/enrichment", "Directory for batch run files")
	flag.Var(&metaTypes, "meta-type", "Restrict to a meta type (repeatable): io, gov, university, ngo, private, other")
	workers := flag.Int("workers", 0, "Worker count (default from config)")
	delay := flag.Duration("delay", -1, "Pause between job submissions (default from config)")
	fresh := flag.Bool("fresh", false, "Start a new run instead of resuming the latest incomplete one")
	resume := flag.String("resume", "", "Resume a specific batch file")
	noLLM := flag.Bool("no-llm", false, "Search-only mode, no LLM extraction")
	checkpoint := flag.Int("checkpoint", 0, "Checkpoint every N stubs (default from config)")
	limit := flag.Int("limit", 0, "Process at most N stubs")
	forceSearch := flag.Bool("force-search", false, "Bypass the search cache")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

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

	serper, err := enrich.NewSerperClient(cfg.Enrichment.SerperAPIKey)
	if err != nil {
		slog.Error("creating search client", "error", err)
		os.Exit(1)
	}

	var chat llm.Provider
	if !*noLLM {
		chat, err = llm.NewProvider(llm.Config(cfg.Ontology))
		if err != nil {
			slog.Error("creating chat provider", "error", err)
			os.Exit(1)
		}
	}

	cache := enrich.LoadCache(cfg.Enrichment.CacheFile, logger)
	engine := enrich.NewEngine(serper, chat, cfg.Ontology.Model, cache, logger)

	opts := enrich.BatchOptions{
		MetaTypes:       metaTypes,
		Workers:         cfg.Enrichment.Workers,
		Delay:           time.Duration(cfg.Enrichment.DelayMillis) * time.Millisecond,
		Fresh:           *fresh,
		ResumeFile:      *resume,
		NoLLM:           *noLLM,
		CheckpointEvery: cfg.Enrichment.CheckpointEvery,
		Limit:           *limit,
		ForceSearch:     *forceSearch,
	}
	if *workers > 0 {
		opts.Workers = *workers
	}
	if *delay >= 0 {
		opts.Delay = *delay
	}
	if *checkpoint > 0 {
		opts.CheckpointEvery = *checkpoint
	}

	// SIGINT triggers a final checkpoint; the run file stays resumable.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stubsByName := make(map[string]*ontology.Entry)
	for _, s := range enrich.PendingStubs(onto, metaTypes) {
		stubsByName[s.CanonicalName] = s
	}

	run, err := enrich.RunBatch(ctx, onto, engine, *outputsDir, opts, logger)
	if err != nil && err != context.Canceled {
		slog.Error("batch enrichment failed", "error", err)
		os.Exit(1)
	}
	if run == nil {
		os.Exit(1)
	}

	summary := enrich.Summarize(run, stubsByName)
	fmt.Println(summary.String())
	for _, p := range summary.ParentProposals {
		fmt.Println("  parent:", p)
	}
	for _, c := range summary.MetaTypeChanges {
		fmt.Println("  meta-type:", c)
	}
	fmt.Println("run file:", run.Path())

	if err == context.Canceled {
		slog.Info("interrupted, checkpoint saved", "path", run.Path())
		os.Exit(130)
	}
}
