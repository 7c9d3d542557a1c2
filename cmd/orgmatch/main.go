// Command orgmatch links the organizations in extracted career
// timelines to ontology entries and writes *_org_links.json sidecars.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	biograph "github.com/brunobiangulo/biograph"
	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/match"
	"github.com/brunobiangulo/biograph/ontology"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	ontologyPath := flag.String("ontology", "data/ontology/unified_ontology.json", "Ontology JSON file")
	timelineDir := flag.String("timelines", "data", "Directory searched for *_career_events.json files")
	person := flag.String("person", "", "Match a single person")
	all := flag.Bool("all", false, "Match every discovered timeline")
	dryRun := flag.Bool("dry-run", false, "Match without writing sidecars or stubs")
	workers := flag.Int("workers", 4, "Persons matched in parallel")
	noEmbed := flag.Bool("no-embed", false, "Disable the embedding tier")
	noLLM := flag.Bool("no-llm", false, "Disable LLM disambiguation and classification")
	threshold := flag.Float64("threshold", 0, "Override the fuzzy accept threshold")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if !*all && *person == "" {
		slog.Error("one of --all or --person is required")
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
	if *threshold > 0 {
		cfg.Matching.FuzzyAcceptThreshold = *threshold
	}
	if *noEmbed {
		cfg.Matching.UseEmbedding = false
	}
	if *noLLM {
		cfg.Matching.UseLLMMatch = false
		cfg.Matching.UseLLMClassify = false
	}

	onto, err := ontology.Open(*ontologyPath)
	if err != nil {
		slog.Error("opening ontology", "path", *ontologyPath, "error", err)
		os.Exit(1)
	}

	var embedProvider, chatProvider llm.Provider
	if cfg.Matching.UseEmbedding {
		embedProvider, err = llm.NewProvider(llm.Config(cfg.Embedding))
		if err != nil {
			slog.Error("creating embedding provider", "error", err)
			os.Exit(1)
		}
	}
	if cfg.Matching.UseLLMMatch || cfg.Matching.UseLLMClassify {
		chatProvider, err = llm.NewProvider(llm.Config(cfg.Ontology))
		if err != nil {
			slog.Error("creating chat provider", "error", err)
			os.Exit(1)
		}
	}

	matcher := match.New(onto, cfg.Matching, embedProvider, chatProvider, cfg.Ontology.Model, logger)

	timelines, err := match.DiscoverTimelines(*timelineDir)
	if err != nil {
		slog.Error("discovering timelines", "error", err)
		os.Exit(1)
	}
	if *person != "" {
		var filtered []match.TimelineFile
		for _, tl := range timelines {
			if tl.PersonName == *person {
				filtered = append(filtered, tl)
			}
		}
		timelines = filtered
	}
	if len(timelines) == 0 {
		slog.Error("no timelines found", "dir", *timelineDir, "person", *person)
		os.Exit(1)
	}
	slog.Info("matching organizations", "timelines", len(timelines), "workers", *workers, "dry_run", *dryRun)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persons run in parallel against the shared matcher; stub candidates
	// are collected and written in one batch afterwards.
	var mu sync.Mutex
	var allResults []*match.Result
	totals := struct{ orgs, matched, review int }{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for _, tl := range timelines {
		g.Go(func() error {
			timeline, err := match.LoadTimeline(tl.Path)
			if err != nil {
				return err
			}
			results := matcher.MatchPerson(gctx, tl.PersonName, timeline.CareerEvents)

			stubCreated := make(map[string]bool)
			if !*dryRun {
				for _, stub := range match.CollectStubs(onto, results) {
					stubCreated[stub.CanonicalName] = true
				}
				sc := match.BuildSidecar(tl.PersonName, results, stubCreated)
				path, err := match.SaveSidecar(sc, tl.Path)
				if err != nil {
					return err
				}
				logger.Info("sidecar written", "person", tl.PersonName, "path", path,
					"matched", sc.MatchedCount, "review", sc.ReviewNeededCount)
			}

			mu.Lock()
			allResults = append(allResults, results...)
			for _, r := range results {
				totals.orgs++
				if r.Matched {
					totals.matched++
				}
				if r.NeedsReview {
					totals.review++
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("matching failed", "error", err)
		os.Exit(1)
	}

	stubs := match.CollectStubs(onto, allResults)
	if !*dryRun && len(stubs) > 0 {
		if err := onto.AddBatch(stubs); err != nil {
			slog.Error("writing stubs", "error", err)
			os.Exit(1)
		}
	}

	fmt.Printf("matched %d/%d organizations (%d need review, %d new stubs)\n",
		totals.matched, totals.orgs, totals.review, len(stubs))
}
