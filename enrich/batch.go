package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/biograph/ontology"
)

// metaTypePriority orders stub processing: well-known international and
// academic organizations enrich most reliably, so they go first.
var metaTypePriority = []string{
	ontology.MetaIO,
	ontology.MetaUniversity,
	ontology.MetaGov,
	ontology.MetaNGO,
	ontology.MetaPrivate,
	ontology.MetaOther,
}

// BatchOptions configures one enrichment run.
type BatchOptions struct {
	MetaTypes       []string      // filter; empty means all
	Workers         int           // default 4
	Delay           time.Duration // pause between job submissions, default 200ms
	Fresh           bool          // force a new output file
	ResumeFile      string        // explicit output file to resume
	NoLLM           bool          // search-only mode
	CheckpointEvery int           // default 25
	Limit           int           // cap stubs, 0 means no cap
	ForceSearch     bool          // bypass the search cache
}

func (o *BatchOptions) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 25
	}
}

// RunFile is the persisted output of a batch run. A file without a
// completed_at timestamp is an incomplete run eligible for resume.
type RunFile struct {
	RunID       string               `json:"run_id"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at"`
	MetaTypes   []string             `json:"meta_types,omitempty"`
	Workers     int                  `json:"workers"`
	NoLLM       bool                 `json:"no_llm"`
	ForceSearch bool                 `json:"force_search"`
	TotalStubs  int                  `json:"total_stubs"`
	Processed   int                  `json:"processed"`
	Results     map[string]*Proposal `json:"results"`

	path string
}

// Path returns the file the run is saved to.
func (r *RunFile) Path() string { return r.path }

// saveRun writes the run file atomically.
func saveRun(r *RunFile) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run file: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing run file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing run file: %w", err)
	}
	return nil
}

func loadRun(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r RunFile
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing run file %s: %w", path, err)
	}
	r.path = path
	if r.Results == nil {
		r.Results = make(map[string]*Proposal)
	}
	return &r, nil
}

// latestRunFile finds the most recently modified batch_*.json under dir.
func latestRunFile(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "batch_*.json"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	latest := ""
	var latestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = m
			latestMod = info.ModTime()
		}
	}
	return latest
}

// resolveRun decides whether to resume a prior run or start fresh.
// Without an explicit resume file, the newest incomplete run in the
// outputs directory is resumed.
func resolveRun(outputsDir string, opts BatchOptions, logger *slog.Logger) (*RunFile, error) {
	if err := os.MkdirAll(outputsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating outputs dir: %w", err)
	}

	newRun := func() *RunFile {
		runID := time.Now().Format("20060102_150405")
		path := filepath.Join(outputsDir, "batch_"+runID+".json")
		for i := 2; ; i++ {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				break
			}
			runID = fmt.Sprintf("%s_%d", time.Now().Format("20060102_150405"), i)
			path = filepath.Join(outputsDir, "batch_"+runID+".json")
		}
		return &RunFile{
			RunID:       runID,
			StartedAt:   time.Now(),
			MetaTypes:   opts.MetaTypes,
			Workers:     opts.Workers,
			NoLLM:       opts.NoLLM,
			ForceSearch: opts.ForceSearch,
			Results:     make(map[string]*Proposal),
			path:        path,
		}
	}

	if opts.ResumeFile != "" {
		r, err := loadRun(opts.ResumeFile)
		if err != nil {
			logger.Warn("resume file unreadable, starting fresh", "path", opts.ResumeFile, "error", err)
			return newRun(), nil
		}
		logger.Info("resuming explicit run", "path", opts.ResumeFile, "processed", len(r.Results))
		return r, nil
	}

	if !opts.Fresh {
		if latest := latestRunFile(outputsDir); latest != "" {
			r, err := loadRun(latest)
			if err == nil && len(r.Results) > 0 && r.CompletedAt == nil {
				logger.Info("resuming incomplete run", "path", latest, "processed", len(r.Results))
				return r, nil
			}
		}
	}
	return newRun(), nil
}

// PendingStubs returns the stubs to enrich, filtered by meta-type and
// ordered by the priority list.
func PendingStubs(onto *ontology.Store, metaTypes []string) []*ontology.Entry {
	pending := onto.PendingStubs()
	if len(metaTypes) > 0 {
		allowed := make(map[string]bool, len(metaTypes))
		for _, t := range metaTypes {
			allowed[t] = true
		}
		var filtered []*ontology.Entry
		for _, s := range pending {
			if allowed[s.MetaType] {
				filtered = append(filtered, s)
			}
		}
		pending = filtered
	}

	priorityIdx := make(map[string]int, len(metaTypePriority))
	for i, t := range metaTypePriority {
		priorityIdx[t] = i
	}
	rank := func(s *ontology.Entry) int {
		if i, ok := priorityIdx[s.MetaType]; ok {
			return i
		}
		return len(metaTypePriority)
	}
	sort.SliceStable(pending, func(i, j int) bool { return rank(pending[i]) < rank(pending[j]) })
	return pending
}

// RunBatch enriches all pending stubs with a fixed worker pool, saving a
// checkpoint every CheckpointEvery completions and on termination. When
// ctx is cancelled the pool stops submitting, in-flight workers finish,
// and the final checkpoint is still written; the run file stays marked
// incomplete so a later invocation resumes it.
func RunBatch(ctx context.Context, onto *ontology.Store, engine *Engine, outputsDir string, opts BatchOptions, logger *slog.Logger) (*RunFile, error) {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	run, err := resolveRun(outputsDir, opts, logger)
	if err != nil {
		return nil, err
	}

	pending := PendingStubs(onto, opts.MetaTypes)
	if opts.Limit > 0 && len(pending) > opts.Limit {
		pending = pending[:opts.Limit]
	}
	run.TotalStubs = len(pending)

	var todo []*ontology.Entry
	for _, s := range pending {
		if _, done := run.Results[s.CanonicalName]; !done {
			todo = append(todo, s)
		}
	}
	if len(todo) == 0 {
		logger.Info("all stubs already processed", "run", run.path)
		return run, nil
	}
	logger.Info("batch enrichment starting",
		"todo", len(todo), "already_done", len(run.Results),
		"workers", opts.Workers, "no_llm", opts.NoLLM)

	existingTags := onto.AllTags()
	useCache := !opts.ForceSearch

	type completion struct {
		name     string
		proposal *Proposal
	}

	jobs := make(chan *ontology.Entry)
	completions := make(chan completion)

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stub := range jobs {
				var p *Proposal
				if opts.NoLLM {
					p = engine.SearchOnly(ctx, stub, useCache)
				} else {
					p = engine.EnrichStub(ctx, stub, existingTags, useCache)
				}
				completions <- completion{name: stub.CanonicalName, proposal: p}
			}
		}()
	}

	// Producer: paced submission, stops on cancellation.
	go func() {
		defer close(jobs)
		for _, stub := range todo {
			select {
			case jobs <- stub:
			case <-ctx.Done():
				return
			}
			if opts.Delay > 0 {
				select {
				case <-time.After(opts.Delay):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(completions)
	}()

	// Single collector: owns the results map and checkpoint cadence.
	sinceCheckpoint := 0
	for c := range completions {
		run.Results[c.name] = c.proposal
		run.Processed = len(run.Results)
		sinceCheckpoint++

		logger.Info("stub enriched",
			"org", c.name,
			"method", c.proposal.EnrichmentMethod,
			"confidence", c.proposal.Confidence,
			"progress", fmt.Sprintf("%d/%d", run.Processed, run.TotalStubs))

		if sinceCheckpoint >= opts.CheckpointEvery {
			sinceCheckpoint = 0
			if err := saveRun(run); err != nil {
				logger.Warn("checkpoint save failed", "error", err)
			} else {
				logger.Info("checkpoint saved", "path", run.path, "processed", run.Processed)
			}
		}
	}

	if ctx.Err() == nil {
		now := time.Now()
		run.CompletedAt = &now
	}
	if err := saveRun(run); err != nil {
		return run, fmt.Errorf("saving final run file: %w", err)
	}
	return run, ctx.Err()
}

// Summary aggregates a run's proposals into confidence bands.
type Summary struct {
	Total           int
	High            int // confidence >= 0.80
	Mid             int // 0.55 <= confidence < 0.80
	Low             int // confidence < 0.55
	Failed          int // fallback proposals
	ParentProposals []string
	MetaTypeChanges []string // "name: old -> new"
}

// Summarize bands the run's proposals; stubsByName supplies the original
// meta-types for detecting classifier corrections.
func Summarize(run *RunFile, stubsByName map[string]*ontology.Entry) *Summary {
	s := &Summary{Total: len(run.Results)}
	names := make([]string, 0, len(run.Results))
	for name := range run.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := run.Results[name]
		switch {
		case p.EnrichmentMethod == MethodFallback:
			s.Failed++
		case p.Confidence >= 0.80:
			s.High++
		case p.Confidence >= 0.55:
			s.Mid++
		default:
			s.Low++
		}
		if p.ParentOrg != "" {
			s.ParentProposals = append(s.ParentProposals, fmt.Sprintf("%s -> %s", name, p.ParentOrg))
		}
		if stub, ok := stubsByName[name]; ok && p.EnrichmentMethod != MethodFallback && p.MetaType != stub.MetaType {
			s.MetaTypeChanges = append(s.MetaTypeChanges, fmt.Sprintf("%s: %s -> %s", name, stub.MetaType, p.MetaType))
		}
	}
	return s
}

// String renders the summary for CLI output.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "processed %d stubs: %d high (>=0.80), %d mid (0.55-0.79), %d low, %d failed",
		s.Total, s.High, s.Mid, s.Low, s.Failed)
	if len(s.ParentProposals) > 0 {
		fmt.Fprintf(&b, "; %d parent proposals", len(s.ParentProposals))
	}
	if len(s.MetaTypeChanges) > 0 {
		fmt.Fprintf(&b, "; %d meta-type corrections", len(s.MetaTypeChanges))
	}
	return b.String()
}
