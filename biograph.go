// Package biograph answers biographical research questions about
// nominated persons from a corpus of scraped sources. It wires a
// SQLite chunk store, embedding-based retrieval with optional
// reranking, and an LLM question runner with cross-source
// verification. Organization resolution lives in the ontology, match,
// and enrich subpackages.
package biograph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/biograph/llm"
	"github.com/brunobiangulo/biograph/rag"
	"github.com/brunobiangulo/biograph/retrieval"
	"github.com/brunobiangulo/biograph/store"
)

// Pipeline wires the chunk store, LLM providers, retrieval engine, and
// question runner into one research pipeline.
type Pipeline struct {
	cfg    Config
	store  *store.Store
	chat   llm.Provider
	embed  llm.Provider
	runner *rag.Runner
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewPipeline opens the store and constructs all pipeline components.
// Callers must Close the pipeline when done.
func NewPipeline(cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Chat.APIKey == "" {
		return nil, fmt.Errorf("%w: chat provider (%s)", ErrMissingAPIKey, cfg.Chat.Provider)
	}
	if cfg.Embedding.APIKey == "" {
		return nil, fmt.Errorf("%w: embedding provider (%s)", ErrMissingAPIKey, cfg.Embedding.Provider)
	}

	dbPath := cfg.resolveDBPath()
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	st, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	chat, err := llm.NewProvider(llm.Config(cfg.Chat))
	if err != nil {
		st.Close()
		return nil, err
	}
	embed, err := llm.NewProvider(llm.Config(cfg.Embedding))
	if err != nil {
		st.Close()
		return nil, err
	}

	var reranker llm.Reranker
	rerankModel := ""
	if cfg.UseRerank {
		if r, ok := embed.(llm.Reranker); ok {
			reranker = r
			rerankModel = cfg.RerankModel
		} else {
			logger.Warn("rerank enabled but provider does not support it",
				"provider", cfg.Embedding.Provider)
		}
	}

	retriever := retrieval.New(st, embed, reranker, retrieval.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		TopK:                cfg.SimilarityTopK,
		EmbedModel:          cfg.Embedding.Model,
		RerankModel:         rerankModel,
		RerankTopN:          cfg.RerankTopN,
	}, logger)

	runner := rag.NewRunner(retriever, chat, rag.Config{
		MaxChunksToScan:         cfg.MaxChunksToScan,
		ExtractionTemperature:   cfg.ExtractionTemperature,
		ExtractionMaxTokens:     cfg.ExtractionMaxTokens,
		VerificationMaxSources:  cfg.VerificationMaxSources,
		VerificationTemperature: cfg.VerificationTemperature,
		VerificationMaxTokens:   cfg.VerificationMaxTokens,
		ChatModel:               cfg.Chat.Model,
	}, logger)

	return &Pipeline{
		cfg:    cfg,
		store:  st,
		chat:   chat,
		embed:  embed,
		runner: runner,
		logger: logger,
	}, nil
}

// Close releases the pipeline's store. Runs started after Close fail
// with ErrStoreClosed.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.store.Close()
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Store exposes the chunk store for ingestion commands.
func (p *Pipeline) Store() *store.Store { return p.store }

// Embedder exposes the embedding provider for ingestion commands.
func (p *Pipeline) Embedder() llm.Provider { return p.embed }

// QuestionOutcome is one row of a person's run.
type QuestionOutcome struct {
	Question string `json:"question"`
	Suffix   string `json:"suffix"`
	Status   string `json:"status"`
	Path     string `json:"path"`
}

// PersonReport collects one person's outcomes.
type PersonReport struct {
	Person   string            `json:"person"`
	Outcomes []QuestionOutcome `json:"outcomes"`
	Err      error             `json:"-"`
}

// RunPerson answers every configured question for one person: RAG
// questions concurrently, then synthesis questions in order so their
// dependencies are on disk.
func (p *Pipeline) RunPerson(ctx context.Context, personName string) (*PersonReport, error) {
	if p.isClosed() {
		return nil, ErrStoreClosed
	}
	personDir := rag.DirName(personName)
	report := &PersonReport{Person: personName}

	base, err := rag.LoadBaseData(p.cfg.DataDir, personDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no base data", ErrPersonNotFound, personName)
		}
		return nil, err
	}

	questionsDir := filepath.Join(p.cfg.DataDir, "questions")
	ragQs, synthQs, err := rag.DiscoverQuestions(questionsDir)
	if err != nil {
		return nil, err
	}
	if len(ragQs) == 0 && len(synthQs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoQuestions, questionsDir)
	}
	p.logger.Info("running person",
		"person", personName, "rag_questions", len(ragQs), "synthesis_questions", len(synthQs))

	// Phase 1: independent questions in parallel.
	outcomes := make([]QuestionOutcome, len(ragQs))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range ragQs {
		g.Go(func() error {
			out := p.runner.Run(gctx, base, q)
			path := rag.OutputPath(p.cfg.OutputDir, personDir, q.Suffix())
			if err := out.Save(path); err != nil {
				return fmt.Errorf("saving %s: %w", path, err)
			}
			outcomes[i] = QuestionOutcome{
				Question: q.Name,
				Suffix:   q.Suffix(),
				Status:   out.Result.Status,
				Path:     path,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Outcomes = outcomes

	// Phase 2: synthesis questions see phase-1 results on disk.
	for _, q := range synthQs {
		out := p.runner.RunSynthesis(ctx, base, q, p.cfg.OutputDir, personDir)
		path := rag.OutputPath(p.cfg.OutputDir, personDir, q.Suffix())
		if err := out.Save(path); err != nil {
			return nil, fmt.Errorf("saving %s: %w", path, err)
		}
		report.Outcomes = append(report.Outcomes, QuestionOutcome{
			Question: q.Name,
			Suffix:   q.Suffix(),
			Status:   out.Result.Status,
			Path:     path,
		})
	}
	return report, nil
}

// Report aggregates a multi-person run.
type Report struct {
	Persons []PersonReport `json:"persons"`
}

// RunAll processes persons sequentially. A person's failure is recorded
// and does not stop the run; ctx cancellation does.
func (p *Pipeline) RunAll(ctx context.Context, persons []string) (*Report, error) {
	report := &Report{}
	for _, person := range persons {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		pr, err := p.RunPerson(ctx, person)
		if err != nil {
			p.logger.Error("person failed", "person", person, "error", err)
			report.Persons = append(report.Persons, PersonReport{Person: person, Err: err})
			continue
		}
		report.Persons = append(report.Persons, *pr)
	}
	return report, nil
}

// statusAbbrev maps result statuses to the two-letter codes used in the
// summary table.
func statusAbbrev(status string) string {
	switch status {
	case rag.StatusFoundAndVerified:
		return "FV"
	case rag.StatusFoundNoConfirming:
		return "FN"
	case rag.StatusFound:
		return "F"
	case rag.StatusCannotDetermine:
		return "CD"
	case rag.StatusNoChunksRetrieved:
		return "NCR"
	case rag.StatusSkipped:
		return "SK"
	case rag.StatusError:
		return "ER"
	default:
		return "EX"
	}
}

// Summary renders the final run table: one line per person with
// per-question status codes, then aggregate counts.
func (r *Report) Summary() string {
	var b strings.Builder
	counts := make(map[string]int)

	b.WriteString("status codes: FV=found_and_verified FN=found_no_confirming_sources F=found CD=cannot_determine NCR=no_chunks_retrieved SK=skipped ER=error EX=exception\n\n")
	for _, pr := range r.Persons {
		if pr.Err != nil {
			fmt.Fprintf(&b, "%-30s EX (%v)\n", pr.Person, pr.Err)
			counts["EX"]++
			continue
		}
		var cells []string
		for _, o := range pr.Outcomes {
			code := statusAbbrev(o.Status)
			counts[code]++
			cells = append(cells, fmt.Sprintf("%s=%s", o.Suffix, code))
		}
		fmt.Fprintf(&b, "%-30s %s\n", pr.Person, strings.Join(cells, " "))
	}

	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	b.WriteString("\ntotals:")
	for _, code := range codes {
		fmt.Fprintf(&b, " %s=%d", code, counts[code])
	}
	b.WriteString("\n")
	return b.String()
}

// EmbedBatchSize is the largest embedding batch sent in one request.
const EmbedBatchSize = 96

// EmbedChunks embeds chunk texts in batches and stores the vectors.
// When a whole batch fails, each text is retried individually so one
// poison chunk does not sink the rest of the batch.
func (p *Pipeline) EmbedChunks(ctx context.Context, chunkIDs []int64, texts []string) error {
	if len(chunkIDs) != len(texts) {
		return fmt.Errorf("chunk id / text count mismatch: %d vs %d", len(chunkIDs), len(texts))
	}

	failed := 0
	storeVec := func(id int64, vec []float32) error {
		return p.store.InsertEmbedding(ctx, id, vec)
	}

	for start := 0; start < len(texts); start += EmbedBatchSize {
		end := start + EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vecs, err := p.embed.Embed(ctx, llm.EmbedRequest{
			Model:     p.cfg.Embedding.Model,
			Texts:     batch,
			InputType: llm.InputSearchDocument,
		})
		if err == nil && len(vecs) == len(batch) {
			for i, vec := range vecs {
				if err := storeVec(chunkIDs[start+i], vec); err != nil {
					return err
				}
			}
			continue
		}

		p.logger.Warn("embedding batch failed, retrying per text",
			"batch_start", start, "batch_size", len(batch), "error", err)
		for i, text := range batch {
			single, serr := p.embed.Embed(ctx, llm.EmbedRequest{
				Model:     p.cfg.Embedding.Model,
				Texts:     []string{text},
				InputType: llm.InputSearchDocument,
			})
			if serr != nil || len(single) != 1 {
				failed++
				p.logger.Warn("chunk embedding failed", "chunk_id", chunkIDs[start+i], "error", serr)
				continue
			}
			if err := storeVec(chunkIDs[start+i], single[0]); err != nil {
				return err
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d chunks", ErrEmbeddingFailed, failed, len(texts))
	}
	return nil
}
