package rag

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// RunSynthesis answers a synthesis question by combining the result
// blocks of previously answered questions. When any dependency output
// is missing the question is marked skipped without calling the LLM.
func (r *Runner) RunSynthesis(ctx context.Context, base *BaseData, q *QuestionConfig, outputDir, personDir string) *Output {
	start := time.Now()
	out := NewOutput(base, q, r.cfg.ChatModel)

	vars := base.TemplateVars()
	var missing []string
	for placeholder, suffix := range q.DependsOn {
		path := OutputPath(outputDir, personDir, suffix)
		block, err := LoadResultBlock(path)
		if err != nil {
			if !os.IsNotExist(err) {
				r.logger.Warn("synthesis dependency unreadable",
					"question", q.Name, "dependency", suffix, "error", err)
			}
			missing = append(missing, suffix)
			continue
		}
		vars[placeholder] = block
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		out.Result = Result{
			Status: StatusSkipped,
			Notes:  fmt.Sprintf("missing dependencies: %s", strings.Join(missing, ", ")),
		}
		out.finish(start)
		return out
	}

	prompt, err := q.Prompt(vars)
	if err != nil {
		out.Result = Result{Status: StatusError, Notes: err.Error()}
		out.finish(start)
		return out
	}

	temperature := q.Temperature
	if temperature == 0 {
		temperature = r.cfg.ExtractionTemperature
	}
	maxTokens := q.MaxTokens
	if maxTokens == 0 {
		maxTokens = r.cfg.ExtractionMaxTokens
	}

	parsed, raw := r.callLLM(ctx, prompt, temperature, maxTokens)
	entry := &ExtractionEntry{RawLLMOutput: raw, Parsed: parsed}
	if parsed == nil {
		if strings.HasPrefix(raw, "ERROR: ") {
			entry.Error = strings.TrimPrefix(raw, "ERROR: ")
		} else {
			entry.Error = "unparseable LLM output"
		}
		out.ExtractionTrace = append(out.ExtractionTrace, entry)
		out.Result = Result{Status: StatusError, Notes: entry.Error}
		out.finish(start)
		return out
	}

	if c, ok := parsed["confidence"].(string); ok {
		entry.Confidence = c
	}
	if cd, ok := parsed["cannot_determine"].(bool); ok {
		entry.CannotDetermine = cd
	}
	out.ExtractionTrace = append(out.ExtractionTrace, entry)

	if entry.CannotDetermine {
		out.Result = Result{Status: StatusCannotDetermine, Confidence: entry.Confidence}
		out.finish(start)
		return out
	}

	// Synthesis combines answers that were already verified upstream,
	// so no verification pass runs and the plain found status applies.
	result := Result{
		Status:     StatusFound,
		Confidence: entry.Confidence,
		Fields:     contentFields(parsed),
	}
	if quote, ok := parsed["supporting_quote"].(string); ok {
		result.SupportingQuote = quote
	}
	out.Result = result
	out.finish(start)
	return out
}
