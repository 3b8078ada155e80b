// Package translator turns a question plus retrieved context into a grounded
// structured query with a confidence score and an explanation.
package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/oceanstack/argo-insight/internal/cache"
	"github.com/oceanstack/argo-insight/internal/capability"
	"github.com/oceanstack/argo-insight/internal/catalog"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// Weights tune the confidence formula.
type Weights struct {
	Retrieval          float64
	Certainty          float64
	RewritePenalty     float64
	HeuristicCertainty float64
}

// DefaultWeights mirrors the configuration defaults.
func DefaultWeights() Weights {
	return Weights{Retrieval: 0.5, Certainty: 0.5, RewritePenalty: 0.1, HeuristicCertainty: 0.6}
}

// score combines the top retrieval similarity and generator certainty, minus a
// penalty per rewrite. Valid queries never score below 0.01 so that a zero
// confidence always means nothing could be derived.
func (w Weights) score(top, certainty float64, rewrites int) float64 {
	total := w.Retrieval + w.Certainty
	if total <= 0 {
		total = 1
	}
	c := (w.Retrieval*clamp01(top)+w.Certainty*clamp01(certainty))/total - w.RewritePenalty*float64(rewrites)
	c = math.Max(0.01, math.Min(1, c))
	return math.Round(c*10000) / 10000
}

// Options configures a Translator.
type Options struct {
	Weights Weights
	// ResponseCache stores raw generator output keyed by prompt hash.
	ResponseCache cache.Provider
	ResponseTTL   time.Duration
}

// Translator is safe for concurrent use; it holds only read-only state.
type Translator struct {
	store     *catalog.Store
	generator capability.Generator
	lexicon   *Lexicon
	opts      Options
	logger    *slog.Logger
}

// New builds a translator. generator may be nil, in which case every query is
// derived from the lexicon.
func New(store *catalog.Store, generator capability.Generator, lexicon *Lexicon, opts Options, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ResponseCache == nil {
		opts.ResponseCache = cache.NoopProvider{}
	}
	return &Translator{store: store, generator: generator, lexicon: lexicon, opts: opts, logger: logger}
}

const noSafeQuery = "No safe query could be derived from the question and the retrieved context; nothing was executed"

// Translate produces a grounded structured query. Capability failures degrade
// to heuristics; the only error returned is the caller's context error.
func (tr *Translator) Translate(ctx context.Context, question string, items []models.RetrievedItem) (models.TranslationResult, error) {
	result := models.TranslationResult{RetrievedContextIDs: make([]string, 0, len(items))}
	for _, item := range items {
		result.RetrievedContextIDs = append(result.RetrievedContextIDs, item.ID())
	}
	steps := []string{describeContext(items)}
	question = strings.TrimSpace(question)
	if question == "" {
		result.Explanation = append(steps, noSafeQuery)
		return result, nil
	}

	g := newGrounding(items, tr.store)
	w := tr.opts.Weights

	var (
		query     models.StructuredQuery
		rewrites  []string
		certainty = w.HeuristicCertainty
	)

	candidate, step, err := tr.generate(ctx, question, items, g)
	if err != nil {
		return models.TranslationResult{}, err
	}
	steps = append(steps, step)

	if candidate != nil {
		repaired, notes := tr.repair(candidate.Query, g)
		if !repaired.Empty() {
			query, rewrites = repaired, notes
			if candidate.Confidence != nil {
				certainty = *candidate.Confidence
			}
			result.Reasoning = candidate.Reasoning
		} else {
			steps = append(steps, fmt.Sprintf("Generated query rejected: %s", strings.Join(notes, "; ")))
		}
	}

	if query.Empty() {
		derived, notes := tr.lexicon.derive(question, g)
		repaired, fixes := tr.repair(derived, g)
		if repaired.Empty() {
			steps = append(steps, "Keyword heuristics: "+strings.Join(notes, "; "))
			result.Explanation = append(steps, noSafeQuery)
			return result, nil
		}
		query = repaired
		rewrites = append([]string{"derived query from question keywords"}, fixes...)
		certainty = w.HeuristicCertainty
		result.Reasoning = "Keyword heuristics: " + strings.Join(notes, "; ")
	}

	if !g.covers(query) {
		result.Explanation = append(steps, noSafeQuery)
		return result, nil
	}

	for _, note := range rewrites {
		steps = append(steps, "Rewrite: "+note)
	}
	top := topScore(items)
	confidence := w.score(top, certainty, len(rewrites))
	steps = append(steps,
		describeFields(query),
		describeFilters(query),
		w.describe(top, certainty, len(rewrites), confidence),
	)

	result.StructuredQuery = query
	result.Confidence = confidence
	result.RewritesApplied = len(rewrites)
	result.Explanation = steps
	result.SuggestedVisualizations = suggestVisualizations(query)
	return result, nil
}

// generate asks the generator for a candidate. A nil candidate with a nil
// error means translation continues on heuristics; step explains why.
func (tr *Translator) generate(ctx context.Context, question string, items []models.RetrievedItem, g *grounding) (*generation, string, error) {
	if tr.generator == nil {
		return nil, "Generation disabled; deriving the query from keyword heuristics", nil
	}
	if len(g.entities) == 0 {
		return nil, "No schema fragments retrieved; skipping generation", nil
	}

	prompt := buildPrompt(question, items)
	key := cache.TextKey("generation", prompt)
	raw, err := tr.cachedResponse(ctx, key)
	if err != nil {
		raw, err = tr.generator.Generate(ctx, prompt, capability.Constraints{JSON: true, Temperature: 0, MaxTokens: 1024})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", ctxErr
			}
			reason := "unavailable"
			if errors.Is(err, utils.ErrCapabilityTimeout) {
				reason = "timed out"
			}
			tr.logger.Warn("generation failed, using heuristics", slog.String("reason", reason), slog.Any("error", err))
			return nil, fmt.Sprintf("Generation %s; falling back to keyword heuristics", reason), nil
		}
		if setErr := tr.storeResponse(ctx, key, raw); setErr != nil {
			tr.logger.Debug("response cache write failed", slog.Any("error", setErr))
		}
	}

	parsed, err := parseGeneration(raw)
	if err != nil {
		return nil, fmt.Sprintf("Generated output rejected (%v); falling back to keyword heuristics", err), nil
	}
	step := "Generated a candidate query from the retrieved context"
	if parsed.Confidence != nil {
		step += fmt.Sprintf(" (self-reported certainty %.2f)", *parsed.Confidence)
	}
	return &parsed, step, nil
}

func (tr *Translator) cachedResponse(ctx context.Context, key string) (string, error) {
	data, err := tr.opts.ResponseCache.Get(ctx, key)
	if err != nil {
		return "", err
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw, nil
}

func (tr *Translator) storeResponse(ctx context.Context, key, raw string) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return tr.opts.ResponseCache.Set(ctx, key, data, tr.opts.ResponseTTL)
}

func topScore(items []models.RetrievedItem) float64 {
	top := 0.0
	for _, item := range items {
		if item.Score > top {
			top = item.Score
		}
	}
	return top
}
