package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oceanstack/argo-insight/internal/executor"
	"github.com/oceanstack/argo-insight/internal/metrics"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// Retriever ranks catalog context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]models.RetrievedItem, error)
	Lexical(question string, k int) []models.RetrievedItem
}

// Translator turns a question plus context into a structured query.
type Translator interface {
	Translate(ctx context.Context, question string, items []models.RetrievedItem) (models.TranslationResult, error)
}

// Executor runs structured queries against the measurement store.
type Executor interface {
	Execute(ctx context.Context, q models.StructuredQuery) ([]map[string]any, executor.Compiled, error)
}

// HistoryStore is the append-only query log.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry models.QueryHistoryEntry) error
	ListHistory(ctx context.Context, limit int) ([]models.QueryHistoryEntry, error)
}

// ExecutionError carries the response built before execution failed so the
// caller can still show the attempted query and its explanation.
type ExecutionError struct {
	Response models.QueryResponse
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Response.QueryID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// QueryService orchestrates retrieval, translation, execution and history.
type QueryService struct {
	logger     *slog.Logger
	retriever  Retriever
	translator Translator
	executor   Executor
	history    HistoryStore
	k          int
	latencies  *utils.LatencyTracker
	now        func() time.Time
}

// NewQueryService wires the query pipeline. executor and history may be nil.
func NewQueryService(logger *slog.Logger, retriever Retriever, translator Translator, exec Executor, history HistoryStore, k int) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	if k <= 0 {
		k = 6
	}
	return &QueryService{
		logger:     logger,
		retriever:  retriever,
		translator: translator,
		executor:   exec,
		history:    history,
		k:          k,
		latencies:  utils.NewLatencyTracker(1024),
		now:        time.Now,
	}
}

// Query answers one natural-language question.
func (s *QueryService) Query(ctx context.Context, req models.QueryRequest) (models.QueryResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return models.QueryResponse{}, utils.Invalid("query", "question is required")
	}
	if s.retriever == nil || s.translator == nil {
		return models.QueryResponse{}, errors.New("query pipeline not configured")
	}

	start := time.Now()
	items, err := s.gather(ctx, question, s.k)
	if err != nil {
		metrics.ObserveTranslation(time.Since(start), metrics.OutcomeError)
		return models.QueryResponse{}, err
	}

	result, err := s.translator.Translate(ctx, question, items)
	if err != nil {
		metrics.ObserveTranslation(time.Since(start), metrics.OutcomeError)
		return models.QueryResponse{}, fmt.Errorf("translate: %w", err)
	}

	resp := models.QueryResponse{
		QueryID:                 uuid.NewString(),
		StructuredQuery:         result.StructuredQuery,
		Rows:                    []map[string]any{},
		Confidence:              result.Confidence,
		Reasoning:               result.Reasoning,
		SuggestedVisualizations: result.SuggestedVisualizations,
	}
	if req.IncludeExplanation || !result.Derived() {
		resp.Explanation = result.Explanation
	}

	var execErr error
	if result.Derived() && s.executor != nil {
		rows, compiled, err := s.executor.Execute(ctx, result.StructuredQuery)
		resp.SQLQuery = compiled.SQL
		switch {
		case err == nil:
			resp.Rows = rows
			resp.ResultCount = len(rows)
		case ctx.Err() != nil:
			metrics.ObserveTranslation(time.Since(start), metrics.OutcomeError)
			return models.QueryResponse{}, ctx.Err()
		default:
			execErr = err
			resp.ExecutionError = err.Error()
			if !req.IncludeExplanation {
				resp.Explanation = result.Explanation
			}
		}
	}
	resp.ExecutionTime = time.Since(start)

	s.record(ctx, question, resp)

	outcome := metrics.OutcomeSuccess
	switch {
	case execErr != nil:
		outcome = metrics.OutcomeError
	case !result.Derived():
		outcome = metrics.OutcomeNoQuery
	}
	metrics.ObserveTranslation(resp.ExecutionTime, outcome)
	s.latencies.Observe(resp.ExecutionTime)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("query latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	if execErr != nil {
		s.logger.Warn("structured query execution failed",
			slog.String("query_id", resp.QueryID),
			slog.Any("error", execErr))
		return resp, &ExecutionError{Response: resp, Err: execErr}
	}
	s.logger.Debug("query answered",
		slog.String("query_id", resp.QueryID),
		slog.Float64("confidence", resp.Confidence),
		slog.Int("rows", resp.ResultCount))
	return resp, nil
}

// gather retrieves semantically and falls back to lexical ranking when the
// embedding capability is unavailable.
func (s *QueryService) gather(ctx context.Context, question string, k int) ([]models.RetrievedItem, error) {
	items, err := s.retriever.Retrieve(ctx, question, k)
	if err == nil {
		return items, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	s.logger.Warn("semantic retrieval unavailable, using lexical ranking", slog.Any("error", err))
	return s.retriever.Lexical(question, k), nil
}

func (s *QueryService) record(ctx context.Context, question string, resp models.QueryResponse) {
	if s.history == nil {
		return
	}
	entry := models.QueryHistoryEntry{
		ID:              resp.QueryID,
		Question:        question,
		StructuredQuery: resp.StructuredQuery,
		Confidence:      resp.Confidence,
		ResultCount:     resp.ResultCount,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.history.AppendHistory(ctx, entry); err != nil {
		s.logger.Warn("append query history failed", slog.String("query_id", resp.QueryID), slog.Any("error", err))
	}
}

// SemanticSearch returns the catalog items most similar to query.
func (s *QueryService) SemanticSearch(ctx context.Context, query string, k int) ([]models.RetrievedItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, utils.Invalid("semantic search", "query is required")
	}
	if s.retriever == nil {
		return nil, errors.New("retriever not configured")
	}
	if k <= 0 {
		k = s.k
	}
	items, err := s.gather(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.RetrievedItem{}
	}
	return items, nil
}

// History lists the most recent queries, newest first.
func (s *QueryService) History(ctx context.Context, limit int) ([]models.QueryHistoryEntry, error) {
	if s.history == nil {
		return []models.QueryHistoryEntry{}, nil
	}
	if limit < 0 {
		return nil, utils.Invalid("history", "limit must be positive")
	}
	entries, err := s.history.ListHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// LatencyP95 returns the current p95 query latency.
func (s *QueryService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
