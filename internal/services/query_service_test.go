package services

import (
	"context"
	"errors"
	"testing"

	"github.com/oceanstack/argo-insight/internal/executor"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/repo"
	"github.com/oceanstack/argo-insight/internal/utils"
)

type stubRetriever struct {
	items   []models.RetrievedItem
	lexical []models.RetrievedItem
	err     error
}

func (s *stubRetriever) Retrieve(ctx context.Context, question string, k int) ([]models.RetrievedItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func (s *stubRetriever) Lexical(question string, k int) []models.RetrievedItem {
	return s.lexical
}

type stubTranslator struct {
	result models.TranslationResult
	err    error
	seen   []models.RetrievedItem
}

func (s *stubTranslator) Translate(ctx context.Context, question string, items []models.RetrievedItem) (models.TranslationResult, error) {
	s.seen = items
	return s.result, s.err
}

type stubExecutor struct {
	rows  []map[string]any
	err   error
	calls int
}

func (s *stubExecutor) Execute(ctx context.Context, q models.StructuredQuery) ([]map[string]any, executor.Compiled, error) {
	s.calls++
	return s.rows, executor.Compiled{SQL: "SELECT 1"}, s.err
}

func fragmentItem(id string, score float64) models.RetrievedItem {
	return models.RetrievedItem{Kind: models.ItemFragment, Fragment: &models.SchemaFragment{ID: id, EntityName: id}, Score: score}
}

func derivedResult() models.TranslationResult {
	return models.TranslationResult{
		StructuredQuery: models.StructuredQuery{Select: []string{"measurements.temperature"}, Limit: 10},
		Confidence:      0.65,
		Explanation:     []string{"Selected measurements.temperature"},
		Reasoning:       "temperature readings",
	}
}

func TestQueryExecutesDerivedQuery(t *testing.T) {
	history := repo.NewMemoryHistory(10)
	exec := &stubExecutor{rows: []map[string]any{{"temperature": 21.5}, {"temperature": 20.9}}}
	translator := &stubTranslator{result: derivedResult()}
	svc := NewQueryService(nil, &stubRetriever{items: []models.RetrievedItem{fragmentItem("measurements", 0.8)}}, translator, exec, history, 4)

	resp, err := svc.Query(context.Background(), models.QueryRequest{Question: "  temperature readings  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.QueryID == "" || resp.ResultCount != 2 || resp.SQLQuery != "SELECT 1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Explanation != nil {
		t.Fatalf("explanation should be omitted unless requested")
	}

	entries, err := history.ListHistory(context.Background(), 5)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != resp.QueryID || entries[0].Question != "temperature readings" || entries[0].ResultCount != 2 {
		t.Fatalf("unexpected history %+v", entries)
	}
}

func TestQueryFallsBackToLexicalContext(t *testing.T) {
	lexical := []models.RetrievedItem{fragmentItem("floats", 0.5)}
	translator := &stubTranslator{result: derivedResult()}
	retriever := &stubRetriever{err: utils.ErrEmbeddingUnavailable, lexical: lexical}
	svc := NewQueryService(nil, retriever, translator, nil, nil, 4)

	resp, err := svc.Query(context.Background(), models.QueryRequest{Question: "active floats", IncludeExplanation: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(translator.seen) != 1 || translator.seen[0].Fragment.ID != "floats" {
		t.Fatalf("expected lexical context, got %+v", translator.seen)
	}
	if len(resp.Explanation) == 0 {
		t.Fatalf("expected explanation when requested")
	}
	if resp.SQLQuery != "" || len(resp.Rows) != 0 {
		t.Fatalf("no executor configured, got %+v", resp)
	}
}

func TestQueryExecutionFailureKeepsQuery(t *testing.T) {
	exec := &stubExecutor{err: errors.Join(utils.ErrExecution, errors.New("relation missing"))}
	svc := NewQueryService(nil, &stubRetriever{}, &stubTranslator{result: derivedResult()}, exec, nil, 4)

	resp, err := svc.Query(context.Background(), models.QueryRequest{Question: "temperature readings"})
	if err == nil {
		t.Fatalf("expected execution error")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %T", err)
	}
	if !errors.Is(err, utils.ErrExecution) {
		t.Fatalf("expected ErrExecution in chain")
	}
	if len(execErr.Response.StructuredQuery.Select) != 1 || len(execErr.Response.Explanation) == 0 {
		t.Fatalf("attempted query should be surfaced, got %+v", execErr.Response)
	}
	if resp.ExecutionError == "" || resp.SQLQuery != "SELECT 1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestQueryWithoutSafeQuerySkipsExecution(t *testing.T) {
	exec := &stubExecutor{}
	result := models.TranslationResult{Confidence: 0, Explanation: []string{"No safe query could be derived"}}
	svc := NewQueryService(nil, &stubRetriever{}, &stubTranslator{result: result}, exec, nil, 4)

	resp, err := svc.Query(context.Background(), models.QueryRequest{Question: "what is the meaning of life"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls != 0 {
		t.Fatalf("executor should not run without a derived query")
	}
	if resp.Confidence != 0 || len(resp.Explanation) != 1 {
		t.Fatalf("expected zero confidence with explanation, got %+v", resp)
	}
}

func TestQueryRejectsBlankQuestion(t *testing.T) {
	svc := NewQueryService(nil, &stubRetriever{}, &stubTranslator{}, nil, nil, 4)
	if _, err := svc.Query(context.Background(), models.QueryRequest{Question: "   "}); !errors.Is(err, utils.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestQueryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	translator := &stubTranslator{result: derivedResult()}
	svc := NewQueryService(nil, &stubRetriever{err: context.Canceled}, translator, nil, nil, 4)

	if _, err := svc.Query(ctx, models.QueryRequest{Question: "temperature"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if translator.seen != nil {
		t.Fatalf("translator should not run after cancellation")
	}
}

func TestSemanticSearchDefaultsK(t *testing.T) {
	items := []models.RetrievedItem{fragmentItem("profiles", 0.9)}
	svc := NewQueryService(nil, &stubRetriever{items: items}, &stubTranslator{}, nil, nil, 4)

	got, err := svc.SemanticSearch(context.Background(), "profiles", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one item, got %d", len(got))
	}
	if _, err := svc.SemanticSearch(context.Background(), "", 3); !errors.Is(err, utils.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank query, got %v", err)
	}
}

func TestHistoryWithoutStoreIsEmpty(t *testing.T) {
	svc := NewQueryService(nil, &stubRetriever{}, &stubTranslator{}, nil, nil, 4)
	entries, err := svc.History(context.Background(), 10)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty history, got %v %v", entries, err)
	}
}
