package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

type fakeQueries struct {
	resp    models.QueryResponse
	err     error
	items   []models.RetrievedItem
	history []models.QueryHistoryEntry
	gotK    int
	gotLim  int
}

func (f *fakeQueries) Query(ctx context.Context, req models.QueryRequest) (models.QueryResponse, error) {
	if req.Question == "" {
		return models.QueryResponse{}, utils.Invalid("query", "question is required")
	}
	return f.resp, f.err
}

func (f *fakeQueries) SemanticSearch(ctx context.Context, query string, k int) ([]models.RetrievedItem, error) {
	f.gotK = k
	return f.items, f.err
}

func (f *fakeQueries) History(ctx context.Context, limit int) ([]models.QueryHistoryEntry, error) {
	f.gotLim = limit
	return f.history, nil
}

type fakeAnomalies struct {
	report models.IngestReport
	err    error
	filter models.EventFilter
	points []models.MeasurementPoint
	events []models.AnomalyEvent
}

func (f *fakeAnomalies) Ingest(ctx context.Context, points []models.MeasurementPoint) (models.IngestReport, error) {
	f.points = points
	return f.report, f.err
}

func (f *fakeAnomalies) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.AnomalyEvent, error) {
	f.filter = filter
	return f.events, nil
}

func newTestRouter(q *fakeQueries, a *fakeAnomalies) http.Handler {
	h := NewHandler(q, a, nil)
	h.now = func() time.Time { return time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC) }
	return NewRouter(h)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestRouter(&fakeQueries{}, &fakeAnomalies{}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVING")
}

func TestQueryEndpoint(t *testing.T) {
	q := &fakeQueries{resp: models.QueryResponse{QueryID: "q-1", Confidence: 0.7, Rows: []map[string]any{{"temperature": 12.5}}, ResultCount: 1}}
	router := newTestRouter(q, &fakeAnomalies{})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/query", models.QueryRequest{Question: "temperature near the equator"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "q-1", resp.QueryID)
	assert.Equal(t, 1, resp.ResultCount)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/query", models.QueryRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryEndpointSurfacesExecutionFailure(t *testing.T) {
	q := &fakeQueries{
		resp: models.QueryResponse{QueryID: "q-2", SQLQuery: "SELECT 1", ExecutionError: "relation missing"},
		err:  errors.Join(utils.ErrExecution, errors.New("relation missing")),
	}
	rec := doJSON(t, newTestRouter(q, &fakeAnomalies{}), http.MethodPost, "/api/v1/query", models.QueryRequest{Question: "x"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var resp models.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SELECT 1", resp.SQLQuery)
	assert.Equal(t, "relation missing", resp.ExecutionError)
}

func TestSemanticSearchEndpoint(t *testing.T) {
	q := &fakeQueries{items: []models.RetrievedItem{{Kind: models.ItemFragment, Score: 0.9}}}
	rec := doJSON(t, newTestRouter(q, &fakeAnomalies{}), http.MethodPost, "/api/v1/search/semantic", SearchRequest{Query: "salinity", K: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, q.gotK)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 1)
}

func TestSemanticSearchUnavailable(t *testing.T) {
	q := &fakeQueries{err: utils.ErrEmbeddingUnavailable}
	rec := doJSON(t, newTestRouter(q, &fakeAnomalies{}), http.MethodPost, "/api/v1/search/semantic", SearchRequest{Query: "salinity"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	q := &fakeQueries{history: []models.QueryHistoryEntry{{ID: "a"}, {ID: "b"}}}
	router := newTestRouter(q, &fakeAnomalies{})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/queries/history?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, q.gotLim)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/queries/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestEndpoint(t *testing.T) {
	a := &fakeAnomalies{report: models.IngestReport{Accepted: 1}}
	body := map[string]any{"measurements": []map[string]any{{
		"variable":  "temperature",
		"value":     18.2,
		"depth":     5,
		"latitude":  -10.5,
		"longitude": 60.25,
		"timestamp": "2024-06-30T12:00:00Z",
	}}}
	rec := doJSON(t, newTestRouter(&fakeQueries{}, a), http.MethodPost, "/api/v1/ingest/measurements", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, a.points, 1)
	assert.Equal(t, "temperature", a.points[0].Variable)
	assert.True(t, a.points[0].Timestamp.Equal(time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)))
}

func TestIngestEndpointRejectsMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/measurements", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newTestRouter(&fakeQueries{}, &fakeAnomalies{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAnomaliesParsesFilter(t *testing.T) {
	a := &fakeAnomalies{events: []models.AnomalyEvent{{ID: "evt-1", AnomalyType: models.AnomalyHeatwave}}}
	router := newTestRouter(&fakeQueries{}, a)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/anomalies?type=heatwave&severity=high&start=now-7d&bbox=-80,0,0,65&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.AnomalyHeatwave, a.filter.AnomalyType)
	assert.Equal(t, models.SeverityHigh, a.filter.Severity)
	require.NotNil(t, a.filter.Start)
	assert.True(t, a.filter.Start.Equal(time.Date(2024, 6, 24, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, a.filter.BBox)
	assert.Equal(t, -80.0, a.filter.BBox.MinLon)
	assert.Equal(t, 5, a.filter.Limit)

	var resp AnomaliesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/anomalies?type=tsunami", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, router, http.MethodGet, "/api/v1/anomalies?bbox=1,2,3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(utils.ErrSchemaValidation))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(utils.ErrCapabilityTimeout))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}
