package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// QueryBackend answers natural-language questions.
type QueryBackend interface {
	Query(ctx context.Context, req models.QueryRequest) (models.QueryResponse, error)
	SemanticSearch(ctx context.Context, query string, k int) ([]models.RetrievedItem, error)
	History(ctx context.Context, limit int) ([]models.QueryHistoryEntry, error)
}

// AnomalyBackend ingests measurements and lists anomaly events.
type AnomalyBackend interface {
	Ingest(ctx context.Context, points []models.MeasurementPoint) (models.IngestReport, error)
	ListEvents(ctx context.Context, f models.EventFilter) ([]models.AnomalyEvent, error)
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves the HTTP API.
type Handler struct {
	queries   QueryBackend
	anomalies AnomalyBackend
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler constructs the HTTP handler set.
func NewHandler(queries QueryBackend, anomalies AnomalyBackend, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queries: queries, anomalies: anomalies, logger: logger, now: time.Now}
}

// NewRouter builds a gin engine with request logging, recovery and all routes.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(h.logger))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes mounts the API under /api/v1.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1")
	v1.POST("/query", h.Query)
	v1.POST("/search/semantic", h.SemanticSearch)
	v1.GET("/queries/history", h.History)
	v1.POST("/ingest/measurements", h.Ingest)
	v1.GET("/anomalies", h.ListAnomalies)
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "SERVING"})
}

// Query translates and executes a question.
func (h *Handler) Query(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	resp, err := h.queries.Query(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, utils.ErrExecution) && resp.QueryID != "" {
			c.JSON(http.StatusBadGateway, resp)
			return
		}
		h.fail(c, "query", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SemanticSearch returns the nearest catalog items.
func (h *Handler) SemanticSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	items, err := h.queries.SemanticSearch(c.Request.Context(), req.Query, req.K)
	if err != nil {
		h.fail(c, "semantic search", err)
		return
	}
	c.JSON(http.StatusOK, SearchResponse{Items: items})
}

// History lists recent queries.
func (h *Handler) History(c *gin.Context) {
	limit, err := ParseLimit(c.Query("limit"))
	if err != nil {
		h.fail(c, "history", err)
		return
	}
	entries, err := h.queries.History(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "history", err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Queries: entries})
}

// Ingest feeds a measurement batch to the detector.
func (h *Handler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	report, err := h.anomalies.Ingest(c.Request.Context(), req.Measurements)
	if err != nil {
		if errors.Is(err, utils.ErrInvalidInput) {
			h.fail(c, "ingest", err)
			return
		}
		h.logger.Error("ingest completed with errors", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, report)
		return
	}
	c.JSON(http.StatusAccepted, report)
}

// ListAnomalies lists anomaly events matching the query parameters.
func (h *Handler) ListAnomalies(c *gin.Context) {
	params := map[string]string{
		"type":     c.Query("type"),
		"severity": c.Query("severity"),
		"start":    c.Query("start"),
		"end":      c.Query("end"),
		"bbox":     c.Query("bbox"),
		"limit":    c.Query("limit"),
	}
	filter, err := ParseEventFilter(params, h.now())
	if err != nil {
		h.fail(c, "list anomalies", err)
		return
	}
	events, err := h.anomalies.ListEvents(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "list anomalies", err)
		return
	}
	c.JSON(http.StatusOK, AnomaliesResponse{Events: events, Count: len(events)})
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// HTTPStatus maps the error taxonomy onto HTTP status codes.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, utils.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrSchemaValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrEmbeddingUnavailable), errors.Is(err, utils.ErrCapabilityTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, utils.ErrExecution):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
