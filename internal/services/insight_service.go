package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oceanstack/argo-insight/internal/api"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// InsightService implements the gRPC InsightEngine service.
type InsightService struct {
	api.UnimplementedInsightEngineServer

	logger    *slog.Logger
	queries   *QueryService
	anomalies *AnomalyService
	now       func() time.Time
}

// NewInsightService constructs the gRPC facade.
func NewInsightService(logger *slog.Logger, queries *QueryService, anomalies *AnomalyService) *InsightService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InsightService{logger: logger, queries: queries, anomalies: anomalies, now: time.Now}
}

// Query translates and executes a question.
func (s *InsightService) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.queries == nil {
		return nil, status.Error(codes.FailedPrecondition, "query service not configured")
	}
	var in models.QueryRequest
	if err := api.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, err := s.queries.Query(ctx, in)
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			st := status.New(codes.Unavailable, err.Error())
			if detail, derr := api.ToStruct(execErr.Response); derr == nil {
				if withDetail, werr := st.WithDetails(detail); werr == nil {
					st = withDetail
				}
			}
			return nil, st.Err()
		}
		return nil, s.statusError("query", err)
	}
	return s.encode(resp)
}

// IngestMeasurements feeds a batch to the detector.
func (s *InsightService) IngestMeasurements(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.anomalies == nil {
		return nil, status.Error(codes.FailedPrecondition, "anomaly service not configured")
	}
	var in api.IngestRequest
	if err := api.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	report, err := s.anomalies.Ingest(ctx, in.Measurements)
	if err != nil {
		return nil, s.statusError("ingest", err)
	}
	return s.encode(report)
}

// ListAnomalies lists persisted anomaly events.
func (s *InsightService) ListAnomalies(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.anomalies == nil {
		return nil, status.Error(codes.FailedPrecondition, "anomaly service not configured")
	}
	filter, err := api.ParseEventFilter(api.StringParams(req), s.now())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	events, err := s.anomalies.ListEvents(ctx, filter)
	if err != nil {
		return nil, s.statusError("list anomalies", err)
	}
	return s.encode(api.AnomaliesResponse{Events: events, Count: len(events)})
}

// ListQueryHistory lists recent queries.
func (s *InsightService) ListQueryHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.queries == nil {
		return nil, status.Error(codes.FailedPrecondition, "query service not configured")
	}
	limit, err := api.ParseLimit(api.StringParams(req)["limit"])
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	entries, err := s.queries.History(ctx, limit)
	if err != nil {
		return nil, s.statusError("history", err)
	}
	return s.encode(api.HistoryResponse{Queries: entries})
}

// SemanticSearch returns the nearest catalog items.
func (s *InsightService) SemanticSearch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.queries == nil {
		return nil, status.Error(codes.FailedPrecondition, "query service not configured")
	}
	var in api.SearchRequest
	if err := api.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	items, err := s.queries.SemanticSearch(ctx, in.Query, in.K)
	if err != nil {
		return nil, s.statusError("semantic search", err)
	}
	return s.encode(api.SearchResponse{Items: items})
}

// HealthCheck returns the current health state.
func (s *InsightService) HealthCheck(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": "SERVING"})
}

func (s *InsightService) encode(v any) (*structpb.Struct, error) {
	out, err := api.ToStruct(v)
	if err != nil {
		s.logger.Error("encode response failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func (s *InsightService) statusError(op string, err error) error {
	code := codeFor(err)
	if code == codes.Internal {
		s.logger.Error(op+" failed", slog.Any("error", err))
		return status.Error(code, fmt.Sprintf("%s failed", op))
	}
	return status.Error(code, err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, utils.ErrInvalidInput):
		return codes.InvalidArgument
	case errors.Is(err, utils.ErrSchemaValidation):
		return codes.FailedPrecondition
	case errors.Is(err, utils.ErrEmbeddingUnavailable), errors.Is(err, utils.ErrCapabilityTimeout), errors.Is(err, utils.ErrExecution):
		return codes.Unavailable
	}
	return codes.Internal
}
