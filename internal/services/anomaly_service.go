package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oceanstack/argo-insight/internal/aggregator"
	"github.com/oceanstack/argo-insight/internal/detector"
	"github.com/oceanstack/argo-insight/internal/metrics"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// Measurement outcomes reported to metrics.
const (
	measurementAbsorbed = "absorbed"
	measurementFlagged  = "flagged"
	measurementSkipped  = "skipped"
	measurementRejected = "rejected"
)

// Detector scores measurement batches against rolling baselines.
type Detector interface {
	ObserveBatch(ctx context.Context, points []models.MeasurementPoint) []detector.Result
}

// Aggregator clusters flags into events.
type Aggregator interface {
	Ingest(flag models.AnomalyFlag) (models.AnomalyEvent, string, error)
	Sweep(watermark time.Time) []models.AnomalyEvent
	Restore(events []models.AnomalyEvent)
}

// EventStore persists anomaly events.
type EventStore interface {
	UpsertEvent(ctx context.Context, e models.AnomalyEvent) error
	ListEvents(ctx context.Context, f models.EventFilter) ([]models.AnomalyEvent, error)
	OpenEvents(ctx context.Context) ([]models.AnomalyEvent, error)
}

// Publisher fans event transitions out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, action string, event models.AnomalyEvent) error
}

// AnomalyService feeds measurements through detection and aggregation and
// keeps the event store current.
type AnomalyService struct {
	logger     *slog.Logger
	detector   Detector
	aggregator Aggregator
	store      EventStore
	publisher  Publisher

	mu        sync.Mutex
	watermark time.Time
}

// NewAnomalyService wires the anomaly pipeline. publisher may be nil.
func NewAnomalyService(logger *slog.Logger, det Detector, agg Aggregator, store EventStore, publisher Publisher) *AnomalyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnomalyService{
		logger:     logger,
		detector:   det,
		aggregator: agg,
		store:      store,
		publisher:  publisher,
	}
}

// Restore reloads open events so a restart keeps extending them.
func (s *AnomalyService) Restore(ctx context.Context) error {
	if s.store == nil || s.aggregator == nil {
		return nil
	}
	events, err := s.store.OpenEvents(ctx)
	if err != nil {
		return fmt.Errorf("load open events: %w", err)
	}
	s.aggregator.Restore(events)
	for _, e := range events {
		s.advance(e.LastFlagAt)
	}
	s.logger.Info("restored open anomaly events", slog.Int("count", len(events)))
	return nil
}

// Ingest evaluates a batch. Per-point failures are reported by index and do
// not stop the rest of the batch.
func (s *AnomalyService) Ingest(ctx context.Context, points []models.MeasurementPoint) (models.IngestReport, error) {
	if len(points) == 0 {
		return models.IngestReport{}, utils.Invalid("ingest", "batch is empty")
	}
	if s.detector == nil || s.aggregator == nil {
		return models.IngestReport{}, errors.New("anomaly pipeline not configured")
	}

	report := models.IngestReport{}
	results := s.detector.ObserveBatch(ctx, points)
	touched := make(map[string]models.AnomalyEvent)
	var opened []models.AnomalyEvent

	for i, res := range results {
		switch {
		case res.Err == nil:
			report.Accepted++
			s.advance(points[i].Timestamp)
		case errors.Is(res.Err, utils.ErrOutOfRangeValue):
			report.Skipped++
			metrics.ObserveMeasurement(measurementSkipped)
			continue
		default:
			report.Errors = append(report.Errors, models.IngestItemError{Index: i, Error: res.Err.Error()})
			metrics.ObserveMeasurement(measurementRejected)
			if errors.Is(res.Err, utils.ErrOutOfOrderPoint) {
				s.logger.Debug("out of order point rejected", slog.Int("index", i), slog.String("variable", points[i].Variable))
			}
			continue
		}

		if res.Flag == nil {
			metrics.ObserveMeasurement(measurementAbsorbed)
			continue
		}
		report.Flagged++
		metrics.ObserveMeasurement(measurementFlagged)

		event, action, err := s.aggregator.Ingest(*res.Flag)
		if err != nil {
			if !errors.Is(err, utils.ErrUnclassifiedVariable) {
				s.logger.Warn("aggregate flag failed", slog.Int("index", i), slog.Any("error", err))
			}
			continue
		}
		switch action {
		case aggregator.ActionOpened:
			opened = append(opened, event)
		case aggregator.ActionDuplicate:
			continue
		}
		metrics.ObserveEvent(string(event.AnomalyType), action)
		touched[event.ID] = event
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	report.Events = ids

	var persistErr error
	for _, id := range ids {
		if err := s.persist(ctx, touched[id]); err != nil {
			persistErr = errors.Join(persistErr, err)
		}
	}
	for _, e := range opened {
		s.publish(ctx, aggregator.ActionOpened, touched[e.ID])
	}

	s.logger.Debug("measurement batch ingested",
		slog.Int("points", len(points)),
		slog.Int("accepted", report.Accepted),
		slog.Int("flagged", report.Flagged),
		slog.Int("skipped", report.Skipped),
		slog.Int("rejected", len(report.Errors)))
	if persistErr != nil {
		return report, fmt.Errorf("persist events: %w", persistErr)
	}
	return report, nil
}

// Sweep closes events idle for longer than the gap window, measured against
// the newest measurement timestamp seen so far.
func (s *AnomalyService) Sweep(ctx context.Context) ([]models.AnomalyEvent, error) {
	if s.aggregator == nil {
		return nil, nil
	}
	watermark := s.Watermark()
	if watermark.IsZero() {
		return nil, nil
	}
	closed := s.aggregator.Sweep(watermark)
	var persistErr error
	for _, e := range closed {
		metrics.ObserveEvent(string(e.AnomalyType), aggregator.ActionClosed)
		if err := s.persist(ctx, e); err != nil {
			persistErr = errors.Join(persistErr, err)
			continue
		}
		s.publish(ctx, aggregator.ActionClosed, e)
	}
	if len(closed) > 0 {
		s.logger.Info("anomaly events closed", slog.Int("count", len(closed)), slog.Time("watermark", watermark))
	}
	if persistErr != nil {
		return closed, fmt.Errorf("persist closed events: %w", persistErr)
	}
	return closed, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *AnomalyService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("anomaly sweep failed", slog.Any("error", err))
			}
		}
	}
}

// ListEvents returns persisted events matching f.
func (s *AnomalyService) ListEvents(ctx context.Context, f models.EventFilter) ([]models.AnomalyEvent, error) {
	if s.store == nil {
		return nil, errors.New("event store not configured")
	}
	if f.BBox != nil {
		if err := f.BBox.Validate(); err != nil {
			return nil, utils.Invalid("list events", err.Error())
		}
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return nil, utils.Invalid("list events", "end must not precede start")
	}
	if f.Limit < 0 {
		return nil, utils.Invalid("list events", "limit must be positive")
	}
	events, err := s.store.ListEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if events == nil {
		events = []models.AnomalyEvent{}
	}
	return events, nil
}

// Watermark returns the newest accepted measurement timestamp.
func (s *AnomalyService) Watermark() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

func (s *AnomalyService) advance(ts time.Time) {
	s.mu.Lock()
	if ts.After(s.watermark) {
		s.watermark = ts.UTC()
	}
	s.mu.Unlock()
}

func (s *AnomalyService) persist(ctx context.Context, e models.AnomalyEvent) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.UpsertEvent(ctx, e); err != nil {
		s.logger.Error("persist anomaly event failed", slog.String("event_id", e.ID), slog.Any("error", err))
		return err
	}
	return nil
}

func (s *AnomalyService) publish(ctx context.Context, action string, e models.AnomalyEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, action, e); err != nil {
		s.logger.Warn("publish anomaly alert failed",
			slog.String("event_id", e.ID),
			slog.String("action", action),
			slog.Any("error", err))
	}
}
