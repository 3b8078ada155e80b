package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oceanstack/argo-insight/internal/aggregator"
	"github.com/oceanstack/argo-insight/internal/config"
	"github.com/oceanstack/argo-insight/internal/detector"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/repo"
	"github.com/oceanstack/argo-insight/internal/utils"
)

type recordingPublisher struct {
	mu      sync.Mutex
	actions []string
	events  []models.AnomalyEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, action string, event models.AnomalyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	r.events = append(r.events, event)
	return nil
}

type failingStore struct {
	*repo.MemoryEvents
}

func (f failingStore) UpsertEvent(ctx context.Context, e models.AnomalyEvent) error {
	return errors.New("database unavailable")
}

var t0 = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func newAnomalyPipeline(store EventStore, pub Publisher) *AnomalyService {
	det := detector.New(config.DetectorConfig{
		DefaultThreshold: 2.5,
		WarmUp:           5,
		Mode:             detector.ModeWindow,
		Window:           20,
		CellDegrees:      1,
		DepthBandMeters:  100,
		MinStdDev:        0.01,
		Workers:          2,
	}, nil)
	agg := aggregator.New(config.AggregatorConfig{Gap: 72 * time.Hour, RadiusKm: 300}, nil)
	return NewAnomalyService(nil, det, agg, store, pub)
}

func temperatureAt(hour int, value float64) models.MeasurementPoint {
	return models.MeasurementPoint{
		Variable:  models.VariableTemperature,
		Value:     value,
		Depth:     10,
		Latitude:  40.5,
		Longitude: -30.5,
		Timestamp: t0.Add(time.Duration(hour) * time.Hour),
	}
}

func warmBatch() []models.MeasurementPoint {
	var points []models.MeasurementPoint
	for i := 0; i < 6; i++ {
		v := 20.0
		if i%2 == 1 {
			v = 20.2
		}
		points = append(points, temperatureAt(i, v))
	}
	return points
}

func TestIngestOpensAndPersistsEvent(t *testing.T) {
	store := repo.NewMemoryEvents()
	pub := &recordingPublisher{}
	svc := newAnomalyPipeline(store, pub)

	points := warmBatch()
	points = append(points, temperatureAt(6, 25.0), temperatureAt(7, 25.3))
	bad := temperatureAt(8, 99)
	bad.QualityFlag = "4"
	points = append(points, bad)

	report, err := svc.Ingest(context.Background(), points)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Accepted != 8 || report.Flagged != 2 || report.Skipped != 1 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Events) != 1 {
		t.Fatalf("expected one event, got %v", report.Events)
	}

	events, err := store.ListEvents(context.Background(), models.EventFilter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].AnomalyType != models.AnomalyHeatwave || events[0].FlagCount != 2 {
		t.Fatalf("unexpected stored events %+v", events)
	}
	if len(pub.actions) != 1 || pub.actions[0] != aggregator.ActionOpened || pub.events[0].FlagCount != 2 {
		t.Fatalf("expected a single opened alert, got %v", pub.actions)
	}
	if !svc.Watermark().Equal(t0.Add(7 * time.Hour)) {
		t.Fatalf("unexpected watermark %v", svc.Watermark())
	}
}

func TestIngestReportsOutOfOrderPoints(t *testing.T) {
	svc := newAnomalyPipeline(repo.NewMemoryEvents(), nil)
	points := []models.MeasurementPoint{temperatureAt(5, 20), temperatureAt(1, 20), {Variable: ""}}

	report, err := svc.Ingest(context.Background(), points)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Accepted != 1 || len(report.Errors) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Errors[0].Index != 1 || report.Errors[1].Index != 2 {
		t.Fatalf("errors should carry batch indexes, got %+v", report.Errors)
	}
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	svc := newAnomalyPipeline(repo.NewMemoryEvents(), nil)
	if _, err := svc.Ingest(context.Background(), nil); !errors.Is(err, utils.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestIngestSurfacesPersistFailure(t *testing.T) {
	svc := newAnomalyPipeline(failingStore{repo.NewMemoryEvents()}, nil)
	points := append(warmBatch(), temperatureAt(6, 25.0))

	report, err := svc.Ingest(context.Background(), points)
	if err == nil {
		t.Fatalf("expected persist error")
	}
	if report.Flagged != 1 {
		t.Fatalf("report should still be returned, got %+v", report)
	}
}

func TestSweepClosesIdleEvents(t *testing.T) {
	store := repo.NewMemoryEvents()
	pub := &recordingPublisher{}
	svc := newAnomalyPipeline(store, pub)

	if _, err := svc.Ingest(context.Background(), append(warmBatch(), temperatureAt(6, 25.0))); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	closed, err := svc.Sweep(context.Background())
	if err != nil || len(closed) != 0 {
		t.Fatalf("nothing should close yet, got %v %v", closed, err)
	}

	// A normal reading four days later moves the watermark past the gap.
	if _, err := svc.Ingest(context.Background(), []models.MeasurementPoint{temperatureAt(6+96, 20.1)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	closed, err = svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(closed) != 1 || closed[0].EndTime == nil || !closed[0].EndTime.Equal(t0.Add(6*time.Hour)) {
		t.Fatalf("expected one closed event, got %+v", closed)
	}

	open, _ := store.OpenEvents(context.Background())
	if len(open) != 0 {
		t.Fatalf("store should hold no open events, got %d", len(open))
	}
	if pub.actions[len(pub.actions)-1] != aggregator.ActionClosed {
		t.Fatalf("expected closed alert, got %v", pub.actions)
	}
}

func TestRestoreExtendsPersistedEvents(t *testing.T) {
	store := repo.NewMemoryEvents()
	first := newAnomalyPipeline(store, nil)
	report, err := first.Ingest(context.Background(), append(warmBatch(), temperatureAt(6, 25.0)))
	if err != nil || len(report.Events) != 1 {
		t.Fatalf("ingest: %+v %v", report, err)
	}

	restarted := newAnomalyPipeline(store, nil)
	if err := restarted.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restarted.Watermark().Equal(t0.Add(6 * time.Hour)) {
		t.Fatalf("watermark should resume from stored events, got %v", restarted.Watermark())
	}
	if _, err := restarted.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	open, _ := store.OpenEvents(context.Background())
	if len(open) != 1 || open[0].ID != report.Events[0] {
		t.Fatalf("restored event should stay open, got %+v", open)
	}
}

func TestListEventsValidatesFilter(t *testing.T) {
	svc := newAnomalyPipeline(repo.NewMemoryEvents(), nil)
	start := t0
	end := t0.Add(-time.Hour)
	if _, err := svc.ListEvents(context.Background(), models.EventFilter{Start: &start, End: &end}); !errors.Is(err, utils.ErrInvalidInput) {
		t.Fatalf("expected invalid range, got %v", err)
	}
	box := &models.BoundingBox{MinLon: 10, MinLat: 0, MaxLon: -10, MaxLat: 5}
	if _, err := svc.ListEvents(context.Background(), models.EventFilter{BBox: box}); !errors.Is(err, utils.ErrInvalidInput) {
		t.Fatalf("expected invalid bbox, got %v", err)
	}
	events, err := svc.ListEvents(context.Background(), models.EventFilter{})
	if err != nil || events == nil {
		t.Fatalf("expected empty non-nil list, got %v %v", events, err)
	}
}
