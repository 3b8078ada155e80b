// Package aggregator clusters anomaly flags into spatio-temporal events.
package aggregator

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oceanstack/argo-insight/internal/config"
	"github.com/oceanstack/argo-insight/internal/geo"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// Actions reported by Ingest and Sweep.
const (
	ActionOpened    = "opened"
	ActionUpdated   = "updated"
	ActionDuplicate = "duplicate"
	ActionClosed    = "closed"
)

// Classify maps a flag onto an anomaly type by variable and sign.
func Classify(flag models.AnomalyFlag) (models.AnomalyType, error) {
	switch strings.ToLower(flag.Variable) {
	case models.VariableTemperature:
		if flag.ZScore >= 0 {
			return models.AnomalyHeatwave, nil
		}
		return models.AnomalyColdSpell, nil
	case models.VariableSalinity:
		if flag.ZScore >= 0 {
			return models.AnomalyHighSalinity, nil
		}
		return models.AnomalyLowSalinity, nil
	}
	return "", fmt.Errorf("variable %q: %w", flag.Variable, utils.ErrUnclassifiedVariable)
}

type state struct {
	event  models.AnomalyEvent
	sumLat float64
	sumLon float64
	sumZ   float64
	sumDev float64
	keys   []string
}

func (s *state) snapshot() models.AnomalyEvent {
	out := s.event
	if s.event.EndTime != nil {
		end := *s.event.EndTime
		out.EndTime = &end
	}
	return out
}

// bucket is the single mutation point for one anomaly type.
type bucket struct {
	mu   sync.Mutex
	open []*state
	seen map[string]*state
}

// Aggregator merges flags into events. It is safe for concurrent use.
type Aggregator struct {
	cfg    config.AggregatorConfig
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[models.AnomalyType]*bucket
}

// New builds an aggregator from configuration.
func New(cfg config.AggregatorConfig, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Gap <= 0 {
		cfg.Gap = 72 * time.Hour
	}
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = 300
	}
	if cfg.MediumBreak <= 0 {
		cfg.MediumBreak = 3
	}
	if cfg.HighBreak <= cfg.MediumBreak {
		cfg.HighBreak = math.Max(5, cfg.MediumBreak+1)
	}
	if cfg.ConfidenceScale <= 0 {
		cfg.ConfidenceScale = 5
	}
	return &Aggregator{cfg: cfg, logger: logger, buckets: make(map[models.AnomalyType]*bucket)}
}

func (a *Aggregator) bucket(t models.AnomalyType) *bucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buckets[t]
	if !ok {
		b = &bucket{seen: make(map[string]*state)}
		a.buckets[t] = b
	}
	return b
}

// Ingest adds flag to the newest open event of its type that lies within the
// gap window and radius, or starts a new event. Re-ingesting a flag already
// counted returns its event unchanged with ActionDuplicate.
func (a *Aggregator) Ingest(flag models.AnomalyFlag) (models.AnomalyEvent, string, error) {
	kind, err := Classify(flag)
	if err != nil {
		return models.AnomalyEvent{}, "", err
	}
	flag.Timestamp = flag.Timestamp.UTC()
	key := flag.Key()

	b := a.bucket(kind)
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.seen[key]; ok {
		return s.snapshot(), ActionDuplicate, nil
	}

	if s := a.match(b, flag); s != nil {
		a.add(s, flag, key)
		b.seen[key] = s
		return s.snapshot(), ActionUpdated, nil
	}

	s := &state{event: models.AnomalyEvent{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte("argo-insight/event/"+string(kind)+"/"+key)).String(),
		AnomalyType: kind,
		StartTime:   flag.Timestamp,
		LastFlagAt:  flag.Timestamp,
	}}
	a.add(s, flag, key)
	b.open = append(b.open, s)
	b.seen[key] = s
	a.logger.Debug("anomaly event opened",
		slog.String("event_id", s.event.ID),
		slog.String("type", string(kind)))
	return s.snapshot(), ActionOpened, nil
}

func (a *Aggregator) match(b *bucket, flag models.AnomalyFlag) *state {
	var best *state
	for _, s := range b.open {
		gap := flag.Timestamp.Sub(s.event.LastFlagAt)
		if gap < 0 {
			gap = -gap
		}
		if gap > a.cfg.Gap {
			continue
		}
		if geo.HaversineKm(s.event.CentroidLat, s.event.CentroidLon, flag.Latitude, flag.Longitude) > a.cfg.RadiusKm {
			continue
		}
		if best == nil || s.event.LastFlagAt.After(best.event.LastFlagAt) {
			best = s
		}
	}
	return best
}

func (a *Aggregator) add(s *state, flag models.AnomalyFlag, key string) {
	s.keys = append(s.keys, key)
	s.sumLat += flag.Latitude
	s.sumLon += flag.Longitude
	s.sumZ += math.Abs(flag.ZScore)
	s.sumDev += flag.ObservedValue - flag.BaselineMean

	e := &s.event
	e.FlagCount++
	n := float64(e.FlagCount)
	e.CentroidLat = s.sumLat / n
	e.CentroidLon = s.sumLon / n
	e.MeanAbsZ = s.sumZ / n
	e.MeanDeviation = s.sumDev / n
	if flag.Timestamp.Before(e.StartTime) {
		e.StartTime = flag.Timestamp
	}
	if flag.Timestamp.After(e.LastFlagAt) {
		e.LastFlagAt = flag.Timestamp
	}
	if tier := a.severity(e.MeanAbsZ); tier.Rank() > e.Severity.Rank() {
		e.Severity = tier
	}
	e.Confidence = math.Max(e.Confidence, a.confidence(e.FlagCount))
	e.Description = describe(e)
}

func (a *Aggregator) severity(meanAbsZ float64) models.Severity {
	switch {
	case meanAbsZ < a.cfg.MediumBreak:
		return models.SeverityLow
	case meanAbsZ < a.cfg.HighBreak:
		return models.SeverityMedium
	}
	return models.SeverityHigh
}

func (a *Aggregator) confidence(flags int) float64 {
	c := 1 - math.Exp(-float64(flags)/a.cfg.ConfidenceScale)
	return math.Round(math.Min(c, 0.99)*10000) / 10000
}

func describe(e *models.AnomalyEvent) string {
	subject, unit := "Temperature", "degC"
	if e.AnomalyType == models.AnomalyHighSalinity || e.AnomalyType == models.AnomalyLowSalinity {
		subject, unit = "Salinity", "PSU"
	}
	direction := "above"
	if e.MeanDeviation < 0 {
		direction = "below"
	}
	return fmt.Sprintf("%s anomaly: %+.1f %s %s baseline across %d observations (mean |z| %.1f)",
		subject, e.MeanDeviation, unit, direction, e.FlagCount, e.MeanAbsZ)
}

// Sweep closes every open event whose last flag is older than the gap window
// relative to watermark. Closed events are returned sorted by start time and
// never change afterwards.
func (a *Aggregator) Sweep(watermark time.Time) []models.AnomalyEvent {
	a.mu.Lock()
	buckets := make([]*bucket, 0, len(a.buckets))
	for _, b := range a.buckets {
		buckets = append(buckets, b)
	}
	a.mu.Unlock()

	var closed []models.AnomalyEvent
	for _, b := range buckets {
		b.mu.Lock()
		kept := b.open[:0]
		for _, s := range b.open {
			if watermark.Sub(s.event.LastFlagAt) > a.cfg.Gap {
				end := s.event.LastFlagAt
				s.event.EndTime = &end
				closed = append(closed, s.snapshot())
				continue
			}
			kept = append(kept, s)
		}
		for i := len(kept); i < len(b.open); i++ {
			b.open[i] = nil
		}
		b.open = kept

		// Dedup keys outlive their event by twice the gap window.
		for key, s := range b.seen {
			if s.event.EndTime != nil && watermark.Sub(*s.event.EndTime) > 2*a.cfg.Gap {
				delete(b.seen, key)
			}
		}
		b.mu.Unlock()
	}

	sort.Slice(closed, func(i, j int) bool {
		if !closed[i].StartTime.Equal(closed[j].StartTime) {
			return closed[i].StartTime.Before(closed[j].StartTime)
		}
		return closed[i].ID < closed[j].ID
	})
	return closed
}

// Open returns snapshots of all open events.
func (a *Aggregator) Open() []models.AnomalyEvent {
	a.mu.Lock()
	buckets := make([]*bucket, 0, len(a.buckets))
	for _, b := range a.buckets {
		buckets = append(buckets, b)
	}
	a.mu.Unlock()

	var out []models.AnomalyEvent
	for _, b := range buckets {
		b.mu.Lock()
		for _, s := range b.open {
			out = append(out, s.snapshot())
		}
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore reloads open events persisted by a previous run. Running sums are
// rebuilt from the stored means; dedup keys are not recoverable.
func (a *Aggregator) Restore(events []models.AnomalyEvent) {
	for _, e := range events {
		if !e.Open() || e.FlagCount <= 0 {
			continue
		}
		n := float64(e.FlagCount)
		s := &state{
			event:  e,
			sumLat: e.CentroidLat * n,
			sumLon: e.CentroidLon * n,
			sumZ:   e.MeanAbsZ * n,
			sumDev: e.MeanDeviation * n,
		}
		b := a.bucket(e.AnomalyType)
		b.mu.Lock()
		duplicate := false
		for _, existing := range b.open {
			duplicate = duplicate || existing.event.ID == e.ID
		}
		if !duplicate {
			b.open = append(b.open, s)
		}
		b.mu.Unlock()
	}
}
