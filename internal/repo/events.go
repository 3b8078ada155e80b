package repo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/oceanstack/argo-insight/internal/geo"
	"github.com/oceanstack/argo-insight/internal/models"
)

const eventColumns = `id, anomaly_type, severity, start_time, end_time, last_flag_at,
	ST_Y(centroid) AS centroid_lat, ST_X(centroid) AS centroid_lon,
	confidence, description, flag_count, mean_abs_z, mean_deviation`

// UpsertEvent stores an event. Rows that are already closed are never
// rewritten.
func (p *Postgres) UpsertEvent(ctx context.Context, e models.AnomalyEvent) error {
	centroid, err := geo.PointEWKT(e.CentroidLat, e.CentroidLon)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO anomaly_events (
			id, anomaly_type, severity, start_time, end_time, last_flag_at, centroid,
			confidence, description, flag_count, mean_abs_z, mean_deviation, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, ST_GeomFromEWKT($7), $8, $9, $10, $11, $12, now())
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			last_flag_at = EXCLUDED.last_flag_at,
			centroid = EXCLUDED.centroid,
			confidence = EXCLUDED.confidence,
			description = EXCLUDED.description,
			flag_count = EXCLUDED.flag_count,
			mean_abs_z = EXCLUDED.mean_abs_z,
			mean_deviation = EXCLUDED.mean_deviation,
			updated_at = now()
		WHERE anomaly_events.end_time IS NULL`
	_, err = p.db.ExecContext(ctx, query,
		e.ID, string(e.AnomalyType), string(e.Severity), e.StartTime, e.EndTime, e.LastFlagAt, centroid,
		e.Confidence, e.Description, e.FlagCount, e.MeanAbsZ, e.MeanDeviation)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", e.ID, err)
	}
	return nil
}

// ListEvents returns events matching f, newest first.
func (p *Postgres) ListEvents(ctx context.Context, f models.EventFilter) ([]models.AnomalyEvent, error) {
	query, args, err := buildEventQuery(f)
	if err != nil {
		return nil, err
	}
	events := make([]models.AnomalyEvent, 0)
	if err := p.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// OpenEvents returns every event without an end time.
func (p *Postgres) OpenEvents(ctx context.Context) ([]models.AnomalyEvent, error) {
	events := make([]models.AnomalyEvent, 0)
	query := `SELECT ` + eventColumns + ` FROM anomaly_events WHERE end_time IS NULL ORDER BY start_time`
	if err := p.db.SelectContext(ctx, &events, query); err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	return events, nil
}

const defaultEventLimit = 100

func buildEventQuery(f models.EventFilter) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.AnomalyType != "" {
		where = append(where, "anomaly_type = "+bind(string(f.AnomalyType)))
	}
	if f.Severity != "" {
		where = append(where, "severity = "+bind(string(f.Severity)))
	}
	// An event overlaps [start, end] when it starts before end and has not
	// ended before start.
	if f.End != nil {
		where = append(where, "start_time <= "+bind(*f.End))
	}
	if f.Start != nil {
		where = append(where, "(end_time IS NULL OR end_time >= "+bind(*f.Start)+")")
	}
	if f.BBox != nil {
		polygon, err := geo.BBoxWKT(*f.BBox)
		if err != nil {
			return "", nil, err
		}
		where = append(where, fmt.Sprintf("ST_Intersects(centroid, ST_GeomFromText(%s, %d))", bind(polygon), geo.SRID))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(eventColumns)
	b.WriteString(" FROM anomaly_events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY start_time DESC LIMIT ")
	b.WriteString(bind(listLimit(f.Limit, defaultEventLimit)))
	return b.String(), args, nil
}
