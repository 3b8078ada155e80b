package models

import (
	"fmt"
	"time"
)

// Variables with a classified anomaly mapping. Any other variable is tracked
// by the detector but never aggregated.
const (
	VariableTemperature = "temperature"
	VariableSalinity    = "salinity"
)

// MeasurementPoint is a single quality-controlled observation.
type MeasurementPoint struct {
	Variable    string    `json:"variable"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	Depth       float64   `json:"depth"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timestamp   time.Time `json:"timestamp"`
	QualityFlag string    `json:"quality_flag,omitempty"`
	PlatformID  string    `json:"platform_id,omitempty"`
}

// Validate checks the fields required for detection.
func (p MeasurementPoint) Validate() error {
	switch {
	case p.Variable == "":
		return fmt.Errorf("variable is required")
	case p.Timestamp.IsZero():
		return fmt.Errorf("timestamp is required")
	case p.Latitude < -90 || p.Latitude > 90:
		return fmt.Errorf("latitude %.4f out of range", p.Latitude)
	case p.Longitude < -180 || p.Longitude > 180:
		return fmt.Errorf("longitude %.4f out of range", p.Longitude)
	}
	return nil
}

// AnomalyFlag is a single point-in-time deviation from a cell baseline.
type AnomalyFlag struct {
	Variable       string    `json:"variable"`
	Timestamp      time.Time `json:"timestamp"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Depth          float64   `json:"depth"`
	ObservedValue  float64   `json:"observed_value"`
	BaselineMean   float64   `json:"baseline_mean"`
	BaselineStdDev float64   `json:"baseline_stddev"`
	ZScore         float64   `json:"z_score"`
}

// Key identifies the flag for deduplication.
func (f AnomalyFlag) Key() string {
	return fmt.Sprintf("%s|%s|%.5f|%.5f", f.Variable, f.Timestamp.UTC().Format(time.RFC3339Nano), f.Latitude, f.Longitude)
}

// AnomalyType classifies an anomaly event.
type AnomalyType string

const (
	AnomalyHeatwave     AnomalyType = "heatwave"
	AnomalyColdSpell    AnomalyType = "cold_spell"
	AnomalyHighSalinity AnomalyType = "high_salinity"
	AnomalyLowSalinity  AnomalyType = "low_salinity"
)

// Severity tiers, ordered.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities so tiers can be compared.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// AnomalyEvent is a spatio-temporal cluster of flags. EndTime is nil while open.
type AnomalyEvent struct {
	ID          string      `json:"id" db:"id"`
	AnomalyType AnomalyType `json:"anomaly_type" db:"anomaly_type"`
	Severity    Severity    `json:"severity" db:"severity"`
	StartTime   time.Time   `json:"start_time" db:"start_time"`
	EndTime     *time.Time  `json:"end_time,omitempty" db:"end_time"`
	LastFlagAt  time.Time   `json:"last_flag_at" db:"last_flag_at"`
	CentroidLat float64     `json:"centroid_lat" db:"centroid_lat"`
	CentroidLon float64     `json:"centroid_lon" db:"centroid_lon"`
	Confidence  float64     `json:"confidence" db:"confidence"`
	Description string      `json:"description" db:"description"`
	FlagCount   int         `json:"flag_count" db:"flag_count"`
	MeanAbsZ    float64     `json:"mean_abs_z" db:"mean_abs_z"`
	// MeanDeviation is the mean of observed minus baseline over member flags.
	MeanDeviation float64 `json:"mean_deviation" db:"mean_deviation"`
}

// Open reports whether the event is still accepting flags.
func (e AnomalyEvent) Open() bool {
	return e.EndTime == nil
}

// BoundingBox is a lon/lat rectangle in WGS84.
type BoundingBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Validate checks ordering and coordinate ranges.
func (b BoundingBox) Validate() error {
	if b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("bounding box out of range")
	}
	if b.MinLon >= b.MaxLon || b.MinLat >= b.MaxLat {
		return fmt.Errorf("bounding box min must be below max")
	}
	return nil
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// MaxListLimit caps the page size of event and history listings.
const MaxListLimit = 1000

// EventFilter narrows anomaly event listings.
type EventFilter struct {
	AnomalyType AnomalyType
	Severity    Severity
	Start       *time.Time
	End         *time.Time
	BBox        *BoundingBox
	Limit       int
}

// IngestItemError reports a rejected measurement by batch index.
type IngestItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// IngestReport summarises one measurement batch.
type IngestReport struct {
	Accepted int               `json:"accepted"`
	Flagged  int               `json:"flagged"`
	Skipped  int               `json:"skipped"`
	Events   []string          `json:"events,omitempty"`
	Errors   []IngestItemError `json:"errors,omitempty"`
}
