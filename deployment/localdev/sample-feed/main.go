// Command sample-feed posts synthetic Argo profiles, with an injected marine
// heatwave, to a running insight engine.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

type feedConfig struct {
	url           string
	days          int
	floats        int
	batch         int
	seed          int64
	heatwaveStart int
	heatwaveDays  int
	heatwaveDelta float64
}

type platform struct {
	id        string
	lat, lon  float64
	inHotspot bool
}

var depths = []float64{5, 50, 200, 1000}

func main() {
	var cfg feedConfig
	flag.StringVar(&cfg.url, "url", "http://localhost:8080/api/v1/ingest/measurements", "Ingest endpoint")
	flag.IntVar(&cfg.days, "days", 60, "Number of daily profiles per float")
	flag.IntVar(&cfg.floats, "floats", 12, "Number of floats")
	flag.IntVar(&cfg.batch, "batch", 200, "Measurements per request")
	flag.Int64Var(&cfg.seed, "seed", 7, "Random seed")
	flag.IntVar(&cfg.heatwaveStart, "heatwave-start", 45, "Day the heatwave begins")
	flag.IntVar(&cfg.heatwaveDays, "heatwave-days", 8, "Heatwave duration in days")
	flag.Float64Var(&cfg.heatwaveDelta, "heatwave-delta", 3.0, "Surface warming in degC")
	flag.Parse()

	logger := utils.NewLogger("info", false)
	points := generate(cfg, time.Now().UTC().Truncate(24*time.Hour))
	logger.Info("generated measurements", slog.Int("count", len(points)))

	client := &http.Client{Timeout: 30 * time.Second}
	var totals models.IngestReport
	for start := 0; start < len(points); start += cfg.batch {
		end := min(start+cfg.batch, len(points))
		report, err := post(context.Background(), client, cfg.url, points[start:end])
		if err != nil {
			logger.Error("post batch failed", slog.Int("offset", start), slog.Any("error", err))
			os.Exit(1)
		}
		totals.Accepted += report.Accepted
		totals.Flagged += report.Flagged
		totals.Skipped += report.Skipped
		totals.Errors = append(totals.Errors, report.Errors...)
		totals.Events = append(totals.Events, report.Events...)
	}
	logger.Info("feed complete",
		slog.Int("accepted", totals.Accepted),
		slog.Int("flagged", totals.Flagged),
		slog.Int("skipped", totals.Skipped),
		slog.Int("rejected", len(totals.Errors)),
		slog.Int("event_updates", len(totals.Events)))
}

// generate emits points in time order. Floats in the hotspot see surface
// warming that fades with depth during the heatwave window.
func generate(cfg feedConfig, end time.Time) []models.MeasurementPoint {
	rng := rand.New(rand.NewSource(cfg.seed))
	floats := make([]platform, cfg.floats)
	for i := range floats {
		hot := i < cfg.floats/2
		lat, lon := 40.0+rng.Float64(), -30.0+rng.Float64()
		if !hot {
			lat, lon = -20.0+rng.Float64()*10, 60.0+rng.Float64()*10
		}
		floats[i] = platform{id: fmt.Sprintf("69%05d", 1000+i), lat: lat, lon: lon, inHotspot: hot}
	}

	start := end.AddDate(0, 0, -cfg.days)
	var points []models.MeasurementPoint
	for day := 0; day < cfg.days; day++ {
		ts := start.AddDate(0, 0, day).Add(6 * time.Hour)
		for _, f := range floats {
			for _, depth := range depths {
				temp := 18 - 14*(1-math.Exp(-depth/300)) + 0.05*rng.NormFloat64()
				if f.inHotspot && day >= cfg.heatwaveStart && day < cfg.heatwaveStart+cfg.heatwaveDays {
					temp += cfg.heatwaveDelta * math.Exp(-depth/100)
				}
				salinity := 35 + 0.3*(1-math.Exp(-depth/500)) + 0.01*rng.NormFloat64()
				quality := "1"
				if rng.Float64() < 0.01 {
					quality = "4"
				}
				for _, m := range []struct {
					variable, unit string
					value          float64
				}{{models.VariableTemperature, "degC", temp}, {models.VariableSalinity, "PSU", salinity}} {
					points = append(points, models.MeasurementPoint{
						Variable:    m.variable,
						Value:       math.Round(m.value*1000) / 1000,
						Unit:        m.unit,
						Depth:       depth,
						Latitude:    f.lat,
						Longitude:   f.lon,
						Timestamp:   ts,
						QualityFlag: quality,
						PlatformID:  f.id,
					})
				}
			}
		}
	}
	return points
}

func post(ctx context.Context, client *http.Client, url string, points []models.MeasurementPoint) (models.IngestReport, error) {
	body, err := json.Marshal(map[string]any{"measurements": points})
	if err != nil {
		return models.IngestReport{}, fmt.Errorf("encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.IngestReport{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return models.IngestReport{}, err
	}
	defer resp.Body.Close()

	var report models.IngestReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return models.IngestReport{}, fmt.Errorf("decode report (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return report, fmt.Errorf("ingest returned status %d", resp.StatusCode)
	}
	return report, nil
}
