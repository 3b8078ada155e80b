// Package detector keeps a rolling baseline per (variable, spatial cell) and
// flags measurements that deviate from it.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oceanstack/argo-insight/internal/config"
	"github.com/oceanstack/argo-insight/internal/models"
	"github.com/oceanstack/argo-insight/internal/utils"
)

// CellKey partitions baselines. Points in different cells never share state.
type CellKey struct {
	Variable  string
	LatIndex  int
	LonIndex  int
	DepthBand int
}

func (k CellKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Variable, k.LatIndex, k.LonIndex, k.DepthBand)
}

// Detector owns every cell baseline. Observations for one cell are serialized
// by that cell's lock; different cells proceed in parallel.
type Detector struct {
	cfg    config.DetectorConfig
	params params
	logger *slog.Logger

	mu    sync.Mutex
	cells map[CellKey]*lockedCell
}

type lockedCell struct {
	mu sync.Mutex
	cell
}

// New builds a detector from configuration.
func New(cfg config.DetectorConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CellDegrees <= 0 {
		cfg.CellDegrees = 1
	}
	if cfg.DepthBandMeters <= 0 {
		cfg.DepthBandMeters = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = 90
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Detector{
		cfg: cfg,
		params: params{
			mode:      strings.ToLower(cfg.Mode),
			alpha:     cfg.Alpha,
			window:    cfg.Window,
			warmUp:    cfg.WarmUp,
			minStdDev: cfg.MinStdDev,
		},
		logger: logger,
		cells:  make(map[CellKey]*lockedCell),
	}
}

// CellFor returns the cell a point belongs to.
func (d *Detector) CellFor(p models.MeasurementPoint) CellKey {
	return CellKey{
		Variable:  strings.ToLower(p.Variable),
		LatIndex:  int(math.Floor(p.Latitude / d.cfg.CellDegrees)),
		LonIndex:  int(math.Floor(p.Longitude / d.cfg.CellDegrees)),
		DepthBand: int(math.Floor(p.Depth / d.cfg.DepthBandMeters)),
	}
}

func (d *Detector) cell(key CellKey) *lockedCell {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cells[key]
	if !ok {
		c = &lockedCell{}
		d.cells[key] = c
	}
	return c
}

var goodQuality = map[string]bool{"": true, "good": true, "1": true, "2": true}

// Observe evaluates p against its cell and updates the baseline.
//
// Points that fail quality control return utils.ErrOutOfRangeValue and leave
// the baseline untouched. A point older than the last one seen in its cell
// returns utils.ErrOutOfOrderPoint. Flagged points are not absorbed so a
// sustained event does not drag the baseline with it.
func (d *Detector) Observe(p models.MeasurementPoint) (*models.AnomalyFlag, error) {
	if err := p.Validate(); err != nil {
		return nil, utils.Invalid("observe", err.Error())
	}
	if !goodQuality[strings.ToLower(strings.TrimSpace(p.QualityFlag))] {
		return nil, fmt.Errorf("quality flag %q: %w", p.QualityFlag, utils.ErrOutOfRangeValue)
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return nil, fmt.Errorf("value %v: %w", p.Value, utils.ErrOutOfRangeValue)
	}

	key := d.CellFor(p)
	c := d.cell(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Timestamp.Before(c.last) {
		d.logger.Debug("rejecting out-of-order point",
			slog.String("cell", key.String()),
			slog.Time("timestamp", p.Timestamp),
			slog.Time("last", c.last))
		return nil, fmt.Errorf("cell %s: %s before %s: %w", key, p.Timestamp.UTC().Format(time.RFC3339), c.last.UTC().Format(time.RFC3339), utils.ErrOutOfOrderPoint)
	}
	c.last = p.Timestamp

	flag := Evaluate(p, c.baseline, d.cfg.ThresholdFor(key.Variable), d.cfg.WarmUp, d.cfg.MinStdDev)
	if flag == nil {
		c.baseline.absorb(p.Value, d.params)
	}
	return flag, nil
}

// Result is the outcome of one point in a batch.
type Result struct {
	Flag *models.AnomalyFlag
	Err  error
}

// ObserveBatch evaluates points concurrently across cells while keeping the
// input order within each cell. Results line up with points.
func (d *Detector) ObserveBatch(ctx context.Context, points []models.MeasurementPoint) []Result {
	results := make([]Result, len(points))
	partitions := make(map[CellKey][]int)
	var order []CellKey
	for i, p := range points {
		key := d.CellFor(p)
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, key := range order {
		indexes := partitions[key]
		g.Go(func() error {
			for _, i := range indexes {
				if err := gctx.Err(); err != nil {
					results[i] = Result{Err: err}
					continue
				}
				flag, err := d.Observe(points[i])
				results[i] = Result{Flag: flag, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Baseline returns a snapshot of a cell's baseline.
func (d *Detector) Baseline(key CellKey) (RollingBaseline, bool) {
	d.mu.Lock()
	c, ok := d.cells[key]
	d.mu.Unlock()
	if !ok {
		return RollingBaseline{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline.clone(), true
}

// Cells reports how many cells hold state.
func (d *Detector) Cells() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cells)
}
