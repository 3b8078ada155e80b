package detector

import (
	"math"
	"time"

	"github.com/oceanstack/argo-insight/internal/models"
)

// Baseline update modes.
const (
	ModeEWMA   = "ewma"
	ModeWindow = "window"
)

// RollingBaseline is the running statistics of one cell.
type RollingBaseline struct {
	Mean        float64 `json:"mean"`
	Variance    float64 `json:"variance"`
	SampleCount int     `json:"sample_count"`

	window []float64
	next   int
}

// StdDev returns the population standard deviation.
func (b RollingBaseline) StdDev() float64 {
	if b.Variance <= 0 {
		return 0
	}
	return math.Sqrt(b.Variance)
}

// clone copies b without sharing the window buffer.
func (b RollingBaseline) clone() RollingBaseline {
	out := b
	if b.window != nil {
		out.window = append([]float64(nil), b.window...)
	}
	return out
}

// absorb folds x into the baseline. EWMA mode starts with exact Welford
// updates until warmUp samples are seen; window mode keeps the last size
// samples.
func (b *RollingBaseline) absorb(x float64, p params) {
	b.SampleCount++
	switch p.mode {
	case ModeWindow:
		if len(b.window) < p.window {
			b.window = append(b.window, x)
		} else {
			b.window[b.next] = x
			b.next = (b.next + 1) % p.window
		}
		var sum float64
		for _, v := range b.window {
			sum += v
		}
		b.Mean = sum / float64(len(b.window))
		var sq float64
		for _, v := range b.window {
			d := v - b.Mean
			sq += d * d
		}
		b.Variance = sq / float64(len(b.window))
	default:
		if b.SampleCount <= p.warmUp {
			delta := x - b.Mean
			b.Mean += delta / float64(b.SampleCount)
			b.Variance += (delta*(x-b.Mean) - b.Variance) / float64(b.SampleCount)
			return
		}
		diff := x - b.Mean
		incr := p.alpha * diff
		b.Mean += incr
		b.Variance = (1 - p.alpha) * (b.Variance + diff*incr)
	}
}

type params struct {
	mode      string
	alpha     float64
	window    int
	warmUp    int
	minStdDev float64
}

// Evaluate scores a point against a baseline without modifying it. It returns
// nil until the baseline holds more than warmUp samples, or when |z| stays
// within threshold.
func Evaluate(p models.MeasurementPoint, b RollingBaseline, threshold float64, warmUp int, minStdDev float64) *models.AnomalyFlag {
	if b.SampleCount <= warmUp {
		return nil
	}
	std := math.Max(b.StdDev(), minStdDev)
	if std <= 0 {
		return nil
	}
	z := (p.Value - b.Mean) / std
	if math.Abs(z) <= threshold {
		return nil
	}
	return &models.AnomalyFlag{
		Variable:       p.Variable,
		Timestamp:      p.Timestamp.UTC(),
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		Depth:          p.Depth,
		ObservedValue:  p.Value,
		BaselineMean:   b.Mean,
		BaselineStdDev: std,
		ZScore:         z,
	}
}

type cell struct {
	baseline RollingBaseline
	last     time.Time
}
