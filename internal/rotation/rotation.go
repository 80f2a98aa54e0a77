// Package rotation computes relative-rotation coordinates (RS-Ratio and
// RS-Momentum) of a symbol against a benchmark and classifies them into
// quadrants.
package rotation

import (
	"math"
	"strconv"

	"patternpilot/internal/model"
	"patternpilot/internal/series"
)

// DefaultWindow is the smoothing window used when none is given.
const DefaultWindow = 10

// RSRatio normalizes stock/benchmark relative strength around 100:
// raw = s/b*100, out = 100 + (raw/mean(raw, window) - 1)*100.
// The first window-1 entries are undefined.
func RSRatio(stock, benchmark []float64, window int) ([]float64, error) {
	if len(stock) != len(benchmark) {
		return nil, &model.ValidationError{
			Field:  "benchmark",
			Reason: "stock has " + strconv.Itoa(len(stock)) + " points, benchmark has " + strconv.Itoa(len(benchmark)),
			Err:    model.ErrLengthMismatch,
		}
	}
	if window < 1 {
		return nil, model.InvalidParam("window", "must be at least 1")
	}
	raw := make([]float64, len(stock))
	for i := range stock {
		if benchmark[i] == 0 {
			raw[i] = model.Undefined()
			continue
		}
		raw[i] = stock[i] / benchmark[i] * 100
	}
	return normalize(raw, window), nil
}

// RSMomentum applies the RS-Ratio transform to the RS-Ratio series itself.
func RSMomentum(rsRatio []float64, window int) ([]float64, error) {
	if window < 1 {
		return nil, model.InvalidParam("window", "must be at least 1")
	}
	return normalize(rsRatio, window), nil
}

func normalize(v []float64, window int) []float64 {
	mean := series.Rolling(v, window, series.Mean)
	out := make([]float64, len(v))
	for i := range v {
		if math.IsNaN(mean[i]) || mean[i] == 0 {
			out[i] = model.Undefined()
			continue
		}
		out[i] = 100 + (v[i]/mean[i]-1)*100
	}
	return out
}

// QuadrantOf classifies a point. A ratio of exactly 100 counts as strong;
// below 100 only momentum < 100 separates Lagging from Improving.
func QuadrantOf(ratio, momentum float64) model.Quadrant {
	switch {
	case ratio >= 100 && momentum >= 100:
		return model.Leading
	case ratio >= 100:
		return model.Weakening
	case momentum < 100:
		return model.Lagging
	default:
		return model.Improving
	}
}
