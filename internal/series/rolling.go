// Package series provides the windowed aggregates and performance statistics
// shared by the analysis packages.
//
// Every function is pure: inputs are never modified and undefined entries are
// represented as NaN (see model.IsUndefined).
package series

import (
	"math"

	"patternpilot/internal/model"
)

// Reducer aggregates one full window of defined values.
type Reducer func(window []float64) float64

// Rolling applies reduce over each trailing window of size window.
// out[i] is undefined for i < window-1 and for any window containing an
// undefined value. A window < 1 yields an all-undefined result.
func Rolling(values []float64, window int, reduce Reducer) []float64 {
	out := make([]float64, len(values))
	undefined := 0 // count of NaNs inside the current window
	for i, v := range values {
		if math.IsNaN(v) {
			undefined++
		}
		if i >= window && window > 0 && math.IsNaN(values[i-window]) {
			undefined--
		}
		if window < 1 || i < window-1 || undefined > 0 {
			out[i] = model.Undefined()
			continue
		}
		out[i] = reduce(values[i-window+1 : i+1])
	}
	return out
}

// Mean is the arithmetic mean.
func Mean(w []float64) float64 {
	if len(w) == 0 {
		return model.Undefined()
	}
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}

// Max returns the largest value.
func Max(w []float64) float64 {
	if len(w) == 0 {
		return model.Undefined()
	}
	m := w[0]
	for _, v := range w[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Min returns the smallest value.
func Min(w []float64) float64 {
	if len(w) == 0 {
		return model.Undefined()
	}
	m := w[0]
	for _, v := range w[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// SampleStd is the standard deviation with one delta degree of freedom.
// Fewer than two values yields undefined.
func SampleStd(w []float64) float64 {
	if len(w) < 2 {
		return model.Undefined()
	}
	mean := Mean(w)
	ss := 0.0
	for _, v := range w {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(w)-1))
}

// Defined returns the defined entries of values, in order.
func Defined(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Last returns the final defined value and whether one exists.
func Last(values []float64) (float64, bool) {
	for i := len(values) - 1; i >= 0; i-- {
		if !math.IsNaN(values[i]) {
			return values[i], true
		}
	}
	return 0, false
}
