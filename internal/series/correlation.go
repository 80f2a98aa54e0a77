package series

import (
	"math"
	"sort"

	"patternpilot/internal/model"
)

// CorrelationMethod selects what the correlation matrix is computed over.
type CorrelationMethod int

const (
	// Returns correlates period returns (the usual choice for price series).
	Returns CorrelationMethod = iota
	// Prices correlates raw price levels.
	Prices
)

// Matrix is a symmetric correlation matrix keyed by Symbols order.
type Matrix struct {
	Symbols []string    `json:"symbols"`
	Values  [][]float64 `json:"values"`
}

// At returns the coefficient for the symbol pair, or undefined if either is
// absent.
func (m Matrix) At(a, b string) float64 {
	i, j := -1, -1
	for k, s := range m.Symbols {
		if s == a {
			i = k
		}
		if s == b {
			j = k
		}
	}
	if i < 0 || j < 0 {
		return model.Undefined()
	}
	return m.Values[i][j]
}

// CorrelationMatrix computes pairwise Pearson coefficients. All columns must
// have the same length. Rows where any column is undefined are dropped
// before correlating. A zero-variance column correlates as undefined with
// everything but itself.
func CorrelationMatrix(columns map[string][]float64, method CorrelationMethod) (Matrix, error) {
	symbols := make([]string, 0, len(columns))
	for s := range columns {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	n := -1
	data := make([][]float64, len(symbols))
	for k, s := range symbols {
		col := columns[s]
		if n >= 0 && len(col) != n {
			return Matrix{}, &model.ValidationError{Series: s, Field: "columns", Reason: "length mismatch", Err: model.ErrLengthMismatch}
		}
		n = len(col)
		if method == Returns {
			col = PctChange(col)
		}
		data[k] = col
	}

	// Drop rows with any undefined value.
	keep := make([]int, 0, max(n, 0))
	for i := 0; i < n; i++ {
		ok := true
		for _, col := range data {
			if math.IsNaN(col[i]) {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, i)
		}
	}
	if len(keep) < 2 && len(symbols) > 0 {
		return Matrix{}, &model.InsufficientDataError{Op: "correlation", Need: 2, Have: len(keep)}
	}
	for k, col := range data {
		rows := make([]float64, len(keep))
		for j, i := range keep {
			rows[j] = col[i]
		}
		data[k] = rows
	}

	values := make([][]float64, len(symbols))
	for i := range symbols {
		values[i] = make([]float64, len(symbols))
	}
	for i := range symbols {
		for j := i; j < len(symbols); j++ {
			var c float64
			if i == j {
				c = 1
			} else {
				c = pearson(data[i], data[j])
			}
			values[i][j], values[j][i] = c, c
		}
	}
	return Matrix{Symbols: symbols, Values: values}, nil
}

func pearson(x, y []float64) float64 {
	mx, my := Mean(x), Mean(y)
	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return model.Undefined()
	}
	return sxy / math.Sqrt(sxx*syy)
}

// RollingCorr is the Pearson coefficient of x and y over each trailing
// window. Entries are undefined during warm-up, for windows containing an
// undefined value, and for zero-variance windows.
func RollingCorr(x, y []float64, window int) []float64 {
	n := min(len(x), len(y))
	out := make([]float64, n)
	for i := range out {
		out[i] = model.Undefined()
		if window < 2 || i < window-1 {
			continue
		}
		wx, wy := x[i-window+1:i+1], y[i-window+1:i+1]
		if hasNaN(wx) || hasNaN(wy) {
			continue
		}
		out[i] = pearson(wx, wy)
	}
	return out
}

func hasNaN(w []float64) bool {
	for _, v := range w {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
