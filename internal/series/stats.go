package series

import (
	"math"

	"patternpilot/internal/model"
)

// TradingDays is the annualization constant for daily bars.
const TradingDays = 252

// PctChange returns simple period-over-period returns. out[0] is undefined,
// as is any entry whose previous value is undefined or zero.
func PctChange(values []float64) []float64 { return PctChangeN(values, 1) }

// PctChangeN returns values[i]/values[i-n] - 1 with the first n entries
// undefined.
func PctChangeN(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < n || n < 1 {
			out[i] = model.Undefined()
			continue
		}
		prev := values[i-n]
		if prev == 0 || math.IsNaN(prev) || math.IsNaN(values[i]) {
			out[i] = model.Undefined()
			continue
		}
		out[i] = values[i]/prev - 1
	}
	return out
}

// Volatility is the rolling sample standard deviation of PctChange(prices).
// The first window entries are undefined. When annualize is set the result
// is scaled by sqrt(252).
func Volatility(prices []float64, window int, annualize bool) []float64 {
	out := Rolling(PctChange(prices), window, SampleStd)
	if annualize {
		k := math.Sqrt(TradingDays)
		for i, v := range out {
			out[i] = v * k
		}
	}
	return out
}

// SharpeRatio is the annualized mean daily excess return over its standard
// deviation. Undefined returns are skipped. A zero standard deviation, or
// fewer than two returns, yields 0.
func SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	daily := riskFreeRate / TradingDays
	excess := make([]float64, 0, len(returns))
	for _, r := range returns {
		if !math.IsNaN(r) {
			excess = append(excess, r-daily)
		}
	}
	if len(excess) < 2 {
		return 0
	}
	std := SampleStd(excess)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	mean := Mean(excess)
	// Constant series can leave float residue in std; treat it as flat.
	if std <= 1e-15*math.Max(1, math.Abs(mean)) {
		return 0
	}
	return mean / std * math.Sqrt(TradingDays)
}

// MaxDrawdown is the minimum of (v - runningMax) / runningMax over the curve.
// It is 0 for a non-decreasing curve and a negative fraction otherwise.
func MaxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	mdd := 0.0
	for _, v := range equity {
		if math.IsNaN(v) {
			continue
		}
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (v - peak) / peak; dd < mdd {
				mdd = dd
			}
		}
	}
	return mdd
}

// DrawdownCurve returns the per-point drawdown from the running maximum.
func DrawdownCurve(equity []float64) []float64 {
	out := make([]float64, len(equity))
	peak := math.Inf(-1)
	for i, v := range equity {
		if math.IsNaN(v) {
			out[i] = model.Undefined()
			continue
		}
		if v > peak {
			peak = v
		}
		if peak > 0 {
			out[i] = (v - peak) / peak
		}
	}
	return out
}
