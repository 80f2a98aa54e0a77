// Package features turns a daily OHLCV series into the per-bar feature
// matrix the ensemble classifiers are trained on.
package features

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/markcheno/go-talib"

	"patternpilot/internal/model"
	"patternpilot/internal/series"
)

// MinCleanRows is the number of fully defined rows a series must yield
// before it is usable for training.
const MinCleanRows = 100

// eps keeps the position ratios finite on flat windows.
const eps = 0.0001

// Matrix is a column-named, row-major feature table aligned to the bars
// it was built from. Warm-up entries are NaN.
type Matrix struct {
	Columns []string    `json:"columns"`
	TS      []time.Time `json:"ts"`
	Rows    [][]float64 `json:"rows"`
}

// Len returns the number of rows.
func (m *Matrix) Len() int { return len(m.Rows) }

// Column returns a copy of the named column.
func (m *Matrix) Column(name string) ([]float64, error) {
	j := slices.Index(m.Columns, name)
	if j < 0 {
		return nil, fmt.Errorf("features: column %q: %w", name, model.ErrNotFound)
	}
	out := make([]float64, len(m.Rows))
	for i, r := range m.Rows {
		out[i] = r[j]
	}
	return out, nil
}

// Select returns a matrix holding only the given columns in the given
// order, which is how a saved model's feature list is applied.
func (m *Matrix) Select(names []string) (*Matrix, error) {
	idx := make([]int, len(names))
	for k, name := range names {
		j := slices.Index(m.Columns, name)
		if j < 0 {
			return nil, fmt.Errorf("features: column %q: %w", name, model.ErrNotFound)
		}
		idx[k] = j
	}
	out := &Matrix{Columns: slices.Clone(names), TS: m.TS, Rows: make([][]float64, len(m.Rows))}
	for i, r := range m.Rows {
		row := make([]float64, len(idx))
		for k, j := range idx {
			row[k] = r[j]
		}
		out.Rows[i] = row
	}
	return out, nil
}

// Complete reports whether row i has no undefined entries.
func (m *Matrix) Complete(i int) bool {
	for _, v := range m.Rows[i] {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

// CompleteRows counts rows with every column defined.
func (m *Matrix) CompleteRows() int {
	n := 0
	for i := range m.Rows {
		if m.Complete(i) {
			n++
		}
	}
	return n
}

// FirstComplete returns the index of the first fully defined row, or -1.
func (m *Matrix) FirstComplete() int {
	for i := range m.Rows {
		if m.Complete(i) {
			return i
		}
	}
	return -1
}

type column struct {
	name   string
	values []float64
}

// Build computes every feature column for s. The series must validate;
// short series produce all-undefined columns for the long lookbacks
// rather than an error.
func Build(s model.Series) (*Matrix, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	n := s.Len()
	if n == 0 {
		return nil, &model.InsufficientDataError{Op: "features", Need: 1, Have: 0}
	}
	_, h, l, c, v := s.Opens(), s.Highs(), s.Lows(), s.Closes(), s.Volumes()

	var cols []column
	add := func(name string, values []float64) { cols = append(cols, column{name, values}) }

	// returns and volatility
	ret1 := series.PctChange(c)
	for _, k := range []int{1, 5, 10, 20} {
		add(fmt.Sprintf("return_%dd", k), series.PctChangeN(c, k))
	}
	for _, w := range []int{5, 10, 20} {
		add(fmt.Sprintf("volatility_%dd", w), series.Rolling(ret1, w, series.SampleStd))
	}

	// price position inside the trailing range
	for _, w := range []int{20, 50} {
		hi := series.Rolling(h, w, series.Max)
		lo := series.Rolling(l, w, series.Min)
		add(fmt.Sprintf("price_position_%dd", w), zip(c, hi, lo, func(c, hi, lo float64) float64 {
			return (c - lo) / (hi - lo + eps)
		}))
	}

	gap := make([]float64, n)
	body, upper, lower, bull := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i, b := range s.Bars {
		gap[i] = model.Undefined()
		if i > 0 && c[i-1] != 0 {
			gap[i] = (b.Open - c[i-1]) / c[i-1]
		}
		body[i], upper[i], lower[i] = ratio(b.Body(), b.Open), ratio(b.UpperShadow(), b.Open), ratio(b.LowerShadow(), b.Open)
		if b.Bullish() {
			bull[i] = 1
		}
	}
	add("gap", gap)
	add("body_size", body)
	add("upper_shadow", upper)
	add("lower_shadow", lower)
	add("is_bullish", bull)

	// momentum oscillators
	for _, p := range []int{7, 14, 21} {
		add(fmt.Sprintf("rsi_%d", p), guarded(n, p, func() []float64 { return talib.Rsi(c, p) }))
	}
	macd, signal, hist := macdColumns(c)
	add("macd", macd)
	add("macd_signal", signal)
	add("macd_hist", hist)
	k, d := stochColumns(h, l, c)
	add("stoch_k", k)
	add("stoch_d", d)
	add("williams_r", guarded(n, 13, func() []float64 { return talib.WillR(h, l, c, 14) }))
	add("cci", guarded(n, 19, func() []float64 { return talib.Cci(h, l, c, 20) }))
	add("mfi", guarded(n, 14, func() []float64 { return talib.Mfi(h, l, c, v, 14) }))

	// trend strength
	add("adx", guarded(n, 27, func() []float64 { return talib.Adx(h, l, c, 14) }))
	add("di_plus", guarded(n, 14, func() []float64 { return talib.PlusDI(h, l, c, 14) }))
	add("di_minus", guarded(n, 14, func() []float64 { return talib.MinusDI(h, l, c, 14) }))

	// bands and range
	bbPos, bbWidth := bandColumns(c)
	add("bb_position", bbPos)
	add("bb_width", bbWidth)
	atr := guarded(n, 14, func() []float64 { return talib.Atr(h, l, c, 14) })
	add("atr_pct", zip(atr, c, c, func(a, c, _ float64) float64 { return ratio(a, c) }))

	// moving-average structure
	smas := map[int][]float64{}
	for _, p := range []int{10, 20, 50, 200} {
		smas[p] = guarded(n, p-1, func() []float64 { return talib.Sma(c, p) })
		add(fmt.Sprintf("price_to_sma%d", p), zip(c, smas[p], c, func(c, m, _ float64) float64 { return ratio(c, m) }))
	}
	for _, pair := range [][2]int{{10, 20}, {20, 50}, {50, 200}} {
		add(fmt.Sprintf("sma_%d_%d_cross", pair[0], pair[1]), zip(smas[pair[0]], smas[pair[1]], c, func(a, b, _ float64) float64 {
			return indicatorBool(a > b)
		}))
	}
	ema12 := guarded(n, 11, func() []float64 { return talib.Ema(c, 12) })
	ema26 := guarded(n, 25, func() []float64 { return talib.Ema(c, 26) })
	add("ema_momentum", zip(ema12, ema26, c, func(a, b, _ float64) float64 { return ratio(a, b) }))

	// volume
	volSMA := guarded(n, 19, func() []float64 { return talib.Sma(v, 20) })
	add("volume_ratio", zip(v, volSMA, v, func(v, m, _ float64) float64 { return ratio(v, m) }))
	add("volume_trend", series.PctChangeN(v, 5))
	obv := talib.Obv(c, v)
	obvSMA := guarded(n, 19, func() []float64 { return talib.Sma(obv, 20) })
	add("obv_trend", zip(obv, obvSMA, obv, func(o, m, _ float64) float64 { return indicatorBool(o > m) }))
	add("vol_price_corr", series.RollingCorr(c, v, 20))

	// swing structure
	hh, ll := make([]float64, n), make([]float64, n)
	for i := range hh {
		if i == 0 {
			hh[i], ll[i] = model.Undefined(), model.Undefined()
			continue
		}
		hh[i], ll[i] = indicatorBool(h[i] > h[i-1]), indicatorBool(l[i] < l[i-1])
	}
	add("higher_high", hh)
	add("lower_low", ll)
	hhCount := series.Rolling(hh, 5, sum)
	llCount := series.Rolling(ll, 5, sum)
	add("hh_count_5d", hhCount)
	add("ll_count_5d", llCount)
	add("trend_strength", zip(hhCount, llCount, c, func(a, b, _ float64) float64 { return a - b }))
	hi20 := series.Rolling(h, 20, series.Max)
	lo20 := series.Rolling(l, 20, series.Min)
	add("dist_from_high_20d", zip(hi20, c, c, func(hi, c, _ float64) float64 { return ratio(hi-c, c) }))
	add("dist_from_low_20d", zip(lo20, c, c, func(lo, c, _ float64) float64 { return ratio(c-lo, c) }))

	m := &Matrix{Columns: make([]string, len(cols)), TS: s.Timestamps(), Rows: make([][]float64, n)}
	for j, col := range cols {
		m.Columns[j] = col.name
	}
	for i := range m.Rows {
		row := make([]float64, len(cols))
		for j, col := range cols {
			row[j] = col.values[i]
		}
		m.Rows[i] = row
	}
	return m, nil
}

// Names lists the columns Build produces, in order.
func Names() []string {
	return slices.Clone(names)
}

var names = []string{
	"return_1d", "return_5d", "return_10d", "return_20d",
	"volatility_5d", "volatility_10d", "volatility_20d",
	"price_position_20d", "price_position_50d",
	"gap", "body_size", "upper_shadow", "lower_shadow", "is_bullish",
	"rsi_7", "rsi_14", "rsi_21",
	"macd", "macd_signal", "macd_hist",
	"stoch_k", "stoch_d", "williams_r", "cci", "mfi",
	"adx", "di_plus", "di_minus",
	"bb_position", "bb_width", "atr_pct",
	"price_to_sma10", "price_to_sma20", "price_to_sma50", "price_to_sma200",
	"sma_10_20_cross", "sma_20_50_cross", "sma_50_200_cross",
	"ema_momentum",
	"volume_ratio", "volume_trend", "obv_trend", "vol_price_corr",
	"higher_high", "lower_low", "hh_count_5d", "ll_count_5d", "trend_strength",
	"dist_from_high_20d", "dist_from_low_20d",
}

// Target labels bar i with 1 when close[i+horizon] > close[i] and 0
// otherwise. The last horizon entries are undefined.
func Target(s model.Series, horizon int) ([]float64, error) {
	if horizon < 1 {
		return nil, model.InvalidParam("horizon", "must be >= 1")
	}
	c := s.Closes()
	out := make([]float64, len(c))
	for i := range c {
		if i+horizon >= len(c) || c[i] == 0 {
			out[i] = model.Undefined()
			continue
		}
		out[i] = indicatorBool(c[i+horizon]/c[i]-1 > 0)
	}
	return out, nil
}

func macdColumns(c []float64) (macd, signal, hist []float64) {
	const lookback = (26 - 1) + (9 - 1)
	n := len(c)
	if n <= lookback {
		return undefinedColumn(n), undefinedColumn(n), undefinedColumn(n)
	}
	macd, signal, hist = talib.Macd(c, 12, 26, 9)
	return mask(macd, lookback), mask(signal, lookback), mask(hist, lookback)
}

func stochColumns(h, l, c []float64) (k, d []float64) {
	const lookback = (14 - 1) + (3 - 1) + (3 - 1)
	n := len(c)
	if n <= lookback {
		return undefinedColumn(n), undefinedColumn(n)
	}
	k, d = talib.Stoch(h, l, c, 14, 3, talib.SMA, 3, talib.SMA)
	return mask(k, lookback), mask(d, lookback)
}

func bandColumns(c []float64) (position, width []float64) {
	const lookback = 20 - 1
	n := len(c)
	if n <= lookback {
		return undefinedColumn(n), undefinedColumn(n)
	}
	upper, middle, lower := talib.BBands(c, 20, 2, 2, talib.SMA)
	upper, middle, lower = mask(upper, lookback), mask(middle, lookback), mask(lower, lookback)
	position = zip(c, upper, lower, func(c, u, l float64) float64 { return (c - l) / (u - l + eps) })
	width = zip(upper, lower, middle, func(u, l, m float64) float64 { return ratio(u-l, m) })
	return position, width
}

// guarded runs a talib call only when the input is long enough to
// produce at least one value, then masks the zero-filled warm-up.
func guarded(n, lookback int, f func() []float64) []float64 {
	if n <= lookback {
		return undefinedColumn(n)
	}
	return mask(f(), lookback)
}

func mask(values []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(values); i++ {
		values[i] = model.Undefined()
	}
	return values
}

func undefinedColumn(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = model.Undefined()
	}
	return out
}

// zip applies f element-wise; an undefined input yields an undefined output.
func zip(a, b, c []float64, f func(a, b, c float64) float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) || math.IsNaN(c[i]) {
			out[i] = model.Undefined()
			continue
		}
		out[i] = f(a[i], b[i], c[i])
	}
	return out
}

func ratio(num, den float64) float64 {
	if den == 0 || math.IsNaN(num) || math.IsNaN(den) {
		return model.Undefined()
	}
	return num / den
}

func indicatorBool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sum(w []float64) float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}
