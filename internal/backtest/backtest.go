// Package backtest simulates a single-asset position driven by a per-bar
// signal series and reports the equity curve with performance statistics.
//
// Execution lags the signal by one bar: a signal computed from bar t's close
// only affects bar t+1's return.
package backtest

import (
	"math"
	"strconv"
	"time"

	"patternpilot/internal/model"
	"patternpilot/internal/series"
)

// Config holds the simulation parameters.
type Config struct {
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	// Commission is a flat cost per unit of position change.
	Commission float64 `json:"commission" yaml:"commission"`
	// PositionSize scales the signal into a position, in (0, 1].
	PositionSize float64 `json:"position_size" yaml:"position_size"`
	// RiskFreeRate is annual and is used for the Sharpe ratio only.
	RiskFreeRate float64 `json:"risk_free_rate" yaml:"risk_free_rate"`
}

// DefaultConfig returns 10,000 capital, no commission, full size.
func DefaultConfig() Config {
	return Config{InitialCapital: 10000, PositionSize: 1}
}

// Validate rejects non-positive capital, negative commission and sizes
// outside (0, 1].
func (c Config) Validate() error {
	switch {
	case !(c.InitialCapital > 0) || math.IsInf(c.InitialCapital, 0):
		return model.InvalidParam("initial_capital", "must be positive")
	case c.Commission < 0 || math.IsNaN(c.Commission):
		return model.InvalidParam("commission", "must not be negative")
	case !(c.PositionSize > 0) || c.PositionSize > 1:
		return model.InvalidParam("position_size", "must be in (0, 1]")
	case math.IsNaN(c.RiskFreeRate):
		return model.InvalidParam("risk_free_rate", "must be finite")
	}
	return nil
}

// EquityPoint is one sample of an equity curve.
type EquityPoint struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// Trade is one contiguous run of non-zero position.
type Trade struct {
	Direction  model.Signal `json:"direction"`
	EntryTS    time.Time    `json:"entry_ts"`
	ExitTS     time.Time    `json:"exit_ts"`
	EntryPrice float64      `json:"entry_price"`
	ExitPrice  float64      `json:"exit_price"`
	// Return is the compounded strategy return over the held bars.
	Return float64 `json:"return"`
	Bars   int     `json:"bars"`
	// Open is set when the position is still held on the last bar.
	Open bool `json:"open"`
}

// Result is the immutable outcome of one run. Returns are percentages,
// MaxDrawdown is a negative fraction and WinRate a fraction in [0, 1].
type Result struct {
	Equity    []EquityPoint `json:"equity"`
	Benchmark []EquityPoint `json:"benchmark"`
	Returns   []float64     `json:"returns"`
	Positions []float64     `json:"positions"`
	Drawdown  []float64     `json:"drawdown"`

	TotalReturn     float64 `json:"total_return"`
	BenchmarkReturn float64 `json:"benchmark_return"`
	Alpha           float64 `json:"alpha"`
	Sharpe          float64 `json:"sharpe"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	WinRate         float64 `json:"win_rate"` // fraction of non-zero bars that were positive
	TradeCount      float64 `json:"trade_count"`
	FinalEquity     float64 `json:"final_equity"`
	Trades          []Trade `json:"trades"`
	// Skipped is the number of leading warm-up bars that were dropped.
	Skipped int `json:"skipped"`
}

// Run simulates signals over s. signals must align 1:1 with the bars;
// leading SignalUndefined entries are dropped, any later undefined entry is a
// validation error.
func Run(s model.Series, signals []model.Signal, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(signals) != len(s.Bars) {
		return nil, &model.ValidationError{
			Series: s.Symbol,
			Field:  "signals",
			Reason: "length does not match bar count",
			Err:    model.ErrLengthMismatch,
		}
	}

	start := 0
	for start < len(signals) && signals[start] == model.SignalUndefined {
		start++
	}
	for i := start; i < len(signals); i++ {
		switch signals[i] {
		case model.Buy, model.Sell, model.Hold:
		case model.SignalUndefined:
			return nil, &model.ValidationError{Series: s.Symbol, Field: "signals", Reason: "undefined signal after warm-up at index " + strconv.Itoa(i), Err: model.ErrInvalidParam}
		default:
			return nil, &model.ValidationError{Series: s.Symbol, Field: "signals", Reason: "signal out of range at index " + strconv.Itoa(i), Err: model.ErrInvalidParam}
		}
	}
	if n := len(signals) - start; n < 2 {
		return nil, &model.InsufficientDataError{Op: "backtest", Need: 2, Have: n}
	}

	bars := s.Bars[start:]
	sig := signals[start:]
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	pct := series.PctChange(closes)

	n := len(bars)
	res := &Result{
		Equity:    make([]EquityPoint, n),
		Benchmark: make([]EquityPoint, n),
		Returns:   make([]float64, n),
		Positions: make([]float64, n),
		Skipped:   start,
	}

	equity, bench := cfg.InitialCapital, cfg.InitialCapital
	trades := 0.0
	for t := 0; t < n; t++ {
		var r, br float64
		if t > 0 {
			res.Positions[t] = float64(sig[t-1]) * cfg.PositionSize
			var prev model.Signal
			if t > 1 {
				prev = sig[t-2]
			}
			trade := math.Abs(float64(sig[t-1] - prev))
			trades += trade
			p := pct[t]
			if math.IsNaN(p) {
				p = 0 // zero previous close
			}
			r = res.Positions[t]*p - trade*cfg.Commission/cfg.InitialCapital
			br = p
		}
		equity *= 1 + r
		bench *= 1 + br
		res.Returns[t] = r
		res.Equity[t] = EquityPoint{TS: bars[t].TS, Value: equity}
		res.Benchmark[t] = EquityPoint{TS: bars[t].TS, Value: bench}
	}

	values := make([]float64, n)
	for i, p := range res.Equity {
		values[i] = p.Value
	}
	res.FinalEquity = equity
	res.TotalReturn = (equity/cfg.InitialCapital - 1) * 100
	res.BenchmarkReturn = (bench/cfg.InitialCapital - 1) * 100
	res.Alpha = res.TotalReturn - res.BenchmarkReturn
	res.Sharpe = series.SharpeRatio(res.Returns[1:], cfg.RiskFreeRate)
	res.MaxDrawdown = series.MaxDrawdown(values)
	res.Drawdown = series.DrawdownCurve(values)
	res.WinRate = winRate(res.Returns[1:])
	res.TradeCount = trades / 2
	res.Trades = segmentTrades(bars, res.Positions, res.Returns)
	return res, nil
}

// winRate is positive bars over non-zero bars as a fraction in [0, 1].
// No non-zero bars gives 0.
func winRate(returns []float64) float64 {
	wins, active := 0, 0
	for _, r := range returns {
		if r != 0 {
			active++
			if r > 0 {
				wins++
			}
		}
	}
	if active == 0 {
		return 0
	}
	return float64(wins) / float64(active)
}

// segmentTrades turns each run of same-signed non-zero positions into a
// Trade. The entry is the close of the bar whose signal opened the run.
func segmentTrades(bars []model.Bar, positions, returns []float64) []Trade {
	var out []Trade
	for t := 1; t < len(positions); {
		dir := sign(positions[t])
		if dir == 0 {
			t++
			continue
		}
		tr := Trade{
			Direction:  model.Signal(dir),
			EntryTS:    bars[t-1].TS,
			EntryPrice: bars[t-1].Close,
		}
		growth := 1.0
		end := t
		for end < len(positions) && sign(positions[end]) == dir {
			growth *= 1 + returns[end]
			end++
		}
		last := end - 1
		tr.ExitTS = bars[last].TS
		tr.ExitPrice = bars[last].Close
		tr.Return = growth - 1
		tr.Bars = end - t
		tr.Open = end == len(positions)
		out = append(out, tr)
		t = end
	}
	return out
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
