// Package model holds the data types shared by the analysis packages and
// the storage/provider adapters.
package model

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Bar is one trading-period observation for a single symbol.
// Prices are plain float64 values in the quote currency.
type Bar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool { return b.Close > b.Open }

// Body returns |close - open|.
func (b Bar) Body() float64 { return math.Abs(b.Close - b.Open) }

// UpperShadow returns high - max(open, close).
func (b Bar) UpperShadow() float64 { return b.High - math.Max(b.Open, b.Close) }

// LowerShadow returns min(open, close) - low.
func (b Bar) LowerShadow() float64 { return math.Min(b.Open, b.Close) - b.Low }

// Range returns high - low.
func (b Bar) Range() float64 { return b.High - b.Low }

// Series is an ordered run of daily bars for one symbol.
// Core packages never mutate a Series; they return new slices instead.
type Series struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Bars) }

// Validate checks ordering and finiteness. Timestamps must be strictly
// increasing and every OHLC value finite with high >= low.
func (s Series) Validate() error {
	for i, b := range s.Bars {
		if !finite(b.Open) || !finite(b.High) || !finite(b.Low) || !finite(b.Close) {
			return &ValidationError{Series: s.Symbol, Field: "bars", Reason: "non-finite price at index " + strconv.Itoa(i), Err: ErrNonFinite}
		}
		if b.High < b.Low {
			return &ValidationError{Series: s.Symbol, Field: "bars", Reason: "high below low at index " + strconv.Itoa(i), Err: ErrInvalidRange}
		}
		if i > 0 && !b.TS.After(s.Bars[i-1].TS) {
			return &ValidationError{Series: s.Symbol, Field: "bars", Reason: "timestamps not strictly increasing at index " + strconv.Itoa(i), Err: ErrUnsorted}
		}
	}
	return nil
}

// Closes returns the close column.
func (s Series) Closes() []float64 { return s.column(func(b Bar) float64 { return b.Close }) }

// Opens returns the open column.
func (s Series) Opens() []float64 { return s.column(func(b Bar) float64 { return b.Open }) }

// Highs returns the high column.
func (s Series) Highs() []float64 { return s.column(func(b Bar) float64 { return b.High }) }

// Lows returns the low column.
func (s Series) Lows() []float64 { return s.column(func(b Bar) float64 { return b.Low }) }

// Volumes returns the volume column.
func (s Series) Volumes() []float64 { return s.column(func(b Bar) float64 { return b.Volume }) }

// Timestamps returns the bar timestamps.
func (s Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.TS
	}
	return out
}

// Tail returns a view over the last n bars (all bars if n >= Len).
func (s Series) Tail(n int) Series {
	if n >= len(s.Bars) || n < 0 {
		return s
	}
	return Series{Symbol: s.Symbol, Bars: s.Bars[len(s.Bars)-n:]}
}

// After returns a view over bars with TS strictly after t.
func (s Series) After(t time.Time) Series {
	for i, b := range s.Bars {
		if b.TS.After(t) {
			return Series{Symbol: s.Symbol, Bars: s.Bars[i:]}
		}
	}
	return Series{Symbol: s.Symbol}
}

// Between returns a view over bars with start <= TS <= end.
// A zero start or end leaves that side open.
func (s Series) Between(start, end time.Time) Series {
	lo, hi := 0, len(s.Bars)
	for lo < hi && !start.IsZero() && s.Bars[lo].TS.Before(start) {
		lo++
	}
	for hi > lo && !end.IsZero() && s.Bars[hi-1].TS.After(end) {
		hi--
	}
	return Series{Symbol: s.Symbol, Bars: s.Bars[lo:hi]}
}

// JSON returns the JSON-encoded series (ignoring errors, like the cache path expects).
func (s Series) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

func (s Series) column(f func(Bar) float64) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = f(b)
	}
	return out
}

// Undefined is the marker for warm-up entries of an indicator series.
func Undefined() float64 { return math.NaN() }

// IsUndefined reports whether v marks a warm-up entry.
func IsUndefined(v float64) bool { return math.IsNaN(v) }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
