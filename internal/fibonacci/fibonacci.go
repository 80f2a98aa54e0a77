// Package fibonacci computes Fibonacci retracement and extension levels and
// snaps user-placed annotation points onto real OHLC prices.
package fibonacci

import (
	"math"
	"time"

	"patternpilot/internal/model"
	"patternpilot/internal/pattern"
)

// Direction selects how ratios are projected between a high and a low.
type Direction int

const (
	// Retracement measures down from the high: high - (high-low)*ratio.
	Retracement Direction = iota
	// Extension projects up from the low: low + (high-low)*ratio.
	Extension
)

func (d Direction) String() string {
	if d == Extension {
		return "extension"
	}
	return "retracement"
}

// ParseDirection accepts "retracement" or "extension".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "retracement":
		return Retracement, nil
	case "extension":
		return Extension, nil
	}
	return 0, model.InvalidParam("direction", "unknown direction "+s)
}

// RetracementRatios is the ordered ratio set for retracements.
var RetracementRatios = []float64{0, 0.236, 0.382, 0.5, 0.618, 0.786, 1.0}

// ExtensionRatios adds projections beyond the high.
var ExtensionRatios = []float64{0, 0.236, 0.382, 0.5, 0.618, 0.786, 1.0, 1.272, 1.618, 2.0, 2.618}

// Level is one ratio and its price.
type Level struct {
	Ratio float64 `json:"ratio"`
	Price float64 `json:"price"`
}

// LevelSet is the ordered output of Levels.
type LevelSet struct {
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Direction Direction `json:"-"`
	Levels    []Level   `json:"levels"`
}

// Price returns the level for ratio, if present in the set.
func (ls LevelSet) Price(ratio float64) (float64, bool) {
	for _, l := range ls.Levels {
		if l.Ratio == ratio {
			return l.Price, true
		}
	}
	return 0, false
}

// Levels derives the level set for a high/low pair. high == low yields a flat
// set at that price. Non-finite inputs are rejected.
func Levels(high, low float64, dir Direction) (LevelSet, error) {
	if math.IsNaN(high) || math.IsInf(high, 0) || math.IsNaN(low) || math.IsInf(low, 0) {
		return LevelSet{}, &model.ValidationError{Field: "high/low", Reason: "non-finite swing price", Err: model.ErrInvalidRange}
	}
	ratios := RetracementRatios
	if dir == Extension {
		ratios = ExtensionRatios
	}
	diff := high - low
	set := LevelSet{High: high, Low: low, Direction: dir, Levels: make([]Level, len(ratios))}
	for i, r := range ratios {
		p := low + diff*r
		if dir == Retracement {
			p = high - diff*r
		}
		switch r {
		// Endpoints are exact, without rounding through diff.
		case 0:
			p = high
			if dir == Extension {
				p = low
			}
		case 1:
			p = low
			if dir == Extension {
				p = high
			}
		case 0.5:
			p = (high + low) / 2
		}
		set.Levels[i] = Level{Ratio: r, Price: p}
	}
	return set, nil
}

// SnapToOHLC moves price onto the nearest of the O/H/L/C values of the bar
// closest in time to ts. Ties on time go to the earliest bar and ties on
// price go to the first of Open, High, Low, Close. When disabled, or for an
// empty series, price is returned unchanged.
func SnapToOHLC(s model.Series, ts time.Time, price float64, enabled bool) float64 {
	if !enabled || len(s.Bars) == 0 {
		return price
	}
	best := 0
	bestDist := absDur(s.Bars[0].TS.Sub(ts))
	for i := 1; i < len(s.Bars); i++ {
		if d := absDur(s.Bars[i].TS.Sub(ts)); d < bestDist {
			best, bestDist = i, d
		}
	}
	b := s.Bars[best]
	snapped := price
	minDiff := math.Inf(1)
	for _, v := range [4]float64{b.Open, b.High, b.Low, b.Close} {
		if d := math.Abs(v - price); d < minDiff {
			snapped, minDiff = v, d
		}
	}
	if math.IsNaN(minDiff) || math.IsInf(minDiff, 0) {
		return price
	}
	return snapped
}

// SwingSet pairs a level set with the swing points it was drawn from.
type SwingSet struct {
	LevelSet
	HighPoint model.SwingPoint    `json:"swing_high"`
	LowPoint  model.SwingPoint    `json:"swing_low"`
	Method    pattern.RangeMethod `json:"method"`
}

// SwingLevels draws levels between the recent swing high and low found in
// the trailing lookback bars.
func SwingLevels(s model.Series, lookback int, dir Direction) (SwingSet, error) {
	rng, err := pattern.FindRecentSwingRange(s, lookback)
	if err != nil {
		return SwingSet{}, err
	}
	ls, err := Levels(rng.High.Price, rng.Low.Price, dir)
	if err != nil {
		return SwingSet{}, err
	}
	return SwingSet{LevelSet: ls, HighPoint: rng.High, LowPoint: rng.Low, Method: rng.Method}, nil
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
