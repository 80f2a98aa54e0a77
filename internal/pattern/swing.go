package pattern

import (
	"math"

	"patternpilot/internal/model"
	"patternpilot/internal/series"
)

// SwingWindow is the confirmation window used for recent swing ranges.
const SwingWindow = 3

// DetectSwingPoints finds bars whose high (low) is strictly above (below)
// every high (low) within window bars on each side. Only indices
// window <= i < n-window are candidates.
func DetectSwingPoints(s model.Series, window int) (highs, lows []model.SwingPoint, err error) {
	if window < 1 {
		return nil, nil, model.InvalidParam("window", "must be at least 1")
	}
	n := len(s.Bars)
	if need := 2*window + 1; n < need {
		return nil, nil, &model.InsufficientDataError{Op: "swing points", Need: need, Have: n}
	}

	hs, ls := s.Highs(), s.Lows()
	// maxH[j] covers hs[j-window+1 .. j], so maxH[i-1] is the left side of i
	// and maxH[i+window] the right side.
	maxH := series.Rolling(hs, window, series.Max)
	minL := series.Rolling(ls, window, series.Min)

	for i := window; i < n-window; i++ {
		if hs[i] > maxH[i-1] && hs[i] > maxH[i+window] {
			highs = append(highs, model.SwingPoint{TS: s.Bars[i].TS, Price: hs[i], Index: i, Kind: model.SwingHigh})
		}
		if ls[i] < minL[i-1] && ls[i] < minL[i+window] {
			lows = append(lows, model.SwingPoint{TS: s.Bars[i].TS, Price: ls[i], Index: i, Kind: model.SwingLow})
		}
	}
	return highs, lows, nil
}

// RangeMethod records how a swing range was chosen.
type RangeMethod int

const (
	// Swing means confirmed swing points were found.
	Swing RangeMethod = iota
	// Extremes means no swing points existed and the plain max high / min
	// low of the window was used.
	Extremes
)

func (m RangeMethod) String() string {
	if m == Extremes {
		return "extremes"
	}
	return "swing"
}

func (m RangeMethod) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// SwingRange is the high/low pair used to anchor Fibonacci levels.
type SwingRange struct {
	High   model.SwingPoint `json:"high"`
	Low    model.SwingPoint `json:"low"`
	Method RangeMethod      `json:"method"`
}

// FindRecentSwingRange looks at the trailing lookback bars and returns the
// highest swing high and lowest swing low found with a window of 3. If either
// list is empty it falls back to the first maximum High and first minimum
// Low of that window. Indices are relative to the full series.
func FindRecentSwingRange(s model.Series, lookback int) (SwingRange, error) {
	if lookback < 1 {
		return SwingRange{}, model.InvalidParam("lookback", "must be at least 1")
	}
	if len(s.Bars) == 0 {
		return SwingRange{}, &model.InsufficientDataError{Op: "swing range", Need: 1, Have: 0}
	}
	recent := s.Tail(lookback)
	offset := len(s.Bars) - len(recent.Bars)

	highs, lows, err := DetectSwingPoints(recent, SwingWindow)
	if err == nil && len(highs) > 0 && len(lows) > 0 {
		hi, lo := highs[0], lows[0]
		for _, p := range highs[1:] {
			if p.Price > hi.Price {
				hi = p
			}
		}
		for _, p := range lows[1:] {
			if p.Price < lo.Price {
				lo = p
			}
		}
		hi.Index += offset
		lo.Index += offset
		return SwingRange{High: hi, Low: lo, Method: Swing}, nil
	}

	hi := model.SwingPoint{Price: math.Inf(-1), Kind: model.SwingHigh}
	lo := model.SwingPoint{Price: math.Inf(1), Kind: model.SwingLow}
	for i, b := range recent.Bars {
		if b.High > hi.Price {
			hi.Price, hi.TS, hi.Index = b.High, b.TS, i+offset
		}
		if b.Low < lo.Price {
			lo.Price, lo.TS, lo.Index = b.Low, b.TS, i+offset
		}
	}
	return SwingRange{High: hi, Low: lo, Method: Extremes}, nil
}
