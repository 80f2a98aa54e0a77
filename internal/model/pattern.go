package model

import "time"

// PatternKind enumerates the candlestick patterns the detector reports.
type PatternKind int

const (
	Doji PatternKind = iota
	Hammer
	ShootingStar
	BullishEngulfing
	BearishEngulfing
)

func (k PatternKind) String() string {
	switch k {
	case Doji:
		return "Doji"
	case Hammer:
		return "Hammer"
	case ShootingStar:
		return "Shooting Star"
	case BullishEngulfing:
		return "Bullish Engulfing"
	case BearishEngulfing:
		return "Bearish Engulfing"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name for JSON responses.
func (k PatternKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Bias is the directional reading attached to a pattern.
type Bias int

const (
	Neutral Bias = iota
	Bullish
	Bearish
)

func (b Bias) String() string {
	switch b {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "neutral"
	}
}

func (b Bias) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// PatternEvent is one detected candlestick pattern.
// Price is the reference level used for chart annotation.
type PatternEvent struct {
	TS    time.Time   `json:"ts"`
	Index int         `json:"index"`
	Price float64     `json:"price"`
	Kind  PatternKind `json:"pattern"`
	Bias  Bias        `json:"type"`
}

// SwingKind tags a swing point as a local high or low.
type SwingKind int

const (
	SwingHigh SwingKind = iota
	SwingLow
)

func (k SwingKind) String() string {
	if k == SwingLow {
		return "low"
	}
	return "high"
}

func (k SwingKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// SwingPoint is a local extremum confirmed by a symmetric window of bars.
type SwingPoint struct {
	TS    time.Time `json:"ts"`
	Price float64   `json:"price"`
	Index int       `json:"index"`
	Kind  SwingKind `json:"kind"`
}
