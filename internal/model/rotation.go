package model

import "time"

// RotationPoint is one observation of a symbol's relative rotation versus a
// benchmark. Both values are centred at 100.
type RotationPoint struct {
	TS         time.Time `json:"ts"`
	RSRatio    float64   `json:"rs_ratio"`
	RSMomentum float64   `json:"rs_momentum"`
}

// Quadrant is the relative-rotation region of a point.
type Quadrant int

const (
	Leading Quadrant = iota
	Weakening
	Lagging
	Improving
)

func (q Quadrant) String() string {
	switch q {
	case Leading:
		return "Leading"
	case Weakening:
		return "Weakening"
	case Lagging:
		return "Lagging"
	case Improving:
		return "Improving"
	default:
		return "unknown"
	}
}

func (q Quadrant) MarshalText() ([]byte, error) { return []byte(q.String()), nil }
