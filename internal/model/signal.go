package model

// Signal is a per-bar discrete trading intent aligned with a Series.
type Signal int8

const (
	Sell Signal = -1
	Hold Signal = 0
	Buy  Signal = 1

	// SignalUndefined marks warm-up bars where the generating indicator
	// has not accumulated enough history.
	SignalUndefined Signal = -128
)

// Defined reports whether s carries a tradable value.
func (s Signal) Defined() bool { return s != SignalUndefined }

func (s Signal) String() string {
	switch s {
	case Sell:
		return "SELL"
	case Hold:
		return "HOLD"
	case Buy:
		return "BUY"
	default:
		return "UNDEFINED"
	}
}
