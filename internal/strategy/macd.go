package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"patternpilot/internal/model"
)

// MACD is long while the MACD line is above its signal line and short while
// it is below.
type MACD struct {
	fast, slow, signal int
}

// NewMACD validates fast < slow and a positive signal period.
func NewMACD(fast, slow, signal int) (*MACD, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow {
		return nil, model.InvalidParam("periods", "need 0 < fast < slow and signal > 0")
	}
	return &MACD{fast: fast, slow: slow, signal: signal}, nil
}

func (m *MACD) Name() string { return fmt.Sprintf("MACD_%d_%d_%d", m.fast, m.slow, m.signal) }

// Lookback is the number of leading bars without a MACD signal value.
func (m *MACD) Lookback() int { return (m.slow - 1) + (m.signal - 1) }

func (m *MACD) Generate(s model.Series) []model.Signal {
	out := undefinedSignals(len(s.Bars))
	if len(s.Bars) <= m.Lookback() {
		return out
	}
	line, sig, _ := talib.Macd(s.Closes(), m.fast, m.slow, m.signal)
	for i := m.Lookback(); i < len(out); i++ {
		switch {
		case line[i] > sig[i]:
			out[i] = model.Buy
		case line[i] < sig[i]:
			out[i] = model.Sell
		default:
			out[i] = model.Hold
		}
	}
	return out
}
