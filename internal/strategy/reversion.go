package strategy

import (
	"fmt"

	"patternpilot/internal/indicator"
	"patternpilot/internal/model"
)

// RSIReversion buys while RSI is below the oversold level and sells while it
// is above the overbought level.
type RSIReversion struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSIReversion validates 0 <= oversold < overbought <= 100.
func NewRSIReversion(period int, oversold, overbought float64) (*RSIReversion, error) {
	if period <= 0 {
		return nil, model.InvalidParam("period", "must be positive")
	}
	if oversold < 0 || overbought > 100 || oversold >= overbought {
		return nil, model.InvalidParam("thresholds", "need 0 <= oversold < overbought <= 100")
	}
	return &RSIReversion{period: period, oversold: oversold, overbought: overbought}, nil
}

func (r *RSIReversion) Name() string {
	return fmt.Sprintf("RSI_%d_%g_%g", r.period, r.oversold, r.overbought)
}

func (r *RSIReversion) Generate(s model.Series) []model.Signal {
	rsi := indicator.NewRSI(r.period)
	out := undefinedSignals(len(s.Bars))
	for i, b := range s.Bars {
		rsi.Update(b.Close)
		if !rsi.Ready() {
			continue
		}
		switch v := rsi.Value(); {
		case v < r.oversold:
			out[i] = model.Buy
		case v > r.overbought:
			out[i] = model.Sell
		default:
			out[i] = model.Hold
		}
	}
	return out
}
