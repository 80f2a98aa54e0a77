package ensemble

import (
	"math"
	"time"

	"patternpilot/internal/backtest"
	"patternpilot/internal/model"
)

// MinHeldOutBars is the smallest held-out window WalkForward accepts,
// counted before the Horizon trim.
const MinHeldOutBars = 10

// WalkForwardConfig controls the held-out replay.
type WalkForwardConfig struct {
	// BuyAt and SellAt are the ternary thresholds on ProbUp. They differ
	// from the live Level thresholds.
	BuyAt  float64
	SellAt float64
	// Horizon drops that many trailing held-out bars whose labels are not
	// yet observable.
	Horizon  int
	Backtest backtest.Config
}

// DefaultWalkForwardConfig returns 0.55 / 0.45 thresholds, no horizon trim
// and the default backtest parameters.
func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{BuyAt: 0.55, SellAt: 0.45, Backtest: backtest.DefaultConfig()}
}

// BarPrediction is the ensemble reading for one held-out bar.
type BarPrediction struct {
	TS     time.Time    `json:"ts"`
	Close  float64      `json:"close"`
	ProbUp float64      `json:"prob_up"`
	Signal model.Signal `json:"signal"`
	// Undefined is set when the bar's feature row had missing values.
	Undefined bool `json:"undefined,omitempty"`
}

// Report is the walk-forward outcome.
type Report struct {
	Cutoff time.Time        `json:"cutoff"`
	Bars   []BarPrediction  `json:"bars"`
	Result *backtest.Result `json:"result"`
}

// Ternary maps an up-probability to buy/sell/hold with the walk-forward
// thresholds.
func (c WalkForwardConfig) Ternary(p float64) model.Signal {
	switch {
	case p >= c.BuyAt:
		return model.Buy
	case p <= c.SellAt:
		return model.Sell
	}
	return model.Hold
}

// WalkForward predicts every bar strictly after cutoff from that bar's own
// feature row and backtests the resulting signal. features must align with
// the bars of s. Rows with undefined values before the first usable row
// become SignalUndefined warm-up; later ones hold flat.
func WalkForward(e *Ensemble, s model.Series, features [][]float64, cutoff time.Time, cfg WalkForwardConfig) (*Report, error) {
	if e == nil {
		return nil, model.InvalidParam("ensemble", "missing")
	}
	if len(features) != len(s.Bars) {
		return nil, &model.ValidationError{Series: s.Symbol, Field: "features", Reason: "row count does not match bar count", Err: model.ErrLengthMismatch}
	}
	if !(cfg.SellAt < cfg.BuyAt) {
		return nil, model.InvalidParam("thresholds", "sell threshold must be below buy threshold")
	}
	if cfg.Horizon < 0 {
		return nil, model.InvalidParam("horizon", "must not be negative")
	}

	start := len(s.Bars)
	for i, b := range s.Bars {
		if b.TS.After(cutoff) {
			start = i
			break
		}
	}
	if have := len(s.Bars) - start; have < MinHeldOutBars {
		return nil, &model.InsufficientDataError{Op: "walk-forward", Need: MinHeldOutBars, Have: have}
	}
	end := len(s.Bars) - cfg.Horizon
	if have := end - start; have < 2 {
		return nil, &model.InsufficientDataError{Op: "walk-forward", Need: 2 + cfg.Horizon, Have: len(s.Bars) - start}
	}

	held := model.Series{Symbol: s.Symbol, Bars: s.Bars[start:end]}
	rows := features[start:end]
	preds := make([]BarPrediction, len(rows))
	signals := make([]model.Signal, len(rows))
	seenDefined := false
	for i, row := range rows {
		bp := BarPrediction{TS: held.Bars[i].TS, Close: held.Bars[i].Close, ProbUp: math.NaN()}
		if hasUndefined(row) {
			bp.Undefined = true
			bp.Signal = model.SignalUndefined
			if seenDefined {
				bp.Signal = model.Hold
			}
		} else {
			p, err := e.Predict(row)
			if err != nil {
				return nil, err
			}
			seenDefined = true
			bp.ProbUp = p.ProbUp
			bp.Signal = cfg.Ternary(p.ProbUp)
		}
		preds[i] = bp
		signals[i] = bp.Signal
	}

	res, err := backtest.Run(held, signals, cfg.Backtest)
	if err != nil {
		return nil, err
	}
	return &Report{Cutoff: cutoff, Bars: preds, Result: res}, nil
}

func hasUndefined(row []float64) bool {
	if len(row) == 0 {
		return true
	}
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
