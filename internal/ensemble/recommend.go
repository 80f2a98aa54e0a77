package ensemble

import (
	"fmt"

	"patternpilot/internal/backtest"
)

// Stance is the overall recommendation bucket.
type Stance int

const (
	Bearish Stance = iota
	SlightlyBearish
	Neutral
	SlightlyBullish
	Bullish
)

func (s Stance) String() string {
	switch s {
	case Bullish:
		return "BULLISH"
	case SlightlyBullish:
		return "SLIGHTLY BULLISH"
	case Neutral:
		return "NEUTRAL"
	case SlightlyBearish:
		return "SLIGHTLY BEARISH"
	default:
		return "BEARISH"
	}
}

// Advice is the short action text shown next to the stance.
func (s Stance) Advice() string {
	switch s {
	case Bullish:
		return "Consider buying"
	case SlightlyBullish:
		return "Watch for entry"
	case Neutral:
		return "Wait for clearer signal"
	case SlightlyBearish:
		return "Consider reducing"
	default:
		return "Consider selling"
	}
}

func (s Stance) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Recommendation blends the live prediction with held-out performance.
type Recommendation struct {
	Score   float64  `json:"score"`
	Stance  Stance   `json:"stance"`
	Advice  string   `json:"advice"`
	Reasons []string `json:"reasons"`
}

// Recommend scores (ProbUp + clamp(0.5 + alpha/100, 0, 1)) / 2 and buckets
// it at 0.65 / 0.55 / 0.45 / 0.35. A nil result scores the backtest half
// as neutral.
func Recommend(e *Ensemble, pred Prediction, res *backtest.Result) Recommendation {
	var reasons []string
	reasons = append(reasons,
		fmt.Sprintf("Current signal is %s with %.1f%% confidence", pred.Level, pred.ProbUp*100),
		fmt.Sprintf("Model agreement: %.0f%%", pred.Agreement*100),
	)

	backtestScore := 0.5
	if res != nil {
		if res.TotalReturn > res.BenchmarkReturn {
			reasons = append(reasons, fmt.Sprintf("Strategy outperformed buy-and-hold by %.1f%%", res.Alpha))
		} else {
			reasons = append(reasons, fmt.Sprintf("Strategy underperformed buy-and-hold by %.1f%%", -res.Alpha))
		}
		switch {
		case res.Sharpe > 1:
			reasons = append(reasons, fmt.Sprintf("Good risk-adjusted returns (Sharpe: %.2f)", res.Sharpe))
		case res.Sharpe < 0:
			reasons = append(reasons, fmt.Sprintf("Poor risk-adjusted returns (Sharpe: %.2f)", res.Sharpe))
		}
		backtestScore = min(max(0.5+res.Alpha/100, 0), 1)
	}
	if e != nil {
		best := e.Best()
		reasons = append(reasons, fmt.Sprintf("Best performing model: %s (CV: %.3f)", best.Name(), best.CVAccuracy()))
	}

	score := (pred.ProbUp + backtestScore) / 2
	var st Stance
	switch {
	case score >= 0.65:
		st = Bullish
	case score >= 0.55:
		st = SlightlyBullish
	case score >= 0.45:
		st = Neutral
	case score >= 0.35:
		st = SlightlyBearish
	default:
		st = Bearish
	}
	return Recommendation{Score: score, Stance: st, Advice: st.Advice(), Reasons: reasons}
}
