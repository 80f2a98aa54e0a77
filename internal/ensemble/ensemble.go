package ensemble

import (
	"patternpilot/internal/model"
)

// Level is the five-step live signal derived from the ensemble probability.
type Level int

const (
	StrongSell Level = -2
	Sell       Level = -1
	Hold       Level = 0
	Buy        Level = 1
	StrongBuy  Level = 2
)

func (l Level) String() string {
	switch l {
	case StrongBuy:
		return "STRONG BUY"
	case Buy:
		return "BUY"
	case Hold:
		return "HOLD"
	case Sell:
		return "SELL"
	case StrongSell:
		return "STRONG SELL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// LevelOf maps an up-probability onto the live thresholds
// 0.70 / 0.55 / 0.45 / 0.30.
func LevelOf(probUp float64) Level {
	switch {
	case probUp >= 0.70:
		return StrongBuy
	case probUp >= 0.55:
		return Buy
	case probUp >= 0.45:
		return Hold
	case probUp >= 0.30:
		return Sell
	default:
		return StrongSell
	}
}

// Vote is one model's contribution to a prediction.
type Vote struct {
	Model  string  `json:"model"`
	PDown  float64 `json:"p_down"`
	PUp    float64 `json:"p_up"`
	Weight float64 `json:"weight"`
	Up     bool    `json:"up"`
}

// Prediction is the combined ensemble output for one feature vector.
type Prediction struct {
	ProbUp float64 `json:"prob_up"`
	Level  Level   `json:"signal"`
	// Agreement is the fraction of models whose vote matches ProbUp >= 0.5.
	Agreement float64 `json:"agreement"`
	Votes     []Vote  `json:"votes"`
}

// Ensemble is an immutable set of classifiers weighted by CV accuracy.
type Ensemble struct {
	members []Classifier
}

// New builds an ensemble. At least one classifier is required.
func New(members ...Classifier) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, model.InvalidParam("classifiers", "ensemble needs at least one model")
	}
	return &Ensemble{members: append([]Classifier(nil), members...)}, nil
}

// Size returns the number of member models.
func (e *Ensemble) Size() int { return len(e.members) }

// Best returns the member with the highest CV accuracy (first on ties).
func (e *Ensemble) Best() Classifier {
	best := e.members[0]
	for _, m := range e.members[1:] {
		if m.CVAccuracy() > best.CVAccuracy() {
			best = m
		}
	}
	return best
}

// Predict combines the members' up-probabilities as a CV-weighted mean. A
// total weight of zero gives 0.5.
func (e *Ensemble) Predict(x []float64) (Prediction, error) {
	var weighted, total float64
	votes := make([]Vote, len(e.members))
	for i, m := range e.members {
		pDown, pUp, err := m.PredictProbability(x)
		if err != nil {
			return Prediction{}, err
		}
		w := m.CVAccuracy()
		weighted += pUp * w
		total += w
		votes[i] = Vote{Model: m.Name(), PDown: pDown, PUp: pUp, Weight: w, Up: pUp > pDown}
	}

	prob := 0.5
	if total != 0 {
		prob = weighted / total
	}
	impliedUp := prob >= 0.5
	agree := 0
	for _, v := range votes {
		if v.Up == impliedUp {
			agree++
		}
	}
	return Prediction{
		ProbUp:    prob,
		Level:     LevelOf(prob),
		Agreement: float64(agree) / float64(len(votes)),
		Votes:     votes,
	}, nil
}
