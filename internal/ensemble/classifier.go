// Package ensemble combines externally trained binary classifiers into a
// confidence-weighted directional signal and replays that signal over
// held-out history.
package ensemble

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"patternpilot/internal/model"
)

// Classifier is a trained binary up/down model.
type Classifier interface {
	Name() string
	// PredictProbability returns the down and up class probabilities for a
	// single feature vector.
	PredictProbability(x []float64) (pDown, pUp float64, err error)
	// CVAccuracy is the mean cross-validation accuracy, used as the weight.
	CVAccuracy() float64
}

// Scaler standardizes a feature vector as (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform returns the standardized copy of x. A zero scale leaves the
// centred value unscaled.
func (s Scaler) Transform(x []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return x, nil
	}
	if len(x) != len(s.Mean) || len(s.Scale) != len(s.Mean) {
		return nil, &model.ValidationError{
			Field:  "features",
			Reason: fmt.Sprintf("scaler expects %d features, got %d", len(s.Mean), len(x)),
			Err:    model.ErrLengthMismatch,
		}
	}
	out := make([]float64, len(x))
	for i, v := range x {
		sc := s.Scale[i]
		if sc == 0 {
			sc = 1
		}
		out[i] = (v - s.Mean[i]) / sc
	}
	return out, nil
}

// Logistic is a logistic-regression classifier over standardized features.
type Logistic struct {
	ModelName string    `json:"name"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	CV        float64   `json:"cv_accuracy"`
	Scaler    Scaler    `json:"-"`
}

func (l *Logistic) Name() string        { return l.ModelName }
func (l *Logistic) CVAccuracy() float64 { return l.CV }

func (l *Logistic) PredictProbability(x []float64) (float64, float64, error) {
	z, err := l.Scaler.Transform(x)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", l.ModelName, err)
	}
	if len(z) != len(l.Coef) {
		return 0, 0, &model.ValidationError{
			Series: l.ModelName,
			Field:  "features",
			Reason: fmt.Sprintf("model expects %d features, got %d", len(l.Coef), len(z)),
			Err:    model.ErrLengthMismatch,
		}
	}
	logit := l.Intercept
	for i, w := range l.Coef {
		logit += w * z[i]
	}
	pUp := 1 / (1 + math.Exp(-logit))
	return 1 - pUp, pUp, nil
}

// ModelSet is the exported form of a trained ensemble: the feature columns
// it was trained on, the shared scaler and the per-model parameters.
type ModelSet struct {
	Symbol   string     `json:"symbol"`
	Features []string   `json:"features"`
	Horizon  int        `json:"horizon"`
	Scaler   Scaler     `json:"scaler"`
	Models   []Logistic `json:"models"`
}

// Classifiers returns the models as Classifiers sharing the set's scaler.
func (ms *ModelSet) Classifiers() []Classifier {
	out := make([]Classifier, len(ms.Models))
	for i := range ms.Models {
		m := ms.Models[i]
		m.Scaler = ms.Scaler
		out[i] = &m
	}
	return out
}

// LoadModels reads a ModelSet from a JSON file.
func LoadModels(path string) (*ModelSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ensemble: read models: %w", err)
	}
	var ms ModelSet
	if err := json.Unmarshal(data, &ms); err != nil {
		return nil, fmt.Errorf("ensemble: parse models: %w", err)
	}
	if len(ms.Models) == 0 {
		return nil, model.InvalidParam("models", "model set is empty")
	}
	for _, m := range ms.Models {
		if len(ms.Features) > 0 && len(m.Coef) != len(ms.Features) {
			return nil, &model.ValidationError{
				Series: m.ModelName,
				Field:  "coef",
				Reason: fmt.Sprintf("%d coefficients for %d features", len(m.Coef), len(ms.Features)),
				Err:    model.ErrLengthMismatch,
			}
		}
	}
	return &ms, nil
}
