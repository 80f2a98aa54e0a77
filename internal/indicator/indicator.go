// Package indicator provides streaming technical indicators over close
// prices.
//
// Each indicator is O(1) per update and can preview the next value with Peek
// without mutating state. Apply runs indicators over a whole series and
// returns aligned indicator series with undefined warm-up entries.
package indicator

import (
	"strconv"
	"strings"

	"patternpilot/internal/model"
)

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Name returns the indicator label, e.g. "SMA_20".
	Name() string

	// Update feeds the next close price.
	Update(price float64)

	// Value returns the current value. Returns 0 until Ready.
	Value() float64

	// Ready reports whether enough prices have been seen.
	Ready() bool

	// Peek computes what Value would be if price were fed next.
	Peek(price float64) float64

	// Reset clears all state.
	Reset()
}

// Spec names an indicator type and its period.
type Spec struct {
	Type   string `json:"type" yaml:"type"` // SMA, EMA, SMMA, RSI
	Period int    `json:"period" yaml:"period"`
}

func (s Spec) String() string { return s.Type + "_" + strconv.Itoa(s.Period) }

// ParseSpecs parses "SMA:20,EMA:9,RSI:14". Malformed entries are rejected.
func ParseSpecs(s string) ([]Spec, error) {
	var specs []Spec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		typ, per, ok := strings.Cut(part, ":")
		if !ok {
			return nil, model.InvalidParam("indicators", "expected TYPE:PERIOD, got "+part)
		}
		period, err := strconv.Atoi(strings.TrimSpace(per))
		if err != nil || period <= 0 {
			return nil, model.InvalidParam("indicators", "bad period in "+part)
		}
		spec := Spec{Type: strings.ToUpper(strings.TrimSpace(typ)), Period: period}
		if _, err := New(spec); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// New constructs the indicator described by spec.
func New(spec Spec) (Indicator, error) {
	if spec.Period <= 0 {
		return nil, model.InvalidParam("period", "must be positive")
	}
	switch strings.ToUpper(spec.Type) {
	case "SMA":
		return NewSMA(spec.Period), nil
	case "EMA":
		return NewEMA(spec.Period), nil
	case "SMMA":
		return NewSMMA(spec.Period), nil
	case "RSI":
		return NewRSI(spec.Period), nil
	}
	return nil, model.InvalidParam("type", "unknown indicator "+spec.Type)
}

// Compute feeds prices through ind and returns one value per price, with
// undefined entries until the indicator is ready. Undefined prices are
// skipped and produce undefined output.
func Compute(ind Indicator, prices []float64) []float64 {
	out := make([]float64, len(prices))
	for i, p := range prices {
		if model.IsUndefined(p) {
			out[i] = model.Undefined()
			continue
		}
		ind.Update(p)
		if ind.Ready() {
			out[i] = ind.Value()
		} else {
			out[i] = model.Undefined()
		}
	}
	return out
}

// Apply computes every spec over the closes of s, keyed by Spec.String.
func Apply(s model.Series, specs []Spec) (map[string][]float64, error) {
	closes := s.Closes()
	out := make(map[string][]float64, len(specs))
	for _, spec := range specs {
		ind, err := New(spec)
		if err != nil {
			return nil, err
		}
		out[spec.String()] = Compute(ind, closes)
	}
	return out, nil
}
