// Package strategy turns a price series into a per-bar rule-based signal.
//
// A Generator emits one model.Signal per bar: Buy while its long condition
// holds, Sell while its short condition holds, Hold otherwise, and
// SignalUndefined for warm-up bars whose indicators are not ready.
package strategy

import (
	"fmt"
	"strconv"
	"strings"

	"patternpilot/internal/model"
)

// Generator is the interface all rule strategies implement.
type Generator interface {
	// Name returns a stable label including parameters, e.g. "SMA_20_50".
	Name() string

	// Generate returns signals aligned 1:1 with the bars of s.
	Generate(s model.Series) []model.Signal
}

// Parse builds a generator from its compact form:
//
//	sma:FAST:SLOW[:rsiPERIOD]   e.g. sma:20:50 or sma:20:50:rsi14
//	ema:FAST:SLOW[:rsiPERIOD]
//	rsi:PERIOD:OVERSOLD:OVERBOUGHT   e.g. rsi:14:30:70
//	macd:FAST:SLOW:SIGNAL            e.g. macd:12:26:9
func Parse(spec string) (Generator, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(spec)), ":")
	kind, args := parts[0], parts[1:]
	switch kind {
	case "sma", "ema":
		if len(args) < 2 || len(args) > 3 {
			return nil, badSpec(spec, kind+":FAST:SLOW[:rsiN]")
		}
		v, slow, err := ints(spec, args[:2])
		if err != nil {
			return nil, err
		}
		cfg := CrossoverConfig{Fast: v[0], Slow: slow, Exponential: kind == "ema"}
		if len(args) == 3 {
			p, err := strconv.Atoi(strings.TrimPrefix(args[2], "rsi"))
			if err != nil || !strings.HasPrefix(args[2], "rsi") {
				return nil, badSpec(spec, "rsi filter as rsiN")
			}
			cfg.RSIFilter = true
			cfg.RSIPeriod = p
		}
		return NewCrossover(cfg)
	case "rsi":
		if len(args) != 3 {
			return nil, badSpec(spec, "rsi:PERIOD:OVERSOLD:OVERBOUGHT")
		}
		period, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, badSpec(spec, "integer period")
		}
		lo, err1 := strconv.ParseFloat(args[1], 64)
		hi, err2 := strconv.ParseFloat(args[2], 64)
		if err1 != nil || err2 != nil {
			return nil, badSpec(spec, "numeric thresholds")
		}
		return NewRSIReversion(period, lo, hi)
	case "macd":
		if len(args) != 3 {
			return nil, badSpec(spec, "macd:FAST:SLOW:SIGNAL")
		}
		v, last, err := ints(spec, args)
		if err != nil {
			return nil, err
		}
		return NewMACD(v[0], v[1], last)
	}
	return nil, badSpec(spec, "one of sma, ema, rsi, macd")
}

// Presets lists the default strategies offered by the workbench.
func Presets() []string {
	return []string{"sma:20:50", "ema:9:21", "rsi:14:30:70", "macd:12:26:9"}
}

// ints parses all args as positive integers, returning them and the last.
func ints(spec string, args []string) ([]int, int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n <= 0 {
			return nil, 0, badSpec(spec, "positive integer parameters")
		}
		out[i] = n
	}
	return out, out[len(out)-1], nil
}

func badSpec(spec, want string) error {
	return model.InvalidParam("strategy", fmt.Sprintf("%q: expected %s", spec, want))
}

// undefinedSignals returns n SignalUndefined entries.
func undefinedSignals(n int) []model.Signal {
	out := make([]model.Signal, n)
	for i := range out {
		out[i] = model.SignalUndefined
	}
	return out
}
