package series

import (
	"errors"
	"math"
	"testing"

	"patternpilot/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertUndefined(t *testing.T, label string, got float64) {
	t.Helper()
	if !math.IsNaN(got) {
		t.Errorf("%s: got %.6f, want undefined", label, got)
	}
}

// ────────────────────────────────────────────────────────────
// Rolling
// ────────────────────────────────────────────────────────────

func TestRolling_MeanWarmup(t *testing.T) {
	// Mean(3) of 1..5 → _, _, 2, 3, 4
	out := Rolling([]float64{1, 2, 3, 4, 5}, 3, Mean)
	assertUndefined(t, "out[0]", out[0])
	assertUndefined(t, "out[1]", out[1])
	for i, want := range []float64{2, 3, 4} {
		assertClose(t, "mean", out[i+2], want, 1e-12)
	}
}

func TestRolling_UndefinedPropagatesThroughWindow(t *testing.T) {
	nan := math.NaN()
	out := Rolling([]float64{1, 2, nan, 4, 5, 6, 7}, 2, Max)
	// windows touching index 2 are undefined: out[2], out[3]
	for _, i := range []int{0, 2, 3} {
		assertUndefined(t, "out", out[i])
	}
	assertClose(t, "out[1]", out[1], 2, 0)
	assertClose(t, "out[4]", out[4], 5, 0)
	assertClose(t, "out[6]", out[6], 7, 0)
}

func TestRolling_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Rolling(in, 2, Min)
	if in[0] != 3 || in[1] != 1 || in[2] != 2 {
		t.Fatalf("input mutated: %v", in)
	}
}

func TestSampleStd(t *testing.T) {
	// 2,4,4,4,5,5,7,9: mean 5, ss 32, ddof=1 → sqrt(32/7)
	got := SampleStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assertClose(t, "std", got, math.Sqrt(32.0/7.0), 1e-12)
	assertUndefined(t, "single", SampleStd([]float64{1}))
}

// ────────────────────────────────────────────────────────────
// Volatility / Sharpe / Drawdown
// ────────────────────────────────────────────────────────────

func TestVolatility_FirstWindowUndefined(t *testing.T) {
	prices := []float64{100, 101, 99, 102, 103, 101}
	vol := Volatility(prices, 3, false)
	for i := 0; i < 3; i++ {
		assertUndefined(t, "warmup", vol[i])
	}
	r := PctChange(prices)
	assertClose(t, "vol[3]", vol[3], SampleStd(r[1:4]), 1e-12)

	ann := Volatility(prices, 3, true)
	assertClose(t, "annualized", ann[5], vol[5]*math.Sqrt(252), 1e-12)
}

func TestSharpe_ConstantReturnsIsZero(t *testing.T) {
	returns := make([]float64, 50)
	for i := range returns {
		returns[i] = 0.01
	}
	got := SharpeRatio(returns, 0)
	if got != 0 {
		t.Fatalf("constant returns: got %v, want 0", got)
	}
	if got := SharpeRatio(nil, 0); got != 0 {
		t.Fatalf("empty returns: got %v, want 0", got)
	}
}

func TestSharpe_KnownValue(t *testing.T) {
	returns := []float64{0.01, -0.005, 0.02, 0.0, 0.015}
	want := Mean(returns) / SampleStd(returns) * math.Sqrt(252)
	assertClose(t, "sharpe", SharpeRatio(returns, 0), want, 1e-12)

	// risk-free rate shifts the mean only
	rf := 0.0252
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rf/252
	}
	want = Mean(excess) / SampleStd(excess) * math.Sqrt(252)
	assertClose(t, "sharpe rf", SharpeRatio(returns, rf), want, 1e-12)
}

func TestMaxDrawdown(t *testing.T) {
	cases := []struct {
		name   string
		equity []float64
		want   float64
	}{
		{"non-decreasing", []float64{100, 100, 101, 105}, 0},
		{"peak 110 trough 90", []float64{100, 110, 105, 90, 100, 95, 110}, (90.0 - 110.0) / 110.0},
		{"empty", nil, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assertClose(t, c.name, MaxDrawdown(c.equity), c.want, 1e-12)
		})
	}
}

// ────────────────────────────────────────────────────────────
// Correlation
// ────────────────────────────────────────────────────────────

func TestCorrelationMatrix_Prices(t *testing.T) {
	m, err := CorrelationMatrix(map[string][]float64{
		"AAA": {1, 2, 3, 4},
		"BBB": {2, 4, 6, 8},
		"CCC": {4, 3, 2, 1},
	}, Prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertClose(t, "AAA/BBB", m.At("AAA", "BBB"), 1, 1e-12)
	assertClose(t, "AAA/CCC", m.At("AAA", "CCC"), -1, 1e-12)
	assertClose(t, "diag", m.At("CCC", "CCC"), 1, 0)
	if m.Symbols[0] != "AAA" || m.Symbols[2] != "CCC" {
		t.Fatalf("symbols not sorted: %v", m.Symbols)
	}
}

func TestCorrelationMatrix_LengthMismatch(t *testing.T) {
	_, err := CorrelationMatrix(map[string][]float64{
		"AAA": {1, 2, 3},
		"BBB": {1, 2},
	}, Returns)
	if !errors.Is(err, model.ErrLengthMismatch) {
		t.Fatalf("want ErrLengthMismatch, got %v", err)
	}
}

func TestPctChangeN(t *testing.T) {
	out := PctChangeN([]float64{100, 110, 121, 0, 50}, 2)
	assertUndefined(t, "out[0]", out[0])
	assertUndefined(t, "out[1]", out[1])
	assertClose(t, "out[2]", out[2], 0.21, 1e-12)
	assertClose(t, "out[3]", out[3], -1, 1e-12)
	assertClose(t, "out[4]", out[4], 50.0/121.0-1, 1e-12)
}

func TestRollingCorr(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{2, 4, 6, 8, 1}
	out := RollingCorr(x, y, 3)
	assertUndefined(t, "warmup", out[1])
	assertClose(t, "perfect", out[3], 1, 1e-12)
	if out[4] >= 1 {
		t.Errorf("broken window should correlate below 1, got %v", out[4])
	}
}
