package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"patternpilot/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func feed(ind Indicator, prices ...float64) {
	for _, p := range prices {
		ind.Update(p)
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// SMA(3) of 100, 102, 104, 103, 105:
	//   (100+102+104)/3 = 102, (102+104+103)/3 = 103, (104+103+105)/3 = 104
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(p)
		if sma.Ready() != ready[i] {
			t.Errorf("price %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 1e-9)
		}
	}
}

func TestSMA_Peek(t *testing.T) {
	sma := NewSMA(3)
	feed(sma, 100, 102, 104)
	before := sma.Value()
	// (102+104+106)/3 = 104
	assertClose(t, "SMA Peek", sma.Peek(106), 104.0, 1e-9)
	assertClose(t, "SMA after Peek", sma.Value(), before, 0)
}

func TestSMA_Reset(t *testing.T) {
	sma := NewSMA(2)
	feed(sma, 10, 20)
	sma.Reset()
	if sma.Ready() {
		t.Fatal("Ready after Reset")
	}
	feed(sma, 1, 3)
	assertClose(t, "SMA after Reset", sma.Value(), 2, 1e-12)
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// multiplier 0.5, seed (100+102+104)/3 = 102
	//   103*0.5 + 102*0.5 = 102.5
	//   105*0.5 + 102.5*0.5 = 103.75
	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}

	for i, p := range prices {
		ema.Update(p)
		if ema.Ready() != (i >= 2) {
			t.Errorf("price %d: Ready()=%v", i, ema.Ready())
		}
		if i >= 2 {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 1e-9)
		}
	}
}

func TestEMA_Peek(t *testing.T) {
	ema := NewEMA(3)
	feed(ema, 100, 102, 104)
	assertClose(t, "EMA Peek", ema.Peek(106), 104.0, 1e-9)
	assertClose(t, "EMA after Peek", ema.Value(), 102.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness (Wilder's Smoothing)
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// seed 102, then (102*2+103)/3 = 102.3333, (102.3333*2+105)/3 = 103.2222
	smma := NewSMMA(3)
	feed(smma, 100, 102, 104, 103)
	assertClose(t, "SMMA(3) 4", smma.Value(), 102.3333, 1e-3)
	smma.Update(105)
	assertClose(t, "SMMA(3) 5", smma.Value(), 103.2222, 1e-3)
	assertClose(t, "SMMA Peek", smma.Peek(106), (103.2222*2+106)/3, 1e-3)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Deltas over the first 6 prices: +0.34 -0.25 -0.48 +0.72 +0.50
	//   avgGain = 1.56/5 = 0.312, avgLoss = 0.73/5 = 0.146 → RSI 68.1223
	// +0.27: avgGain 0.3036, avgLoss 0.1168 → 72.2169
	// +0.32: avgGain 0.30688, avgLoss 0.09344 → 76.6587
	// +0.42: avgGain 0.329504, avgLoss 0.074752 → 81.5087
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}
	rsi := NewRSI(5)
	feed(rsi, prices[:6]...)
	if !rsi.Ready() {
		t.Fatal("RSI(5) should be ready after 6 prices")
	}
	assertClose(t, "RSI(5) 6", rsi.Value(), 68.1223, 0.001)
	rsi.Update(prices[6])
	assertClose(t, "RSI(5) 7", rsi.Value(), 72.2169, 0.001)
	rsi.Update(prices[7])
	assertClose(t, "RSI(5) 8", rsi.Value(), 76.6587, 0.001)
	rsi.Update(prices[8])
	assertClose(t, "RSI(5) 9", rsi.Value(), 81.5087, 0.001)
}

func TestRSI_Extremes(t *testing.T) {
	up, down, flat := NewRSI(5), NewRSI(5), NewRSI(5)
	for i := 0; i < 10; i++ {
		up.Update(100 + float64(i))
		down.Update(200 - float64(i))
		flat.Update(100)
	}
	assertClose(t, "all up", up.Value(), 100, 1e-9)
	assertClose(t, "all down", down.Value(), 0, 1e-9)
	// no losses at all reads as 100
	assertClose(t, "flat", flat.Value(), 100, 1e-9)

	if peek := up.Peek(80); peek >= up.Value() {
		t.Errorf("Peek with a lower price should decrease: peek=%.2f current=%.2f", peek, up.Value())
	}
	assertClose(t, "after Peek", up.Value(), 100, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Cross-indicator behaviour
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendOrdering(t *testing.T) {
	sma5, sma20, ema5 := NewSMA(5), NewSMA(20), NewEMA(5)
	for i := 0; i < 30; i++ {
		p := 100 + float64(i)
		sma5.Update(p)
		sma20.Update(p)
		ema5.Update(p)
	}
	if sma5.Value() <= sma20.Value() || ema5.Value() <= sma20.Value() {
		t.Errorf("fast averages should lead in an uptrend: SMA5=%.2f EMA5=%.2f SMA20=%.2f",
			sma5.Value(), ema5.Value(), sma20.Value())
	}
}

func TestEMA_MoreResponsiveThanSMA(t *testing.T) {
	sma, ema := NewSMA(10), NewEMA(10)
	for i := 0; i < 20; i++ {
		sma.Update(100)
		ema.Update(100)
	}
	sma.Update(120)
	ema.Update(120)
	if ema.Value() <= sma.Value() {
		t.Errorf("EMA should react more than SMA: EMA=%.4f SMA=%.4f", ema.Value(), sma.Value())
	}
}

// ────────────────────────────────────────────────────────────
// Series application
// ────────────────────────────────────────────────────────────

func TestCompute_WarmupUndefined(t *testing.T) {
	out := Compute(NewSMA(3), []float64{1, 2, 3, 4})
	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Fatalf("warm-up should be undefined: %v", out)
	}
	assertClose(t, "out[3]", out[3], 3, 1e-12)
}

func TestApply(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s := model.Series{Symbol: "APP"}
	for i, c := range []float64{10, 11, 12, 13, 14} {
		s.Bars = append(s.Bars, model.Bar{TS: day.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c})
	}
	specs, err := ParseSpecs("sma:2, EMA:3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := Apply(s, specs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertClose(t, "SMA_2", out["SMA_2"][4], 13.5, 1e-12)
	assertClose(t, "EMA_3", out["EMA_3"][2], 11, 1e-12)
}

func TestParseSpecs_Errors(t *testing.T) {
	for _, in := range []string{"SMA", "SMA:x", "SMA:-1", "VWAP:10"} {
		if _, err := ParseSpecs(in); !errors.Is(err, model.ErrInvalidParam) {
			t.Errorf("%q: want ErrInvalidParam, got %v", in, err)
		}
	}
}
