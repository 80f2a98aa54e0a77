package workbench

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"patternpilot/internal/backtest"
	"patternpilot/internal/ensemble"
	"patternpilot/internal/model"
	"patternpilot/internal/notification"
	"patternpilot/internal/provider"
	"patternpilot/internal/rotation"
	"patternpilot/internal/series"
)

// ────────────────────────────────────────────────────────────
// Fakes
// ────────────────────────────────────────────────────────────

type fakeProvider struct {
	mu    sync.Mutex
	data  map[string]model.Series
	calls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Fetch(_ context.Context, symbol string, start, end time.Time) (model.Series, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	s, ok := p.data[symbol]
	if !ok {
		return model.Series{}, provider.ErrNoData
	}
	return s.Between(start, end), nil
}

func (p *fakeProvider) set(s model.Series) {
	p.mu.Lock()
	p.data[s.Symbol] = s
	p.mu.Unlock()
}

type memStore struct {
	mu   sync.Mutex
	data map[string]model.Series
}

func newMemStore() *memStore { return &memStore{data: map[string]model.Series{}} }

func (m *memStore) Save(_ context.Context, name string, s model.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = s
	return nil
}

func (m *memStore) Load(_ context.Context, name string) (model.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[name]
	if !ok {
		return model.Series{}, model.ErrNotFound
	}
	return s, nil
}

func (m *memStore) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

func (m *memStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[name]; !ok {
		return model.ErrNotFound
	}
	delete(m.data, name)
	return nil
}

type memRuns struct{ runs []model.BacktestRun }

func (r *memRuns) SaveRun(_ context.Context, run model.BacktestRun) error {
	r.runs = append(r.runs, run)
	return nil
}

func (r *memRuns) ListRuns(context.Context, string, int) ([]model.BacktestRun, error) {
	return r.runs, nil
}

type recorder struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (r *recorder) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	return nil
}

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var day0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// curve builds n daily bars with closes f(i).
func curve(symbol string, n int, f func(i int) float64) model.Series {
	s := model.Series{Symbol: symbol, Bars: make([]model.Bar, n)}
	prev := f(0)
	for i := range s.Bars {
		c := f(i)
		s.Bars[i] = model.Bar{
			TS:     day0.AddDate(0, 0, i),
			Open:   prev,
			High:   math.Max(prev, c) + 0.5,
			Low:    math.Min(prev, c) - 0.5,
			Close:  c,
			Volume: 1000 + float64(i%5)*100,
		}
		prev = c
	}
	return s
}

func wave(symbol string, n int) model.Series {
	return curve(symbol, n, func(i int) float64 {
		return 100 + 0.05*float64(i) + 5*math.Sin(float64(i)/6)
	})
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

type fixture struct {
	svc      *Service
	prov     *fakeProvider
	datasets *memStore
	files    *memStore
	runs     *memRuns
	alerts   *recorder
}

func newFixture(t *testing.T, models *ensemble.ModelSet) fixture {
	t.Helper()
	f := fixture{
		prov:     &fakeProvider{data: map[string]model.Series{}},
		datasets: newMemStore(),
		files:    newMemStore(),
		runs:     &memRuns{},
		alerts:   &recorder{},
	}
	svc, err := New(Deps{
		Provider: f.prov,
		Datasets: f.datasets,
		Files:    f.files,
		Runs:     f.runs,
		Models:   models,
		Notifier: f.alerts,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{Rotation: RotationOptions{Benchmark: "BENCH", Members: []string{"AAA", "BBB"}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.now = func() time.Time { return day0.AddDate(0, 0, 299) }
	f.svc = svc
	return f
}

// ──── Construction and sources ────

func TestNew_RequiresProviderAndStore(t *testing.T) {
	if _, err := New(Deps{Datasets: newMemStore()}, Options{}); err == nil {
		t.Error("missing provider: expected error")
	}
	if _, err := New(Deps{Provider: &fakeProvider{}}, Options{}); err == nil {
		t.Error("missing dataset store: expected error")
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	f := newFixture(t, nil)
	o := f.svc.opts
	if o.Rotation.Window != rotation.DefaultWindow || o.Rotation.Trail != 5 || o.Rotation.LookbackDays != 365 {
		t.Errorf("rotation defaults = %+v", o.Rotation)
	}
	if o.Backtest != backtest.DefaultConfig() {
		t.Errorf("backtest defaults = %+v", o.Backtest)
	}
	if o.WalkForward.BuyAt != 0.55 || o.WalkForward.SellAt != 0.45 {
		t.Errorf("walk-forward thresholds = %v/%v", o.WalkForward.BuyAt, o.WalkForward.SellAt)
	}
}

func TestSeries_DatasetFallsBackToFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.files.Save(ctx, "only-parquet", wave("X", 30))

	s, err := f.svc.Series(ctx, Source{Dataset: "only-parquet"})
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if s.Len() != 30 {
		t.Errorf("bars = %d, want 30", s.Len())
	}

	if _, err := f.svc.Series(ctx, Source{Dataset: "missing"}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing dataset err = %v, want ErrNotFound", err)
	}
}

func TestSeries_DatasetRange(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.datasets.Save(ctx, "d", wave("X", 30))

	s, err := f.svc.Series(ctx, Source{Dataset: "d", Start: day0.AddDate(0, 0, 10), End: day0.AddDate(0, 0, 19)})
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if s.Len() != 10 {
		t.Errorf("bars = %d, want 10", s.Len())
	}
}

func TestSeries_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var ve *model.ValidationError
	if _, err := f.svc.Series(ctx, Source{}); !errors.As(err, &ve) {
		t.Errorf("empty source err = %v, want ValidationError", err)
	}
	if _, err := f.svc.Series(ctx, Source{Symbol: "bad symbol!"}); !errors.Is(err, provider.ErrInvalidSymbol) {
		t.Errorf("bad symbol err = %v, want ErrInvalidSymbol", err)
	}
	if f.prov.calls != 0 {
		t.Errorf("provider called %d times for rejected symbol", f.prov.calls)
	}
}

func TestInvalidateCache_WithoutCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if n, err := f.svc.InvalidateCache(ctx, "AAA"); n != 0 || err != nil {
		t.Errorf("InvalidateCache = %d, %v", n, err)
	}
	if _, err := f.svc.InvalidateCache(ctx, "not a symbol"); !errors.Is(err, provider.ErrInvalidSymbol) {
		t.Errorf("err = %v, want ErrInvalidSymbol", err)
	}
}

func TestImport_SavesBothStores(t *testing.T) {
	f := newFixture(t, nil)
	f.prov.set(wave("SPY", 40))
	ctx := context.Background()

	s, err := f.svc.Import(ctx, " spy ", "", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if s.Len() != 40 {
		t.Errorf("bars = %d", s.Len())
	}
	for label, st := range map[string]*memStore{"datasets": f.datasets, "files": f.files} {
		if _, err := st.Load(ctx, "SPY"); err != nil {
			t.Errorf("%s: %v", label, err)
		}
	}
	names, _ := f.svc.Datasets(ctx)
	if !slices.Equal(names, []string{"SPY"}) {
		t.Errorf("Datasets = %v", names)
	}
	if err := f.svc.DeleteDataset(ctx, "SPY"); err != nil {
		t.Errorf("DeleteDataset: %v", err)
	}
}

// ──── Analysis ────

func TestPatterns_CountsMatchEvents(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.datasets.Save(context.Background(), "w", wave("W", 120))

	rep, err := f.svc.Patterns(context.Background(), Source{Dataset: "w"})
	if err != nil {
		t.Fatalf("Patterns: %v", err)
	}
	total := 0
	for _, n := range rep.Counts {
		total += n
	}
	if total != len(rep.Events) {
		t.Errorf("counts sum %d, events %d", total, len(rep.Events))
	}
	if rep.Bars != 120 {
		t.Errorf("bars = %d", rep.Bars)
	}
}

func TestSwings_WithRange(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.datasets.Save(context.Background(), "w", wave("W", 120))

	rep, err := f.svc.Swings(context.Background(), Source{Dataset: "w"}, 0, 50)
	if err != nil {
		t.Fatalf("Swings: %v", err)
	}
	if rep.Window != 3 {
		t.Errorf("window = %d, want default 3", rep.Window)
	}
	if len(rep.Highs) == 0 || len(rep.Lows) == 0 {
		t.Errorf("expected swing points on a sine wave, got %d highs %d lows", len(rep.Highs), len(rep.Lows))
	}
	if rep.Range == nil || rep.Range.High.Price < rep.Range.Low.Price {
		t.Errorf("range = %+v", rep.Range)
	}
}

func TestFibonacci_ManualAndAuto(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.datasets.Save(ctx, "w", wave("W", 120))

	rep, err := f.svc.Fibonacci(ctx, FibRequest{Source: Source{Dataset: "w"}, Direction: "retracement", High: 110, Low: 90})
	if err != nil {
		t.Fatalf("manual: %v", err)
	}
	if rep.Auto {
		t.Error("manual request reported auto")
	}
	mid, _ := rep.Levels.Price(0.5)
	assertClose(t, "manual 0.5", mid, 100, 1e-12)

	rep, err = f.svc.Fibonacci(ctx, FibRequest{Source: Source{Dataset: "w"}, Direction: "extension", Lookback: 60})
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	if !rep.Auto || rep.Swing == nil {
		t.Fatalf("auto request = %+v", rep)
	}
	if len(rep.Levels.Levels) != 11 {
		t.Errorf("extension levels = %d, want 11", len(rep.Levels.Levels))
	}

	var ve *model.ValidationError
	if _, err := f.svc.Fibonacci(ctx, FibRequest{Source: Source{Dataset: "w"}, High: 90, Low: 110}); !errors.As(err, &ve) {
		t.Errorf("inverted anchors err = %v", err)
	}
}

func TestFibonacci_SnapMovesToBar(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := wave("W", 60)
	_ = f.datasets.Save(ctx, "w", s)

	b := s.Bars[20]
	rep, err := f.svc.Fibonacci(ctx, FibRequest{
		Source: Source{Dataset: "w"},
		High:   b.High + 0.01, HighTS: b.TS,
		Low: 50, LowTS: s.Bars[0].TS,
		Snap: true,
	})
	if err != nil {
		t.Fatalf("Fibonacci: %v", err)
	}
	assertClose(t, "snapped high", rep.Levels.High, b.High, 1e-12)
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := curve("UP", 50, func(i int) float64 { return 100 * math.Pow(1.01, float64(i)) })
	_ = f.datasets.Save(ctx, "up", s)

	rep, err := f.svc.Stats(ctx, Source{Dataset: "up"}, 10)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	assertClose(t, "total return", rep.TotalReturn, (math.Pow(1.01, 49)-1)*100, 1e-9)
	assertClose(t, "max drawdown", rep.MaxDrawdown, 0, 0)
	assertClose(t, "volatility", rep.Volatility, 0, 1e-9)
	if len(rep.RollingVol) != 50 {
		t.Errorf("rolling vol length = %d", len(rep.RollingVol))
	}

	_ = f.datasets.Save(ctx, "one", curve("ONE", 1, func(int) float64 { return 1 }))
	var ie *model.InsufficientDataError
	if _, err := f.svc.Stats(ctx, Source{Dataset: "one"}, 10); !errors.As(err, &ie) {
		t.Errorf("single bar err = %v", err)
	}
}

func TestIndicators(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.datasets.Save(ctx, "lin", curve("LIN", 30, func(i int) float64 { return float64(i + 1) }))

	rep, err := f.svc.Indicators(ctx, Source{Dataset: "lin"}, "sma:3, EMA:5")
	if err != nil {
		t.Fatalf("Indicators: %v", err)
	}
	sma := rep.Values["SMA_3"]
	if len(sma) != 30 || len(rep.Timestamps) != 30 {
		t.Fatalf("lengths = %d, %d", len(sma), len(rep.Timestamps))
	}
	if !model.IsUndefined(sma[1]) {
		t.Errorf("SMA_3[1] = %v, want undefined", sma[1])
	}
	assertClose(t, "SMA_3[2]", sma[2], 2, 1e-12)
	assertClose(t, "SMA_3[29]", sma[29], 29, 1e-12)
	if _, ok := rep.Values["EMA_5"]; !ok {
		t.Errorf("missing EMA_5, got %v", rep.Values)
	}

	var ve *model.ValidationError
	if _, err := f.svc.Indicators(ctx, Source{Dataset: "lin"}, "SMA"); !errors.As(err, &ve) {
		t.Errorf("malformed spec err = %v", err)
	}
}

func TestCorrelation_AlignsOnCommonDates(t *testing.T) {
	f := newFixture(t, nil)
	a := curve("A", 40, func(i int) float64 { return 100 + float64(i%7) })
	b := curve("B", 40, func(i int) float64 { return 50 + 2*float64(i%7) })
	b.Bars = b.Bars[5:] // B starts later
	f.prov.set(a)
	f.prov.set(b)

	m, err := f.svc.Correlation(context.Background(), []Source{{Symbol: "A"}, {Symbol: "B"}}, series.Prices)
	if err != nil {
		t.Fatalf("Correlation: %v", err)
	}
	assertClose(t, "corr(A,B)", m.At("A", "B"), 1, 1e-9)

	if _, err := f.svc.Correlation(context.Background(), []Source{{Symbol: "A"}}, series.Returns); err == nil {
		t.Error("single source: expected error")
	}
}

func TestBacktest_PersistsRun(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.datasets.Save(ctx, "w", wave("W", 200))

	rep, err := f.svc.Backtest(ctx, BacktestRequest{Source: Source{Dataset: "w"}, Strategy: "sma:10:30", Persist: true})
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}
	if rep.RunID == "" || len(f.runs.runs) != 1 {
		t.Fatalf("run not persisted: id=%q runs=%d", rep.RunID, len(f.runs.runs))
	}
	run := f.runs.runs[0]
	if run.Dataset != "w" || run.Strategy != rep.Strategy || run.ID != rep.RunID {
		t.Errorf("run = %+v", run)
	}
	assertClose(t, "stored total return", run.TotalReturn, rep.Result.TotalReturn, 0)

	if _, err := f.svc.Backtest(ctx, BacktestRequest{Source: Source{Dataset: "w"}, Strategy: "nope"}); err == nil {
		t.Error("unknown strategy: expected error")
	}
}

// ──── Rotation ────

// relative returns a member whose ratio to bench grows (sign > 0) or
// shrinks (sign < 0) at an accelerating rate.
func relative(symbol string, bench model.Series, sign float64) model.Series {
	s := model.Series{Symbol: symbol, Bars: make([]model.Bar, len(bench.Bars))}
	for i, b := range bench.Bars {
		k := math.Exp(sign * 0.00005 * float64(i*i))
		s.Bars[i] = model.Bar{TS: b.TS, Open: b.Open * k, High: b.High * k, Low: b.Low * k, Close: b.Close * k}
	}
	return s
}

func TestRotation_SkipsFailedMembers(t *testing.T) {
	f := newFixture(t, nil)
	bench := wave("BENCH", 300)
	f.prov.set(bench)
	f.prov.set(relative("AAA", bench, 1))

	board, err := f.svc.Rotation(context.Background(), RotationRequest{})
	if err != nil {
		t.Fatalf("Rotation: %v", err)
	}
	if len(board.Entries) != 1 || board.Entries[0].Symbol != "AAA" {
		t.Fatalf("entries = %+v", board.Entries)
	}
	if _, ok := board.Skipped["BBB"]; !ok {
		t.Errorf("BBB not skipped: %v", board.Skipped)
	}
	if board.Entries[0].Quadrant != model.Leading {
		t.Errorf("AAA quadrant = %v, want Leading", board.Entries[0].Quadrant)
	}
	if len(board.Entries[0].Trail) != 5 {
		t.Errorf("trail = %d, want 5", len(board.Entries[0].Trail))
	}
}

func TestRotation_NormalizesRequestSymbols(t *testing.T) {
	f := newFixture(t, nil)
	bench := wave("BENCH", 300)
	f.prov.set(bench)
	f.prov.set(relative("AAA", bench, 1))

	board, err := f.svc.Rotation(context.Background(), RotationRequest{Benchmark: " bench", Members: []string{"aaa ", ""}})
	if err != nil {
		t.Fatalf("Rotation: %v", err)
	}
	if board.Benchmark != "BENCH" {
		t.Errorf("benchmark = %q, want BENCH", board.Benchmark)
	}
	if len(board.Entries) != 1 || board.Entries[0].Symbol != "AAA" {
		t.Fatalf("entries = %+v", board.Entries)
	}
	if len(board.Skipped) != 0 {
		t.Errorf("skipped = %v, want none", board.Skipped)
	}
}

func TestRotation_MissingBenchmark(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Rotation(context.Background(), RotationRequest{}); err == nil {
		t.Error("expected error without benchmark data")
	}
}

func TestRefreshRotation_AlertsOnQuadrantChange(t *testing.T) {
	f := newFixture(t, nil)
	bench := wave("BENCH", 300)
	f.prov.set(bench)
	f.prov.set(relative("AAA", bench, 1))
	f.prov.set(relative("BBB", bench, -1))

	var boards []rotation.Board
	f.svc.OnBoard(func(b rotation.Board) { boards = append(boards, b) })
	ctx := context.Background()

	changes, err := f.svc.RefreshRotation(ctx, false)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("first refresh changes = %v", changes)
	}

	f.prov.set(relative("AAA", bench, -1))
	changes, err = f.svc.RefreshRotation(ctx, false)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %+v, want one", changes)
	}
	c := changes[0]
	if c.Symbol != "AAA" || c.From != model.Leading || c.To != model.Lagging {
		t.Errorf("change = %+v", c)
	}
	if len(f.alerts.alerts) != 1 || f.alerts.alerts[0].Symbol != "AAA" {
		t.Errorf("alerts = %+v", f.alerts.alerts)
	}
	if len(boards) != 2 {
		t.Errorf("listener saw %d boards, want 2", len(boards))
	}

	sum, ok := f.svc.RotationSummary()
	if !ok || !slices.Equal(sum[model.Lagging], []string{"AAA", "BBB"}) {
		t.Errorf("summary = %v", sum)
	}
}

func TestRefreshRotation_SkipsNonTradingDay(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.now = func() time.Time { return time.Date(2025, 12, 25, 18, 0, 0, 0, time.UTC) }

	changes, err := f.svc.RefreshRotation(context.Background(), true)
	if err != nil || changes != nil {
		t.Errorf("holiday refresh = %v, %v", changes, err)
	}
	if f.prov.calls != 0 {
		t.Errorf("provider called on a holiday")
	}
	if _, ok := f.svc.LatestBoard(); ok {
		t.Error("board stored on a holiday")
	}
}

func TestDiff_IgnoresNewSymbols(t *testing.T) {
	prev := rotation.Board{Entries: []rotation.Entry{{Symbol: "A", Quadrant: model.Leading}}}
	next := rotation.Board{Entries: []rotation.Entry{
		{Symbol: "A", Quadrant: model.Weakening},
		{Symbol: "B", Quadrant: model.Lagging},
	}}
	got := Diff(prev, next)
	if len(got) != 1 || got[0].Symbol != "A" || got[0].To != model.Weakening {
		t.Errorf("Diff = %+v", got)
	}
}

// ──── Prediction ────

func TestPredict(t *testing.T) {
	ms := &ensemble.ModelSet{
		Symbol:   "W",
		Features: []string{"return_1d", "rsi_14"},
		Horizon:  1,
		Models:   []ensemble.Logistic{{ModelName: "lr", Coef: []float64{0, 0}, Intercept: 1, CV: 0.6}},
	}
	f := newFixture(t, ms)
	ctx := context.Background()
	_ = f.datasets.Save(ctx, "w", wave("W", 300))

	rep, err := f.svc.Predict(ctx, Source{Dataset: "w"}, time.Time{})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	assertClose(t, "prob up", rep.Prediction.ProbUp, 1/(1+math.Exp(-1)), 1e-12)
	if !rep.AsOf.Equal(day0.AddDate(0, 0, 299)) {
		t.Errorf("as of = %v", rep.AsOf)
	}
	if rep.WalkForward == nil {
		t.Fatal("walk-forward missing")
	}
	if len(rep.WalkForward.Bars) != 58 {
		t.Errorf("held-out bars = %d, want 58", len(rep.WalkForward.Bars))
	}
	for _, b := range rep.WalkForward.Bars {
		if b.Signal != model.Buy {
			t.Fatalf("bar %v signal = %v, want BUY", b.TS, b.Signal)
		}
	}
	if rep.BestModel != "lr" || len(rep.Recommendation.Reasons) == 0 {
		t.Errorf("recommendation = %+v best=%q", rep.Recommendation, rep.BestModel)
	}
}

func TestPredict_NoModels(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Predict(context.Background(), Source{Dataset: "w"}, time.Time{}); !errors.Is(err, ErrNoModels) {
		t.Errorf("err = %v, want ErrNoModels", err)
	}
}
