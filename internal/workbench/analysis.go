package workbench

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"patternpilot/internal/backtest"
	"patternpilot/internal/ensemble"
	"patternpilot/internal/features"
	"patternpilot/internal/fibonacci"
	"patternpilot/internal/indicator"
	"patternpilot/internal/model"
	"patternpilot/internal/pattern"
	"patternpilot/internal/series"
	"patternpilot/internal/strategy"
)

// PatternReport is the candlestick scan of one series.
type PatternReport struct {
	Symbol string                    `json:"symbol"`
	Bars   int                       `json:"bars"`
	Events []model.PatternEvent      `json:"events"`
	Counts map[model.PatternKind]int `json:"counts"`
}

// Patterns scans src for candlestick patterns.
func (s *Service) Patterns(ctx context.Context, src Source) (rep PatternReport, err error) {
	defer s.observe("patterns", time.Now(), &err)
	ser, err := s.Series(ctx, src)
	if err != nil {
		return PatternReport{}, err
	}
	events := pattern.CollectPatterns(ser)
	return PatternReport{Symbol: ser.Symbol, Bars: ser.Len(), Events: events, Counts: pattern.CountByKind(events)}, nil
}

// SwingReport lists confirmed swing points and the recent swing range.
type SwingReport struct {
	Symbol string              `json:"symbol"`
	Window int                 `json:"window"`
	Highs  []model.SwingPoint  `json:"highs"`
	Lows   []model.SwingPoint  `json:"lows"`
	Range  *pattern.SwingRange `json:"range,omitempty"`
}

// Swings detects swing points with window and the range over lookback bars.
// A zero window uses pattern.SwingWindow.
func (s *Service) Swings(ctx context.Context, src Source, window, lookback int) (rep SwingReport, err error) {
	defer s.observe("swings", time.Now(), &err)
	if window == 0 {
		window = pattern.SwingWindow
	}
	ser, err := s.Series(ctx, src)
	if err != nil {
		return SwingReport{}, err
	}
	highs, lows, err := pattern.DetectSwingPoints(ser, window)
	if err != nil {
		return SwingReport{}, err
	}
	rep = SwingReport{Symbol: ser.Symbol, Window: window, Highs: highs, Lows: lows}
	if lookback > 0 {
		rng, err := pattern.FindRecentSwingRange(ser, lookback)
		if err != nil {
			return SwingReport{}, err
		}
		rep.Range = &rng
	}
	return rep, nil
}

// FibRequest selects manual or automatic anchors. When High and Low are both
// zero the anchors come from the recent swing range over Lookback bars.
type FibRequest struct {
	Source
	Direction string    `json:"direction"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	HighTS    time.Time `json:"high_ts"`
	LowTS     time.Time `json:"low_ts"`
	Lookback  int       `json:"lookback"`
	Snap      bool      `json:"snap"`
}

// FibReport is a level set plus where its anchors came from.
type FibReport struct {
	Symbol    string              `json:"symbol"`
	Direction string              `json:"direction"`
	Auto      bool                `json:"auto"`
	Levels    fibonacci.LevelSet  `json:"levels"`
	Swing     *fibonacci.SwingSet `json:"swing,omitempty"`
}

// Fibonacci draws retracement or extension levels.
func (s *Service) Fibonacci(ctx context.Context, req FibRequest) (rep FibReport, err error) {
	defer s.observe("fibonacci", time.Now(), &err)
	dir, err := fibonacci.ParseDirection(req.Direction)
	if err != nil {
		return FibReport{}, err
	}
	ser, err := s.Series(ctx, req.Source)
	if err != nil {
		return FibReport{}, err
	}
	rep = FibReport{Symbol: ser.Symbol, Direction: dir.String()}

	if req.High == 0 && req.Low == 0 {
		lookback := req.Lookback
		if lookback <= 0 {
			lookback = 50
		}
		sw, err := fibonacci.SwingLevels(ser, lookback, dir)
		if err != nil {
			return FibReport{}, err
		}
		rep.Auto, rep.Swing, rep.Levels = true, &sw, sw.LevelSet
		return rep, nil
	}

	high := fibonacci.SnapToOHLC(ser, req.HighTS, req.High, req.Snap)
	low := fibonacci.SnapToOHLC(ser, req.LowTS, req.Low, req.Snap)
	if high < low {
		return FibReport{}, &model.ValidationError{Series: ser.Symbol, Field: "high/low", Reason: "high below low", Err: model.ErrInvalidRange}
	}
	rep.Levels, err = fibonacci.Levels(high, low, dir)
	return rep, err
}

// StatsReport summarises returns and risk for one series.
type StatsReport struct {
	Symbol      string    `json:"symbol"`
	Bars        int       `json:"bars"`
	TotalReturn float64   `json:"total_return"`
	Volatility  float64   `json:"volatility"`
	Sharpe      float64   `json:"sharpe"`
	MaxDrawdown float64   `json:"max_drawdown"`
	RollingVol  []float64 `json:"rolling_volatility"`
}

// Stats computes annualized volatility, Sharpe and max drawdown of closes.
// window is the rolling volatility window (default 20).
func (s *Service) Stats(ctx context.Context, src Source, window int) (rep StatsReport, err error) {
	defer s.observe("stats", time.Now(), &err)
	if window <= 0 {
		window = 20
	}
	ser, err := s.Series(ctx, src)
	if err != nil {
		return StatsReport{}, err
	}
	if ser.Len() < 2 {
		return StatsReport{}, &model.InsufficientDataError{Op: "stats", Need: 2, Have: ser.Len()}
	}
	closes := ser.Closes()
	rets := series.PctChange(closes)
	rolling := series.Volatility(closes, window, true)
	rep = StatsReport{
		Symbol:      ser.Symbol,
		Bars:        ser.Len(),
		TotalReturn: (closes[len(closes)-1]/closes[0] - 1) * 100,
		Volatility:  series.SampleStd(series.Defined(rets)) * math.Sqrt(series.TradingDays),
		Sharpe:      series.SharpeRatio(rets, s.opts.Backtest.RiskFreeRate),
		MaxDrawdown: series.MaxDrawdown(closes),
		RollingVol:  rolling,
	}
	return rep, nil
}

// IndicatorReport holds chart overlays aligned with the bars of a series.
type IndicatorReport struct {
	Symbol     string               `json:"symbol"`
	Timestamps []time.Time          `json:"timestamps"`
	Values     map[string][]float64 `json:"values"`
}

// Indicators computes overlays such as "SMA:20,EMA:9,RSI:14" over the
// closes of src. An empty spec list means SMA:20,SMA:50.
func (s *Service) Indicators(ctx context.Context, src Source, specs string) (rep IndicatorReport, err error) {
	defer s.observe("indicators", time.Now(), &err)
	if specs == "" {
		specs = "SMA:20,SMA:50"
	}
	parsed, err := indicator.ParseSpecs(specs)
	if err != nil {
		return IndicatorReport{}, err
	}
	ser, err := s.Series(ctx, src)
	if err != nil {
		return IndicatorReport{}, err
	}
	values, err := indicator.Apply(ser, parsed)
	if err != nil {
		return IndicatorReport{}, err
	}
	return IndicatorReport{Symbol: ser.Symbol, Timestamps: ser.Timestamps(), Values: values}, nil
}

// Correlation correlates the closes of several datasets or symbols over
// their common timestamps.
func (s *Service) Correlation(ctx context.Context, sources []Source, method series.CorrelationMethod) (m series.Matrix, err error) {
	defer s.observe("correlation", time.Now(), &err)
	if len(sources) < 2 {
		return series.Matrix{}, model.InvalidParam("symbols", "need at least two series")
	}
	all := make([]model.Series, len(sources))
	for i, src := range sources {
		if all[i], err = s.Series(ctx, src); err != nil {
			return series.Matrix{}, fmt.Errorf("%s: %w", src.Symbol+src.Dataset, err)
		}
	}
	return series.CorrelationMatrix(alignCloses(all, method), method)
}

// alignCloses keys closes by timestamp and keeps the dates every series
// shares. For Returns the columns hold period returns.
func alignCloses(all []model.Series, method series.CorrelationMethod) map[string][]float64 {
	common := map[time.Time]int{}
	for _, ser := range all {
		for _, b := range ser.Bars {
			common[b.TS]++
		}
	}
	out := make(map[string][]float64, len(all))
	for _, ser := range all {
		col := make([]float64, 0, ser.Len())
		for _, b := range ser.Bars {
			if common[b.TS] == len(all) {
				col = append(col, b.Close)
			}
		}
		if method == series.Returns {
			col = series.PctChange(col)
		}
		out[ser.Symbol] = col
	}
	return out
}

// BacktestRequest names the data, the rule strategy spec and overrides of
// the default simulation parameters.
type BacktestRequest struct {
	Source
	Strategy string           `json:"strategy"`
	Config   *backtest.Config `json:"config,omitempty"`
	// Persist records the run summary in the run store.
	Persist bool `json:"persist"`
}

// BacktestReport is a backtest result with the stored run id.
type BacktestReport struct {
	RunID    string           `json:"run_id,omitempty"`
	Strategy string           `json:"strategy"`
	Result   *backtest.Result `json:"result"`
}

// Backtest runs a rule strategy over the requested series.
func (s *Service) Backtest(ctx context.Context, req BacktestRequest) (rep BacktestReport, err error) {
	defer s.observe("backtest", time.Now(), &err)
	gen, err := strategy.Parse(req.Strategy)
	if err != nil {
		return BacktestReport{}, err
	}
	cfg := s.opts.Backtest
	if req.Config != nil {
		cfg = *req.Config
	}
	ser, err := s.Series(ctx, req.Source)
	if err != nil {
		return BacktestReport{}, err
	}
	res, err := backtest.Run(ser, gen.Generate(ser), cfg)
	if err != nil {
		return BacktestReport{}, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.BacktestsTotal.WithLabelValues(gen.Name()).Inc()
	}
	rep = BacktestReport{Strategy: gen.Name(), Result: res}

	if req.Persist && s.deps.Runs != nil {
		name := req.Dataset
		if name == "" {
			name = ser.Symbol
		}
		run := model.BacktestRun{
			ID:              uuid.NewString(),
			Dataset:         name,
			Strategy:        gen.Name(),
			InitialCapital:  cfg.InitialCapital,
			Commission:      cfg.Commission,
			TotalReturn:     res.TotalReturn,
			BenchmarkReturn: res.BenchmarkReturn,
			Sharpe:          res.Sharpe,
			MaxDrawdown:     res.MaxDrawdown,
			WinRate:         res.WinRate,
			TradeCount:      res.TradeCount,
			CreatedAt:       s.now(),
		}
		if err := s.deps.Runs.SaveRun(ctx, run); err != nil {
			return BacktestReport{}, fmt.Errorf("save run: %w", err)
		}
		rep.RunID = run.ID
	}
	s.log.Info("backtest complete", "strategy", gen.Name(), "symbol", ser.Symbol,
		"total_return", res.TotalReturn, "sharpe", res.Sharpe)
	return rep, nil
}

// Runs lists stored backtest summaries, newest first.
func (s *Service) Runs(ctx context.Context, dataset string, limit int) ([]model.BacktestRun, error) {
	if s.deps.Runs == nil {
		return nil, nil
	}
	return s.deps.Runs.ListRuns(ctx, dataset, limit)
}

// PredictReport is the live ensemble reading, its held-out replay and the
// combined recommendation.
type PredictReport struct {
	Symbol         string                  `json:"symbol"`
	AsOf           time.Time               `json:"as_of"`
	Prediction     ensemble.Prediction     `json:"prediction"`
	WalkForward    *ensemble.Report        `json:"walk_forward,omitempty"`
	Recommendation ensemble.Recommendation `json:"recommendation"`
	BestModel      string                  `json:"best_model"`
}

// ErrNoModels is returned by Predict when no model set is loaded.
var ErrNoModels = fmt.Errorf("workbench: no model set loaded: %w", model.ErrNotFound)

// Predict builds features for src, predicts the last complete row and
// replays the bars after cutoff. A zero cutoff uses the last 20% of bars.
func (s *Service) Predict(ctx context.Context, src Source, cutoff time.Time) (rep PredictReport, err error) {
	defer s.observe("predict", time.Now(), &err)
	ms := s.deps.Models
	if ms == nil {
		return PredictReport{}, ErrNoModels
	}
	ens, err := ensemble.New(ms.Classifiers()...)
	if err != nil {
		return PredictReport{}, err
	}
	ser, err := s.Series(ctx, src)
	if err != nil {
		return PredictReport{}, err
	}
	all, err := features.Build(ser)
	if err != nil {
		return PredictReport{}, err
	}
	fm := all
	if len(ms.Features) > 0 {
		if fm, err = all.Select(ms.Features); err != nil {
			return PredictReport{}, err
		}
	}

	last := -1
	for i := fm.Len() - 1; i >= 0; i-- {
		if fm.Complete(i) {
			last = i
			break
		}
	}
	if last < 0 {
		return PredictReport{}, &model.InsufficientDataError{Op: "predict", Need: features.MinCleanRows, Have: 0}
	}
	pred, err := ens.Predict(fm.Rows[last])
	if err != nil {
		return PredictReport{}, err
	}
	rep = PredictReport{Symbol: ser.Symbol, AsOf: fm.TS[last], Prediction: pred, BestModel: ens.Best().Name()}

	if cutoff.IsZero() {
		cutoff = ser.Bars[ser.Len()*4/5].TS
	}
	cfg := s.opts.WalkForward
	cfg.Horizon = ms.Horizon
	wf, err := ensemble.WalkForward(ens, ser, fm.Rows, cutoff, cfg)
	switch {
	case err == nil:
		rep.WalkForward = wf
		rep.Recommendation = ensemble.Recommend(ens, pred, wf.Result)
	default:
		s.log.Warn("walk-forward skipped", "symbol", ser.Symbol, "error", err)
		rep.Recommendation = ensemble.Recommend(ens, pred, nil)
	}
	return rep, nil
}
