package workbench

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"patternpilot/internal/logger"
	"patternpilot/internal/markethours"
	"patternpilot/internal/model"
	"patternpilot/internal/notification"
	"patternpilot/internal/provider"
	"patternpilot/internal/rotation"
	"patternpilot/internal/store/bundle"
)

// RotationRequest overrides the configured rotation defaults. Zero fields
// keep the defaults.
type RotationRequest struct {
	Benchmark    string   `json:"benchmark"`
	Members      []string `json:"members"`
	Window       int      `json:"window"`
	Trail        int      `json:"trail"`
	LookbackDays int      `json:"lookback_days"`
	Weekly       *bool    `json:"weekly,omitempty"`
}

func (s *Service) rotationOptions(req RotationRequest) RotationOptions {
	o := s.opts.Rotation
	if req.Benchmark != "" {
		o.Benchmark = req.Benchmark
	}
	if len(req.Members) > 0 {
		o.Members = req.Members
	}
	if req.Window > 0 {
		o.Window = req.Window
	}
	if req.Trail > 0 {
		o.Trail = req.Trail
	}
	if req.LookbackDays > 0 {
		o.LookbackDays = req.LookbackDays
	}
	if req.Weekly != nil {
		o.Weekly = *req.Weekly
	}
	if len(o.Members) == 0 {
		o.Members = bundle.SectorSymbols()
	}
	o.Benchmark = provider.NormalizeSymbol(o.Benchmark)
	members := make([]string, 0, len(o.Members))
	for _, m := range o.Members {
		if m = provider.NormalizeSymbol(m); m != "" {
			members = append(members, m)
		}
	}
	o.Members = members
	return o
}

// Rotation fetches the benchmark and members and computes a board. Members
// that fail to download are reported in Skipped; a failed benchmark fails
// the whole board.
func (s *Service) Rotation(ctx context.Context, req RotationRequest) (board rotation.Board, err error) {
	defer s.observe("rotation", time.Now(), &err)
	o := s.rotationOptions(req)
	end := s.now()
	start := end.AddDate(0, 0, -o.LookbackDays)

	symbols := append([]string{o.Benchmark}, o.Members...)
	fetched, failed := s.fetchAll(ctx, symbols, start, end)
	bench, ok := fetched[o.Benchmark]
	if !ok {
		return rotation.Board{}, fmt.Errorf("rotation: benchmark %s: %s", o.Benchmark, failed[o.Benchmark])
	}
	if o.Weekly {
		bench = rotation.Weekly(bench)
	}
	members := make([]model.Series, 0, len(o.Members))
	for _, sym := range o.Members {
		ser, ok := fetched[sym]
		if !ok || sym == o.Benchmark {
			continue
		}
		if o.Weekly {
			ser = rotation.Weekly(ser)
		}
		members = append(members, ser)
	}

	board, err = rotation.Snapshot(bench, members, o.Window, o.Trail)
	if err != nil {
		return rotation.Board{}, err
	}
	for sym, reason := range failed {
		if sym == o.Benchmark {
			continue
		}
		if board.Skipped == nil {
			board.Skipped = map[string]string{}
		}
		board.Skipped[sym] = reason
	}
	return board, nil
}

// QuadrantChange is one member moving between quadrants across refreshes.
type QuadrantChange struct {
	Symbol string              `json:"symbol"`
	From   model.Quadrant      `json:"from"`
	To     model.Quadrant      `json:"to"`
	Point  model.RotationPoint `json:"point"`
}

// Diff lists members present in both boards whose quadrant changed, in
// symbol order.
func Diff(prev, next rotation.Board) []QuadrantChange {
	before := prev.Quadrants()
	var out []QuadrantChange
	for _, e := range next.Entries {
		from, ok := before[e.Symbol]
		if !ok || from == e.Quadrant {
			continue
		}
		out = append(out, QuadrantChange{Symbol: e.Symbol, From: from, To: e.Quadrant, Point: e.Latest})
	}
	slices.SortFunc(out, func(a, b QuadrantChange) int { return cmp.Compare(a.Symbol, b.Symbol) })
	return out
}

// RefreshRotation recomputes the default board, alerts on quadrant changes
// since the previous refresh and pushes the board to subscribers. With
// tradingDaysOnly set, calls on NYSE holidays and weekends do nothing.
func (s *Service) RefreshRotation(ctx context.Context, tradingDaysOnly bool) ([]QuadrantChange, error) {
	now := s.now()
	if tradingDaysOnly && !markethours.IsTradingDay(now) {
		s.log.Info("rotation refresh skipped", "reason", "market holiday or weekend", "status", markethours.StatusString(now))
		return nil, nil
	}
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("rotation", now))

	board, err := s.Rotation(ctx, RotationRequest{})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := s.board
	s.board = &board
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	var changes []QuadrantChange
	if prev != nil {
		changes = Diff(*prev, board)
	}
	var alertErrs []error
	for _, c := range changes {
		if s.deps.Metrics != nil {
			s.deps.Metrics.QuadrantChanges.WithLabelValues(c.To.String()).Inc()
		}
		alert := notification.QuadrantAlert(c.Symbol, c.From, c.To, c.Point)
		if err := s.deps.Notifier.Send(ctx, alert); err != nil {
			alertErrs = append(alertErrs, err)
		}
	}
	if s.deps.Health != nil {
		s.deps.Health.SetLastRefresh(now)
	}
	for _, fn := range listeners {
		fn(board)
	}
	s.log.Info("rotation refreshed", append(logger.LogWithTrace(ctx),
		"entries", len(board.Entries), "skipped", len(board.Skipped), "changes", len(changes))...)

	if err := errors.Join(alertErrs...); err != nil {
		s.log.Warn("quadrant alerts failed", "error", err)
	}
	return changes, nil
}

// LatestBoard returns the board of the last refresh.
func (s *Service) LatestBoard() (rotation.Board, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.board == nil {
		return rotation.Board{}, false
	}
	return *s.board, true
}

// OnBoard registers fn to receive every refreshed board. fn runs on the
// refreshing goroutine and must not block.
func (s *Service) OnBoard(fn func(rotation.Board)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// RotationSummary groups the latest board's symbols by quadrant.
func (s *Service) RotationSummary() (map[model.Quadrant][]string, bool) {
	b, ok := s.LatestBoard()
	if !ok {
		return nil, false
	}
	out := make(map[model.Quadrant][]string, 4)
	q := b.Quadrants()
	for _, sym := range slices.Sorted(maps.Keys(q)) {
		out[q[sym]] = append(out[q[sym]], sym)
	}
	return out, true
}
