package rotation

import (
	"cmp"
	"slices"
	"time"

	"patternpilot/internal/model"
)

// Align inner-joins two series on timestamp and returns their closes.
func Align(stock, bench model.Series) (ts []time.Time, s, b []float64) {
	j := 0
	for _, sb := range stock.Bars {
		for j < len(bench.Bars) && bench.Bars[j].TS.Before(sb.TS) {
			j++
		}
		if j == len(bench.Bars) {
			break
		}
		if bench.Bars[j].TS.Equal(sb.TS) {
			ts = append(ts, sb.TS)
			s = append(s, sb.Close)
			b = append(b, bench.Bars[j].Close)
		}
	}
	return ts, s, b
}

// Weekly resamples daily bars into calendar weeks ending Sunday. Each week
// keeps the first open, max high, min low, last close, summed volume and the
// timestamp of its last bar.
func Weekly(s model.Series) model.Series {
	out := model.Series{Symbol: s.Symbol}
	var cur model.Bar
	var curKey time.Time
	for i, b := range s.Bars {
		key := weekEnd(b.TS)
		if i == 0 || !key.Equal(curKey) {
			if i > 0 {
				out.Bars = append(out.Bars, cur)
			}
			cur, curKey = b, key
			continue
		}
		cur.High = max(cur.High, b.High)
		cur.Low = min(cur.Low, b.Low)
		cur.Close = b.Close
		cur.Volume += b.Volume
		cur.TS = b.TS
	}
	if len(s.Bars) > 0 {
		out.Bars = append(out.Bars, cur)
	}
	return out
}

func weekEnd(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, (7-int(day.Weekday()))%7)
}

// History aligns stock with bench and returns the defined rotation points in
// time order.
func History(stock, bench model.Series, window int) ([]model.RotationPoint, error) {
	ts, s, b := Align(stock, bench)
	ratio, err := RSRatio(s, b, window)
	if err != nil {
		return nil, err
	}
	mom, err := RSMomentum(ratio, window)
	if err != nil {
		return nil, err
	}
	var out []model.RotationPoint
	for i := range ts {
		if model.IsUndefined(ratio[i]) || model.IsUndefined(mom[i]) {
			continue
		}
		out = append(out, model.RotationPoint{TS: ts[i], RSRatio: ratio[i], RSMomentum: mom[i]})
	}
	return out, nil
}

// Entry is one symbol's current rotation state with its recent trail.
type Entry struct {
	Symbol   string                `json:"symbol"`
	Latest   model.RotationPoint   `json:"latest"`
	Quadrant model.Quadrant        `json:"quadrant"`
	Trail    []model.RotationPoint `json:"trail"`
}

// Board is a rotation snapshot for a set of members against one benchmark.
type Board struct {
	Benchmark string            `json:"benchmark"`
	Window    int               `json:"window"`
	Entries   []Entry           `json:"entries"`
	Skipped   map[string]string `json:"skipped,omitempty"`
}

// Snapshot computes the rotation board. A member needs more than 2*window
// aligned points and at least one defined point; otherwise it is recorded in
// Skipped with the reason. Entries are ordered by RS-Ratio descending, then
// symbol. trail bounds the number of trailing points kept per entry.
func Snapshot(bench model.Series, members []model.Series, window, trail int) (Board, error) {
	if window < 1 {
		return Board{}, model.InvalidParam("window", "must be at least 1")
	}
	if trail < 1 {
		trail = 1
	}
	board := Board{Benchmark: bench.Symbol, Window: window}
	for _, m := range members {
		ts, _, _ := Align(m, bench)
		if len(ts) <= 2*window {
			board.skip(m.Symbol, (&model.InsufficientDataError{Op: "rotation", Need: 2*window + 1, Have: len(ts)}).Error())
			continue
		}
		hist, err := History(m, bench, window)
		if err != nil {
			board.skip(m.Symbol, err.Error())
			continue
		}
		if len(hist) == 0 {
			board.skip(m.Symbol, "no defined rotation points")
			continue
		}
		last := hist[len(hist)-1]
		board.Entries = append(board.Entries, Entry{
			Symbol:   m.Symbol,
			Latest:   last,
			Quadrant: QuadrantOf(last.RSRatio, last.RSMomentum),
			Trail:    hist[max(0, len(hist)-trail):],
		})
	}
	slices.SortFunc(board.Entries, func(a, b Entry) int {
		if c := cmp.Compare(b.Latest.RSRatio, a.Latest.RSRatio); c != 0 {
			return c
		}
		return cmp.Compare(a.Symbol, b.Symbol)
	})
	return board, nil
}

func (b *Board) skip(symbol, reason string) {
	if b.Skipped == nil {
		b.Skipped = make(map[string]string)
	}
	b.Skipped[symbol] = reason
}

// Quadrants maps each entry's symbol to its quadrant.
func (b Board) Quadrants() map[string]model.Quadrant {
	out := make(map[string]model.Quadrant, len(b.Entries))
	for _, e := range b.Entries {
		out[e.Symbol] = e.Quadrant
	}
	return out
}
