// Package pattern scans OHLC series for candlestick reversal patterns and
// swing points.
package pattern

import (
	"iter"

	"patternpilot/internal/model"
)

// minLookback is the number of prior bars a candidate bar needs. Bar i-2 is
// not read by the current rules.
const minLookback = 2

type rule struct {
	kind  model.PatternKind
	bias  model.Bias
	match func(cur, prev model.Bar) bool
	price func(b model.Bar) float64
}

func high(b model.Bar) float64 { return b.High }
func low(b model.Bar) float64  { return b.Low }

// rules are evaluated in order; the first match wins.
var rules = [...]rule{
	{model.Doji, model.Neutral, isDoji, high},
	{model.Hammer, model.Bullish, isHammer, low},
	{model.ShootingStar, model.Bearish, isShootingStar, high},
	{model.BullishEngulfing, model.Bullish, isBullishEngulfing, low},
	{model.BearishEngulfing, model.Bearish, isBearishEngulfing, high},
}

func isDoji(cur, _ model.Bar) bool {
	r := cur.Range()
	return r > 0 && cur.Body()/r < 0.1
}

func isHammer(cur, _ model.Bar) bool {
	body := cur.Body()
	return body > 0 && cur.LowerShadow() > 2*body && cur.UpperShadow() < body
}

func isShootingStar(cur, _ model.Bar) bool {
	body := cur.Body()
	return body > 0 && cur.UpperShadow() > 2*body && cur.LowerShadow() < body
}

func isBullishEngulfing(cur, prev model.Bar) bool {
	return prev.Close < prev.Open && cur.Bullish() &&
		cur.Open < prev.Close && cur.Close > prev.Open &&
		cur.Body() > prev.Body()
}

func isBearishEngulfing(cur, prev model.Bar) bool {
	return prev.Bullish() && cur.Close < cur.Open &&
		cur.Open > prev.Close && cur.Close < prev.Open &&
		cur.Body() > prev.Body()
}

// Classify returns the first pattern bar i of s matches. Bars with fewer than
// two predecessors never match.
func Classify(s model.Series, i int) (model.PatternEvent, bool) {
	if i < minLookback || i >= len(s.Bars) {
		return model.PatternEvent{}, false
	}
	cur, prev := s.Bars[i], s.Bars[i-1]
	for _, r := range rules {
		if r.match(cur, prev) {
			return model.PatternEvent{
				TS:    cur.TS,
				Index: i,
				Price: r.price(cur),
				Kind:  r.kind,
				Bias:  r.bias,
			}, true
		}
	}
	return model.PatternEvent{}, false
}

// DetectPatterns lazily yields pattern events in bar order. The sequence can
// be ranged over any number of times; each pass is a single O(n) scan.
func DetectPatterns(s model.Series) iter.Seq[model.PatternEvent] {
	return func(yield func(model.PatternEvent) bool) {
		for i := minLookback; i < len(s.Bars); i++ {
			ev, ok := Classify(s, i)
			if !ok {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// CollectPatterns materializes DetectPatterns.
func CollectPatterns(s model.Series) []model.PatternEvent {
	var out []model.PatternEvent
	for ev := range DetectPatterns(s) {
		out = append(out, ev)
	}
	return out
}

// CountByKind tallies events per pattern kind.
func CountByKind(events []model.PatternEvent) map[model.PatternKind]int {
	out := make(map[model.PatternKind]int)
	for _, ev := range events {
		out[ev.Kind]++
	}
	return out
}
