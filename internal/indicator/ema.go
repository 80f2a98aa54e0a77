package indicator

import "strconv"

// EMA is an exponential moving average seeded with the SMA of the first
// period prices.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA with the given period.
func NewEMA(period int) *EMA {
	return &EMA{period: period, multiplier: 2.0 / float64(period+1)}
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMA) Update(price float64) {
	e.count++
	if e.count <= e.period {
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = price*e.multiplier + e.current*(1-e.multiplier)
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// Peek returns price itself while warming up.
func (e *EMA) Peek(price float64) float64 {
	if e.count < e.period {
		return price
	}
	return price*e.multiplier + e.current*(1-e.multiplier)
}

func (e *EMA) Reset() {
	e.current, e.sum = 0, 0
	e.count = 0
}
