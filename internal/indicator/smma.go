package indicator

import "strconv"

// SMMA is Wilder's smoothed moving average: SMA seed, then
// (prev*(period-1) + price) / period.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

func (s *SMMA) Name() string { return "SMMA_" + strconv.Itoa(s.period) }

func (s *SMMA) Update(price float64) {
	s.count++
	if s.count <= s.period {
		s.sum += price
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}
	s.current = s.smooth(price)
}

func (s *SMMA) smooth(price float64) float64 {
	return (s.current*float64(s.period-1) + price) / float64(s.period)
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }

func (s *SMMA) Peek(price float64) float64 {
	if s.count < s.period {
		return (s.sum + price) / float64(s.count+1)
	}
	return s.smooth(price)
}

func (s *SMMA) Reset() {
	s.count = 0
	s.sum, s.current = 0, 0
}
