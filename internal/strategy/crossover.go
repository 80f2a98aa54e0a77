package strategy

import (
	"log"
	"strconv"

	"patternpilot/internal/indicator"
	"patternpilot/internal/model"
)

// CrossoverConfig parameterizes a moving-average crossover.
type CrossoverConfig struct {
	Fast        int
	Slow        int
	Exponential bool

	// RSIFilter suppresses longs while RSI > 70 and shorts while RSI < 30.
	RSIFilter bool
	RSIPeriod int
}

// Crossover is long while the fast average is above the slow one and short
// while it is below.
type Crossover struct {
	cfg  CrossoverConfig
	name string
}

// NewCrossover validates cfg. Fast must be below Slow.
func NewCrossover(cfg CrossoverConfig) (*Crossover, error) {
	if cfg.Fast <= 0 || cfg.Slow <= 0 || cfg.Fast >= cfg.Slow {
		return nil, model.InvalidParam("periods", "need 0 < fast < slow")
	}
	if cfg.RSIFilter && cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	kind := "SMA"
	if cfg.Exponential {
		kind = "EMA"
	}
	name := kind + "_" + strconv.Itoa(cfg.Fast) + "_" + strconv.Itoa(cfg.Slow)
	if cfg.RSIFilter {
		name += "_RSI" + strconv.Itoa(cfg.RSIPeriod)
	}
	return &Crossover{cfg: cfg, name: name}, nil
}

func (c *Crossover) Name() string { return c.name }

func (c *Crossover) average(period int) indicator.Indicator {
	if c.cfg.Exponential {
		return indicator.NewEMA(period)
	}
	return indicator.NewSMA(period)
}

func (c *Crossover) Generate(s model.Series) []model.Signal {
	fast, slow := c.average(c.cfg.Fast), c.average(c.cfg.Slow)
	var rsi *indicator.RSI
	if c.cfg.RSIFilter {
		rsi = indicator.NewRSI(c.cfg.RSIPeriod)
	}

	out := undefinedSignals(len(s.Bars))
	filtered := 0
	for i, b := range s.Bars {
		fast.Update(b.Close)
		slow.Update(b.Close)
		if rsi != nil {
			rsi.Update(b.Close)
		}
		if !fast.Ready() || !slow.Ready() || (rsi != nil && !rsi.Ready()) {
			continue
		}

		var sig model.Signal
		switch f, sl := fast.Value(), slow.Value(); {
		case f > sl:
			sig = model.Buy
		case f < sl:
			sig = model.Sell
		}
		if rsi != nil {
			if (sig == model.Buy && rsi.Value() > 70) || (sig == model.Sell && rsi.Value() < 30) {
				sig = model.Hold
				filtered++
			}
		}
		out[i] = sig
	}
	if filtered > 0 {
		log.Printf("[strategy] %s %s: %d bars held flat by RSI filter", c.name, s.Symbol, filtered)
	}
	return out
}
