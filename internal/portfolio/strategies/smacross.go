// Package strategies holds example portfolio.Strategy implementations for
// cmd/backtest, grounded on the fast/slow SMA crossover sketched in
// original_source/backend/strategy/example/strategies/vectorized_sma.py.
// The strategy DSL/indicator library itself is out of scope; this is one
// concrete Strategy so the CLI has something runnable out of the box.
package strategies

import (
	"github.com/shopspring/decimal"

	"github.com/ndrandal/quantcell/internal/portfolio"
)

// SMACross buys when the fast simple moving average crosses above the
// slow one and sells on the reverse cross.
type SMACross struct {
	FastPeriod int
	SlowPeriod int

	closes []decimal.Decimal
	inPos  bool
}

// NewSMACross returns a StrategyFactory producing one fresh SMACross
// replica per instrument, as portfolio.Engine's signal pre-pass requires.
func NewSMACross(fast, slow int) portfolio.StrategyFactory {
	return func() portfolio.Strategy {
		return &SMACross{FastPeriod: fast, SlowPeriod: slow}
	}
}

func (s *SMACross) OnInit() {
	s.closes = nil
	s.inPos = false
}

func (s *SMACross) OnBar(bar portfolio.Bar) (*portfolio.Order, error) {
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) < s.SlowPeriod+1 {
		return nil, nil
	}

	fastPrev := sma(s.closes[:len(s.closes)-1], s.FastPeriod)
	slowPrev := sma(s.closes[:len(s.closes)-1], s.SlowPeriod)
	fastNow := sma(s.closes, s.FastPeriod)
	slowNow := sma(s.closes, s.SlowPeriod)

	crossedUp := fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow)
	crossedDown := fastPrev.GreaterThanOrEqual(slowPrev) && fastNow.LessThan(slowNow)

	switch {
	case crossedUp && !s.inPos:
		s.inPos = true
		return &portfolio.Order{Direction: portfolio.DirectionBuy}, nil
	case crossedDown && s.inPos:
		s.inPos = false
		return &portfolio.Order{Direction: portfolio.DirectionSell}, nil
	default:
		return nil, nil
	}
}

func (s *SMACross) OnStop(_ portfolio.Bar) {}

// sma is the simple mean of the last period values of xs.
func sma(xs []decimal.Decimal, period int) decimal.Decimal {
	window := xs[len(xs)-period:]
	sum := decimal.Zero
	for _, x := range window {
		sum = sum.Add(x)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}
