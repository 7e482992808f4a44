package portfolio

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// scriptedStrategy returns a fixed Order (or nil) at each bar index in
// order, returning nil once exhausted.
type scriptedStrategy struct {
	orders []*Order
	idx    int
}

func (s *scriptedStrategy) OnInit() {}

func (s *scriptedStrategy) OnBar(bar Bar) (*Order, error) {
	if s.idx >= len(s.orders) {
		return nil, nil
	}
	o := s.orders[s.idx]
	s.idx++
	return o, nil
}

func (s *scriptedStrategy) OnStop(lastBar Bar) {}

func bar(t time.Time, close float64) Bar {
	c := decimal.NewFromFloat(close)
	return Bar{Time: t, Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(1)}
}

func dayN(n int) time.Time {
	return time.Date(2026, 1, 1+n, 0, 0, 0, 0, time.UTC)
}

func buy() *Order  { return &Order{Direction: DirectionBuy} }
func sell() *Order { return &Order{Direction: DirectionSell} }

// TestSharedCashPoolAcrossInstruments verifies that an entry on one
// instrument consumes cash that is then unavailable to a simultaneous
// entry on another instrument, since both draw from one PortfolioState.Cash.
func TestSharedCashPoolAcrossInstruments(t *testing.T) {
	btc := InstrumentId{Symbol: "BTCUSDT"}
	eth := InstrumentId{Symbol: "ETHUSDT"}

	bars := map[InstrumentId][]Bar{
		btc: {bar(dayN(0), 100), bar(dayN(1), 100), bar(dayN(2), 100)},
		eth: {bar(dayN(0), 100), bar(dayN(1), 100), bar(dayN(2), 100)},
	}

	cfg := Config{
		InitCash:        decimal.NewFromInt(1000),
		Fees:            decimal.Zero,
		PositionSizePct: decimal.NewFromFloat(0.5), // 50% of cash per entry
		Annualization:   252,
	}

	factory := func() Strategy {
		return &scriptedStrategy{orders: []*Order{buy(), nil, nil}}
	}

	eng := New()
	result, err := eng.Run(bars, factory, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// First entry (stable order: BTCUSDT before ETHUSDT) takes
	// min(1000*0.5, 1000*0.95) = 500 worth of cash. The second instrument's
	// entry on the same bar then only has 500 left, so it takes 250.
	var btcTrade, ethTrade *Trade
	for i := range result.Trades {
		tr := &result.Trades[i]
		if tr.Side != SideBuy {
			continue
		}
		switch tr.Instrument {
		case btc:
			btcTrade = tr
		case eth:
			ethTrade = tr
		}
	}
	if btcTrade == nil || ethTrade == nil {
		t.Fatalf("expected both instruments to open a position, trades=%+v", result.Trades)
	}

	wantBTCCost := decimal.NewFromFloat(500)
	gotBTCCost := btcTrade.Size.Mul(btcTrade.Price)
	if !gotBTCCost.Equal(wantBTCCost) {
		t.Errorf("btc entry cost = %s, want %s", gotBTCCost, wantBTCCost)
	}

	wantETHCost := decimal.NewFromFloat(250)
	gotETHCost := ethTrade.Size.Mul(ethTrade.Price)
	if !gotETHCost.Equal(wantETHCost) {
		t.Errorf("eth entry cost = %s, want %s (should be starved by btc's prior draw on shared cash)", gotETHCost, wantETHCost)
	}
}

// TestForcedExitOnFinalBar verifies the end-of-run sweep closes any still
// open position at the final bar's close, marked ForcedExit.
func TestForcedExitOnFinalBar(t *testing.T) {
	btc := InstrumentId{Symbol: "BTCUSDT"}
	bars := map[InstrumentId][]Bar{
		btc: {bar(dayN(0), 100), bar(dayN(1), 110), bar(dayN(2), 120)},
	}

	cfg := Config{
		InitCash:        decimal.NewFromInt(1000),
		Fees:            decimal.Zero,
		PositionSizePct: decimal.NewFromFloat(0.5),
		Annualization:   252,
	}

	factory := func() Strategy {
		return &scriptedStrategy{orders: []*Order{buy(), nil, nil}}
	}

	eng := New()
	result, err := eng.Run(bars, factory, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var forced *Trade
	for i := range result.Trades {
		if result.Trades[i].ForcedExit {
			forced = &result.Trades[i]
		}
	}
	if forced == nil {
		t.Fatalf("expected a forced exit trade, got %+v", result.Trades)
	}
	if !forced.Price.Equal(decimal.NewFromFloat(120)) {
		t.Errorf("forced exit price = %s, want 120 (final bar close)", forced.Price)
	}
	if !forced.HasPnL {
		t.Error("forced exit trade should carry a pnl")
	}

	if pos := result.PerInstrument[btc]; pos == nil || pos.TradeCount != 1 {
		t.Errorf("expected one closing trade attributed to %s, got %+v", btc, pos)
	}
}

// TestExitThenReentryOnLaterBar verifies that an exit signal closes an open
// position and that an entry signal on a later bar opens a fresh one, which
// the end-of-run sweep then closes.
func TestExitThenReentryOnLaterBar(t *testing.T) {
	btc := InstrumentId{Symbol: "BTCUSDT"}
	bars := map[InstrumentId][]Bar{
		btc: {bar(dayN(0), 100), bar(dayN(1), 110), bar(dayN(2), 120)},
	}
	cfg := Config{
		InitCash:        decimal.NewFromInt(1000),
		Fees:            decimal.Zero,
		PositionSizePct: decimal.NewFromFloat(0.5),
		Annualization:   252,
	}
	// bar0: buy. bar1: both sell (flip) and buy fire via a strategy that
	// issues sell then on the same on_bar call... since on_bar returns a
	// single order, we model the flip across two distinct bars: this test
	// instead checks that an exit signal on a bar with an open position
	// closes it even though no entry co-occurs, and a later entry reopens.
	factory := func() Strategy {
		return &scriptedStrategy{orders: []*Order{buy(), sell(), buy()}}
	}

	eng := New()
	result, err := eng.Run(bars, factory, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var buys, sells int
	for _, tr := range result.Trades {
		if tr.Side == SideBuy {
			buys++
		} else {
			sells++
		}
	}
	// bar0 buy, bar1 sell (closes), bar2 buy then forced-exit sweep sells it.
	if buys != 2 {
		t.Errorf("buys = %d, want 2", buys)
	}
	if sells != 2 {
		t.Errorf("sells = %d, want 2", sells)
	}
}

// TestStrategyFaultFreezesInstrumentSignals verifies that a strategy error
// is caught, recorded as a diagnostic, and stops further signal generation
// for that instrument without affecting other instruments.
func TestStrategyFaultFreezesInstrumentSignals(t *testing.T) {
	btc := InstrumentId{Symbol: "BTCUSDT"}
	eth := InstrumentId{Symbol: "ETHUSDT"}
	bars := map[InstrumentId][]Bar{
		btc: {bar(dayN(0), 100), bar(dayN(1), 110), bar(dayN(2), 120)},
		eth: {bar(dayN(0), 100), bar(dayN(1), 110), bar(dayN(2), 120)},
	}
	cfg := DefaultConfig()

	factory := func() Strategy {
		return &faultingStrategy{}
	}

	eng := New()
	result, err := eng.Run(bars, factory, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Diagnostics) != 2 {
		t.Fatalf("expected one diagnostic per faulting instrument, got %d: %+v", len(result.Diagnostics), result.Diagnostics)
	}
	if len(result.Trades) != 0 {
		t.Errorf("expected no trades when every replica faults immediately, got %+v", result.Trades)
	}
}

type faultingStrategy struct{}

func (f *faultingStrategy) OnInit() {}
func (f *faultingStrategy) OnBar(bar Bar) (*Order, error) {
	return nil, errFault
}
func (f *faultingStrategy) OnStop(lastBar Bar) {}

var errFault = errors.New("boom")
