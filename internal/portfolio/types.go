// Package portfolio implements the shared-cash-pool backtest engine of
// spec §4.D: a single cash balance spans every instrument, a master
// timeline drives mark-to-market and fills, and a signal pre-pass runs
// each instrument's strategy in isolation before any fill is applied.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV record for a single instrument at a single timestamp.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// InstrumentId identifies one tradable series. Venue is optional; two
// instruments with the same Symbol but different Venue are distinct.
type InstrumentId struct {
	Symbol string
	Venue  string
}

func (id InstrumentId) String() string {
	if id.Venue == "" {
		return id.Symbol
	}
	return id.Symbol + "@" + id.Venue
}

// Position is the open (or flat) holding in one instrument.
type Position struct {
	Instrument InstrumentId
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	EntryTime  time.Time
}

// IsOpen reports whether Position holds a non-zero size.
func (p Position) IsOpen() bool {
	return !p.Size.IsZero()
}

// PortfolioState is the engine's mutable book: one cash balance shared by
// every instrument, plus one Position per instrument. Single-threaded by
// design (spec §5: "PortfolioState: single-threaded; no locking required").
type PortfolioState struct {
	Cash        decimal.Decimal
	Positions   map[InstrumentId]*Position
	TotalEquity decimal.Decimal
}

func newPortfolioState(initCash decimal.Decimal, instruments []InstrumentId) *PortfolioState {
	positions := make(map[InstrumentId]*Position, len(instruments))
	for _, id := range instruments {
		positions[id] = &Position{Instrument: id}
	}
	return &PortfolioState{Cash: initCash, Positions: positions}
}

// updateEquity marks the book to market using the prices observed at the
// current timestamp. Instruments with no price this step keep their last
// contribution implicitly excluded, matching spec §4.D step 2's "every
// instrument whose bar at t exists."
func (s *PortfolioState) updateEquity(prices map[InstrumentId]decimal.Decimal) {
	total := s.Cash
	for id, pos := range s.Positions {
		if !pos.IsOpen() {
			continue
		}
		price, ok := prices[id]
		if !ok {
			continue
		}
		total = total.Add(pos.Size.Mul(price))
	}
	s.TotalEquity = total
}

// Side distinguishes an entry (buy) from an exit (sell) trade record.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is one fill, entry or exit, recorded against one instrument.
type Trade struct {
	Instrument  InstrumentId
	Side        Side
	Size        decimal.Decimal
	Price       decimal.Decimal
	Time        time.Time
	Fees        decimal.Decimal
	PnL         decimal.Decimal // zero value is only meaningful when HasPnL is true
	HasPnL      bool            // set on exits; entries never carry a PnL
	EntryPrice  decimal.Decimal
	EntryTime   time.Time
	ForcedExit  bool
}

// EquityPoint is one sample of the portfolio-level equity curve.
type EquityPoint struct {
	Time          time.Time
	Equity        decimal.Decimal
	Cash          decimal.Decimal
	PositionValue decimal.Decimal
}

// Metrics holds the derived performance statistics of spec §4.D.
type Metrics struct {
	TotalReturnPct float64
	TotalPnL       decimal.Decimal
	FinalEquity    decimal.Decimal
	InitialEquity  decimal.Decimal
	MaxDrawdownPct float64
	SharpeRatio    float64
	TotalTrades    int
	WinningTrades  int
	WinRate        float64
	TotalFees      decimal.Decimal
}

// InstrumentResult is the per-instrument trade/PnL attribution of §4.D's
// "Per-instrument attribution": the master trade list filtered by symbol,
// with no separate equity curve (the shared cash pool makes a per-symbol
// equity curve meaningless).
type InstrumentResult struct {
	Instrument InstrumentId
	Trades     []Trade
	TotalPnL   decimal.Decimal
	TradeCount int
}

// StrategyFault records a strategy callback panic/error, caught per §7
// "StrategyFault: Caught once per instrument; signals freeze for that
// instrument."
type StrategyFault struct {
	Instrument InstrumentId
	Time       time.Time
	Err        error
}

// PortfolioResult is the engine's single output value (spec §4.D contract,
// §6 external interface).
type PortfolioResult struct {
	EquityCurve   []EquityPoint
	Trades        []Trade
	Metrics       Metrics
	PerInstrument map[InstrumentId]*InstrumentResult
	Diagnostics   []StrategyFault
}
