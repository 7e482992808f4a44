package portfolio

import (
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// clampFraction is the safety clamp from spec §4.D: a single entry never
// commits more than 95% of available cash, regardless of position_size_pct.
var clampFraction = decimal.NewFromFloat(0.95)

// Engine runs the portfolio backtest of spec §4.D. It holds no state
// between calls to Run; one Engine value can run many backtests.
type Engine struct{}

// New returns a ready-to-use Engine.
func New() *Engine {
	return &Engine{}
}

// instrumentSeries is one instrument's bars plus the signals its pre-pass
// replica produced, indexed by bar timestamp for O(1) lookup during the
// master loop.
type instrumentSeries struct {
	id      InstrumentId
	bars    []Bar
	byTime  map[int64]Bar
	entries map[int64]bool
	exits   map[int64]bool
}

// Run executes the full backtest: time alignment, the per-instrument
// signal pre-pass, the master mark-to-market/fill loop, the end-of-run
// forced-exit sweep, and metrics derivation.
func (e *Engine) Run(instruments map[InstrumentId][]Bar, factory StrategyFactory, cfg Config) (PortfolioResult, error) {
	cfg = cfg.withDefaults()

	ids := stableInstrumentOrder(instruments)
	series := make([]*instrumentSeries, len(ids))
	for i, id := range ids {
		bars := instruments[id]
		byTime := make(map[int64]Bar, len(bars))
		for _, b := range bars {
			byTime[b.Time.UnixNano()] = b
		}
		series[i] = &instrumentSeries{id: id, bars: bars, byTime: byTime}
	}

	diagnostics := e.runSignalPrepass(series, factory)

	state := newPortfolioState(cfg.InitCash, ids)
	timeline := masterTimeline(series)

	var equityCurve []EquityPoint
	var trades []Trade

	for _, t := range timeline {
		key := t.UnixNano()

		prices := make(map[InstrumentId]decimal.Decimal, len(series))
		for _, s := range series {
			if bar, ok := s.byTime[key]; ok && bar.Close.IsPositive() {
				prices[s.id] = bar.Close
			}
		}

		state.updateEquity(prices)
		equityCurve = append(equityCurve, EquityPoint{
			Time:          t,
			Equity:        state.TotalEquity,
			Cash:          state.Cash,
			PositionValue: state.TotalEquity.Sub(state.Cash),
		})

		for _, s := range series {
			price, ok := prices[s.id]
			if !ok {
				continue
			}
			pos := state.Positions[s.id]

			if s.exits[key] && pos.IsOpen() {
				trades = append(trades, closePosition(state, pos, price, t, cfg.Fees, false))
				continue
			}
			if s.entries[key] && !pos.IsOpen() {
				if tr, opened := openPosition(state, pos, price, t, cfg); opened {
					trades = append(trades, tr)
				}
			}
		}
	}

	if len(timeline) > 0 {
		final := timeline[len(timeline)-1]
		key := final.UnixNano()
		finalPrices := make(map[InstrumentId]decimal.Decimal, len(series))

		for _, s := range series {
			pos := state.Positions[s.id]
			if !pos.IsOpen() {
				continue
			}
			bar, ok := s.byTime[key]
			if !ok || !bar.Close.IsPositive() {
				continue
			}
			tr := closePosition(state, pos, bar.Close, final, cfg.Fees, true)
			trades = append(trades, tr)
		}

		for _, s := range series {
			if bar, ok := s.byTime[key]; ok {
				finalPrices[s.id] = bar.Close
			}
		}
		state.updateEquity(finalPrices)
		if len(equityCurve) > 0 {
			equityCurve[len(equityCurve)-1] = EquityPoint{
				Time:          final,
				Equity:        state.TotalEquity,
				Cash:          state.Cash,
				PositionValue: state.TotalEquity.Sub(state.Cash),
			}
		}
	}

	metrics := deriveMetrics(equityCurve, trades, cfg)
	perInstrument := attributeByInstrument(ids, trades)

	return PortfolioResult{
		EquityCurve:   equityCurve,
		Trades:        trades,
		Metrics:       metrics,
		PerInstrument: perInstrument,
		Diagnostics:   diagnostics,
	}, nil
}

// runSignalPrepass replays on_bar for an independent strategy replica per
// instrument, concurrently (spec §5: "the signal pre-pass may be
// parallelized per instrument, embarrassingly so"). Each goroutine only
// touches its own instrumentSeries, so no shared mutable state is needed.
func (e *Engine) runSignalPrepass(series []*instrumentSeries, factory StrategyFactory) []StrategyFault {
	faults := make([]StrategyFault, len(series))
	hasFault := make([]bool, len(series))

	var wg sync.WaitGroup
	for i, s := range series {
		wg.Add(1)
		go func(i int, s *instrumentSeries) {
			defer wg.Done()
			fault, ok := replayStrategy(s, factory())
			if ok {
				faults[i] = fault
				hasFault[i] = true
			}
		}(i, s)
	}
	wg.Wait()

	out := make([]StrategyFault, 0, len(series))
	for i, f := range hasFault {
		if f {
			out = append(out, faults[i])
		}
	}
	return out
}

// replayStrategy feeds one instrument's bars to a fresh strategy replica
// and records the resulting entries/exits on s. It returns the fault (if
// any) and whether one occurred; per spec §7 a StrategyFault is "caught
// once per instrument; signals freeze for that instrument" — the replica
// stops receiving bars at the point it faults.
func replayStrategy(s *instrumentSeries, strat Strategy) (StrategyFault, bool) {
	s.entries = make(map[int64]bool, len(s.bars))
	s.exits = make(map[int64]bool, len(s.bars))

	strat.OnInit()

	var lastBar Bar
	for _, bar := range s.bars {
		lastBar = bar
		order, err := strat.OnBar(bar)
		if err != nil {
			log.Printf("portfolio: strategy fault on %s at %s: %v", s.id, bar.Time, err)
			return StrategyFault{Instrument: s.id, Time: bar.Time, Err: err}, true
		}
		if order == nil {
			continue
		}
		switch order.Direction {
		case DirectionBuy:
			s.entries[bar.Time.UnixNano()] = true
		case DirectionSell:
			s.exits[bar.Time.UnixNano()] = true
		}
	}
	if len(s.bars) > 0 {
		strat.OnStop(lastBar)
	}
	return StrategyFault{}, false
}

// stableInstrumentOrder fixes an arbitrary map into a deterministic order
// (spec §4.D: "instruments are processed in stable insertion order").
// Go maps have no insertion order, so we sort by InstrumentId.String() to
// get a reproducible order across runs with the same instrument set.
func stableInstrumentOrder(instruments map[InstrumentId][]Bar) []InstrumentId {
	ids := make([]InstrumentId, 0, len(instruments))
	for id := range instruments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// masterTimeline computes the common time range [max(start_i), min(end_i)]
// and returns one instrument's timestamps within it (the first instrument
// in stable order), per spec §4.D.
func masterTimeline(series []*instrumentSeries) []time.Time {
	var nonEmpty []*instrumentSeries
	for _, s := range series {
		if len(s.bars) > 0 {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}

	commonStart := nonEmpty[0].bars[0].Time
	commonEnd := nonEmpty[0].bars[len(nonEmpty[0].bars)-1].Time
	for _, s := range nonEmpty[1:] {
		start := s.bars[0].Time
		end := s.bars[len(s.bars)-1].Time
		if start.After(commonStart) {
			commonStart = start
		}
		if end.Before(commonEnd) {
			commonEnd = end
		}
	}

	base := nonEmpty[0]
	timeline := make([]time.Time, 0, len(base.bars))
	for _, b := range base.bars {
		if b.Time.Before(commonStart) || b.Time.After(commonEnd) {
			continue
		}
		timeline = append(timeline, b.Time)
	}
	return timeline
}

// openPosition applies the entry fill rule: size the trade at
// min(cash*position_size_pct, cash*0.95), verify affordability including
// fees, and deduct cost from cash. Returns ok=false on InsufficientCash or
// a non-positive trade_cash (spec §7: skip fill, no error surfaced).
func openPosition(state *PortfolioState, pos *Position, price decimal.Decimal, t time.Time, cfg Config) (Trade, bool) {
	available := state.Cash
	tradeCash := decimal.Min(available.Mul(cfg.PositionSizePct), available.Mul(clampFraction))
	if !tradeCash.IsPositive() {
		return Trade{}, false
	}

	size := tradeCash.Div(price)
	cost := size.Mul(price).Mul(decimal.NewFromInt(1).Add(cfg.Fees))
	if state.Cash.LessThan(cost) {
		return Trade{}, false
	}

	state.Cash = state.Cash.Sub(cost)
	pos.Size = size
	pos.EntryPrice = price
	pos.EntryTime = t

	return Trade{
		Instrument: pos.Instrument,
		Side:       SideBuy,
		Size:       size,
		Price:      price,
		Time:       t,
		Fees:       size.Mul(price).Mul(cfg.Fees),
	}, true
}

// closePosition applies the exit fill rule (and the identical end-of-run
// forced-exit formula): credit cash with sale proceeds net of fees, zero
// the position, and return the trade record with its realized pnl.
func closePosition(state *PortfolioState, pos *Position, price decimal.Decimal, t time.Time, fees decimal.Decimal, forced bool) Trade {
	size := pos.Size
	entryPrice := pos.EntryPrice
	entryTime := pos.EntryTime

	revenue := size.Mul(price).Mul(decimal.NewFromInt(1).Sub(fees))
	feeCost := size.Mul(price).Mul(fees)
	pnl := size.Mul(price.Sub(entryPrice)).Sub(feeCost)

	state.Cash = state.Cash.Add(revenue)
	pos.Size = decimal.Zero
	pos.EntryPrice = decimal.Zero
	pos.EntryTime = time.Time{}

	return Trade{
		Instrument: pos.Instrument,
		Side:       SideSell,
		Size:       size,
		Price:      price,
		Time:       t,
		Fees:       feeCost,
		PnL:        pnl,
		HasPnL:     true,
		EntryPrice: entryPrice,
		EntryTime:  entryTime,
		ForcedExit: forced,
	}
}

func deriveMetrics(equity []EquityPoint, trades []Trade, cfg Config) Metrics {
	m := Metrics{InitialEquity: cfg.InitCash}
	if len(equity) == 0 {
		return m
	}

	final := equity[len(equity)-1].Equity
	m.FinalEquity = final
	if cfg.InitCash.IsPositive() {
		m.TotalReturnPct = final.Sub(cfg.InitCash).Div(cfg.InitCash).InexactFloat64() * 100
	}

	peak := equity[0].Equity
	maxDD := 0.0
	for _, pt := range equity {
		if pt.Equity.GreaterThan(peak) {
			peak = pt.Equity
		}
		if peak.IsPositive() {
			dd := peak.Sub(pt.Equity).Div(peak).InexactFloat64() * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	m.MaxDrawdownPct = maxDD

	var returns []float64
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev.IsPositive() {
			ret := equity[i].Equity.Sub(prev).Div(prev).InexactFloat64()
			returns = append(returns, ret)
		}
	}
	if len(returns) > 0 {
		mean, stddev := meanStddev(returns)
		if stddev > 0 {
			m.SharpeRatio = mean / stddev * math.Sqrt(cfg.Annualization)
		}
	}

	totalFees := decimal.Zero
	totalPnL := decimal.Zero
	for _, tr := range trades {
		totalFees = totalFees.Add(tr.Fees)
		if tr.HasPnL {
			m.TotalTrades++
			totalPnL = totalPnL.Add(tr.PnL)
			if tr.PnL.IsPositive() {
				m.WinningTrades++
			}
		}
	}
	m.TotalFees = totalFees
	m.TotalPnL = totalPnL
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}

	return m
}

// meanStddev uses population standard deviation (n, not n-1), matching
// numpy's default ddof=0 in the source this engine is grounded on.
func meanStddev(xs []float64) (mean, stddev float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	stddev = math.Sqrt(sumSq / float64(len(xs)))
	return mean, stddev
}

func attributeByInstrument(ids []InstrumentId, trades []Trade) map[InstrumentId]*InstrumentResult {
	out := make(map[InstrumentId]*InstrumentResult, len(ids))
	for _, id := range ids {
		out[id] = &InstrumentResult{Instrument: id, TotalPnL: decimal.Zero}
	}
	for _, tr := range trades {
		r, ok := out[tr.Instrument]
		if !ok {
			continue
		}
		r.Trades = append(r.Trades, tr)
		if tr.HasPnL {
			r.TotalPnL = r.TotalPnL.Add(tr.PnL)
			r.TradeCount++
		}
	}
	return out
}
