package resultstore

import (
	"time"

	"github.com/ndrandal/quantcell/internal/dispatch"
	"github.com/ndrandal/quantcell/internal/portfolio"
)

// runDoc is the backtest_runs document: the portfolio-level summary of one
// Run, everything the caller would want without re-reading every trade.
type runDoc struct {
	RunID       string          `bson:"run_id"`
	StartedAt   time.Time       `bson:"started_at"`
	FinishedAt  time.Time       `bson:"finished_at"`
	Metrics     metricsDoc      `bson:"metrics"`
	Diagnostics []diagnosticDoc `bson:"diagnostics"`
}

type metricsDoc struct {
	TotalReturnPct float64 `bson:"total_return_pct"`
	TotalPnL       float64 `bson:"total_pnl"`
	FinalEquity    float64 `bson:"final_equity"`
	InitialEquity  float64 `bson:"initial_equity"`
	MaxDrawdownPct float64 `bson:"max_drawdown_pct"`
	SharpeRatio    float64 `bson:"sharpe_ratio"`
	TotalTrades    int     `bson:"total_trades"`
	WinningTrades  int     `bson:"winning_trades"`
	WinRate        float64 `bson:"win_rate"`
	TotalFees      float64 `bson:"total_fees"`
}

type diagnosticDoc struct {
	Symbol string    `bson:"symbol"`
	Venue  string    `bson:"venue"`
	Time   time.Time `bson:"time"`
	Error  string    `bson:"error"`
}

// tradeDoc is one backtest_trades document.
type tradeDoc struct {
	RunID      string    `bson:"run_id"`
	Symbol     string    `bson:"symbol"`
	Venue      string    `bson:"venue"`
	Side       string    `bson:"side"`
	Size       float64   `bson:"size"`
	Price      float64   `bson:"price"`
	Time       time.Time `bson:"time"`
	Fees       float64   `bson:"fees"`
	PnL        float64   `bson:"pnl"`
	HasPnL     bool      `bson:"has_pnl"`
	ForcedExit bool      `bson:"forced_exit"`
}

// equityPointDoc is one backtest_equity_points document.
type equityPointDoc struct {
	RunID         string    `bson:"run_id"`
	Time          time.Time `bson:"time"`
	Equity        float64   `bson:"equity"`
	Cash          float64   `bson:"cash"`
	PositionValue float64   `bson:"position_value"`
}

// metricsSnapshotDoc is one dispatch_metrics_snapshots document: a point-
// in-time capture of a dispatcher's or shard's Stats, for historical
// monitoring.
type metricsSnapshotDoc struct {
	Label           string    `bson:"label"`
	CapturedAt      time.Time `bson:"captured_at"`
	Received        uint64    `bson:"received"`
	Processed       uint64    `bson:"processed"`
	Dropped         uint64    `bson:"dropped"`
	DropRate        float64   `bson:"drop_rate"`
	AvgProcessingMs float64   `bson:"avg_processing_ms"`
	P99Ms           float64   `bson:"p99_ms"`
}

func toRunDoc(runID string, started, finished time.Time, m portfolio.Metrics, diags []portfolio.StrategyFault) runDoc {
	dd := make([]diagnosticDoc, len(diags))
	for i, d := range diags {
		dd[i] = diagnosticDoc{
			Symbol: d.Instrument.Symbol,
			Venue:  d.Instrument.Venue,
			Time:   d.Time,
			Error:  d.Err.Error(),
		}
	}
	return runDoc{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: finished,
		Metrics: metricsDoc{
			TotalReturnPct: m.TotalReturnPct,
			TotalPnL:       m.TotalPnL.InexactFloat64(),
			FinalEquity:    m.FinalEquity.InexactFloat64(),
			InitialEquity:  m.InitialEquity.InexactFloat64(),
			MaxDrawdownPct: m.MaxDrawdownPct,
			SharpeRatio:    m.SharpeRatio,
			TotalTrades:    m.TotalTrades,
			WinningTrades:  m.WinningTrades,
			WinRate:        m.WinRate,
			TotalFees:      m.TotalFees.InexactFloat64(),
		},
		Diagnostics: dd,
	}
}

func toTradeDocs(runID string, trades []portfolio.Trade) []tradeDoc {
	out := make([]tradeDoc, len(trades))
	for i, t := range trades {
		out[i] = tradeDoc{
			RunID:      runID,
			Symbol:     t.Instrument.Symbol,
			Venue:      t.Instrument.Venue,
			Side:       string(t.Side),
			Size:       t.Size.InexactFloat64(),
			Price:      t.Price.InexactFloat64(),
			Time:       t.Time,
			Fees:       t.Fees.InexactFloat64(),
			PnL:        t.PnL.InexactFloat64(),
			HasPnL:     t.HasPnL,
			ForcedExit: t.ForcedExit,
		}
	}
	return out
}

func toEquityPointDocs(runID string, points []portfolio.EquityPoint) []equityPointDoc {
	out := make([]equityPointDoc, len(points))
	for i, p := range points {
		out[i] = equityPointDoc{
			RunID:         runID,
			Time:          p.Time,
			Equity:        p.Equity.InexactFloat64(),
			Cash:          p.Cash.InexactFloat64(),
			PositionValue: p.PositionValue.InexactFloat64(),
		}
	}
	return out
}

func toMetricsSnapshotDoc(label string, s dispatch.Stats) metricsSnapshotDoc {
	return metricsSnapshotDoc{
		Label:           label,
		CapturedAt:      time.Now(),
		Received:        s.Received,
		Processed:       s.Processed,
		Dropped:         s.Dropped,
		DropRate:        s.DropRate,
		AvgProcessingMs: s.AvgProcessingMs,
		P99Ms:           s.P99Ms,
	}
}
