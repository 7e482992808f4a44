package resultstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ndrandal/quantcell/internal/dispatch"
	"github.com/ndrandal/quantcell/internal/portfolio"
)

// SaveRun persists one completed backtest: the run summary, every trade,
// and the full equity curve. runID identifies the run for later retrieval
// and for the archiver's grouping unit.
func (s *Store) SaveRun(ctx context.Context, runID string, started, finished time.Time, result portfolio.PortfolioResult) error {
	run := toRunDoc(runID, started, finished, result.Metrics, result.Diagnostics)
	if _, err := s.db.Collection("backtest_runs").InsertOne(ctx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(result.Trades) > 0 {
		docs := toTradeDocs(runID, result.Trades)
		batch := make([]any, len(docs))
		for i := range docs {
			batch[i] = docs[i]
		}
		if _, err := s.db.Collection("backtest_trades").InsertMany(ctx, batch); err != nil {
			return fmt.Errorf("insert trades: %w", err)
		}
	}

	if len(result.EquityCurve) > 0 {
		docs := toEquityPointDocs(runID, result.EquityCurve)
		batch := make([]any, len(docs))
		for i := range docs {
			batch[i] = docs[i]
		}
		if _, err := s.db.Collection("backtest_equity_points").InsertMany(ctx, batch); err != nil {
			return fmt.Errorf("insert equity points: %w", err)
		}
	}

	return nil
}

// SaveMetricsSnapshot persists one point-in-time Stats capture from a
// dispatcher or shard, for historical monitoring of the ingestion path.
func (s *Store) SaveMetricsSnapshot(ctx context.Context, label string, stats dispatch.Stats) error {
	doc := toMetricsSnapshotDoc(label, stats)
	if _, err := s.db.Collection("dispatch_metrics_snapshots").InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert metrics snapshot: %w", err)
	}
	return nil
}
