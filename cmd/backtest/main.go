// Command backtest runs a portfolio backtest against a directory of CSV
// bar files and writes the result to MongoDB, following the teacher's
// cmd/feedsim wiring style (config.Load, context+signal shutdown, plain
// log).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/quantcell/internal/config"
	"github.com/ndrandal/quantcell/internal/portfolio"
	"github.com/ndrandal/quantcell/internal/portfolio/strategies"
	"github.com/ndrandal/quantcell/internal/resultstore"
)

func main() {
	var (
		barsDir    = flag.String("bars-dir", "", "directory of per-instrument CSV bar files (required)")
		venue      = flag.String("venue", "backtest", "venue label attached to every loaded instrument")
		runID      = flag.String("run-id", "", "identifier for this run (default: generated from start time)")
		fastPeriod = flag.Int("fast-period", 10, "SMA crossover fast period")
		slowPeriod = flag.Int("slow-period", 30, "SMA crossover slow period")
	)
	// config.Load registers its own flags and then parses the command line,
	// so the flags above and the config flags are parsed together.
	cfg := config.Load()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if *barsDir == "" {
		log.Fatal("backtest: -bars-dir is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("backtest: received signal %v, shutting down", sig)
		cancel()
	}()

	instruments, err := portfolio.LoadInstrumentsCSV(*barsDir, *venue)
	if err != nil {
		log.Fatalf("backtest: load bars: %v", err)
	}
	log.Printf("backtest: loaded %d instruments from %s", len(instruments), *barsDir)

	pcfg := portfolio.Config{
		InitCash:        decimal.NewFromFloat(cfg.InitCash),
		Fees:            decimal.NewFromFloat(cfg.Fees),
		Slippage:        decimal.NewFromFloat(cfg.Slippage),
		PositionSizePct: decimal.NewFromFloat(cfg.PositionSizePct),
		Annualization:   cfg.Annualization,
	}

	factory := strategies.NewSMACross(*fastPeriod, *slowPeriod)

	started := time.Now()
	engine := portfolio.New()
	result, err := engine.Run(instruments, factory, pcfg)
	if err != nil {
		log.Fatalf("backtest: run: %v", err)
	}
	finished := time.Now()

	id := *runID
	if id == "" {
		id = fmt.Sprintf("run-%d", started.UnixNano())
	}

	log.Printf("backtest: run %s complete: return=%.2f%% drawdown=%.2f%% sharpe=%.2f trades=%d diagnostics=%d",
		id, result.Metrics.TotalReturnPct, result.Metrics.MaxDrawdownPct, result.Metrics.SharpeRatio,
		result.Metrics.TotalTrades, len(result.Diagnostics))

	for _, d := range result.Diagnostics {
		log.Printf("backtest: strategy fault on %s at %s: %v", d.Instrument, d.Time, d.Err)
	}

	store, err := resultstore.NewStore(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("backtest: connect result store: %v", err)
	}
	defer store.Close(context.Background())

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("backtest: migrate result store: %v", err)
	}

	if err := store.SaveRun(ctx, id, started, finished, result); err != nil {
		log.Fatalf("backtest: save run: %v", err)
	}

	log.Printf("backtest: saved run %s (%d trades, %d equity points) to %s",
		id, len(result.Trades), len(result.EquityCurve), strings.SplitN(cfg.MongoURI, "?", 2)[0])
}
