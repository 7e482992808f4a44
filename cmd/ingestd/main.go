// Command ingestd connects to a venue over WebSocket, normalizes every
// message, and feeds it into a sharded dispatcher, periodically snapshotting
// dispatcher metrics to the result store. Mirrors the teacher's
// cmd/feedsim wiring style (config.Load, context+signal shutdown).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ndrandal/quantcell/internal/archive"
	"github.com/ndrandal/quantcell/internal/config"
	"github.com/ndrandal/quantcell/internal/dispatch"
	"github.com/ndrandal/quantcell/internal/event"
	"github.com/ndrandal/quantcell/internal/ingest"
	"github.com/ndrandal/quantcell/internal/ingest/venue"
	"github.com/ndrandal/quantcell/internal/resultstore"
	"github.com/ndrandal/quantcell/internal/shard"
)

func main() {
	channels := flag.String("channels", "btcusdt@trade,btcusdt@kline_1m", "comma-separated venue channels to subscribe to")
	// config.Load registers its own flags and then parses the command line,
	// so -channels and the config flags are parsed together.
	cfg := config.Load()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("ingestd starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("ingestd: received signal %v, shutting down", sig)
		cancel()
	}()

	store, err := resultstore.NewStore(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("ingestd: connect result store: %v", err)
	}
	defer store.Close(context.Background())
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("ingestd: migrate result store: %v", err)
	}

	if cfg.ArchiveDir != "" {
		archiver := archive.New(store.DB(), cfg.ArchiveDir, cfg.ArchiveMaxGB, cfg.ArchiveIntervalHours, cfg.ArchiveAfterHours)
		go archiver.Run(ctx)
	}

	dispatcher := shard.New(shard.Config{
		NumShards: cfg.NumShards,
		Dispatch: dispatch.Config{
			MaxQueueSize:               cfg.MaxQueueSize,
			NumWorkers:                 cfg.NumWorkers,
			BackpressureEnabled:        cfg.BackpressureEnabled,
			BackpressureThreshold:      cfg.BackpressureThreshold,
			GracefulDegradationEnabled: cfg.GracefulDegradationEnabled,
			UnhealthyDropRate:          cfg.UnhealthyDropRate,
		},
	})
	dispatcher.Register("market.tick", func(payload any) {
		ev, ok := payload.(ingest.NormalizedEvent)
		if !ok {
			return
		}
		log.Printf("ingestd: %s %s %s", ev.Exchange, ev.DataType, ev.Symbol)
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	subs := strings.Split(*channels, ",")
	for i := range subs {
		subs[i] = strings.TrimSpace(subs[i])
	}

	normalizer := venue.NewBinance()
	icfg := ingest.Config{
		PingInterval:              time.Duration(cfg.PingIntervalS) * time.Second,
		ReconnectDelay:            time.Duration(cfg.ReconnectDelayS) * time.Second,
		MaxReconnectAttempts:      cfg.MaxReconnectAttempts,
		FrameTimeout:              time.Duration(cfg.FrameTimeoutS) * time.Second,
		MaxConsecutiveFrameErrors: 5,
	}
	sup := ingest.NewSupervisor(normalizer.Name(), normalizer, icfg)

	sup.OnReconnectExhausted(func(reason string) {
		dispatcher.Put("ingest.alert", reason, event.Critical, "", false, 0)
		log.Printf("ingestd: reconnect budget exhausted: %s", reason)
	})

	sup.AddMessageCallback(func(ev ingest.NormalizedEvent) {
		dispatcher.Put("market.tick", ev, event.Normal, ev.Symbol, false, 0)
	})

	if err := sup.Connect(); err != nil {
		log.Fatalf("ingestd: connect: %v", err)
	}
	defer sup.Close()

	if err := sup.Subscribe(subs); err != nil {
		log.Fatalf("ingestd: subscribe: %v", err)
	}
	log.Printf("ingestd: subscribed to %v via %s", subs, normalizer.Name())

	go snapshotMetrics(ctx, store, dispatcher)

	<-ctx.Done()
	log.Println("ingestd stopped")
}

// snapshotMetrics periodically persists the dispatcher's aggregated stats
// so ingestion throughput/health can be inspected after the fact.
func snapshotMetrics(ctx context.Context, store *resultstore.Store, d *shard.Dispatcher) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.SaveMetricsSnapshot(ctx, "ingestd", d.GetStats()); err != nil {
				log.Printf("ingestd: save metrics snapshot: %v", err)
			}
		}
	}
}
