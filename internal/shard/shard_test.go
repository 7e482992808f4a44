package shard

import (
	"sync"
	"testing"
	"time"

	"github.com/ndrandal/quantcell/internal/dispatch"
	"github.com/ndrandal/quantcell/internal/event"
)

func TestPerSymbolOrderingUnderSharding(t *testing.T) {
	d := New(Config{
		NumShards: 4,
		Dispatch:  dispatch.Config{MaxQueueSize: 2000, BackpressureEnabled: false},
	})

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "ADAUSDT", "DOGEUSDT", "AVAXUSDT"}

	var mu sync.Mutex
	seen := make(map[string][]int)
	d.Register("TICK", func(payload any) {
		tick := payload.(tickEvent)
		mu.Lock()
		seen[tick.symbol] = append(seen[tick.symbol], tick.seq)
		mu.Unlock()
	})
	d.Start()
	defer d.Stop()

	const perSymbol = 125 // 8 symbols * 125 = 1000 events
	counters := make(map[string]int, len(symbols))
	for i := 0; i < perSymbol*len(symbols); i++ {
		sym := symbols[i%len(symbols)]
		counters[sym]++
		d.Put("TICK", tickEvent{symbol: sym, seq: counters[sym]}, event.Normal, sym, true, time.Second)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		total := 0
		for _, seq := range seen {
			total += len(seq)
		}
		mu.Unlock()
		if total == perSymbol*len(symbols) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, sym := range symbols {
		seqs := seen[sym]
		if len(seqs) != perSymbol {
			t.Fatalf("symbol %s: got %d events, want %d", sym, len(seqs), perSymbol)
		}
		for i := 1; i < len(seqs); i++ {
			if seqs[i] <= seqs[i-1] {
				t.Fatalf("symbol %s: sequence not strictly increasing at %d: %v", sym, i, seqs)
			}
		}
	}
}

type tickEvent struct {
	symbol string
	seq    int
}

func TestGetShardStatsAndAggregate(t *testing.T) {
	d := New(Config{NumShards: 2, Dispatch: dispatch.Config{MaxQueueSize: 16}})
	d.Register("TICK", func(payload any) {})
	d.Start()
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Put("TICK", i, event.Normal, "BTCUSDT", true, time.Second)
	}

	time.Sleep(50 * time.Millisecond)
	agg := d.GetStats()
	if agg.Received != 10 {
		t.Fatalf("aggregate received = %d, want 10", agg.Received)
	}

	var shardTotal uint64
	for i := 0; i < d.NumShards(); i++ {
		shardTotal += d.GetShardStats(i).Received
	}
	if shardTotal != 10 {
		t.Fatalf("sum of shard received = %d, want 10", shardTotal)
	}
}
