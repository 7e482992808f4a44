// Package shard implements the sharded dispatcher of spec §4.C: N
// independent dispatchers, each with its own queue and workers, routed by
// a stable hash of the event's symbol so per-symbol order is preserved
// while different symbols execute concurrently.
package shard

import (
	"hash/fnv"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ndrandal/quantcell/internal/dispatch"
	"github.com/ndrandal/quantcell/internal/event"
)

// Config mirrors dispatch.Config plus the shard count. Each shard gets an
// identical dispatch.Config.
type Config struct {
	NumShards int
	Dispatch  dispatch.Config
}

// DefaultConfig returns the spec §6 default shard count (16) with default
// per-shard dispatch settings.
func DefaultConfig() Config {
	return Config{
		NumShards: 16,
		Dispatch:  dispatch.DefaultConfig(),
	}
}

// Dispatcher is N dispatch.Dispatchers, one per shard.
type Dispatcher struct {
	shards []*dispatch.Dispatcher
	rr     atomic.Uint64 // round-robin counter for symbol-less events
}

// New creates a sharded dispatcher. It does not start the shards; call
// Start for that.
func New(cfg Config) *Dispatcher {
	if cfg.NumShards <= 0 {
		cfg.NumShards = DefaultConfig().NumShards
	}
	// Each shard owns serialization for the symbols hashed to it; that only
	// holds with exactly one worker draining its queue, so this is not
	// operator-configurable (spec §4.C/§5: N x 1 workers).
	cfg.Dispatch.NumWorkers = 1
	shards := make([]*dispatch.Dispatcher, cfg.NumShards)
	for i := range shards {
		shards[i] = dispatch.NewNamed(shardName(i), cfg.Dispatch)
	}
	return &Dispatcher{shards: shards}
}

func shardName(i int) string {
	return "shard-" + strconv.Itoa(i)
}

// shardFor computes shard_id = stable_hash(symbol) mod N. Symbol-less
// events round-robin across shards instead.
func (d *Dispatcher) shardFor(symbol string) int {
	n := len(d.shards)
	if symbol == "" {
		i := d.rr.Add(1)
		return int(i % uint64(n))
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}

// Start starts every shard's worker pool.
func (d *Dispatcher) Start() {
	for _, s := range d.shards {
		s.Start()
	}
}

// Stop stops every shard's worker pool.
func (d *Dispatcher) Stop() {
	for _, s := range d.shards {
		s.Stop()
	}
}

// Register adds a handler for eventType on every shard, so a handler fires
// regardless of which shard a matching event lands on.
func (d *Dispatcher) Register(eventType string, h dispatch.Handler) {
	for _, s := range d.shards {
		s.Register(eventType, h)
	}
}

// Unregister removes handlers for eventType from every shard.
func (d *Dispatcher) Unregister(eventType string) {
	for _, s := range d.shards {
		s.Unregister(eventType)
	}
}

// Put routes the event to shard_id = stable_hash(symbol) mod N and
// enqueues it there, so same-symbol events always hit the same shard and
// are processed strictly in (priority, sequence) order relative to each
// other.
func (d *Dispatcher) Put(eventType string, payload any, priority event.Priority, symbol string, block bool, timeout time.Duration) bool {
	shard := d.shards[d.shardFor(symbol)]
	return shard.Put(eventType, payload, priority, symbol, block, timeout)
}

// IsHealthy reports false if any shard reports unhealthy.
func (d *Dispatcher) IsHealthy() bool {
	for _, s := range d.shards {
		if !s.IsHealthy() {
			return false
		}
	}
	return true
}

// GetStats aggregates counters across all shards.
func (d *Dispatcher) GetStats() dispatch.Stats {
	agg := dispatch.Stats{PerPriorityCounts: make(map[event.Priority]uint64, 5)}
	var totalProc, totalQueue float64
	var p50Sum, p99Sum float64
	n := float64(len(d.shards))

	for _, s := range d.shards {
		st := s.GetStats()
		agg.Received += st.Received
		agg.Processed += st.Processed
		agg.Dropped += st.Dropped
		for k, v := range st.PerPriorityCounts {
			agg.PerPriorityCounts[k] += v
		}
		totalProc += st.AvgProcessingMs
		totalQueue += st.AvgQueueSize
		p50Sum += st.P50Ms
		p99Sum += st.P99Ms
	}

	if agg.Received > 0 {
		agg.DropRate = float64(agg.Dropped) / float64(agg.Received)
	}
	if n > 0 {
		agg.AvgProcessingMs = totalProc / n
		agg.AvgQueueSize = totalQueue / n
		agg.P50Ms = p50Sum / n
		agg.P99Ms = p99Sum / n
	}
	return agg
}

// GetShardStats exposes a single shard's own metrics snapshot.
func (d *Dispatcher) GetShardStats(i int) dispatch.Stats {
	if i < 0 || i >= len(d.shards) {
		return dispatch.Stats{}
	}
	return d.shards[i].GetStats()
}

// NumShards returns the shard count.
func (d *Dispatcher) NumShards() int {
	return len(d.shards)
}
