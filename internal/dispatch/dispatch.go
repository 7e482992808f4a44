// Package dispatch implements the single-queue event dispatcher of spec
// §4.B: a bounded priority queue, a handler registry, a pool of worker
// goroutines, backpressure, and graceful degradation.
package dispatch

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/ndrandal/quantcell/internal/event"
	"github.com/ndrandal/quantcell/internal/pqueue"
)

// Handler processes a single event payload. Handler faults (panics) are
// caught by the worker loop and must never prevent subsequent handlers or
// future events from being processed (spec §4.B, §7 HandlerFault).
type Handler func(payload any)

// Config controls dispatcher sizing and backpressure behavior. Zero-value
// numeric fields are replaced with the DefaultConfig values by New; the two
// bool fields are used as given, so a zero Config has backpressure and
// graceful degradation disabled (DefaultConfig enables both).
type Config struct {
	MaxQueueSize               int
	NumWorkers                 int
	BackpressureEnabled        bool
	BackpressureThreshold      float64
	GracefulDegradationEnabled bool
	UnhealthyDropRate          float64
	GetTimeout                 time.Duration // worker poll timeout on queue.Get
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:               10000,
		NumWorkers:                 4,
		BackpressureEnabled:        true,
		BackpressureThreshold:      0.8,
		GracefulDegradationEnabled: true,
		UnhealthyDropRate:          0.05,
		GetTimeout:                 100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = d.NumWorkers
	}
	if c.BackpressureThreshold <= 0 {
		c.BackpressureThreshold = d.BackpressureThreshold
	}
	if c.UnhealthyDropRate <= 0 {
		c.UnhealthyDropRate = d.UnhealthyDropRate
	}
	if c.GetTimeout <= 0 {
		c.GetTimeout = d.GetTimeout
	}
	return c
}

// Dispatcher owns one bounded priority queue, a handler registry, a pool of
// worker goroutines, and a metrics block.
type Dispatcher struct {
	cfg     Config
	queue   *pqueue.Queue
	metrics *metricsBlock

	regMu    sync.RWMutex
	handlers map[string][]Handler

	startMu sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	name string // for log lines; "" is fine
}

// New creates a Dispatcher. It does not start workers; call Start for that.
func New(cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:      cfg,
		queue:    pqueue.New(cfg.MaxQueueSize),
		metrics:  newMetricsBlock(),
		handlers: make(map[string][]Handler),
	}
}

// NewNamed creates a Dispatcher whose log lines are prefixed with name
// (used by the sharded dispatcher to identify individual shards).
func NewNamed(name string, cfg Config) *Dispatcher {
	d := New(cfg)
	d.name = name
	return d
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.name != "" {
		log.Printf("dispatch[%s]: "+format, append([]any{d.name}, args...)...)
	} else {
		log.Printf("dispatch: "+format, args...)
	}
}

// Register adds a handler for the given event type. Thread-safe.
func (d *Dispatcher) Register(eventType string, h Handler) {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// Unregister removes all handlers registered under eventType.
func (d *Dispatcher) Unregister(eventType string) {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	delete(d.handlers, eventType)
}

func (d *Dispatcher) handlersFor(eventType string) []Handler {
	d.regMu.RLock()
	defer d.regMu.RUnlock()
	hs := d.handlers[eventType]
	if len(hs) == 0 {
		return nil
	}
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

// Start spawns NumWorkers worker goroutines. Idempotent.
func (d *Dispatcher) Start() {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})

	for i := 0; i < d.cfg.NumWorkers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
	d.logf("started %d workers, capacity=%d", d.cfg.NumWorkers, d.cfg.MaxQueueSize)
}

// Stop signals all workers to exit, waits for them to join, and closes the
// queue; events still queued at the stop point are not processed. Idempotent.
func (d *Dispatcher) Stop() {
	d.startMu.Lock()
	if !d.running {
		d.startMu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.startMu.Unlock()

	d.wg.Wait()
	d.queue.Close()
	d.logf("stopped")
}

// IsRunning reports whether Start has been called without a matching Stop.
func (d *Dispatcher) IsRunning() bool {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	return d.running
}

func (d *Dispatcher) workerLoop(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		ev, ok := d.queue.Get(true, d.cfg.GetTimeout)
		if !ok {
			continue
		}
		d.metrics.recordQueueSize(d.queue.Size())
		d.invoke(ev)
	}
}

// invoke runs every handler registered for ev.Type, recovering from panics
// so one faulty handler never blocks the rest or kills the worker.
func (d *Dispatcher) invoke(ev *event.Event) {
	start := time.Now()
	for _, h := range d.handlersFor(ev.Type) {
		d.safeCall(h, ev)
	}
	d.metrics.recordProcessed(time.Since(start))
}

func (d *Dispatcher) safeCall(h Handler, ev *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logf("handler fault on type=%q symbol=%q: %v", ev.Type, ev.Symbol, r)
		}
	}()
	h(ev.Payload)
}

// Put constructs and enqueues an event, applying backpressure and
// recording metrics. Returns false if the event was dropped or refused.
func (d *Dispatcher) Put(eventType string, payload any, priority event.Priority, symbol string, block bool, timeout time.Duration) bool {
	if !priority.Valid() {
		priority = event.Normal
	}
	ev := &event.Event{
		Priority:    priority,
		TimestampNs: time.Now().UnixNano(),
		Sequence:    event.NextSequence(),
		Type:        eventType,
		Payload:     payload,
		Symbol:      symbol,
	}
	return d.PutEvent(ev, block, timeout)
}

// PutEvent enqueues a pre-built event, applying backpressure and recording
// metrics. Put builds the event and then calls it.
func (d *Dispatcher) PutEvent(ev *event.Event, block bool, timeout time.Duration) bool {
	d.metrics.recordReceived(ev.Priority)

	if d.cfg.BackpressureEnabled && ev.Priority != event.Critical {
		load := float64(d.queue.Size()) / float64(d.queue.Capacity())
		if load >= d.cfg.BackpressureThreshold {
			dropProb := dropProbability(load, d.cfg.BackpressureThreshold)
			if rand.Float64() < dropProb {
				d.metrics.recordDropped(false)
				return false
			}
		}
	}

	accepted := d.queue.Put(ev, block, timeout)
	d.metrics.recordDropped(accepted)
	return accepted
}

// dropProbability rises linearly from 0 at threshold to 1.0 at load=1.0.
func dropProbability(load, threshold float64) float64 {
	if threshold >= 1.0 {
		return 0
	}
	p := (load - threshold) / (1.0 - threshold)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// IsHealthy reports false once the sustained drop rate over the recent
// sliding window exceeds UnhealthyDropRate. Recovery is automatic: once the
// window's drop rate falls back under the threshold, IsHealthy returns true
// again without any explicit reset.
func (d *Dispatcher) IsHealthy() bool {
	if !d.cfg.GracefulDegradationEnabled {
		return true
	}
	return d.metrics.slidingDropRate() <= d.cfg.UnhealthyDropRate
}

// GetStats returns a consistent snapshot of dispatcher metrics.
func (d *Dispatcher) GetStats() Stats {
	return d.metrics.snapshot()
}

// QueueSize returns the current queue depth (for sharded aggregation).
func (d *Dispatcher) QueueSize() int {
	return d.queue.Size()
}
