package dispatch

import (
	"sort"
	"sync"
	"time"

	"github.com/ndrandal/quantcell/internal/event"
)

// ringSize bounds the recent-samples window used for latency percentiles
// and the sliding drop-rate window. Small enough to keep GetStats cheap,
// large enough to smooth out single-event noise.
const ringSize = 512

// Stats is a consistent snapshot of dispatcher metrics. Nothing in here
// ever moves backwards across snapshots except DropRate, AvgProcessingMs,
// P50Ms, P99Ms and AvgQueueSize, which are derived, not counters.
type Stats struct {
	Received          uint64
	Processed         uint64
	Dropped           uint64
	DropRate          float64
	AvgProcessingMs   float64
	P50Ms             float64
	P99Ms             float64
	AvgQueueSize      float64
	PerPriorityCounts map[event.Priority]uint64
}

// metricsBlock is the small mutex-guarded counters block described in
// spec §5 ("Metrics block: small mutex; get_stats() clones under the lock").
type metricsBlock struct {
	mu sync.Mutex

	received  uint64
	processed uint64
	dropped   uint64

	perPriority map[event.Priority]uint64

	procTimes    [ringSize]float64 // milliseconds, ring buffer
	procTimesLen int
	procTimesPos int

	queueSizes    [ringSize]int
	queueSizesLen int
	queueSizesPos int

	// sliding window of recent put outcomes for graceful degradation
	dropWindow    [ringSize]bool
	dropWindowLen int
	dropWindowPos int
}

func newMetricsBlock() *metricsBlock {
	return &metricsBlock{
		perPriority: make(map[event.Priority]uint64, 5),
	}
}

func (m *metricsBlock) recordReceived(p event.Priority) {
	m.mu.Lock()
	m.received++
	m.perPriority[p]++
	m.mu.Unlock()
}

func (m *metricsBlock) recordProcessed(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	m.mu.Lock()
	m.processed++
	m.procTimes[m.procTimesPos] = ms
	m.procTimesPos = (m.procTimesPos + 1) % ringSize
	if m.procTimesLen < ringSize {
		m.procTimesLen++
	}
	m.mu.Unlock()
}

func (m *metricsBlock) recordDropped(accepted bool) {
	m.mu.Lock()
	if !accepted {
		m.dropped++
	}
	m.dropWindow[m.dropWindowPos] = !accepted
	m.dropWindowPos = (m.dropWindowPos + 1) % ringSize
	if m.dropWindowLen < ringSize {
		m.dropWindowLen++
	}
	m.mu.Unlock()
}

func (m *metricsBlock) recordQueueSize(size int) {
	m.mu.Lock()
	m.queueSizes[m.queueSizesPos] = size
	m.queueSizesPos = (m.queueSizesPos + 1) % ringSize
	if m.queueSizesLen < ringSize {
		m.queueSizesLen++
	}
	m.mu.Unlock()
}

// slidingDropRate returns the fraction of recent put attempts that were
// dropped, used by the graceful-degradation health check.
func (m *metricsBlock) slidingDropRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropWindowLen == 0 {
		return 0
	}
	var dropped int
	for i := 0; i < m.dropWindowLen; i++ {
		if m.dropWindow[i] {
			dropped++
		}
	}
	return float64(dropped) / float64(m.dropWindowLen)
}

func (m *metricsBlock) snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Received:          m.received,
		Processed:         m.processed,
		Dropped:           m.dropped,
		PerPriorityCounts: make(map[event.Priority]uint64, len(m.perPriority)),
	}
	for k, v := range m.perPriority {
		s.PerPriorityCounts[k] = v
	}
	if m.received > 0 {
		s.DropRate = float64(m.dropped) / float64(m.received)
	}

	if m.procTimesLen > 0 {
		times := make([]float64, m.procTimesLen)
		copy(times, m.procTimes[:m.procTimesLen])
		sort.Float64s(times)

		var sum float64
		for _, t := range times {
			sum += t
		}
		s.AvgProcessingMs = sum / float64(len(times))
		s.P50Ms = percentile(times, 0.50)
		s.P99Ms = percentile(times, 0.99)
	}

	if m.queueSizesLen > 0 {
		var sum int
		for i := 0; i < m.queueSizesLen; i++ {
			sum += m.queueSizes[i]
		}
		s.AvgQueueSize = float64(sum) / float64(m.queueSizesLen)
	}

	return s
}

// percentile expects sorted ascending values and a fraction in [0, 1].
func percentile(sorted []float64, frac float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(frac * float64(len(sorted)-1))
	return sorted[idx]
}
