package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ndrandal/quantcell/internal/event"
)

func TestBasicEventProcessing(t *testing.T) {
	d := New(Config{NumWorkers: 1, MaxQueueSize: 16})
	var got atomic.Value
	d.Register("TEST", func(payload any) { got.Store(payload) })
	d.Start()
	defer d.Stop()

	if !d.Put("TEST", "data1", event.Normal, "", true, time.Second) {
		t.Fatal("put failed")
	}
	waitFor(t, func() bool { return got.Load() != nil })
	if got.Load().(string) != "data1" {
		t.Fatalf("got %v, want data1", got.Load())
	}
}

func TestPriorityOrderingSingleWorker(t *testing.T) {
	d := New(Config{NumWorkers: 1, MaxQueueSize: 16, BackpressureEnabled: false})

	var mu sync.Mutex
	var order []string
	d.Register("TEST", func(payload any) {
		mu.Lock()
		order = append(order, payload.(string))
		mu.Unlock()
	})

	// Enqueue before starting workers so all five land in the heap first,
	// guaranteeing the single worker drains them in priority order.
	d.Put("TEST", "low", event.Low, "", false, 0)
	d.Put("TEST", "critical", event.Critical, "", false, 0)
	d.Put("TEST", "normal", event.Normal, "", false, 0)
	d.Put("TEST", "high", event.High, "", false, 0)
	d.Put("TEST", "bg", event.Background, "", false, 0)

	d.Start()
	defer d.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})

	want := []string{"critical", "high", "normal", "low", "bg"}
	mu.Lock()
	defer mu.Unlock()
	for i, w := range want {
		if order[i] != w {
			t.Errorf("order[%d] = %q, want %q (full order: %v)", i, order[i], w, order)
		}
	}
}

func TestHandlerFaultDoesNotStopWorker(t *testing.T) {
	d := New(Config{NumWorkers: 1, MaxQueueSize: 16})
	var processed atomic.Int32
	d.Register("TEST", func(payload any) {
		if payload == "boom" {
			panic("handler fault")
		}
		processed.Add(1)
	})
	d.Start()
	defer d.Stop()

	d.Put("TEST", "boom", event.Normal, "", true, time.Second)
	d.Put("TEST", "ok", event.Normal, "", true, time.Second)

	waitFor(t, func() bool { return processed.Load() == 1 })
}

func TestBackpressureDropsNonCritical(t *testing.T) {
	d := New(Config{
		NumWorkers:            1,
		MaxQueueSize:          10,
		BackpressureEnabled:   true,
		BackpressureThreshold: 0.5,
	})
	d.Register("TEST", func(payload any) {
		time.Sleep(50 * time.Millisecond)
	})
	d.Start()
	defer d.Stop()

	var anyFalse bool
	for i := 0; i < 20; i++ {
		if !d.Put("TEST", i, event.Normal, "", false, 0) {
			anyFalse = true
		}
	}

	if !anyFalse {
		t.Fatal("expected at least one Put to be dropped under load")
	}
	stats := d.GetStats()
	if stats.Dropped == 0 {
		t.Fatal("expected stats.Dropped > 0")
	}
}

func TestCriticalSurvivesSaturation(t *testing.T) {
	d := New(Config{
		NumWorkers:          1,
		MaxQueueSize:        6,
		BackpressureEnabled: false,
	})
	// No workers started: fill 5 of 6 slots with NORMAL events, leaving one
	// free slot for the CRITICAL put below (a full bounded queue is allowed
	// to reject even CRITICAL; a queue with space remaining must not).
	for i := 0; i < 5; i++ {
		if !d.Put("TEST", i, event.Normal, "", false, 0) {
			t.Fatalf("expected NORMAL put %d to succeed while filling queue", i)
		}
	}

	if !d.Put("TEST", "urgent", event.Critical, "", false, 0) {
		t.Fatal("expected CRITICAL put to succeed while a slot remains")
	}

	ev, ok := d.queue.Get(false, 0)
	if !ok {
		t.Fatal("expected an event to be dequeuable")
	}
	if ev.Priority != event.Critical {
		t.Fatalf("expected CRITICAL to be dequeued first, got %v", ev.Priority)
	}
}

func TestGracefulDegradationReportsUnhealthy(t *testing.T) {
	d := New(Config{
		NumWorkers:                 1,
		MaxQueueSize:               4,
		BackpressureEnabled:        true,
		BackpressureThreshold:      0.1,
		GracefulDegradationEnabled: true,
		UnhealthyDropRate:          0.05,
	})
	d.Register("TEST", func(payload any) { time.Sleep(20 * time.Millisecond) })
	d.Start()
	defer d.Stop()

	for i := 0; i < 50; i++ {
		d.Put("TEST", i, event.Normal, "", false, 0)
	}

	if d.IsHealthy() {
		t.Fatal("expected dispatcher to report unhealthy under sustained drops")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	d := New(Config{NumWorkers: 2, MaxQueueSize: 8})
	d.Start()
	d.Start()
	d.Stop()
	d.Stop()
	if d.IsRunning() {
		t.Fatal("expected dispatcher to be stopped")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
