package pqueue

import (
	"testing"
	"time"

	"github.com/ndrandal/quantcell/internal/event"
)

func put(t *testing.T, q *Queue, priority event.Priority, data string) {
	t.Helper()
	ev := &event.Event{Priority: priority, Sequence: event.NextSequence(), Payload: data}
	if !q.Put(ev, false, 0) {
		t.Fatalf("put(%s) failed unexpectedly", data)
	}
}

func TestPriorityOrdering(t *testing.T) {
	q := New(10)
	put(t, q, event.Low, "low")
	put(t, q, event.Critical, "critical")
	put(t, q, event.Normal, "normal")
	put(t, q, event.High, "high")
	put(t, q, event.Background, "bg")

	want := []string{"critical", "high", "normal", "low", "bg"}
	for _, w := range want {
		ev, ok := q.Get(false, 0)
		if !ok {
			t.Fatalf("expected %q, got empty queue", w)
		}
		if got := ev.Payload.(string); got != w {
			t.Errorf("got %q, want %q", got, w)
		}
	}
}

func TestSamePriorityFIFO(t *testing.T) {
	q := New(10)
	for i := 0; i < 5; i++ {
		put(t, q, event.Normal, string(rune('a'+i)))
	}
	for i := 0; i < 5; i++ {
		ev, ok := q.Get(false, 0)
		if !ok {
			t.Fatal("expected event, got none")
		}
		want := string(rune('a' + i))
		if got := ev.Payload.(string); got != want {
			t.Errorf("FIFO violated: got %q, want %q", got, want)
		}
	}
}

func TestPutNonBlockingFailsWhenFull(t *testing.T) {
	q := New(2)
	put(t, q, event.Normal, "a")
	put(t, q, event.Normal, "b")
	ev := &event.Event{Priority: event.Normal, Sequence: event.NextSequence(), Payload: "c"}
	if q.Put(ev, false, 0) {
		t.Fatal("expected Put to fail on full queue")
	}
	if !q.IsFull() {
		t.Fatal("expected IsFull to be true")
	}
}

func TestGetBlockingTimeout(t *testing.T) {
	q := New(2)
	start := time.Now()
	_, ok := q.Get(true, 20*time.Millisecond)
	if ok {
		t.Fatal("expected timeout on empty queue")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
}

func TestPutBlockingUnblocksOnGet(t *testing.T) {
	q := New(1)
	put(t, q, event.Normal, "a")

	done := make(chan bool, 1)
	go func() {
		ev := &event.Event{Priority: event.Normal, Sequence: event.NextSequence(), Payload: "b"}
		done <- q.Put(ev, true, time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	if _, ok := q.Get(false, 0); !ok {
		t.Fatal("expected to dequeue first event")
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected blocked Put to succeed after space freed")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Put never returned")
	}
}

func TestSizeCapacity(t *testing.T) {
	q := New(5)
	if q.Capacity() != 5 {
		t.Fatalf("capacity = %d, want 5", q.Capacity())
	}
	put(t, q, event.Normal, "a")
	put(t, q, event.Normal, "b")
	if q.Size() != 2 {
		t.Fatalf("size = %d, want 2", q.Size())
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	q := New(1)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(true, time.Second)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected Get to fail after close on empty queue")
		}
	case <-time.After(time.Second):
		t.Fatal("Get never woke up after Close")
	}
}
