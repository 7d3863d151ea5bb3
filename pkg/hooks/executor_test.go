package hooks

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestExecutorThreadSensitiveOrder(t *testing.T) {
	e := NewExecutor(4)
	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		e.Go(ModeThreadSensitive, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("serialized work ran out of order: %v", order)
		}
	}
	if len(order) != 50 {
		t.Errorf("ran %d tasks, want 50", len(order))
	}
}

func TestExecutorPoolLimit(t *testing.T) {
	e := NewExecutor(2)
	var running, peak atomic.Int32
	gate := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		e.Go(ModePool, func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-gate
			running.Add(-1)
		})
	}
	close(gate)
	wg.Wait()
	_ = e.Close()
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestExecutorAfterClose(t *testing.T) {
	e := NewExecutor(1)
	_ = e.Close()
	done := make(chan struct{})
	e.Go(ModeThreadSensitive, func() { close(done) })
	<-done
}

func TestRefetchRegistry(t *testing.T) {
	r := NewRefetchRegistry()
	q := NewQuery[int]("q", nil)
	var calls atomic.Int32
	remove := r.Add(q, func() { calls.Add(1) })
	r.Add(q, func() { calls.Add(1) })

	if n := r.Trigger(q); n != 2 || calls.Load() != 2 {
		t.Errorf("Trigger = %d, calls = %d", n, calls.Load())
	}
	remove()
	if r.Count(q) != 1 {
		t.Errorf("Count = %d, want 1", r.Count(q))
	}
}
