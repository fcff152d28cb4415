package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskbridgeco/taskbridge/internal/bus"
)

func TestRegistry_ResolveReachesWaiter(t *testing.T) {
	r := NewRegistry()
	job := r.NewJob("https://files.example/img.jpg", "image/jpeg")

	go func() {
		r.Resolve(bus.MediaResult{
			CorrelationID: job.CorrelationID,
			Description:   "a broken valve",
		})
	}()

	res, err := r.Wait(context.Background(), job, time.Second)
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if res.Description != "a broken valve" {
		t.Errorf("description = %q", res.Description)
	}
	if r.Pending() != 0 {
		t.Errorf("pending = %d, want 0", r.Pending())
	}
}

func TestRegistry_Timeout(t *testing.T) {
	r := NewRegistry()
	job := r.NewJob("ref", "image/png")

	_, err := r.Wait(context.Background(), job, 20*time.Millisecond)
	if !errors.Is(err, ErrMediaTimeout) {
		t.Fatalf("Wait = %v, want ErrMediaTimeout", err)
	}
	if r.Pending() != 0 {
		t.Errorf("timed-out job should be dropped, pending = %d", r.Pending())
	}
}

func TestRegistry_LateResultDropped(t *testing.T) {
	r := NewRegistry()
	job := r.NewJob("ref", "image/png")

	if _, err := r.Wait(context.Background(), job, 10*time.Millisecond); err == nil {
		t.Fatal("expected timeout")
	}

	if r.Resolve(bus.MediaResult{CorrelationID: job.CorrelationID, Description: "late"}) {
		t.Error("late result should not find a waiter")
	}
}

func TestRegistry_UnknownCorrelationID(t *testing.T) {
	r := NewRegistry()
	if r.Resolve(bus.MediaResult{CorrelationID: "nope"}) {
		t.Error("unknown correlation ID should resolve to false")
	}
}

func TestRegistry_SlotsIndependent(t *testing.T) {
	r := NewRegistry()
	jobA := r.NewJob("a", "image/png")
	jobB := r.NewJob("b", "image/png")

	var wg sync.WaitGroup
	results := make(map[string]string)
	var mu sync.Mutex

	for name, job := range map[string]*Job{"a": jobA, "b": jobB} {
		wg.Add(1)
		go func(name string, job *Job) {
			defer wg.Done()
			res, err := r.Wait(context.Background(), job, time.Second)
			if err != nil {
				t.Errorf("waiter %s: %v", name, err)
				return
			}
			mu.Lock()
			results[name] = res.Description
			mu.Unlock()
		}(name, job)
	}

	r.Resolve(bus.MediaResult{CorrelationID: jobB.CorrelationID, Description: "result B"})
	r.Resolve(bus.MediaResult{CorrelationID: jobA.CorrelationID, Description: "result A"})
	wg.Wait()

	if results["a"] != "result A" || results["b"] != "result B" {
		t.Errorf("results crossed wires: %v", results)
	}
}

func TestJob_CompleteExactlyOnce(t *testing.T) {
	r := NewRegistry()
	job := r.NewJob("ref", "image/png")

	// Both calls race; only the first lands in the slot.
	job.complete(bus.MediaResult{Description: "first"})
	job.complete(bus.MediaResult{Description: "second"})

	res, err := r.Wait(context.Background(), job, time.Second)
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if res.Description != "first" {
		t.Errorf("description = %q, want the first completion", res.Description)
	}

	select {
	case extra := <-job.slot:
		t.Errorf("slot held a second result: %+v", extra)
	default:
	}
}

func TestRegistry_ContextCancelled(t *testing.T) {
	r := NewRegistry()
	job := r.NewJob("ref", "image/png")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Wait(ctx, job, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}
