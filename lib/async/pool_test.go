package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foliostream/gateway/errs"
)

func TestPoolExecutesSubmittedTasks(t *testing.T) {
	pool, err := NewPool(2, 4)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	var executed atomic.Int64
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		last := i == 2
		err := pool.Submit(context.Background(), func(context.Context) error {
			executed.Add(1)
			if last {
				close(done)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run")
	}
	if got := executed.Load(); got < 3 {
		t.Fatalf("executed = %d, want 3", got)
	}
}

func TestPoolRejectsNilTask(t *testing.T) {
	pool, err := NewPool(1, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Submit(context.Background(), nil); !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("nil task: want invalid_request, got %v", err)
	}
}

func TestPoolBackpressureWhenSaturated(t *testing.T) {
	pool, err := NewPool(1, 0)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	if err := pool.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-block
		return nil
	}); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-started

	// Worker busy and queue empty-capacity: the next submit must be refused
	// rather than queued unboundedly.
	err = pool.Submit(context.Background(), func(context.Context) error { return nil })
	if !errs.IsCode(err, errs.CodeUnavailable) {
		t.Fatalf("saturated submit: want unavailable, got %v", err)
	}
	close(block)
}

func TestPoolShutdownWaitsForInflight(t *testing.T) {
	pool, err := NewPool(1, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	var finished atomic.Bool
	started := make(chan struct{})
	if err := pool.Submit(context.Background(), func(context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !finished.Load() {
		t.Fatal("shutdown returned before in-flight task completed")
	}
}

func TestPoolRefusesAfterClose(t *testing.T) {
	pool, err := NewPool(1, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Close()

	if err := pool.Submit(context.Background(), func(context.Context) error { return nil }); !errs.IsCode(err, errs.CodeUnavailable) {
		t.Fatalf("submit after close: want unavailable, got %v", err)
	}
}
