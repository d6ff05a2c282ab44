package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRunsTask(t *testing.T) {
	r := NewRunner(context.Background(), time.Second)

	var ran atomic.Bool
	r.Go("test", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	if !r.Wait(time.Second) {
		t.Fatal("Wait() timed out")
	}
	if !ran.Load() {
		t.Error("task did not run")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	r := NewRunner(context.Background(), time.Second)

	r.Go("panics", func(ctx context.Context) error {
		panic("boom")
	})
	r.Go("survives", func(ctx context.Context) error {
		return errors.New("logged, not propagated")
	})

	if !r.Wait(time.Second) {
		t.Fatal("Wait() timed out; panic leaked")
	}
}

func TestGoAfterDelays(t *testing.T) {
	r := NewRunner(context.Background(), time.Second)

	start := time.Now()
	var elapsed atomic.Int64
	r.GoAfter("deferred", 20*time.Millisecond, func(ctx context.Context) error {
		elapsed.Store(int64(time.Since(start)))
		return nil
	})

	if !r.Wait(time.Second) {
		t.Fatal("Wait() timed out")
	}
	if time.Duration(elapsed.Load()) < 20*time.Millisecond {
		t.Errorf("task ran after %v, want >= 20ms", time.Duration(elapsed.Load()))
	}
}

func TestGoAfterCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(ctx, time.Second)

	var ran atomic.Bool
	r.GoAfter("never", time.Hour, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	cancel()

	if !r.Wait(time.Second) {
		t.Fatal("Wait() timed out")
	}
	if ran.Load() {
		t.Error("task ran despite canceled runner context")
	}
}
