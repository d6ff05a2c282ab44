package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollSucceedsEarly(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), 5, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return calls == 2, nil
	})
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (early exit)", calls)
	}
}

func TestPollExhausts(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), 3, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("Poll() error = %v, want ErrExhausted", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPollAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Poll(context.Background(), 5, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Poll() error = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPollHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Poll(ctx, 3, 50*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Poll() error = %v, want context.Canceled", err)
	}
}
