// Package retry provides the bounded polling primitive used at every polling
// site in the service. Total wait is always attempts x interval; there are no
// unbounded loops.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when all attempts completed without success.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Poll calls fn up to attempts times, waiting interval between calls, and
// returns nil as soon as fn reports done. A non-nil error from fn aborts
// immediately; transient conditions should be signaled by (false, nil).
func Poll(ctx context.Context, attempts int, interval time.Duration, fn func(ctx context.Context) (done bool, err error)) error {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrExhausted
}
