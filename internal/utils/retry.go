package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sethvargo/go-retry"
)

// Attempts is a bounded retry policy with a fixed delay between tries.
// Delays are measured on Clock so tests can drive them with a mock.
type Attempts struct {
	Max   int
	Delay time.Duration
	Clock clock.Clock
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// attempts run out. The last error is returned.
func (a Attempts) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	clk := a.Clock
	if clk == nil {
		clk = clock.New()
	}
	max := a.Max
	if max < 1 {
		max = 1
	}

	backoff := retry.WithMaxRetries(uint64(max-1), retry.NewConstant(maxDuration(a.Delay, time.Nanosecond)))

	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}

		next, stop := backoff.Next()
		if stop {
			return err
		}
		if a.Delay <= 0 {
			if ctx.Err() != nil {
				return err
			}
			continue
		}

		timer := clk.Timer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
