package fetch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retrySchedule computes the delay before each streaming retry. The
// attempt budget lives in the Transfer; this only answers "how long to
// wait", which keeps the retry policy testable without a network.
type retrySchedule struct {
	b *backoff.ExponentialBackOff
}

// newRetrySchedule creates an exponential backoff schedule with jitter,
// growing from base towards max
func newRetrySchedule(base, max time.Duration) *retrySchedule {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	// The attempt counter caps retries, not elapsed time
	b.MaxElapsedTime = 0
	b.Reset()
	return &retrySchedule{b: b}
}

// next returns the delay to wait before the upcoming retry
func (r *retrySchedule) next() time.Duration {
	return r.b.NextBackOff()
}

// sleep waits out d, returning early with the context error if the
// caller cancels
func (r *retrySchedule) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
