package mount

import (
	"context"
	"time"

	"github.com/banshee-data/beamalign/internal/timeutil"
)

// retry calls fn up to attempts times, sleeping delay on clock between calls,
// until fn reports done. It returns the last result, the number of calls made
// and ctx's error if the context ended the loop early.
func retry[T any](ctx context.Context, clock timeutil.Clock, attempts int, delay time.Duration, fn func(attempt int) (T, bool)) (T, int, error) {
	var last T
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := timeutil.SleepContext(ctx, clock, delay); err != nil {
				return last, attempt - 1, err
			}
		}
		result, done := fn(attempt)
		last = result
		if done {
			return last, attempt, nil
		}
	}
	return last, attempts, nil
}
