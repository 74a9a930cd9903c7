package producer

import (
	"context"

	"github.com/featureload/internal/model"
	"golang.org/x/time/rate"
)

// Run enqueues one job per row in [0, rows), then sends numSentinels
// sentinels (nil). A non-nil limiter paces the puts. It stops early and
// returns ctx.Err() when ctx is done; sentinels are still sent so workers
// drain and exit.
func Run(ctx context.Context, rows int, queue chan<- *model.PutJob, limiter *rate.Limiter, numSentinels int) error {
	var err error
	for i := 0; i < rows && err == nil; i++ {
		if limiter != nil {
			if err = limiter.Wait(ctx); err != nil {
				break
			}
		}
		select {
		case queue <- &model.PutJob{Row: i}:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	for i := 0; i < numSentinels; i++ {
		queue <- nil
	}
	return err
}

// NewLimiter returns a limiter allowing rowsPerSecond puts per second, or
// nil when rowsPerSecond is not positive.
func NewLimiter(rowsPerSecond int) *rate.Limiter {
	if rowsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rowsPerSecond), 1)
}
