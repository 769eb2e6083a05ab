package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/patcreator/alx-backend-security/internal/support"
)

// Job is a task run on a live-reloadable interval.
type Job struct {
	Name string

	// LockKey makes the job leader-only across instances. Empty runs it on
	// every instance.
	LockKey string

	Fallback time.Duration
	Updates  <-chan time.Duration
	Run      func(ctx context.Context) error
}

// StartPeriodic blocks until ctx is done, running job once at start and then
// on every tick. Interval changes from job.Updates reschedule the ticker.
func StartPeriodic(ctx context.Context, job Job, elector support.Elector) {
	if ctx == nil {
		ctx = context.Background()
	}
	if job.Fallback <= 0 {
		job.Fallback = time.Hour
	}

	var intervalValue atomic.Value
	intervalValue.Store(job.Fallback)

	updateSignal := make(chan struct{}, 1)
	if job.Updates != nil {
		// The first value is delivered on subscription.
		select {
		case initial := <-job.Updates:
			if initial > 0 {
				intervalValue.Store(initial)
			}
		default:
		}

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case newInterval := <-job.Updates:
					if newInterval <= 0 {
						newInterval = job.Fallback
					}
					intervalValue.Store(newInterval)
					select {
					case updateSignal <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	loop := func(loopCtx context.Context) {
		runPeriodicLoop(loopCtx, job, &intervalValue, updateSignal)
	}

	if job.LockKey == "" || elector == nil {
		loop(ctx)
		return
	}

	err := elector.RunWithLeader(ctx, job.LockKey, support.DefaultLeadershipTTL, loop)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Periodic job stopped", "job", job.Name, "error", err)
	}
}

func runPeriodicLoop(ctx context.Context, job Job, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	currentInterval := intervalValue.Load().(time.Duration)

	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	runOnce(ctx, job)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, job)
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval == currentInterval {
				continue
			}
			drainTicker(ticker)
			currentInterval = newInterval
			ticker.Reset(currentInterval)
			log.Debug("Periodic job rescheduled", "job", job.Name, "interval", currentInterval)
		}
	}
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}

func runOnce(ctx context.Context, job Job) {
	if job.Run == nil {
		return
	}
	start := time.Now()

	err := job.Run(ctx)
	switch {
	case err == nil:
		log.Debug("Periodic job completed", "job", job.Name, "duration", time.Since(start))
	case errors.Is(err, context.Canceled):
		log.Info("Periodic job canceled", "job", job.Name, "duration", time.Since(start))
	default:
		log.Error("Periodic job failed", "job", job.Name, "error", err)
	}
}
