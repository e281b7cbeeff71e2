package clanwarden

import (
	"context"
	"fmt"
	"time"

	"github.com/lmittmann/tint"
)

// scheduledJob is a named function run once per day at a fixed wall-clock
// time. Jobs are idempotent per run; there's no suppression of duplicate
// output across runs, and no retry on failure.
type scheduledJob struct {
	name string

	// at is the daily trigger time in "15:04" form, local time
	at string

	run func(ctx context.Context) error
}

// nextRunTime returns the next occurrence of the "15:04" wall-clock time
// strictly after now.
func nextRunTime(now time.Time, at string) (time.Time, error) {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule time %q: %w", at, err)
	}
	next := time.Date(
		now.Year(),
		now.Month(),
		now.Day(),
		parsed.Hour(),
		parsed.Minute(),
		0,
		0,
		now.Location(),
	)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

// startScheduler launches one goroutine per job, each sleeping until the
// job's next daily trigger. Job errors are logged and swallowed - a run
// that overlaps its interval is not guarded against, it just results in
// overlapping logical runs.
func (c *ClanWarden) startScheduler(ctx context.Context, jobs []scheduledJob) error {
	logger := c.logger.With(loggerNameKey, "scheduler")

	// validate all trigger times up front, so a typo fails startup instead
	// of a goroutine
	for _, job := range jobs {
		if _, err := nextRunTime(time.Now(), job.at); err != nil {
			return fmt.Errorf("job %s: %w", job.name, err)
		}
	}

	for i := range jobs {
		job := jobs[i]
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				next, err := nextRunTime(time.Now(), job.at)
				if err != nil {
					logger.Error("bad schedule", "job", job.name, tint.Err(err))
					return
				}
				logger.Info(
					"job scheduled",
					"job", job.name,
					"next_run", next,
				)
				timer := time.NewTimer(time.Until(next))
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				started := time.Now()
				if runErr := job.run(ctx); runErr != nil {
					logger.Error(
						"job failed",
						"job", job.name,
						"elapsed", time.Since(started),
						tint.Err(runErr),
					)
				} else {
					logger.Info(
						"job completed",
						"job", job.name,
						"elapsed", time.Since(started),
					)
				}
			}
		}()
	}
	logger.Info("jobs scheduled", "count", len(jobs))
	return nil
}
