package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/stlalpha/v3ftn/internal/logging"
)

// execute runs one job with its timeout and returns the result. A panic in
// the job is recovered and reported as a failure so the daemon keeps
// running.
func (s *Scheduler) execute(ctx context.Context, job Job) (result JobResult) {
	result = JobResult{
		Job:       job.Name,
		StartTime: s.now(),
	}

	logging.Debug("job '%s' started", job.Name)

	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Errorf("panic: %v", r)
			logging.Error("job '%s' panicked: %v\n%s", job.Name, r, debug.Stack())
		}
		result.EndTime = s.now()
		s.logResult(job, result)
	}()

	result.Processed, result.Error = job.Run(runCtx)
	if result.Error == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.Error = runCtx.Err()
	}
	return result
}

func (s *Scheduler) logResult(job Job, result JobResult) {
	d := result.EndTime.Sub(result.StartTime)
	switch {
	case errors.Is(result.Error, context.DeadlineExceeded):
		logging.Error("job '%s' timed out after %s", job.Name, job.Timeout)
	case result.Error != nil:
		logging.Error("job '%s' failed after %.3fs: %v", job.Name, d.Seconds(), result.Error)
	case result.Processed > 0:
		logging.Info("job '%s' completed in %.3fs (%d processed)", job.Name, d.Seconds(), result.Processed)
	default:
		logging.Debug("job '%s' completed in %.3fs, nothing to do", job.Name, d.Seconds())
	}
}

// statusOf maps a result to its history status.
func statusOf(result JobResult) string {
	switch {
	case result.Error == nil:
		return "success"
	case errors.Is(result.Error, context.DeadlineExceeded):
		return "timeout"
	}
	return "failure"
}

// duration is the run time, never negative.
func (r JobResult) duration() time.Duration {
	if d := r.EndTime.Sub(r.StartTime); d > 0 {
		return d
	}
	return 0
}
