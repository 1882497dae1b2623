package scheduler

import (
	"context"
	"time"
)

// JobFunc does one run of a job and reports how many items it handled.
type JobFunc func(ctx context.Context) (processed int, err error)

// Job is an in-process task run on a cron schedule, on demand, or both.
type Job struct {
	Name string
	// Schedule is a cron expression with a leading seconds field, or a
	// descriptor such as "@every 5m". Empty means the job only runs when
	// triggered.
	Schedule string
	Timeout  time.Duration
	Run      JobFunc
}

// JobResult captures the outcome of one job run
type JobResult struct {
	Job       string
	StartTime time.Time
	EndTime   time.Time
	Processed int
	Error     error
}

// Success reports whether the run returned no error.
func (r JobResult) Success() bool { return r.Error == nil }

// JobHistory tracks historical execution data for a job
type JobHistory struct {
	Job           string    `json:"job"`
	LastRun       time.Time `json:"last_run"`
	LastStatus    string    `json:"last_status"` // "success", "failure", "timeout"
	LastError     string    `json:"last_error,omitempty"`
	LastDuration  int64     `json:"last_duration_ms"`
	LastProcessed int       `json:"last_processed"`
	RunCount      int       `json:"run_count"`
	SuccessCount  int       `json:"success_count"`
	FailureCount  int       `json:"failure_count"`
	SkippedCount  int       `json:"skipped_count"`
}
