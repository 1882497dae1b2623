// Package scheduler runs the daemon's in-process jobs (toss, pack) on
// cron schedules and on demand, never overlapping two runs of one job,
// and keeps a JSON history of their outcomes.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/metrics"
)

// cronParser accepts a leading seconds field and descriptors.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler manages scheduled job execution
type Scheduler struct {
	jobs        map[string]Job
	order       []string
	cron        *cron.Cron
	history     map[string]*JobHistory
	historyPath string
	running     map[string]bool
	metrics     *metrics.Metrics
	wg          sync.WaitGroup
	mu          sync.RWMutex
	saveMu      sync.Mutex
	ctx         context.Context
	now         func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records job durations and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler persisting history to historyPath. An
// empty path keeps history in memory only.
func NewScheduler(historyPath string, opts ...Option) *Scheduler {
	history := make(map[string]*JobHistory)
	if historyPath != "" {
		loaded, err := LoadHistory(historyPath)
		if err != nil {
			logging.Warn("failed to load job history from %s: %v", historyPath, err)
		} else {
			history = loaded
		}
	}

	s := &Scheduler{
		jobs:        make(map[string]Job),
		history:     history,
		historyPath: historyPath,
		running:     make(map[string]bool),
		ctx:         context.Background(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add registers a job. Its schedule, if any, is validated here.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a function")
	}
	if job.Schedule != "" {
		if _, err := cronParser.Parse(job.Schedule); err != nil {
			return fmt.Errorf("scheduler: job %q: bad schedule %q: %w", job.Name, job.Schedule, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("scheduler: duplicate job %q", job.Name)
	}
	s.jobs[job.Name] = job
	s.order = append(s.order, job.Name)
	return nil
}

// Start schedules every job with a cron expression and blocks until ctx
// is cancelled. Running jobs are waited for before it returns.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.cron = cron.New(cron.WithParser(cronParser))
	scheduled := 0
	for _, name := range s.order {
		job := s.jobs[name]
		if job.Schedule == "" {
			logging.Debug("job '%s' has no schedule, runs on demand only", name)
			continue
		}
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.runIfIdle(job) }); err != nil {
			logging.Error("failed to schedule job '%s': %v", name, err)
			continue
		}
		scheduled++
		logging.Info("job '%s' scheduled: %s", name, job.Schedule)
	}
	s.cron.Start()
	s.mu.Unlock()

	logging.Info("scheduler running with %d scheduled jobs", scheduled)
	<-ctx.Done()

	logging.Info("scheduler stopping...")
	s.Stop()
}

// Stop stops the cron and waits for running jobs, then saves history.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	c := s.cron
	s.mu.RUnlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
	s.saveHistory()
}

// Trigger starts job name in the background unless it is already
// running. It reports whether the job was started.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		logging.Warn("trigger of unknown job '%s'", name)
		return false
	}
	if !s.claim(name) {
		s.recordSkip(name)
		logging.Debug("job '%s' already running, trigger ignored", name)
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runClaimed(job)
	}()
	return true
}

// RunNow runs job name synchronously. ok is false when the job is unknown
// or already running.
func (s *Scheduler) RunNow(name string) (result JobResult, ok bool) {
	s.mu.RLock()
	job, known := s.jobs[name]
	s.mu.RUnlock()
	if !known || !s.claim(name) {
		if known {
			s.recordSkip(name)
		}
		return JobResult{}, false
	}
	return s.runClaimed(job), true
}

// runIfIdle is the cron entry point.
func (s *Scheduler) runIfIdle(job Job) {
	if !s.claim(job.Name) {
		s.recordSkip(job.Name)
		logging.Warn("job '%s' skipped: already running", job.Name)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.runClaimed(job)
}

// claim marks name as running; false means it already was.
func (s *Scheduler) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) runClaimed(job Job) JobResult {
	defer func() {
		s.mu.Lock()
		delete(s.running, job.Name)
		s.mu.Unlock()
	}()

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	result := s.execute(ctx, job)
	s.updateHistory(result)
	s.metrics.JobFinished(job.Name, result.duration(), result.EndTime, result.Error)
	s.saveHistory()
	return result
}

func (s *Scheduler) saveHistory() {
	if s.historyPath == "" {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := SaveHistory(s.historyPath, s.history); err != nil {
		logging.Error("failed to save job history: %v", err)
	}
}

// GetHistory returns a copy of the job history
func (s *Scheduler) GetHistory() map[string]*JobHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	historyCopy := make(map[string]*JobHistory, len(s.history))
	for k, v := range s.history {
		hCopy := *v
		historyCopy[k] = &hCopy
	}
	return historyCopy
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	return names
}
