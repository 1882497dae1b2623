package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/stlalpha/v3ftn/internal/logging"
)

// LoadHistory loads job history from a JSON file
func LoadHistory(path string) (map[string]*JobHistory, error) {
	history := make(map[string]*JobHistory)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Info("job history file not found at %s, starting with empty history", path)
		return history, nil
	}
	if err != nil {
		return nil, err
	}

	var historyList []JobHistory
	if err := json.Unmarshal(data, &historyList); err != nil {
		return nil, err
	}
	for i := range historyList {
		history[historyList[i].Job] = &historyList[i]
	}

	logging.Debug("loaded job history for %d jobs from %s", len(history), path)
	return history, nil
}

// SaveHistory saves job history to a JSON file, sorted by job name. The
// file is replaced atomically.
func SaveHistory(path string, history map[string]*JobHistory) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	historyList := make([]JobHistory, 0, len(history))
	for _, h := range history {
		historyList = append(historyList, *h)
	}
	sort.Slice(historyList, func(i, j int) bool { return historyList[i].Job < historyList[j].Job })

	data, err := json.MarshalIndent(historyList, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// entry returns the history entry of job, creating it. Caller holds s.mu.
func (s *Scheduler) entry(job string) *JobHistory {
	h, ok := s.history[job]
	if !ok {
		h = &JobHistory{Job: job}
		s.history[job] = h
	}
	return h
}

// updateHistory records a completed run
func (s *Scheduler) updateHistory(result JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.entry(result.Job)
	h.LastRun = result.EndTime
	h.LastDuration = result.duration().Milliseconds()
	h.LastProcessed = result.Processed
	h.LastStatus = statusOf(result)
	h.LastError = ""
	h.RunCount++
	if result.Success() {
		h.SuccessCount++
	} else {
		h.LastError = result.Error.Error()
		h.FailureCount++
	}

	logging.Debug("updated history for job '%s': status=%s, duration=%dms, runs=%d, success=%d, failures=%d",
		result.Job, h.LastStatus, h.LastDuration, h.RunCount, h.SuccessCount, h.FailureCount)
}

// recordSkip counts a run that did not start because the job was busy.
func (s *Scheduler) recordSkip(job string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(job).SkippedCount++
}
