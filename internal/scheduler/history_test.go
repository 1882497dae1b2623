package scheduler

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoadHistory(t *testing.T) {
	historyPath := filepath.Join(t.TempDir(), "ftn", "job_history.json")

	history := map[string]*JobHistory{
		"toss": {
			Job:           "toss",
			LastRun:       time.Now().UTC().Truncate(time.Second),
			LastStatus:    "success",
			LastDuration:  1234,
			LastProcessed: 7,
			RunCount:      5,
			SuccessCount:  4,
			FailureCount:  1,
		},
		"pack": {
			Job:          "pack",
			LastRun:      time.Now().UTC().Add(-1 * time.Hour).Truncate(time.Second),
			LastStatus:   "failure",
			LastError:    "disk full",
			LastDuration: 5678,
			RunCount:     10,
			SuccessCount: 8,
			FailureCount: 2,
			SkippedCount: 3,
		},
	}

	if err := SaveHistory(historyPath, history); err != nil {
		t.Fatalf("Failed to save history: %v", err)
	}
	if _, err := os.Stat(historyPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
	data, _ := os.ReadFile(historyPath)
	if strings.Index(string(data), `"pack"`) > strings.Index(string(data), `"toss"`) {
		t.Error("history should be sorted by job name")
	}

	loadedHistory, err := LoadHistory(historyPath)
	if err != nil {
		t.Fatalf("Failed to load history: %v", err)
	}
	if len(loadedHistory) != len(history) {
		t.Errorf("Expected %d history entries, got %d", len(history), len(loadedHistory))
	}
	for job, expected := range history {
		loaded, exists := loadedHistory[job]
		if !exists {
			t.Errorf("Job %s not found in loaded history", job)
			continue
		}
		if !loaded.LastRun.Equal(expected.LastRun) || loaded.LastStatus != expected.LastStatus {
			t.Errorf("%s: got %+v, want %+v", job, loaded, expected)
		}
		if loaded.RunCount != expected.RunCount || loaded.LastError != expected.LastError ||
			loaded.SkippedCount != expected.SkippedCount || loaded.LastProcessed != expected.LastProcessed {
			t.Errorf("%s: got %+v, want %+v", job, loaded, expected)
		}
	}
}

func TestLoadHistory_FileNotExists(t *testing.T) {
	history, err := LoadHistory(filepath.Join(t.TempDir(), "nonexistent.json"))
	if err != nil {
		t.Fatalf("Expected no error for missing file, got: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Expected empty history, got %d entries", len(history))
	}
}

func TestLoadHistory_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json"), 0644)
	if _, err := LoadHistory(path); err == nil {
		t.Error("expected an error for corrupt history")
	}
	// the scheduler starts with empty history instead of failing
	s := NewScheduler(path)
	if len(s.GetHistory()) != 0 {
		t.Error("corrupt history should be discarded")
	}
}

func TestUpdateHistory(t *testing.T) {
	s := NewScheduler("")
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	s.updateHistory(JobResult{
		Job:       "toss",
		StartTime: start,
		EndTime:   start.Add(1500 * time.Millisecond),
		Processed: 3,
	})

	h, exists := s.GetHistory()["toss"]
	if !exists {
		t.Fatal("History entry was not created")
	}
	if h.LastStatus != "success" || h.RunCount != 1 || h.SuccessCount != 1 || h.FailureCount != 0 {
		t.Errorf("after success: %+v", h)
	}
	if h.LastDuration != 1500 || h.LastProcessed != 3 || !h.LastRun.Equal(start.Add(1500*time.Millisecond)) {
		t.Errorf("after success: %+v", h)
	}

	s.updateHistory(JobResult{
		Job:       "toss",
		StartTime: start,
		EndTime:   start.Add(time.Second),
		Error:     errors.New("inbound unreadable"),
	})
	h = s.GetHistory()["toss"]
	if h.RunCount != 2 || h.SuccessCount != 1 || h.FailureCount != 1 {
		t.Errorf("after failure: %+v", h)
	}
	if h.LastStatus != "failure" || h.LastError != "inbound unreadable" {
		t.Errorf("after failure: %+v", h)
	}

	s.updateHistory(JobResult{Job: "toss", StartTime: start, EndTime: start})
	if h := s.GetHistory()["toss"]; h.LastError != "" {
		t.Errorf("LastError should clear on success, got %q", h.LastError)
	}
}
