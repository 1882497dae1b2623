package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stlalpha/v3ftn/internal/logging"
)

// Watcher calls a function once a directory has been quiet for the
// debounce interval after files were created in or moved into it. Hidden
// names (work directories) and partial .tmp files are ignored.
type Watcher struct {
	dir      string
	debounce time.Duration
	fire     func()
}

// NewWatcher watches dir and calls fire after debounce.
func NewWatcher(dir string, debounce time.Duration, fire func()) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{dir: dir, debounce: debounce, fire: fire}
}

// relevant reports whether an event should start the debounce timer.
func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(strings.ToLower(name), ".tmp")
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	logging.Info("watching %s (debounce %s)", w.dir, w.debounce)

	// Reset without draining relies on the Go 1.23 timer semantics.
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			logging.Debug("inbound event %s", ev)
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("watch %s: %v", w.dir, err)
		case <-timer.C:
			w.fire()
		}
	}
}
