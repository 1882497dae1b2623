package tosser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stlalpha/v3ftn/internal/logging"
)

// workDir is a per-run directory files are claimed into.
type workDir struct {
	path string
}

func newWorkDir(inbound string) (*workDir, error) {
	p := filepath.Join(inbound, ".work-"+uuid.NewString()[:8])
	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &workDir{path: p}, nil
}

// claim renames name from dir into the work dir. ok is false when the
// file is gone, i.e. another process claimed it first.
func (w *workDir) claim(dir, name string) (path string, ok bool, err error) {
	dst := filepath.Join(w.path, name)
	err = os.Rename(filepath.Join(dir, name), dst)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// release removes the work dir. Anything still in it is moved back to
// dir first so it is seen by the next run.
func (w *workDir) release(dir string) {
	entries, _ := os.ReadDir(w.path)
	for _, e := range entries {
		if err := os.Rename(filepath.Join(w.path, e.Name()), filepath.Join(dir, e.Name())); err != nil {
			logging.Warn("could not return %s to %s: %v", e.Name(), dir, err)
		}
	}
	if err := os.Remove(w.path); err != nil {
		logging.Warn("remove work dir %s: %v", w.path, err)
	}
}

// moveFile renames src to dst, copying when they are on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	in.Close()
	return os.Remove(src)
}

// freeName returns dir/name, or dir/name with a timestamp suffix when
// that already exists.
func freeName(dir, name string, now time.Time) string {
	p := filepath.Join(dir, name)
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return p
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stamp := now.UTC().Format("20060102T150405")
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%s.%s%s", stem, stamp, ext)
		if i > 0 {
			candidate = fmt.Sprintf("%s.%s-%d%s", stem, stamp, i, ext)
		}
		p = filepath.Join(dir, candidate)
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return p
		}
	}
}

// finish disposes of a processed file: deleted, or moved to the
// processed directory when KeepProcessed is set.
func (t *Tosser) finish(path string) {
	name := filepath.Base(path)
	if !t.config.KeepProcessed {
		if err := os.Remove(path); err != nil {
			logging.Warn("failed to remove processed %s: %v", name, err)
		}
		return
	}
	if err := os.MkdirAll(t.config.ProcessedPath, 0755); err != nil {
		logging.Warn("create processed dir: %v", err)
		return
	}
	dst := freeName(t.config.ProcessedPath, name, t.now())
	if err := moveFile(path, dst); err != nil {
		logging.Warn("failed to move %s to %s: %v", name, dst, err)
	}
}

// reject moves a file that could not be processed to the error
// directory.
func (t *Tosser) reject(path string) {
	name := filepath.Base(path)
	if err := os.MkdirAll(t.config.ErrorPath, 0755); err != nil {
		logging.Error("create error dir: %v", err)
		return
	}
	dst := freeName(t.config.ErrorPath, name, t.now())
	if err := moveFile(path, dst); err != nil {
		logging.Error("failed to move %s to %s: %v", name, dst, err)
		return
	}
	logging.Warn("moved %s to %s", name, dst)
}
