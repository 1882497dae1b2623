package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/stlalpha/v3ftn/internal/ftn"
	"github.com/stlalpha/v3ftn/internal/logging"
)

// ErrExtractionFailed is returned when no extractor could unpack a bundle.
var ErrExtractionFailed = errors.New("archiver: extraction failed")

// maxCapturedOutput bounds how much extractor output is kept for error
// messages. Output beyond it is read and discarded.
const maxCapturedOutput = 4096

// Extractor unpacks one archive into a directory.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, archivePath, destDir string) error
}

// NativeZip extracts ZIP archives with archive/zip.
type NativeZip struct{}

func (NativeZip) Name() string { return "zip" }

func (NativeZip) Extract(_ context.Context, archivePath, destDir string) error {
	_, err := ftn.ExtractZip(archivePath, destDir)
	return err
}

// CommandExtractor runs an external unpacker.
type CommandExtractor struct {
	ID      string
	Def     CommandDef
	Timeout time.Duration
}

func (c *CommandExtractor) Name() string { return c.ID }

// Extract runs the command with its output fully drained into a bounded
// buffer, and fails on timeout or non-zero exit.
func (c *CommandExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	if c.Def.IsEmpty() {
		return fmt.Errorf("%s: no command configured", c.ID)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("%s: create output dir: %w", c.ID, err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	absArchive, err := filepath.Abs(archivePath)
	if err != nil {
		absArchive = archivePath
	}
	cmd := exec.CommandContext(ctx, c.Def.Command, c.Def.Expand(absArchive, destDir)...)
	cmd.Dir = destDir
	cmd.WaitDelay = time.Second

	out := &boundedBuffer{limit: maxCapturedOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s: command %s timed out after %v", c.ID, c.Def.Command, timeout)
	}
	if err != nil {
		return fmt.Errorf("%s: command %s failed: %w (output: %s)", c.ID, c.Def.Command, err, strings.TrimSpace(out.String()))
	}
	return nil
}

// boundedBuffer keeps the first limit bytes written and discards the rest
// while still reporting every write as successful.
type boundedBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + "..."
	}
	return string(b.buf)
}

// BundleExtractor picks the extraction strategy for an inbound bundle.
type BundleExtractor struct {
	Zip Extractor
	// Chain returns the external extractors to try for a file, in order.
	Chain func(path string) []Extractor
}

// NewBundleExtractor builds the strategy from archiver configuration.
func NewBundleExtractor(cfg Config) *BundleExtractor {
	return &BundleExtractor{
		Zip:   NativeZip{},
		Chain: cfg.ExternalChain,
	}
}

// Extract unpacks path into destDir according to its bundle kind:
// ZipBundle uses only the native zip extractor, DayBundle tries zip and
// then the external chain, LegacyBundle uses the external chain only. The
// first strategy that succeeds wins; its name is returned. When all fail
// the error wraps ErrExtractionFailed and every attempt's error.
func (b *BundleExtractor) Extract(ctx context.Context, path string, kind ftn.BundleKind, destDir string) (string, error) {
	var strategies []Extractor
	switch kind {
	case ftn.ZipBundle:
		strategies = []Extractor{b.Zip}
	case ftn.DayBundle:
		strategies = append([]Extractor{b.Zip}, b.chain(path)...)
	case ftn.LegacyBundle:
		strategies = b.chain(path)
	default:
		return "", fmt.Errorf("%w: %s is not a bundle", ErrExtractionFailed, filepath.Base(path))
	}
	if len(strategies) == 0 {
		return "", fmt.Errorf("%w: no extractor configured for %s", ErrExtractionFailed, filepath.Base(path))
	}

	var errs []error
	for _, ex := range strategies {
		if ex == nil {
			continue
		}
		err := ex.Extract(ctx, path, destDir)
		if err == nil {
			if len(errs) > 0 {
				logging.Info("bundle %s extracted by %s after %d failed attempt(s)", filepath.Base(path), ex.Name(), len(errs))
			}
			return ex.Name(), nil
		}
		logging.Debug("bundle %s: extractor %s failed: %v", filepath.Base(path), ex.Name(), err)
		errs = append(errs, fmt.Errorf("%s: %w", ex.Name(), err))
		clearDir(destDir)
	}
	return "", fmt.Errorf("%w: %s: %w", ErrExtractionFailed, filepath.Base(path), errors.Join(errs...))
}

func (b *BundleExtractor) chain(path string) []Extractor {
	if b.Chain == nil {
		return nil
	}
	return b.Chain(path)
}

// clearDir removes partial output left by a failed extractor.
func clearDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		os.RemoveAll(filepath.Join(dir, e.Name()))
	}
}
