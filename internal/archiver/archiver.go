// Package archiver holds the archive format registry used to unpack
// inbound FTN bundles. ZIP is handled natively; every other format is
// unpacked by an external tool described by a command template.
//
// Definitions are configured once (archivers.json, or the defaults below)
// and turned into an ordered chain of Extractors per bundle.
package archiver

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stlalpha/v3ftn/internal/logging"
)

// DefaultTimeout bounds one external extractor run.
const DefaultTimeout = 60 * time.Second

// Archiver defines how to handle a specific archive format.
//
// When Native is true, Go's archive/zip is used and Unpack is ignored.
type Archiver struct {
	// ID is a short unique identifier, e.g. "zip", "rar", "arj".
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable description, e.g. "ZIP Archive".
	Name string `json:"name" yaml:"name"`

	// Extension is the primary file extension including the dot, e.g. ".zip".
	Extension string `json:"extension" yaml:"extension"`

	// Extensions lists additional file extensions for this format.
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`

	// Magic is the hex-encoded magic bytes at offset 0 for format detection.
	// e.g. "504B0304" for ZIP (PK\x03\x04). Empty means extension-only detection.
	Magic string `json:"magic,omitempty" yaml:"magic,omitempty"`

	// Native means this format is handled by archive/zip.
	Native bool `json:"native" yaml:"native"`

	// Enabled controls whether this archiver takes part in extraction.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Unpack defines the command to extract an archive.
	// Placeholders: {ARCHIVE} = archive path, {OUTDIR} = output directory.
	Unpack CommandDef `json:"unpack,omitempty" yaml:"unpack,omitempty"`
}

// CommandDef specifies an external command with arguments.
type CommandDef struct {
	Command string   `json:"command,omitempty" yaml:"command,omitempty"` // Binary path or name
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`       // Arguments with placeholders
}

// IsEmpty reports whether this command definition has no command set.
func (cd CommandDef) IsEmpty() bool {
	return cd.Command == ""
}

// Expand substitutes {ARCHIVE} and {OUTDIR} in the arguments.
func (cd CommandDef) Expand(archivePath, outDir string) []string {
	args := make([]string, len(cd.Args))
	for i, arg := range cd.Args {
		arg = strings.ReplaceAll(arg, "{ARCHIVE}", archivePath)
		arg = strings.ReplaceAll(arg, "{OUTDIR}", outDir)
		args[i] = arg
	}
	return args
}

// Config holds the complete archivers configuration.
type Config struct {
	Archivers      []Archiver `json:"archivers" yaml:"archivers"`
	TimeoutSeconds int        `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Timeout returns the per-command timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

// allExtensions returns the primary extension plus any additional extensions.
func (a *Archiver) allExtensions() []string {
	exts := []string{strings.ToLower(a.Extension)}
	for _, e := range a.Extensions {
		lower := strings.ToLower(e)
		if lower != exts[0] {
			exts = append(exts, lower)
		}
	}
	return exts
}

// MatchesExtension reports whether the given filename has an extension
// that matches this archiver.
func (a *Archiver) MatchesExtension(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range a.allExtensions() {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// MatchesMagic reports whether head starts with the archiver's magic bytes.
func (a *Archiver) MatchesMagic(head []byte) bool {
	if a.Magic == "" {
		return false
	}
	magic, err := hex.DecodeString(a.Magic)
	if err != nil || len(magic) == 0 {
		return false
	}
	return bytes.HasPrefix(head, magic)
}

// DefaultConfig returns a Config with built-in archiver definitions.
// ZIP is native; the legacy formats seen in FTN bundles use common
// external tools.
func DefaultConfig() Config {
	return Config{
		TimeoutSeconds: int(DefaultTimeout / time.Second),
		Archivers: []Archiver{
			{
				ID:        "zip",
				Name:      "ZIP Archive",
				Extension: ".zip",
				Magic:     "504B0304",
				Native:    true,
				Enabled:   true,
				Unpack: CommandDef{
					Command: "unzip",
					Args:    []string{"-o", "-j", "{ARCHIVE}", "-d", "{OUTDIR}"},
				},
			},
			{
				ID:        "arj",
				Name:      "ARJ Archive",
				Extension: ".arj",
				Magic:     "60EA",
				Enabled:   true,
				Unpack: CommandDef{
					Command: "arj",
					Args:    []string{"e", "-y", "{ARCHIVE}", "{OUTDIR}/"},
				},
			},
			{
				ID:         "lha",
				Name:       "LHA/LZH Archive",
				Extension:  ".lzh",
				Extensions: []string{".lha"},
				Enabled:    true,
				Unpack: CommandDef{
					Command: "lha",
					Args:    []string{"xfiw={OUTDIR}", "{ARCHIVE}"},
				},
			},
			{
				ID:        "rar",
				Name:      "RAR Archive",
				Extension: ".rar",
				Magic:     "526172211A07",
				Enabled:   true,
				Unpack: CommandDef{
					Command: "unrar",
					Args:    []string{"e", "-o+", "-y", "{ARCHIVE}", "{OUTDIR}/"},
				},
			},
			{
				ID:        "arc",
				Name:      "ARC Archive",
				Extension: ".arc",
				Magic:     "1A",
				Enabled:   true,
				Unpack: CommandDef{
					Command: "nomarch",
					Args:    []string{"-C", "{OUTDIR}", "{ARCHIVE}"},
				},
			},
			{
				ID:        "7z",
				Name:      "7-Zip (any format)",
				Extension: ".7z",
				Magic:     "377ABCAF271C",
				Enabled:   false,
				Unpack: CommandDef{
					Command: "7z",
					Args:    []string{"e", "-y", "-o{OUTDIR}", "{ARCHIVE}"},
				},
			},
		},
	}
}

// LoadConfig loads archiver definitions from archivers.json in the given
// config directory. Returns defaults if the file doesn't exist.
func LoadConfig(configPath string) (Config, error) {
	filePath := filepath.Join(configPath, "archivers.json")
	logging.Debug("loading archivers config from %s", filePath)

	cfg := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Debug("archivers.json not found at %s, using defaults", filePath)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read archivers config %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse archivers config %s: %w", filePath, err)
	}

	logging.Info("loaded %d archiver definitions from %s", len(cfg.Archivers), filePath)
	return cfg, nil
}

// EnabledArchivers returns only the archivers that are enabled.
func (c *Config) EnabledArchivers() []Archiver {
	var result []Archiver
	for _, a := range c.Archivers {
		if a.Enabled {
			result = append(result, a)
		}
	}
	return result
}

// FindByExtension returns the first enabled archiver that matches the
// given filename's extension.
func (c *Config) FindByExtension(filename string) (Archiver, bool) {
	for _, a := range c.EnabledArchivers() {
		if a.MatchesExtension(filename) {
			return a, true
		}
	}
	return Archiver{}, false
}

// FindByID returns the archiver with the given ID (regardless of enabled state).
func (c *Config) FindByID(id string) (Archiver, bool) {
	for _, a := range c.Archivers {
		if strings.EqualFold(a.ID, id) {
			return a, true
		}
	}
	return Archiver{}, false
}

// ExternalChain returns command extractors for every enabled external
// archiver, ordered for the file at path: magic-byte matches first, then
// extension matches, then the rest in configuration order.
func (c *Config) ExternalChain(path string) []Extractor {
	head := make([]byte, 16)
	if f, err := os.Open(path); err == nil {
		n, _ := f.Read(head)
		head = head[:n]
		f.Close()
	} else {
		head = nil
	}

	var byMagic, byExt, rest []Extractor
	for _, a := range c.EnabledArchivers() {
		if a.Native || a.Unpack.IsEmpty() {
			continue
		}
		ex := &CommandExtractor{ID: a.ID, Def: a.Unpack, Timeout: c.Timeout()}
		switch {
		case a.MatchesMagic(head):
			byMagic = append(byMagic, ex)
		case a.MatchesExtension(path):
			byExt = append(byExt, ex)
		default:
			rest = append(rest, ex)
		}
	}
	chain := append(byMagic, byExt...)
	return append(chain, rest...)
}
