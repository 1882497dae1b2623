package tic

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/stlalpha/v3ftn/internal/file"
	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/routing"
)

// Validate checks the data file against the ticket's Size and Crc, when
// present, and returns its digest.
func Validate(t *Ticket, dataPath string) (file.Digest, error) {
	d, err := file.DigestFile(dataPath)
	if err != nil {
		return file.Digest{}, err
	}
	if t.HasSize && t.Size != d.Size {
		return d, fmt.Errorf("%w: %s: size %d, ticket says %d", ErrValidation, t.File, d.Size, t.Size)
	}
	if t.HasCRC && t.CRC != d.CRC32 {
		return d, fmt.Errorf("%w: %s: crc %s, ticket says %08X", ErrValidation, t.File, d.CRCHex(), t.CRC)
	}
	return d, nil
}

// FindDataFile locates name in dir, ignoring case when there is no exact
// match. FTN software is inconsistent about the case of 8.3 names.
func FindDataFile(dir, name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	exact := filepath.Join(dir, base)
	if fi, err := os.Stat(exact); err == nil && fi.Mode().IsRegular() {
		return exact, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(e.Name(), base) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("data file %s: %w", base, os.ErrNotExist)
}

// Result describes one processed TIC.
type Result struct {
	Ticket      *Ticket
	Area        *file.FileArea
	Record      file.FileRecord
	AreaCreated bool
	Duplicate   bool
}

// Processor accepts incoming TIC/data pairs into file areas.
type Processor struct {
	files *file.FileManager
}

// NewProcessor returns a Processor storing into files.
func NewProcessor(files *file.FileManager) *Processor {
	return &Processor{files: files}
}

// Process handles the TIC at ticPath whose data file sits next to it.
// A ticket failing validation is rejected with an error wrapping
// ErrValidation and nothing is stored. Content already present in the
// area is accepted without a second record.
func (p *Processor) Process(ticPath string) (*Result, error) {
	t, err := ParseFile(ticPath)
	if err != nil {
		return nil, err
	}
	dataPath, err := FindDataFile(filepath.Dir(ticPath), t.File)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(ticPath), err)
	}
	return p.ProcessTicket(t, dataPath)
}

// ProcessTicket is Process for an already parsed ticket.
func (p *Processor) ProcessTicket(t *Ticket, dataPath string) (*Result, error) {
	d, err := Validate(t, dataPath)
	if err != nil {
		return nil, err
	}

	desc := t.AreaDesc
	if desc == "" {
		desc = fmt.Sprintf("%s (auto-created from %s)", t.Area, t.From)
	}
	area, created, err := p.files.EnsureArea(t.Area, routing.ZoneDomain(t.From.Zone), desc)
	if err != nil {
		return nil, err
	}

	rec, dup, err := p.files.ImportFile(area.ID, dataPath, t.Name(), file.FileRecord{
		Description:     t.Description(),
		LongDescription: append([]string(nil), t.LDesc...),
		UploadedBy:      t.From.String(),
		Origin:          t.Origin,
		Path:            append([]string(nil), t.Path...),
	})
	if err != nil {
		return nil, err
	}
	if dup {
		logging.Info("tic: %s already in %s, skipped", t.File, area.Tag)
	} else {
		logging.Info("tic: %s (%s) from %s stored in %s", rec.Filename, humanize.IBytes(uint64(d.Size)), t.From, area.Tag)
	}
	return &Result{Ticket: t, Area: area, Record: rec, AreaCreated: created, Duplicate: dup}, nil
}

// IsValidationError reports whether err rejects a ticket (as opposed to
// an I/O failure).
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrParse) || errors.Is(err, os.ErrNotExist)
}
