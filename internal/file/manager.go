// Package file manages file areas (file echoes) and the records of files
// delivered into them.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stlalpha/v3ftn/internal/logging"
)

// ErrAreaNotFound is returned for operations on an unknown area.
var ErrAreaNotFound = errors.New("file area not found")

const (
	areasFile    = "file_areas.json"
	metadataFile = "metadata.json"
)

// FileManager manages file areas and their associated file records.
// Areas are persisted in <base>/file_areas.json and each area's records
// in <base>/<area path>/metadata.json.
type FileManager struct {
	basePath    string
	areasPath   string
	muAreas     sync.RWMutex
	muFiles     sync.RWMutex
	fileAreas   map[int]*FileArea
	fileTags    map[string]int // uppercase tag -> ID
	fileRecords map[int][]FileRecord

	// muImport makes hash lookup and insert in ImportFile atomic.
	muImport sync.Mutex
	now      func() time.Time
}

// NewFileManager loads the areas and records under basePath, creating it
// when missing.
func NewFileManager(basePath string) (*FileManager, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create file base %s: %w", basePath, err)
	}
	fm := &FileManager{
		basePath:    basePath,
		areasPath:   filepath.Join(basePath, areasFile),
		fileAreas:   make(map[int]*FileArea),
		fileTags:    make(map[string]int),
		fileRecords: make(map[int][]FileRecord),
		now:         time.Now,
	}

	logging.Debug("loading file areas from %s", fm.areasPath)
	if err := fm.loadAreas(); err != nil {
		return nil, fmt.Errorf("failed to load file areas: %w", err)
	}
	if err := fm.loadAllFileRecords(); err != nil {
		// Areas whose metadata failed to load start empty.
		logging.Error("failed to load one or more file record sets: %v", err)
	}
	return fm, nil
}

// BasePath returns the directory holding all file areas.
func (fm *FileManager) BasePath() string { return fm.basePath }

func (fm *FileManager) loadAreas() error {
	fm.muAreas.Lock()
	defer fm.muAreas.Unlock()

	data, err := os.ReadFile(fm.areasPath)
	if errors.Is(err, os.ErrNotExist) {
		logging.Debug("no file areas defined yet (%s)", fm.areasPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", fm.areasPath, err)
	}

	var areas []FileArea
	if err := json.Unmarshal(data, &areas); err != nil {
		return fmt.Errorf("parsing %s: %w", fm.areasPath, err)
	}

	for i := range areas {
		area := &areas[i]
		if area.ID <= 0 {
			logging.Warn("skipping file area with invalid ID <= 0: %+v", area)
			continue
		}
		if area.Tag == "" {
			logging.Warn("skipping file area with empty tag (ID: %d)", area.ID)
			continue
		}
		area.Path = filepath.Clean(area.Path)
		if filepath.IsAbs(area.Path) || strings.HasPrefix(area.Path, "..") {
			logging.Warn("skipping file area %s: path %q leaves the base directory", area.Tag, area.Path)
			continue
		}
		ucTag := strings.ToUpper(area.Tag)
		if _, exists := fm.fileTags[ucTag]; exists {
			logging.Warn("duplicate file area tag %q, skipping ID %d", area.Tag, area.ID)
			continue
		}
		if _, exists := fm.fileAreas[area.ID]; exists {
			logging.Warn("duplicate file area ID %d, skipping tag %s", area.ID, area.Tag)
			continue
		}
		if err := os.MkdirAll(filepath.Join(fm.basePath, area.Path), 0755); err != nil {
			logging.Error("skipping file area %s: %v", area.Tag, err)
			continue
		}
		area.Tag = ucTag
		fm.fileAreas[area.ID] = area
		fm.fileTags[ucTag] = area.ID
	}

	logging.Info("loaded %d file areas", len(fm.fileAreas))
	return nil
}

func (fm *FileManager) loadAllFileRecords() error {
	fm.muAreas.RLock()
	defer fm.muAreas.RUnlock()
	fm.muFiles.Lock()
	defer fm.muFiles.Unlock()

	var errs []error
	total := 0
	for areaID, area := range fm.fileAreas {
		path := filepath.Join(fm.basePath, area.Path, metadataFile)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			fm.fileRecords[areaID] = []FileRecord{}
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("area %s: %w", area.Tag, err))
			continue
		}
		var records []FileRecord
		if err := json.Unmarshal(data, &records); err != nil {
			errs = append(errs, fmt.Errorf("area %s: parse %s: %w", area.Tag, path, err))
			continue
		}
		fm.fileRecords[areaID] = records
		total += len(records)
	}
	logging.Debug("loaded %d file records", total)
	return errors.Join(errs...)
}

// writeJSON writes v to path through a temporary file and a rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// saveAreasLocked persists the area list. Callers hold muAreas.
func (fm *FileManager) saveAreasLocked() error {
	areas := make([]FileArea, 0, len(fm.fileAreas))
	for _, a := range fm.fileAreas {
		areas = append(areas, *a)
	}
	sort.Slice(areas, func(i, j int) bool { return areas[i].ID < areas[j].ID })
	if err := writeJSON(fm.areasPath, areas); err != nil {
		return fmt.Errorf("save file areas: %w", err)
	}
	return nil
}

// saveFileRecordsLocked persists one area's records. Callers hold muFiles
// and must not hold muAreas.
func (fm *FileManager) saveFileRecordsLocked(area *FileArea) error {
	records := fm.fileRecords[area.ID]
	if records == nil {
		records = []FileRecord{}
	}
	path := filepath.Join(fm.basePath, area.Path, metadataFile)
	if err := writeJSON(path, records); err != nil {
		return fmt.Errorf("save records of %s: %w", area.Tag, err)
	}
	return nil
}

// ListAreas returns the areas sorted by ID.
func (fm *FileManager) ListAreas() []FileArea {
	fm.muAreas.RLock()
	defer fm.muAreas.RUnlock()

	areas := make([]FileArea, 0, len(fm.fileAreas))
	for _, area := range fm.fileAreas {
		areas = append(areas, *area)
	}
	sort.Slice(areas, func(i, j int) bool { return areas[i].ID < areas[j].ID })
	return areas
}

// GetAreaByTag returns an area by tag (case-insensitive).
func (fm *FileManager) GetAreaByTag(tag string) (*FileArea, bool) {
	fm.muAreas.RLock()
	defer fm.muAreas.RUnlock()

	id, ok := fm.fileTags[strings.ToUpper(tag)]
	if !ok {
		return nil, false
	}
	a := *fm.fileAreas[id]
	return &a, true
}

// GetAreaByID returns an area by ID.
func (fm *FileManager) GetAreaByID(id int) (*FileArea, bool) {
	fm.muAreas.RLock()
	defer fm.muAreas.RUnlock()

	area, ok := fm.fileAreas[id]
	if !ok {
		return nil, false
	}
	a := *area
	return &a, true
}

// AreaDir returns the directory holding an area's files.
func (fm *FileManager) AreaDir(area *FileArea) string {
	return filepath.Join(fm.basePath, area.Path)
}

// EnsureArea returns the area tagged tag, creating it (and its
// directory) when it does not exist. created reports whether this call
// created it.
func (fm *FileManager) EnsureArea(tag, domain, description string) (area *FileArea, created bool, err error) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if tag == "" {
		return nil, false, errors.New("file area tag is empty")
	}

	fm.muAreas.Lock()
	defer fm.muAreas.Unlock()

	if id, ok := fm.fileTags[tag]; ok {
		a := *fm.fileAreas[id]
		return &a, false, nil
	}

	nextID := 1
	for id := range fm.fileAreas {
		if id >= nextID {
			nextID = id + 1
		}
	}
	na := &FileArea{
		ID:          nextID,
		Tag:         tag,
		Name:        tag,
		Description: description,
		Path:        areaDirName(tag),
		Domain:      strings.ToLower(domain),
		AutoCreated: true,
		CreatedAt:   fm.now().UTC(),
	}
	if err := os.MkdirAll(filepath.Join(fm.basePath, na.Path), 0755); err != nil {
		return nil, false, fmt.Errorf("create directory for %s: %w", tag, err)
	}
	fm.fileAreas[na.ID] = na
	fm.fileTags[tag] = na.ID
	if err := fm.saveAreasLocked(); err != nil {
		delete(fm.fileAreas, na.ID)
		delete(fm.fileTags, tag)
		return nil, false, err
	}

	fm.muFiles.Lock()
	fm.fileRecords[na.ID] = []FileRecord{}
	fm.muFiles.Unlock()

	logging.Info("auto-created file area %s (domain %q)", tag, na.Domain)
	a := *na
	return &a, true, nil
}

// areaDirName turns an area tag into a directory name.
func areaDirName(tag string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, tag)
}

// GetFilesForArea returns a copy of the records in an area.
func (fm *FileManager) GetFilesForArea(areaID int) []FileRecord {
	fm.muFiles.RLock()
	defer fm.muFiles.RUnlock()

	records := fm.fileRecords[areaID]
	out := make([]FileRecord, len(records))
	copy(out, records)
	return out
}

// GetFileCountForArea returns the number of records in an area; unknown
// areas have none.
func (fm *FileManager) GetFileCountForArea(areaID int) int {
	fm.muFiles.RLock()
	defer fm.muFiles.RUnlock()
	return len(fm.fileRecords[areaID])
}

// FindByHash returns the record in areaID whose content hash is hash.
func (fm *FileManager) FindByHash(areaID int, hash string) (FileRecord, bool) {
	fm.muFiles.RLock()
	defer fm.muFiles.RUnlock()

	for _, r := range fm.fileRecords[areaID] {
		if strings.EqualFold(r.Hash, hash) {
			return r, true
		}
	}
	return FileRecord{}, false
}

// AddFileRecord appends a record to its area and saves the area.
func (fm *FileManager) AddFileRecord(record FileRecord) error {
	if record.ID == uuid.Nil {
		return errors.New("file record must have a valid ID")
	}
	if record.Filename == "" {
		return errors.New("file record must have a filename")
	}
	area, ok := fm.GetAreaByID(record.AreaID)
	if !ok {
		return fmt.Errorf("%w: ID %d", ErrAreaNotFound, record.AreaID)
	}

	fm.muFiles.Lock()
	defer fm.muFiles.Unlock()

	for _, existing := range fm.fileRecords[record.AreaID] {
		if strings.EqualFold(existing.Filename, record.Filename) {
			logging.Warn("adding file record with duplicate filename %q in area %d", record.Filename, record.AreaID)
			break
		}
	}
	prev := fm.fileRecords[record.AreaID]
	fm.fileRecords[record.AreaID] = append(prev, record)
	if err := fm.saveFileRecordsLocked(area); err != nil {
		fm.fileRecords[record.AreaID] = prev
		return err
	}
	logging.Debug("added file record %q (%s) to area %d", record.Filename, record.ID, record.AreaID)
	return nil
}

// ImportFile stores a copy of src in the area and records it. rec
// supplies the descriptive fields; size, checksums, name, ID and time are
// filled in here. If the area already holds a file with the same content
// the existing record is returned with dup set and nothing is written.
func (fm *FileManager) ImportFile(areaID int, src, name string, rec FileRecord) (stored FileRecord, dup bool, err error) {
	area, ok := fm.GetAreaByID(areaID)
	if !ok {
		return FileRecord{}, false, fmt.Errorf("%w: ID %d", ErrAreaNotFound, areaID)
	}
	name, err = safeName(name)
	if err != nil {
		return FileRecord{}, false, err
	}
	d, err := DigestFile(src)
	if err != nil {
		return FileRecord{}, false, err
	}

	fm.muImport.Lock()
	defer fm.muImport.Unlock()
	if existing, ok := fm.FindByHash(areaID, d.Hash); ok {
		logging.Debug("%s already in %s as %s", name, area.Tag, existing.Filename)
		return existing, true, nil
	}

	dir := fm.AreaDir(area)
	chosen, present, err := VersionedName(dir, name, d.Hash)
	if err != nil {
		return FileRecord{}, false, err
	}
	if !present {
		if err := CopyFile(src, filepath.Join(dir, chosen)); err != nil {
			return FileRecord{}, false, fmt.Errorf("copy %s into %s: %w", name, area.Tag, err)
		}
	}

	rec.ID = uuid.New()
	rec.AreaID = areaID
	rec.Filename = chosen
	rec.Size = d.Size
	rec.CRC32 = d.CRCHex()
	rec.Hash = d.Hash
	rec.UploadedAt = fm.now().UTC()
	if err := fm.AddFileRecord(rec); err != nil {
		if !present {
			os.Remove(filepath.Join(dir, chosen))
		}
		return FileRecord{}, false, err
	}
	return rec, false, nil
}

// GetFilePath returns the absolute path of a stored file.
func (fm *FileManager) GetFilePath(fileID uuid.UUID) (string, error) {
	fm.muFiles.RLock()
	var found *FileRecord
	for _, records := range fm.fileRecords {
		for i := range records {
			if records[i].ID == fileID {
				r := records[i]
				found = &r
				break
			}
		}
	}
	fm.muFiles.RUnlock()
	if found == nil {
		return "", fmt.Errorf("file record with ID %s not found", fileID)
	}

	area, ok := fm.GetAreaByID(found.AreaID)
	if !ok {
		return "", fmt.Errorf("%w: ID %d for file %s", ErrAreaNotFound, found.AreaID, fileID)
	}
	absBase, err := filepath.Abs(fm.basePath)
	if err != nil {
		return "", err
	}
	name, err := safeName(found.Filename)
	if err != nil || name != found.Filename {
		return "", fmt.Errorf("invalid filename in record: %s", found.Filename)
	}
	full := filepath.Join(absBase, area.Path, name)
	if !strings.HasPrefix(full, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside %q", full, absBase)
	}
	return full, nil
}
