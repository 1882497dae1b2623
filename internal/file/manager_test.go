package file

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// setupTestFileManager creates a FileManager over a temp dir seeded with
// the given areas.
func setupTestFileManager(t *testing.T, areas []FileArea) *FileManager {
	t.Helper()

	base := t.TempDir()
	if areas != nil {
		data, err := json.Marshal(areas)
		if err != nil {
			t.Fatalf("failed to marshal test areas: %v", err)
		}
		if err := os.WriteFile(filepath.Join(base, areasFile), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	fm, err := NewFileManager(base)
	if err != nil {
		t.Fatalf("failed to create FileManager: %v", err)
	}
	fm.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return fm
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewFileManager_NoAreasFile(t *testing.T) {
	fm := setupTestFileManager(t, nil)
	if len(fm.ListAreas()) != 0 {
		t.Errorf("expected 0 areas, got %d", len(fm.ListAreas()))
	}
}

func TestNewFileManager_SkipsInvalidAreas(t *testing.T) {
	areas := []FileArea{
		{ID: 0, Tag: "BAD", Path: "bad"},
		{ID: 1, Tag: "", Path: "empty"},
		{ID: 2, Tag: "ABS", Path: "/etc"},
		{ID: 3, Tag: "TRAV", Path: "../escape"},
		{ID: 4, Tag: "good", Path: "good"},
		{ID: 4, Tag: "DUPID", Path: "dupid"},
		{ID: 5, Tag: "GOOD", Path: "dup2"},
	}
	fm := setupTestFileManager(t, areas)

	listed := fm.ListAreas()
	if len(listed) != 1 {
		t.Fatalf("expected 1 valid area, got %d: %+v", len(listed), listed)
	}
	if listed[0].Tag != "GOOD" {
		t.Errorf("tag = %s, want GOOD (uppercased)", listed[0].Tag)
	}
}

func TestGetArea(t *testing.T) {
	fm := setupTestFileManager(t, []FileArea{{ID: 7, Tag: "UTILS", Path: "utils"}})

	area, ok := fm.GetAreaByTag("utils")
	if !ok || area.ID != 7 {
		t.Fatalf("GetAreaByTag = %+v, %v", area, ok)
	}
	if _, ok := fm.GetAreaByTag("NONE"); ok {
		t.Error("found a nonexistent tag")
	}
	if a, ok := fm.GetAreaByID(7); !ok || a.Tag != "UTILS" {
		t.Errorf("GetAreaByID = %+v, %v", a, ok)
	}
	if _, ok := fm.GetAreaByID(999); ok {
		t.Error("found a nonexistent ID")
	}

	// returned areas are copies
	area.Tag = "CHANGED"
	if again, _ := fm.GetAreaByID(7); again.Tag != "UTILS" {
		t.Error("caller mutation leaked into the manager")
	}
}

func TestEnsureArea(t *testing.T) {
	fm := setupTestFileManager(t, []FileArea{{ID: 3, Tag: "UTILS", Path: "utils"}})

	area, created, err := fm.EnsureArea("fsx_node", "FSXNet", "Auto-created from TIC")
	if err != nil {
		t.Fatalf("EnsureArea: %v", err)
	}
	if !created || area.ID != 4 || area.Tag != "FSX_NODE" || area.Domain != "fsxnet" || !area.AutoCreated {
		t.Errorf("area = %+v, created = %v", area, created)
	}
	if fi, err := os.Stat(fm.AreaDir(area)); err != nil || !fi.IsDir() {
		t.Errorf("area directory missing: %v", err)
	}

	again, created, err := fm.EnsureArea("FSX_NODE", "fsxnet", "")
	if err != nil || created || again.ID != area.ID {
		t.Errorf("second EnsureArea = %+v, %v, %v", again, created, err)
	}

	if _, _, err := fm.EnsureArea("  ", "", ""); err == nil {
		t.Error("empty tag accepted")
	}

	// survives a reload
	fm2, err := NewFileManager(fm.BasePath())
	if err != nil {
		t.Fatal(err)
	}
	if a, ok := fm2.GetAreaByTag("FSX_NODE"); !ok || a.Domain != "fsxnet" {
		t.Errorf("reloaded area = %+v, %v", a, ok)
	}
}

func TestAreaDirName(t *testing.T) {
	tests := map[string]string{
		"FSX_NODE": "fsx_node",
		"AGN.ART":  "agn.art",
		"A/B\\C":   "a_b_c",
		"NET-INFO": "net-info",
	}
	for in, want := range tests {
		if got := areaDirName(in); got != want {
			t.Errorf("areaDirName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAddFileRecord_Validation(t *testing.T) {
	fm := setupTestFileManager(t, []FileArea{{ID: 1, Tag: "UTILS", Path: "utils"}})

	if err := fm.AddFileRecord(FileRecord{AreaID: 1, Filename: "a.zip"}); err == nil {
		t.Error("expected error for nil UUID")
	}
	if err := fm.AddFileRecord(FileRecord{ID: uuid.New(), AreaID: 1}); err == nil {
		t.Error("expected error for empty filename")
	}
	err := fm.AddFileRecord(FileRecord{ID: uuid.New(), AreaID: 99, Filename: "a.zip"})
	if !errors.Is(err, ErrAreaNotFound) {
		t.Errorf("unknown area err = %v", err)
	}
}

func TestImportFile(t *testing.T) {
	fm := setupTestFileManager(t, []FileArea{{ID: 1, Tag: "UTILS", Path: "utils"}})
	src := writeTemp(t, "in.bin", "hello world")

	rec, dup, err := fm.ImportFile(1, src, "HELLO.TXT", FileRecord{Description: "greeting", UploadedBy: "21:1/100"})
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if dup {
		t.Error("first import reported as duplicate")
	}
	if rec.Filename != "HELLO.TXT" || rec.Size != 11 || rec.CRC32 != "0D4A1185" || len(rec.Hash) != 64 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Description != "greeting" || rec.UploadedBy != "21:1/100" || rec.ID == uuid.Nil {
		t.Errorf("descriptive fields lost: %+v", rec)
	}
	if fm.GetFileCountForArea(1) != 1 {
		t.Errorf("count = %d", fm.GetFileCountForArea(1))
	}

	p, err := fm.GetFilePath(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(p); string(data) != "hello world" {
		t.Errorf("stored content = %q", data)
	}

	// identical content again is a no-op
	again, dup, err := fm.ImportFile(1, writeTemp(t, "other", "hello world"), "OTHER.TXT", FileRecord{})
	if err != nil || !dup || again.ID != rec.ID {
		t.Errorf("re-import = %+v, dup=%v, err=%v", again, dup, err)
	}
	if fm.GetFileCountForArea(1) != 1 {
		t.Errorf("duplicate content created a second record")
	}

	// different content under the same name is versioned
	v2, dup, err := fm.ImportFile(1, writeTemp(t, "v2", "hello again"), "HELLO.TXT", FileRecord{})
	if err != nil || dup {
		t.Fatalf("versioned import: %v dup=%v", err, dup)
	}
	if v2.Filename != "HELLO_1.TXT" {
		t.Errorf("versioned name = %q, want HELLO_1.TXT", v2.Filename)
	}

	// records persist
	fm2, err := NewFileManager(fm.BasePath())
	if err != nil {
		t.Fatal(err)
	}
	files := fm2.GetFilesForArea(1)
	if len(files) != 2 || files[0].Hash != rec.Hash {
		t.Errorf("reloaded records = %+v", files)
	}
}

func TestImportFile_Errors(t *testing.T) {
	fm := setupTestFileManager(t, []FileArea{{ID: 1, Tag: "UTILS", Path: "utils"}})
	src := writeTemp(t, "x", "x")

	if _, _, err := fm.ImportFile(2, src, "X", FileRecord{}); !errors.Is(err, ErrAreaNotFound) {
		t.Errorf("unknown area err = %v", err)
	}
	if _, _, err := fm.ImportFile(1, src, "..", FileRecord{}); err == nil {
		t.Error("accepted name ..")
	}
	if _, _, err := fm.ImportFile(1, filepath.Join(t.TempDir(), "missing"), "X", FileRecord{}); err == nil {
		t.Error("accepted a missing source")
	}
	// a path-like name is reduced to its base
	rec, _, err := fm.ImportFile(1, src, "../../etc/passwd", FileRecord{})
	if err != nil || rec.Filename != "passwd" {
		t.Errorf("path-like name stored as %q, %v", rec.Filename, err)
	}
}

func TestGetFilePath_RejectsBadRecords(t *testing.T) {
	fm := setupTestFileManager(t, []FileArea{{ID: 1, Tag: "UTILS", Path: "utils"}})

	if _, err := fm.GetFilePath(uuid.New()); err == nil {
		t.Error("expected error for unknown ID")
	}
	bad := FileRecord{ID: uuid.New(), AreaID: 1, Filename: "../../escape"}
	if err := fm.AddFileRecord(bad); err != nil {
		t.Fatal(err)
	}
	if _, err := fm.GetFilePath(bad.ID); err == nil || !strings.Contains(err.Error(), "invalid filename") {
		t.Errorf("traversal err = %v", err)
	}
}

func TestVersionedName(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "A.ZIP"), []byte("one"), 0644)
	os.WriteFile(filepath.Join(dir, "A_1.ZIP"), []byte("two"), 0644)
	two, _ := DigestFile(filepath.Join(dir, "A_1.ZIP"))

	tests := []struct {
		name, hash  string
		want        string
		wantPresent bool
	}{
		{"B.ZIP", "", "B.ZIP", false},
		{"A.ZIP", "", "A_2.ZIP", false},
		{"A.ZIP", two.Hash, "A_1.ZIP", true},
		{"A.ZIP", "ffff", "A_2.ZIP", false},
	}
	for _, tt := range tests {
		got, present, err := VersionedName(dir, tt.name, tt.hash)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want || present != tt.wantPresent {
			t.Errorf("VersionedName(%s, %.8s) = %s, %v; want %s, %v", tt.name, tt.hash, got, present, tt.want, tt.wantPresent)
		}
	}
}

func TestDigestFile(t *testing.T) {
	d, err := DigestFile(writeTemp(t, "d", "hello world"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Size != 11 || d.CRCHex() != "0D4A1185" {
		t.Errorf("digest = %+v", d)
	}
	if d.Hash != "256c83b297114d201b30179f3f0ef0cace9783622da5974326b436178aeef610" {
		t.Errorf("blake2b-256 = %s", d.Hash)
	}
}
