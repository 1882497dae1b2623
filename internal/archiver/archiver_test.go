package archiver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Archivers) == 0 {
		t.Fatal("DefaultConfig should have at least one archiver")
	}

	zip := cfg.Archivers[0]
	if zip.ID != "zip" {
		t.Errorf("first archiver ID = %q, want %q", zip.ID, "zip")
	}
	if !zip.Enabled || !zip.Native {
		t.Error("ZIP archiver should be enabled and native by default")
	}
	if zip.Magic != "504B0304" {
		t.Errorf("ZIP magic = %q, want %q", zip.Magic, "504B0304")
	}

	for _, id := range []string{"arc", "arj", "lha", "rar"} {
		a, ok := cfg.FindByID(id)
		if !ok || !a.Enabled || a.Unpack.IsEmpty() {
			t.Errorf("%s should be enabled with an unpack command, got %+v", id, a)
		}
	}
	if cfg.Timeout() != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout(), DefaultTimeout)
	}
}

func TestFindByExtension(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		filename string
		wantID   string
		wantOK   bool
	}{
		{"archive.zip", "zip", true},
		{"ARCHIVE.ZIP", "zip", true},
		{"file.rar", "rar", true},
		{"file.LZH", "lha", true},
		{"file.7z", "", false}, // disabled by default
		{"file.txt", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		a, ok := cfg.FindByExtension(tt.filename)
		if ok != tt.wantOK {
			t.Errorf("FindByExtension(%q) ok = %v, want %v", tt.filename, ok, tt.wantOK)
		}
		if ok && a.ID != tt.wantID {
			t.Errorf("FindByExtension(%q) ID = %q, want %q", tt.filename, a.ID, tt.wantID)
		}
	}
}

func TestFindByID(t *testing.T) {
	cfg := DefaultConfig()

	if a, ok := cfg.FindByID("ZIP"); !ok || a.ID != "zip" {
		t.Errorf("FindByID(\"ZIP\") = (%q, %v), want (\"zip\", true)", a.ID, ok)
	}
	// disabled archivers are found too
	if a, ok := cfg.FindByID("7z"); !ok || a.ID != "7z" {
		t.Errorf("FindByID(\"7z\") = (%q, %v)", a.ID, ok)
	}
	if _, ok := cfg.FindByID("nonexistent"); ok {
		t.Error("FindByID(\"nonexistent\") should return false")
	}
}

func TestMatchesMagic(t *testing.T) {
	a := Archiver{Magic: "60EA"}
	if !a.MatchesMagic([]byte{0x60, 0xEA, 0x01}) {
		t.Error("expected ARJ magic to match")
	}
	if a.MatchesMagic([]byte{0x50, 0x4B}) {
		t.Error("unexpected match")
	}
	if (&Archiver{Magic: "zz"}).MatchesMagic([]byte("zz")) {
		t.Error("invalid hex magic must not match")
	}
}

func TestExternalChainOrdering(t *testing.T) {
	dir := t.TempDir()
	// ARJ magic in a file named like a RAR archive.
	path := filepath.Join(dir, "0001000a.rar")
	if err := os.WriteFile(path, []byte{0x60, 0xEA, 0, 0}, 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	chain := cfg.ExternalChain(path)
	var names []string
	for _, ex := range chain {
		names = append(names, ex.Name())
	}
	if len(names) != 4 {
		t.Fatalf("chain = %v, want 4 external extractors", names)
	}
	if names[0] != "arj" || names[1] != "rar" {
		t.Errorf("chain order = %v, want arj (magic) then rar (extension) first", names)
	}
	for _, n := range names {
		if n == "zip" || n == "7z" {
			t.Errorf("chain should not contain %s", n)
		}
	}
}

func TestCommandDefExpand(t *testing.T) {
	cd := CommandDef{Command: "arj", Args: []string{"e", "{ARCHIVE}", "{OUTDIR}/", "-o{OUTDIR}"}}
	got := cd.Expand("/in/a.arj", "/tmp/x")
	want := []string{"e", "/in/a.arj", "/tmp/x/", "-o/tmp/x"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, got[i], want[i])
		}
	}
	if cd.Args[1] != "{ARCHIVE}" {
		t.Error("Expand must not modify the template")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("LoadConfig should not error for missing file: %v", err)
	}
	if len(cfg.Archivers) == 0 {
		t.Error("missing file should return default config with archivers")
	}
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Config{
		TimeoutSeconds: 5,
		Archivers: []Archiver{
			{ID: "zip", Name: "ZIP", Extension: ".zip", Native: true, Enabled: true},
			{
				ID:        "rar",
				Name:      "RAR",
				Extension: ".rar",
				Enabled:   true,
				Unpack: CommandDef{
					Command: "/usr/bin/unrar",
					Args:    []string{"x", "{ARCHIVE}", "{OUTDIR}"},
				},
			},
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "archivers.json"), data, 0644); err != nil {
		t.Fatalf("write archivers.json: %v", err)
	}

	loaded, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if len(loaded.Archivers) != 2 {
		t.Fatalf("loaded %d archivers, want 2", len(loaded.Archivers))
	}
	if loaded.Archivers[1].ID != "rar" || !loaded.Archivers[1].Enabled {
		t.Errorf("second archiver = %+v, want rar enabled", loaded.Archivers[1])
	}
	if loaded.Timeout().Seconds() != 5 {
		t.Errorf("Timeout = %v, want 5s", loaded.Timeout())
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "archivers.json"), []byte("{bad json}"), 0644); err != nil {
		t.Fatalf("write archivers.json: %v", err)
	}

	if _, err := LoadConfig(tmpDir); err == nil {
		t.Error("LoadConfig should error on invalid JSON")
	}
}
