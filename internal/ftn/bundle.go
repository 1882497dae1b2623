package ftn

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// zipMagic is the 4-byte magic number for ZIP archives (PK\x03\x04).
var zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// BundleKind selects the extraction strategy for an inbound file.
type BundleKind int

const (
	NotBundle    BundleKind = iota
	ZipBundle               // .zip: built-in zip only
	DayBundle               // .su0-.sa9: zip first, then external tools
	LegacyBundle            // .arc .arj .lzh .rar: external tools only
)

func (k BundleKind) String() string {
	switch k {
	case ZipBundle:
		return "zip"
	case DayBundle:
		return "day"
	case LegacyBundle:
		return "legacy"
	}
	return "none"
}

var dayPrefixes = map[string]bool{
	"su": true, "mo": true, "tu": true, "we": true, "th": true, "fr": true, "sa": true,
}

// ClassifyBundle reports how the file name should be extracted, judged by
// extension only. Upper-case variants are accepted.
//
//	.zip                  ZipBundle
//	.mo0 .tu3 ... .sa9    DayBundle (weekday prefix + one digit)
//	.arc .arj .lzh .rar   LegacyBundle
func ClassifyBundle(name string) BundleKind {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".zip":
		return ZipBundle
	case ".arc", ".arj", ".lzh", ".rar":
		return LegacyBundle
	}
	if len(ext) == 4 && dayPrefixes[ext[1:3]] && ext[3] >= '0' && ext[3] <= '9' {
		return DayBundle
	}
	return NotBundle
}

// IsPacketFile reports whether name has a .pkt extension.
func IsPacketFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pkt")
}

// IsZIPFile reports whether the file at path begins with the ZIP magic bytes.
func IsZIPFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false, nil
	}
	return bytes.Equal(magic, zipMagic), nil
}

// ExtractZip extracts every regular file of the zip archive at srcPath into
// destDir, flattening directory components. Returns the extracted paths.
func ExtractZip(srcPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", filepath.Base(srcPath), err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("create dest dir %s: %w", destDir, err)
	}

	var extracted []string
	for _, zf := range r.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(filepath.FromSlash(strings.ReplaceAll(zf.Name, "\\", "/")))
		if name == "." || name == ".." || name == string(filepath.Separator) {
			continue
		}

		destPath := filepath.Join(destDir, name)
		if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return extracted, fmt.Errorf("illegal file path in bundle: %s", zf.Name)
		}
		if err := extractZipFile(zf, destPath); err != nil {
			return extracted, fmt.Errorf("extract %s from bundle: %w", name, err)
		}
		extracted = append(extracted, destPath)
	}
	return extracted, nil
}

// extractZipFile writes a single zip.File entry to destPath.
func extractZipFile(zf *zip.File, destPath string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CreateBundle creates a ZIP bundle archive at bundlePath containing the
// files listed in pktPaths. Returns the number of files bundled.
// It writes to a temporary file and renames on success so a partial bundle
// is never left at bundlePath.
func CreateBundle(bundlePath string, pktPaths []string) (int, error) {
	if len(pktPaths) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(bundlePath), 0755); err != nil {
		return 0, fmt.Errorf("create bundle dir: %w", err)
	}

	tmpPath := bundlePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("create bundle file: %w", err)
	}

	zw := zip.NewWriter(f)
	count := 0
	for _, pktPath := range pktPaths {
		if err := addFileToZip(zw, pktPath); err != nil {
			zw.Close()
			f.Close()
			os.Remove(tmpPath)
			return 0, fmt.Errorf("add %s to bundle: %w", filepath.Base(pktPath), err)
		}
		count++
	}

	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close zip writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close bundle file: %w", err)
	}
	if err := os.Rename(tmpPath, bundlePath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename bundle: %w", err)
	}
	return count, nil
}

// addFileToZip adds a single file to an open zip.Writer using only the base name.
func addFileToZip(zw *zip.Writer, filePath string) error {
	in, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(filePath)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

var bundleDays = []string{"su", "mo", "tu", "we", "th", "fr", "sa"}

// BundleFileName returns the BSO bundle name for a destination and weekday:
// NNNNFFFF.DDn where NNNN/FFFF are the hex net/node deltas from the sending
// system, DD the weekday and n the sequence digit (0-9).
func BundleFileName(myNet, myNode, destNet, destNode uint16, weekday int, seq int) string {
	day := bundleDays[((weekday%7)+7)%7]
	if seq < 0 || seq > 9 {
		seq = 0
	}
	return fmt.Sprintf("%04x%04x.%s%d", uint16(myNet-destNet), uint16(myNode-destNode), day, seq)
}
