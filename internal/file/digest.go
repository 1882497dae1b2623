package file

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Digest describes file content.
type Digest struct {
	Size  int64
	CRC32 uint32
	Hash  string // BLAKE2b-256, lowercase hex
}

// CRCHex returns the CRC32 as 8 uppercase hex digits, the form TIC files
// carry.
func (d Digest) CRCHex() string { return fmt.Sprintf("%08X", d.CRC32) }

// DigestFile reads path once and returns its size, CRC32 and content hash.
func DigestFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return Digest{}, err
	}
	c := crc32.NewIEEE()
	n, err := io.Copy(io.MultiWriter(h, c), f)
	if err != nil {
		return Digest{}, fmt.Errorf("digest %s: %w", path, err)
	}
	return Digest{Size: n, CRC32: c.Sum32(), Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

// CopyFile copies src to dst, failing if dst already exists. A partial
// copy is removed.
func CopyFile(src, dst string) error {
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
	return nil
}

// VersionedName picks a name for storing content with the given hash in
// dir. If name is free it is returned. If a file with that name already
// holds the same content, name is returned with present set. Otherwise
// the first free "stem_N.ext" is returned.
func VersionedName(dir, name, hash string) (chosen string, present bool, err error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		full := filepath.Join(dir, candidate)
		if _, err := os.Stat(full); errors.Is(err, os.ErrNotExist) {
			return candidate, false, nil
		} else if err != nil {
			return "", false, err
		}
		if hash != "" {
			d, err := DigestFile(full)
			if err != nil {
				return "", false, err
			}
			if d.Hash == hash {
				return candidate, true, nil
			}
		}
	}
	return "", false, fmt.Errorf("no free name for %s in %s", name, dir)
}

// safeName reduces a name to a single path element.
func safeName(name string) (string, error) {
	base := filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return base, nil
}
