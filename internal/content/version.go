package content

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DecodeVersion decodes a zero-padded hex version directory name.
//
// Leading zeros are stripped, an odd remainder is left-padded with one zero,
// the bytes are left-extended to four and read as a big-endian uint32.
func DecodeVersion(name string) (uint32, error) {
	h := strings.TrimLeft(name, "0")
	if len(h)%2 != 0 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", name, err)
	}
	if len(b) > 4 {
		return 0, fmt.Errorf("version %q: exceeds 32 bits", name)
	}
	var buf [4]byte
	copy(buf[4-len(b):], b)
	return binary.BigEndian.Uint32(buf[:]), nil
}

// HighestVersion scans the version directories under stableDir and returns
// the one with the greatest decoded version. Entries that are not
// directories or whose names do not decode are ignored. ok is false when no
// version directory exists.
func HighestVersion(stableDir string) (dir string, version uint32, ok bool, err error) {
	ents, err := os.ReadDir(stableDir)
	if err != nil {
		return "", 0, false, err
	}
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		v, derr := DecodeVersion(e.Name())
		if derr != nil {
			continue
		}
		if !ok || v >= version {
			dir = filepath.Join(stableDir, e.Name())
			version = v
			ok = true
		}
	}
	return dir, version, ok, nil
}

// VersionDir normalizes a path that points at either a version directory or
// a file inside one (DataFile or InfoFile) to the version directory.
func VersionDir(path string) string {
	path = filepath.Clean(path)
	switch filepath.Base(path) {
	case DataFile, InfoFile:
		return filepath.Dir(path)
	}
	return path
}

// StableDir returns the stable-name directory holding a version directory or
// a file inside one.
func StableDir(path string) string { return filepath.Dir(VersionDir(path)) }

// StableNameOf returns the stable-name directory component for a version
// directory or a file inside one.
func StableNameOf(path string) string {
	return filepath.Base(StableDir(path))
}
