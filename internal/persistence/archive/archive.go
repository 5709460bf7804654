// Package archive keeps a copy of a file before it is replaced.
package archive

import (
	"io"
	"os"
)

// Preserve makes path+suffix refer to path's current bytes and returns that
// name. It hard-links when the filesystem allows, so the later rename over
// path leaves the backup holding the old inode. A stale backup is replaced.
func Preserve(path, suffix string) (string, error) {
	dst := path + suffix
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return "", err
	}
	if err := os.Link(path, dst); err == nil {
		return dst, nil
	}
	if err := copyFile(path, dst); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, st.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}
