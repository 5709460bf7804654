package patcher

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/persistence/archive"
)

const (
	tempSuffix   = ".clean"
	bufferSuffix = ".uncompressed"
	backupSuffix = ".bak"
)

// writeBack serializes s.ctr next to the data file and renames it into
// place. It always closes the container. On error the data file is
// untouched and the temp file is removed.
func (p *Patcher) writeBack(s *session) (backup string, err error) {
	dst := s.c.DataPath()
	tmp := dst + tempSuffix
	ctrClosed := false
	defer func() {
		if !ctrClosed {
			_ = s.ctr.Close()
		}
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if err := p.serialize(s, f); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("serialize %s: %w", dst, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	// The data file must not be held open across the rename.
	ctrClosed = true
	if err := s.ctr.Close(); err != nil {
		return "", err
	}

	if !p.cfg.DisableBackup {
		if backup, err = archive.Preserve(dst, backupSuffix); err != nil {
			return "", fmt.Errorf("backup %s: %w", dst, err)
		}
	}
	if p.beforeReplace != nil {
		if err := p.beforeReplace(tmp, dst); err != nil {
			return "", err
		}
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("replace %s: %w", dst, err)
	}
	return backup, nil
}

// serialize writes the container in its native form, or recompressed to its
// declared scheme when recompression is enabled.
func (p *Patcher) serialize(s *session, w io.Writer) error {
	scheme := s.ctr.Compression()
	if !p.cfg.Recompress || scheme == assets.CompressionNone {
		return s.ctr.Serialize(w)
	}
	if p.bufferOnDisk(s.estimate) {
		return p.packViaFile(s, w, scheme)
	}
	var buf bytes.Buffer
	buf.Grow(int(min(s.estimate, 64<<20)))
	if err := s.ctr.Serialize(&buf); err != nil {
		return err
	}
	return p.codec.Pack(w, &buf, scheme)
}

func (p *Patcher) bufferOnDisk(estimate uint64) bool {
	if estimate >= hardBufferCeiling {
		return true
	}
	return estimate > uint64(p.cfg.RecompressMemoryMaxMB*megabyte)
}

func (p *Patcher) packViaFile(s *session, w io.Writer, scheme assets.Compression) error {
	name := s.c.DataPath() + bufferSuffix
	buf, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		_ = buf.Close()
		_ = os.Remove(name)
	}()
	if err := s.ctr.Serialize(buf); err != nil {
		return err
	}
	if _, err := buf.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return p.codec.Pack(w, buf, scheme)
}
