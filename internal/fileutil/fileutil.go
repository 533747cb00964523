package fileutil

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// CopyFileVerified copies src to dst, checks the copy against the source's
// size and SHA-256, and fsyncs it. dst is removed when the check fails.
func CopyFileVerified(src, dst string) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	err = copyVerified(src, out)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
	}
	return err
}

// ReplaceFile installs a verified copy of src at dst by way of a temporary
// sibling and a rename, so readers see either the old file or the new one.
func ReplaceFile(src, dst string) error {
	return commit(dst, func(f *os.File) error { return copyVerified(src, f) })
}

// WriteFileAtomic is ReplaceFile for in-memory content.
func WriteFileAtomic(path string, data []byte) error {
	return commit(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// SyncDir fsyncs dir so a rename inside it survives a crash.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}

// FileSize returns the size of a regular file.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return 0, err
	case !info.Mode().IsRegular():
		return 0, fmt.Errorf("%s is not a regular file", path)
	}
	return info.Size(), nil
}

func commit(dst string, fill func(*os.File) error) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(dst)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	err = fill(f)
	if err == nil {
		err = f.Sync()
	}
	err = errors.Join(err, f.Close())
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filepath.Base(dst), err)
	}
	return SyncDir(dir)
}

// copyVerified streams src into out, hashing both sides, then fsyncs out.
func copyVerified(src string, out *os.File) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	read, wrote := sha256.New(), sha256.New()
	n, err := io.Copy(io.MultiWriter(out, wrote), io.TeeReader(in, read))
	if err != nil {
		return err
	}
	if n != info.Size() {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d", info.Size(), n)
	}
	if string(read.Sum(nil)) != string(wrote.Sum(nil)) {
		return errors.New("copy hash mismatch")
	}
	return out.Sync()
}
