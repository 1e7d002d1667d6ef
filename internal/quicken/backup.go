package quicken

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Backup copies the Quicken file or package at src into dir as
// "<name>_backup_<YYYYMMDD_HHMMSS><ext>" and returns the new path. Each file is written to a
// temporary name and renamed, so a failed copy never leaves a partial file behind.
func Backup(src, dir string, now time.Time) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	base := filepath.Base(filepath.Clean(src))
	ext := filepath.Ext(base)
	name := fmt.Sprintf("%s_backup_%s%s", strings.TrimSuffix(base, ext), now.Format("20060102_150405"), ext)
	dst := filepath.Join(dir, name)

	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("backup %s already exists", dst)
	}

	if !info.IsDir() {
		if err := copyFile(src, dst, info.Mode().Perm()); err != nil {
			return "", err
		}
		return dst, nil
	}

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, fi.Mode().Perm()|0700)
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target, fi.Mode().Perm())
	})
	if err != nil {
		_ = os.RemoveAll(dst)
		return "", fmt.Errorf("failed to back up %s: %w", src, err)
	}
	return dst, nil
}

func copyFile(src, dst string, perm fs.FileMode) error {
	source, err := os.Open(src) // #nosec G304 -- src is the operator's Quicken file
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	tmp := dst + ".tmp"
	destination, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm) // #nosec G304
	if err != nil {
		return err
	}

	if _, err := io.Copy(destination, source); err != nil {
		_ = destination.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := destination.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
