// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config files hold endpoint tokens and everything else servechat writes
// holds transcripts, so files and directories are owner-only.
const (
	PrivateFileMode os.FileMode = 0600
	PrivateDirMode  os.FileMode = 0700
)

// MkdirPrivate creates dir and any missing parents with PrivateDirMode.
func MkdirPrivate(dir string) error {
	if err := os.MkdirAll(dir, PrivateDirMode); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// RestrictFile narrows an existing file to PrivateFileMode. A file that is
// already private is left untouched.
func RestrictFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&^PrivateFileMode != 0 {
		if err := os.Chmod(path, PrivateFileMode); err != nil {
			return fmt.Errorf("failed to restrict permissions of %s (was %o): %w", path, mode, err)
		}
	}
	return nil
}

// OpenPrivate opens path with flag, creating the file and its directory
// owner-only. An existing file is restricted before it is returned.
func OpenPrivate(path string, flag int) (*os.File, error) {
	if err := MkdirPrivate(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, flag|os.O_CREATE, PrivateFileMode)
	if err != nil {
		return nil, err
	}
	if err := RestrictFile(path); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// RELIABILITY: a crash mid-write leaves either the old file or the new one.
//
// WritePrivateFile replaces path with data through a synced temp file in
// the same directory, then syncs the directory so the rename is durable.
// The result is always PrivateFileMode, whatever the old file's mode was.
func WritePrivateFile(path string, data []byte) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if err := MkdirPrivate(dir); err != nil {
		return err
	}

	// CreateTemp opens with 0600 already.
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(abs)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(PrivateFileMode); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	renamed = true

	syncDir(dir)
	return nil
}

// syncDir flushes a directory entry. Not every platform can open a
// directory for sync, so failure is ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
