// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
	"github.com/spf13/afero"
)

// readFile returns the contents of a value file. A missing file yields an
// error wrapping fs.ErrNotExist.
func (inst *Instance) readFile(path string) ([]byte, error) {
	if inst.opts.ReadMode == ReadModeMmap {
		return readMapped(path)
	}
	data, err := afero.ReadFile(inst.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// readMapped copies the file out of a read-only mapping so the mapping can
// be released before decoding.
func readMapped(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmap file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	// Zero-length files cannot be mapped.
	if fi.Size() == 0 {
		return []byte{}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	data := make([]byte, len(m))
	copy(data, m)
	if err := m.Unmap(); err != nil {
		return nil, fmt.Errorf("failed to unmap file: %w", err)
	}
	return data, nil
}

// writeFile replaces the contents of path with data.
func (inst *Instance) writeFile(path string, data []byte) error {
	if err := inst.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := inst.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if inst.opts.Sync {
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("failed to sync file to disk: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// deleteFile reports whether a file was removed. Missing files are not an
// error. The guard is restarted first so the watcher does not report our
// own delete.
func (inst *Instance) deleteFile(path string) bool {
	inst.guard.restart(inst.now())
	err := inst.fs.Remove(path)
	if err == nil {
		return true
	}
	if !errors.Is(err, fs.ErrNotExist) {
		inst.log.Warn("Failed to delete value file", "path", path, "err", err)
	}
	return false
}

// sweep deletes every entry left in the directory and returns how many
// were removed. Failures are logged and skipped.
func (inst *Instance) sweep() int {
	entries, err := afero.ReadDir(inst.fs, inst.dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			inst.log.Warn("Failed to list storage directory", "dir", inst.dir, "err", err)
		}
		return 0
	}
	if len(entries) > 0 {
		inst.guard.restart(inst.now())
	}
	removed := 0
	for _, e := range entries {
		path := filepath.Join(inst.dir, e.Name())
		if err := inst.fs.RemoveAll(path); err != nil {
			inst.log.Warn("Failed to delete untracked entry", "path", path, "err", err)
			continue
		}
		removed++
	}
	return removed
}
