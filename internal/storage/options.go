// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

// ReadMode selects how value files are loaded.
type ReadMode string

const (
	// ReadModeFile reads files with plain read calls.
	ReadModeFile ReadMode = "file"
	// ReadModeMmap memory-maps files for reading. Requires the OS filesystem.
	ReadModeMmap ReadMode = "mmap"
)

// Options configures an Instance.
type Options struct {
	// WriteGuard is how long after our own write filesystem events are
	// ignored.
	WriteGuard time.Duration

	// UpdateInterval throttles flush passes driven by the tick callback.
	UpdateInterval time.Duration

	// MaxRetries is how many times a failed write is retried before the
	// pending change is dropped.
	MaxRetries int

	// Debounce is the watcher's per-file consolidation window.
	Debounce time.Duration

	ReadMode ReadMode

	// Sync fsyncs every written file.
	Sync bool

	// DisableWatch turns off external change detection.
	DisableWatch bool

	// Fs is the filesystem values live on. Defaults to the OS filesystem.
	// The watcher only works with the OS filesystem.
	Fs afero.Fs

	Logger *slog.Logger
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		WriteGuard:     300 * time.Millisecond,
		UpdateInterval: 100 * time.Millisecond,
		MaxRetries:     3,
		Debounce:       50 * time.Millisecond,
		ReadMode:       ReadModeFile,
		Sync:           true,
	}
}

func (o *Options) normalize() error {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ReadMode == "" {
		o.ReadMode = ReadModeFile
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}

	_, onOS := o.Fs.(*afero.OsFs)
	switch o.ReadMode {
	case ReadModeFile:
	case ReadModeMmap:
		if !onOS {
			return fmt.Errorf("read mode %q requires the OS filesystem", o.ReadMode)
		}
	default:
		return fmt.Errorf("unknown read mode %q", o.ReadMode)
	}
	if !onOS {
		o.DisableWatch = true
	}
	return nil
}
