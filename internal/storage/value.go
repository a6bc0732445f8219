// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"sync/atomic"
	"time"

	"github.com/ffutop/kvstorage/internal/storage/codec"
)

// Value is one named unit of persisted state. Implementations embed Base,
// which carries the bookkeeping the Instance needs.
type Value interface {
	Name() string

	// WriteValue encodes the current state. Writing nothing is treated as
	// a failed write that is not retried; return ErrSkipWrite to skip on
	// purpose.
	WriteValue(w *codec.Writer) error

	// ReadValue decodes the file contents. On error the implementation
	// should leave its previous state untouched.
	ReadValue(r *codec.Reader) error

	// ApplyDefault sets the in-memory default when no usable file exists.
	// It must not write.
	ApplyDefault()

	base() *Base
}

// Optional lifecycle hooks. A panic inside a hook is recovered and logged
// by the Instance.
type (
	AddedHook interface {
		OnAdded()
	}
	LoadedHook interface {
		OnLoaded()
	}
	ChangedHook interface {
		OnChanged()
	}
	SavedHook interface {
		OnSaved()
	}
	DestroyedHook interface {
		OnDestroyed()
	}
)

// Base holds the per-value state managed by an Instance. The zero value is
// an unnamed, detached value.
type Base struct {
	name     string
	path     string
	storage  *Instance
	dirty    atomic.Bool
	retries  int
	lastSave time.Time
}

func (b *Base) base() *Base { return b }

// Name returns the key of the value within its instance.
func (b *Base) Name() string { return b.name }

// SetName names a detached value. It fails with ErrAttached once the value
// has been added to an instance.
func (b *Base) SetName(name string) error {
	if b.storage != nil {
		return ErrAttached
	}
	b.name = name
	return nil
}

// Path returns the backing file, or "" while detached.
func (b *Base) Path() string { return b.path }

// Storage returns the owning instance, or nil while detached.
func (b *Base) Storage() *Instance { return b.storage }

// IsDirty reports whether a write is pending.
func (b *Base) IsDirty() bool { return b.dirty.Load() }

// MarkDirty schedules the value for the next flush. Safe from any goroutine.
func (b *Base) MarkDirty() { b.dirty.Store(true) }

// RetryCount returns the number of consecutive failed writes.
func (b *Base) RetryCount() int { return b.retries }

// LastSaveTime returns the time of the last successful write.
func (b *Base) LastSaveTime() time.Time { return b.lastSave }

func (b *Base) attach(inst *Instance, path string) {
	b.storage = inst
	b.path = path
}

func (b *Base) detach() {
	b.storage = nil
	b.path = ""
	b.retries = 0
	b.dirty.Store(false)
}
