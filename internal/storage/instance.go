// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/ffutop/kvstorage/internal/storage/codec"
	"github.com/ffutop/kvstorage/internal/watch"
)

// Ticker is the host's periodic callback registry.
type Ticker interface {
	Register(fn func(now time.Time)) (unregister func())
}

// Instance manages the values stored in one directory.
type Instance struct {
	name string
	dir  string
	opts Options
	fs   afero.Fs
	log  *slog.Logger

	values []Value // insertion order is flush order
	lookup map[string]Value
	byPath map[string]Value

	writer *codec.Writer
	guard  writeGuard
	subs   listeners

	watcher    *watch.Watcher
	unregister func()
	lastUpdate time.Time
	flushing   bool

	initialized bool
	destroyed   bool

	now func() time.Time
}

// New creates an Instance over dir. Nothing touches the disk until values
// are added or Initialize is called.
func New(name, dir string, opts Options) (*Instance, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: instance name is empty", ErrInvalidName)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	inst := &Instance{
		name:   name,
		dir:    abs,
		opts:   opts,
		fs:     opts.Fs,
		log:    opts.Logger.With("storage", name),
		lookup: make(map[string]Value),
		byPath: make(map[string]Value),
		writer: codec.NewWriter(),
		now:    time.Now,
	}
	inst.guard.window = opts.WriteGuard
	return inst, nil
}

func (inst *Instance) Name() string { return inst.name }

// Dir returns the absolute storage directory.
func (inst *Instance) Dir() string { return inst.dir }

// Options returns the effective settings.
func (inst *Instance) Options() Options { return inst.opts }

// Initialize creates the directory, starts the change watcher and registers
// Update with ticker. A nil ticker leaves driving Update to the caller.
// Calling it again is a no-op.
func (inst *Instance) Initialize(ticker Ticker) error {
	if inst.destroyed {
		return ErrDestroyed
	}
	if inst.initialized {
		return nil
	}
	if err := inst.fs.MkdirAll(inst.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if !inst.opts.DisableWatch {
		w, err := watch.New(inst.dir, watch.Options{
			Debounce: inst.opts.Debounce,
			Filter: func(fsnotify.Event) bool {
				return !inst.guard.suppress(time.Now())
			},
			Buffer: 256,
			Logger: inst.log,
		})
		if err != nil {
			return err
		}
		inst.watcher = w
	}
	if ticker != nil {
		inst.unregister = ticker.Register(inst.Update)
	}

	inst.initialized = true
	inst.log.Debug("Storage initialized", "dir", inst.dir, "watch", inst.watcher != nil)
	return nil
}

// Destroy stops the periodic callback and the watcher and detaches every
// value. Pending writes are not flushed; call Flush first to keep them.
// The instance cannot be used afterwards.
func (inst *Instance) Destroy() error {
	if inst.destroyed {
		return ErrDestroyed
	}
	inst.destroyed = true

	if inst.unregister != nil {
		inst.unregister()
		inst.unregister = nil
	}
	var err error
	if inst.watcher != nil {
		err = multierr.Append(err, inst.watcher.Close())
		inst.watcher = nil
	}

	for _, v := range inst.values {
		if v.base().storage != inst {
			continue
		}
		inst.hookDestroyed(v)
		v.base().detach()
	}
	inst.values = nil
	clear(inst.lookup)
	clear(inst.byPath)
	inst.subs.clear()
	inst.guard.stop()

	inst.log.Debug("Storage destroyed")
	return err
}

// Subscribe registers fn for kind and returns a function cancelling it.
func (inst *Instance) Subscribe(kind EventKind, fn Listener) (cancel func()) {
	return inst.subs.add(kind, fn)
}

// Add attaches v, loads its file (or applies its default) and starts
// tracking it.
func (inst *Instance) Add(v Value) error {
	if v == nil {
		return ErrNilValue
	}
	if inst.destroyed {
		return ErrDestroyed
	}
	name := v.Name()
	if err := validateName(name); err != nil {
		return err
	}
	if _, ok := inst.lookup[name]; ok {
		return fmt.Errorf("%w: %q", ErrExists, name)
	}
	b := v.base()
	if b.storage != nil {
		return fmt.Errorf("%w: %q", ErrAttached, name)
	}
	path := inst.pathFor(name)
	if _, ok := inst.byPath[path]; ok {
		return fmt.Errorf("%w: path %s", ErrExists, path)
	}

	b.attach(inst, path)
	inst.hookAdded(v)
	inst.load(v, true)
	inst.hookLoaded(v)

	inst.values = append(inst.values, v)
	inst.lookup[name] = v
	inst.byPath[path] = v
	inst.emit(EventAdded, v)
	return nil
}

// GetOrAdd returns the value stored under name, or adds the one built by
// factory. An unnamed factory result is given name.
func (inst *Instance) GetOrAdd(name string, factory func() Value) (Value, error) {
	if v, ok := inst.lookup[name]; ok {
		return v, nil
	}
	v := factory()
	if v == nil {
		return nil, ErrNilValue
	}
	if v.Name() == "" {
		if err := v.base().SetName(name); err != nil {
			return nil, err
		}
	}
	if err := inst.Add(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Get returns the value stored under name.
func (inst *Instance) Get(name string) (Value, bool) {
	v, ok := inst.lookup[name]
	return v, ok
}

// GetAs returns the value stored under name as a T.
func GetAs[T Value](inst *Instance, name string) (T, error) {
	var zero T
	v, ok := inst.lookup[name]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is %T, not %T", ErrTypeMismatch, name, v, zero)
	}
	return t, nil
}

// TryGetAs is GetAs reporting failure as a bool.
func TryGetAs[T Value](inst *Instance, name string) (T, bool) {
	t, err := GetAs[T](inst, name)
	return t, err == nil
}

// Remove stops tracking the value stored under name, optionally deleting
// its file. When nothing is tracked under name and deleteFile is set, it
// still deletes the file that would belong to name and reports whether
// one existed.
func (inst *Instance) Remove(name string, deleteFile bool) bool {
	v, ok := inst.lookup[name]
	if !ok {
		if deleteFile && validateName(name) == nil {
			return inst.deleteFile(inst.pathFor(name))
		}
		return false
	}
	return inst.remove(v, deleteFile)
}

// RemoveValue is Remove by identity.
func (inst *Instance) RemoveValue(v Value, deleteFile bool) bool {
	if v == nil || v.base().storage != inst {
		return false
	}
	return inst.remove(v, deleteFile)
}

func (inst *Instance) remove(v Value, deleteFile bool) bool {
	b := v.base()
	delete(inst.lookup, b.name)
	delete(inst.byPath, b.path)
	// A flush pass in progress prunes the slice once it is done.
	if !inst.flushing {
		inst.values = without(inst.values, v)
	}
	if deleteFile {
		inst.deleteFile(b.path)
	}
	inst.hookDestroyed(v)
	b.detach()
	inst.emit(EventRemoved, v)
	return true
}

// RemoveAll removes every value. With deleteFiles it also deletes their
// files and anything else left in the directory. It returns the number of
// values removed plus untracked entries deleted.
func (inst *Instance) RemoveAll(deleteFiles bool) int {
	snapshot := append([]Value(nil), inst.values...)
	count := 0
	for _, v := range snapshot {
		if v.base().storage == inst && inst.remove(v, deleteFiles) {
			count++
		}
	}
	if deleteFiles {
		count += inst.sweep()
	}
	return count
}

// Rename re-keys a value and moves its file.
func (inst *Instance) Rename(oldName, newName string) error {
	if inst.destroyed {
		return ErrDestroyed
	}
	v, ok := inst.lookup[oldName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, oldName)
	}
	if err := validateName(newName); err != nil {
		return err
	}
	if _, ok := inst.lookup[newName]; ok {
		return fmt.Errorf("%w: %q", ErrExists, newName)
	}

	b := v.base()
	oldPath, newPath := b.path, inst.pathFor(newName)
	if _, err := inst.fs.Stat(oldPath); err == nil {
		inst.guard.restart(inst.now())
		if err := inst.fs.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		if err := inst.fs.Rename(oldPath, newPath); err != nil {
			return fmt.Errorf("failed to rename value file: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat value file: %w", err)
	}

	delete(inst.lookup, oldName)
	delete(inst.byPath, oldPath)
	b.name, b.path = newName, newPath
	inst.lookup[newName] = v
	inst.byPath[newPath] = v
	return nil
}

// Save marks every value dirty so the next pass rewrites all of them.
func (inst *Instance) Save() {
	for _, v := range inst.values {
		v.base().MarkDirty()
	}
}

// Len returns the number of tracked values.
func (inst *Instance) Len() int { return len(inst.lookup) }

// Names returns value names in insertion order.
func (inst *Instance) Names() []string {
	names := make([]string, 0, len(inst.values))
	for _, v := range inst.values {
		if v.base().storage == inst {
			names = append(names, v.Name())
		}
	}
	return names
}

// DirtyCount returns how many values have a pending write.
func (inst *Instance) DirtyCount() int {
	n := 0
	for _, v := range inst.values {
		if v.base().IsDirty() {
			n++
		}
	}
	return n
}

func (inst *Instance) pathFor(name string) string {
	return filepath.Join(inst.dir, filepath.FromSlash(name))
}

// validateName accepts clean, slash-separated relative names that stay
// inside the storage directory.
func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if path.Clean(name) != name || strings.Contains(name, `\`) || !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func without(values []Value, v Value) []Value {
	for i, x := range values {
		if x == v {
			return append(values[:i], values[i+1:]...)
		}
	}
	return values
}
