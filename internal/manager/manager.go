// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package manager keeps the process-wide set of storage instances, one per
// directory, and tears them down together.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/ffutop/kvstorage/internal/storage"
)

var (
	ErrDirInUse    = errors.New("manager: directory already owned by another storage")
	ErrDirMismatch = errors.New("manager: storage already open over a different directory")
	ErrClosed      = errors.New("manager: shut down")
)

// Option adjusts the options of a single instance on top of the manager
// defaults.
type Option func(o *storage.Options)

func WithFs(fs afero.Fs) Option {
	return func(o *storage.Options) { o.Fs = fs }
}

func WithReadMode(mode storage.ReadMode) Option {
	return func(o *storage.Options) { o.ReadMode = mode }
}

func WithMaxRetries(n int) Option {
	return func(o *storage.Options) { o.MaxRetries = n }
}

func WithWriteGuard(d time.Duration) Option {
	return func(o *storage.Options) { o.WriteGuard = d }
}

func WithoutWatch() Option {
	return func(o *storage.Options) { o.DisableWatch = true }
}

// Manager maps instance names to directories. Lookups are safe from any
// goroutine; Open, Close and Shutdown touch the instances and must run on
// the goroutine driving ticker.
type Manager struct {
	ticker   storage.Ticker
	defaults storage.Options
	log      *slog.Logger

	mu        sync.RWMutex
	instances map[string]*storage.Instance
	dirs      map[string]string // abs dir -> name
	order     []string
	closed    bool
}

// New creates a manager. Every opened instance registers its Update with
// ticker, which may be nil when the caller drives updates itself.
func New(ticker storage.Ticker, defaults storage.Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.Logger == nil {
		defaults.Logger = logger
	}
	return &Manager{
		ticker:    ticker,
		defaults:  defaults,
		log:       logger,
		instances: make(map[string]*storage.Instance),
		dirs:      make(map[string]string),
	}
}

// Defaults returns the options new instances start from.
func (m *Manager) Defaults() storage.Options { return m.defaults }

// Open returns the instance called name, creating and initializing it over
// dir on first use.
func (m *Manager) Open(name, dir string, opts ...Option) (*storage.Instance, error) {
	o := m.defaults
	for _, opt := range opts {
		opt(&o)
	}
	return m.OpenWith(name, dir, o)
}

// OpenWith is Open with fully specified options.
func (m *Manager) OpenWith(name, dir string, o storage.Options) (*storage.Instance, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if inst, ok := m.instances[name]; ok {
		if inst.Dir() != abs {
			return nil, fmt.Errorf("%w: %q uses %s", ErrDirMismatch, name, inst.Dir())
		}
		return inst, nil
	}
	if owner, ok := m.dirs[abs]; ok {
		return nil, fmt.Errorf("%w: %s belongs to %q", ErrDirInUse, abs, owner)
	}

	if o.Logger == nil {
		o.Logger = m.log
	}
	inst, err := storage.New(name, abs, o)
	if err != nil {
		return nil, err
	}
	if err := inst.Initialize(m.ticker); err != nil {
		err = multierr.Append(err, inst.Destroy())
		return nil, fmt.Errorf("failed to initialize storage %q: %w", name, err)
	}

	m.instances[name] = inst
	m.dirs[abs] = name
	m.order = append(m.order, name)
	m.log.Info("Storage opened", "storage", name, "dir", abs)
	return inst, nil
}

// Get returns the instance called name.
func (m *Manager) Get(name string) (*storage.Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	return inst, ok
}

// Names returns instance names in the order they were opened.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Close flushes and destroys one instance.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	inst, ok := m.instances[name]
	if ok {
		m.forget(name, inst)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: storage %q", storage.ErrNotFound, name)
	}
	return m.teardown(inst)
}

// Shutdown flushes and destroys every instance, newest first, and refuses
// further Opens. Errors from all instances are combined.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*storage.Instance
	for i := len(m.order) - 1; i >= 0; i-- {
		all = append(all, m.instances[m.order[i]])
	}
	m.instances = make(map[string]*storage.Instance)
	m.dirs = make(map[string]string)
	m.order = nil
	m.mu.Unlock()

	var err error
	for _, inst := range all {
		err = multierr.Append(err, m.teardown(inst))
	}
	m.log.Info("Storage manager shut down", "instances", len(all))
	return err
}

func (m *Manager) forget(name string, inst *storage.Instance) {
	delete(m.instances, name)
	delete(m.dirs, inst.Dir())
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) teardown(inst *storage.Instance) error {
	flushErr := inst.Flush()
	if left := inst.DirtyCount(); left > 0 {
		m.log.Warn("Closing storage with unsaved values", "storage", inst.Name(), "dirty", left)
	}
	if err := multierr.Combine(flushErr, inst.Destroy()); err != nil {
		return fmt.Errorf("failed to close storage %q: %w", inst.Name(), err)
	}
	return nil
}
