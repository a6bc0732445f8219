// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package watch reports changes to the files under a directory tree. Raw
// fsnotify events are filtered, then coalesced per path over a debounce
// window before being delivered on a buffered channel.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"
)

// Op is the consolidated kind of change for a path.
type Op int

const (
	// Changed means the file exists and its content may differ.
	Changed Op = iota + 1
	// Deleted means the file is gone.
	Deleted
)

func (op Op) String() string {
	switch op {
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// Event is a debounced change notification for one file.
type Event struct {
	Path string
	Op   Op
}

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period a path must observe before its event is
	// delivered. Bursts of writes to one file collapse into one Event.
	Debounce time.Duration

	// Filter is consulted for every raw event as it arrives. Returning false
	// drops the event before debouncing.
	Filter func(ev fsnotify.Event) bool

	// Buffer is the capacity of the Events channel. Default 64.
	Buffer int

	Logger *slog.Logger
}

// Watcher monitors a directory recursively.
type Watcher struct {
	root   string
	opts   Options
	log    *slog.Logger
	fsw    *fsnotify.Watcher
	events chan Event

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	wg conc.WaitGroup
}

// New starts watching root and every directory below it.
func New(root string, opts Options) (*Watcher, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		opts:    opts,
		log:     opts.Logger,
		fsw:     fsw,
		events:  make(chan Event, opts.Buffer),
		pending: make(map[string]*time.Timer),
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Go(w.run)
	return w, nil
}

// Events delivers debounced changes. The channel is never closed; stop
// reading after Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the watcher and cancels pending debounced events.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The tree may shrink while we walk it.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("Filesystem watcher error", "root", w.root, "err", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn("Failed to watch new directory", "path", ev.Name, "err", err)
			}
			return
		}
	}

	// Only content and existence changes matter; chmod is noise.
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	if w.opts.Filter != nil && !w.opts.Filter(ev) {
		return
	}
	w.schedule(ev.Name)
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() { w.fire(path) })
}

// fire may run twice for one burst when a Reset races the timer; consumers
// tolerate duplicate events.
func (w *Watcher) fire(path string) {
	op := Changed
	fi, err := os.Stat(path)
	if err != nil {
		op = Deleted
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	delete(w.pending, path)
	if fi != nil && fi.IsDir() {
		return
	}

	select {
	case w.events <- Event{Path: path, Op: op}:
	default:
		w.log.Warn("Dropping filesystem event, consumer is behind", "path", path, "op", op)
	}
}
