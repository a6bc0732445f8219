// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tick implements the host's fixed-update loop. Every registered
// callback, and every function handed to Do, runs on the single goroutine
// executing Run, so callbacks never overlap.
package tick

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultInterval = 50 * time.Millisecond

type callback struct {
	id uint64
	fn func(now time.Time)
}

// Loop drives periodic callbacks.
type Loop struct {
	interval time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	callbacks []callback
	nextID    uint64

	calls chan func()
}

// New creates a Loop ticking every interval (DefaultInterval if zero).
func New(interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		interval: interval,
		log:      logger,
		calls:    make(chan func()),
	}
}

// Interval returns the tick period.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Register adds fn to the tick set and returns a function removing it.
// Safe to call from any goroutine, including from inside a callback.
func (l *Loop) Register(fn func(now time.Time)) (unregister func()) {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.callbacks = append(l.callbacks, callback{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, cb := range l.callbacks {
				if cb.id == id {
					l.callbacks = append(l.callbacks[:i], l.callbacks[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of registered callbacks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callbacks)
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.Tick(now)
		case fn := <-l.calls:
			l.invoke("call", func() { fn() })
		}
	}
}

// Tick invokes every registered callback once, in registration order.
// Run calls it on each tick; hosts driving their own frame loop may call it
// directly instead of Run.
func (l *Loop) Tick(now time.Time) {
	l.mu.Lock()
	snapshot := make([]callback, len(l.callbacks))
	copy(snapshot, l.callbacks)
	l.mu.Unlock()

	for _, cb := range snapshot {
		l.invoke("tick", func() { cb.fn(now) })
	}
}

// Do runs fn on the loop goroutine and waits for it to return. It fails
// with ctx's error if the loop does not pick the call up in time.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn()
	}
	select {
	case l.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (l *Loop) invoke(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Tick callback panicked", "kind", kind, "panic", r)
		}
	}()
	fn()
}
