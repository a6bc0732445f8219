// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"sync/atomic"
	"time"
)

// writeGuard is a stopwatch restarted before every self-initiated write.
// Filesystem events arriving while it runs, and before window has elapsed,
// are taken to be echoes of our own writes. It is read from the watcher
// goroutine, hence the atomic.
type writeGuard struct {
	window  time.Duration
	started atomic.Int64 // unix nanos, 0 when stopped
}

func (g *writeGuard) restart(now time.Time) {
	g.started.Store(now.UnixNano())
}

func (g *writeGuard) stop() {
	g.started.Store(0)
}

// suppress reports whether an event observed at now should be ignored.
func (g *writeGuard) suppress(now time.Time) bool {
	started := g.started.Load()
	if started == 0 {
		return false
	}
	if now.Sub(time.Unix(0, started)) < g.window {
		return true
	}
	g.started.CompareAndSwap(started, 0)
	return false
}
