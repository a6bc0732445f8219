// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package storage is a small embedded key/value engine. An Instance owns a
// directory and a set of named Values, one file per value. Values are
// marked dirty in memory and written back by the periodic Update pass;
// writes made by other processes are picked up through a filesystem watcher
// and re-read into memory.
//
// An Instance is single-owner: its API, Update and the hooks it invokes all
// run on one goroutine (normally the host's tick loop). The watcher runs on
// its own goroutine but only queues events for the owner to drain.
package storage
