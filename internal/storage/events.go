// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"fmt"
	"sync"
)

// EventKind identifies an instance-level notification.
type EventKind int

const (
	EventAdded EventKind = iota
	EventChanged
	EventSaved
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventChanged:
		return "changed"
	case EventSaved:
		return "saved"
	case EventRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Listener receives the value an event refers to.
type Listener func(v Value)

type subscription struct {
	id   uint64
	kind EventKind
	fn   Listener
}

type listeners struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

func (l *listeners) add(kind EventKind, fn Listener) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, subscription{id: id, kind: kind, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners) matching(kind EventKind) []Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	var fns []Listener
	for _, s := range l.subs {
		if s.kind == kind {
			fns = append(fns, s.fn)
		}
	}
	return fns
}

func (l *listeners) clear() {
	l.mu.Lock()
	l.subs = nil
	l.mu.Unlock()
}
