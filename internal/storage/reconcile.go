// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"errors"
	"io/fs"

	"github.com/ffutop/kvstorage/internal/storage/codec"
	"github.com/ffutop/kvstorage/internal/watch"
)

// load reads v's file into v. On the initial load a missing or unreadable
// file falls back to ApplyDefault; on later loads v keeps its state.
func (inst *Instance) load(v Value, initial bool) bool {
	b := v.base()
	data, err := inst.readFile(b.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			inst.log.Error("Failed to read value", "value", b.name, "path", b.path, "err", err)
		}
		if initial {
			inst.applyDefault(v)
		}
		return false
	}

	if err := inst.decode(v, codec.NewReader(data)); err != nil {
		inst.log.Warn("Failed to decode value, keeping previous state", "value", b.name, "path", b.path, "err", err)
		if initial {
			inst.applyDefault(v)
		}
		return false
	}
	return true
}

func (inst *Instance) applyDefault(v Value) {
	inst.safely(v, "ApplyDefault", v.ApplyDefault)
}

func (inst *Instance) drainEvents() {
	if inst.watcher == nil {
		return
	}
	events := inst.watcher.Events()
	for {
		select {
		case ev := <-events:
			inst.reconcile(ev)
			if inst.destroyed {
				return
			}
		default:
			return
		}
	}
}

func (inst *Instance) reconcile(ev watch.Event) {
	v, ok := inst.byPath[ev.Path]
	if !ok {
		return
	}
	switch ev.Op {
	case watch.Changed:
		if inst.load(v, false) {
			inst.log.Debug("Value changed on disk", "value", v.Name())
			inst.hookChanged(v)
			inst.emit(EventChanged, v)
		}
	case watch.Deleted:
		inst.log.Debug("Value file deleted externally", "value", v.Name())
		inst.remove(v, false)
	}
}
