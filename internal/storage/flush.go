// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/ffutop/kvstorage/internal/storage/codec"
)

// Update is the tick callback. It applies queued external changes and, at
// most once per UpdateInterval, writes dirty values.
func (inst *Instance) Update(now time.Time) {
	if inst.destroyed {
		return
	}
	inst.drainEvents()

	if !inst.lastUpdate.IsZero() && now.Sub(inst.lastUpdate) < inst.opts.UpdateInterval {
		return
	}
	inst.lastUpdate = now
	inst.flush(now)
}

// Flush writes dirty values immediately, ignoring UpdateInterval.
func (inst *Instance) Flush() error {
	if inst.destroyed {
		return ErrDestroyed
	}
	inst.flush(inst.now())
	return nil
}

func (inst *Instance) flush(now time.Time) {
	if inst.flushing {
		return
	}
	inst.flushing = true
	// Values added by hooks during the pass are appended and picked up here.
	for i := 0; i < len(inst.values); i++ {
		v := inst.values[i]
		b := v.base()
		if b.storage != inst || !b.IsDirty() {
			continue
		}
		if b.retries > inst.opts.MaxRetries {
			b.dirty.Store(false)
			b.retries = 0
			inst.log.Warn("Discarding pending write after repeated failures",
				"value", b.name, "max_retries", inst.opts.MaxRetries)
			continue
		}
		inst.save(v, now)
	}
	inst.flushing = false
	inst.prune()
}

func (inst *Instance) save(v Value, now time.Time) {
	b := v.base()
	// Cleared up front so a MarkDirty racing the write is not lost.
	b.dirty.Store(false)

	w := inst.writer
	w.Reset()
	err := inst.encode(v, w)
	switch {
	case errors.Is(err, ErrSkipWrite):
		b.retries = 0
		inst.log.Debug("Value skipped its write", "value", b.name)
		return
	case err != nil:
		b.retries++
		b.dirty.Store(true)
		inst.log.Error("Failed to encode value", "value", b.name, "retries", b.retries, "err", err)
		return
	case w.Len() == 0:
		b.retries = 0
		inst.log.Warn("Value wrote no data, dropping pending write", "value", b.name)
		return
	}

	inst.guard.restart(inst.now())
	if err := inst.writeFile(b.path, w.Bytes()); err != nil {
		b.retries++
		b.dirty.Store(true)
		inst.log.Error("Failed to write value", "value", b.name, "path", b.path, "retries", b.retries, "err", err)
		return
	}

	b.retries = 0
	b.lastSave = now
	inst.hookSaved(v)
	inst.emit(EventSaved, v)
}

// prune drops values detached during a flush pass.
func (inst *Instance) prune() {
	kept := inst.values[:0]
	for _, v := range inst.values {
		if v.base().storage == inst {
			kept = append(kept, v)
		}
	}
	clear(inst.values[len(kept):])
	inst.values = kept
}

func (inst *Instance) encode(v Value, w *codec.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("WriteValue panicked: %v", r)
		}
	}()
	return v.WriteValue(w)
}

func (inst *Instance) decode(v Value, r *codec.Reader) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ReadValue panicked: %v", rec)
		}
	}()
	return v.ReadValue(r)
}
