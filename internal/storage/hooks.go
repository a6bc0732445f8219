// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

func (inst *Instance) hookAdded(v Value) {
	if h, ok := v.(AddedHook); ok {
		inst.safely(v, "OnAdded", h.OnAdded)
	}
}

func (inst *Instance) hookLoaded(v Value) {
	if h, ok := v.(LoadedHook); ok {
		inst.safely(v, "OnLoaded", h.OnLoaded)
	}
}

func (inst *Instance) hookChanged(v Value) {
	if h, ok := v.(ChangedHook); ok {
		inst.safely(v, "OnChanged", h.OnChanged)
	}
}

func (inst *Instance) hookSaved(v Value) {
	if h, ok := v.(SavedHook); ok {
		inst.safely(v, "OnSaved", h.OnSaved)
	}
}

func (inst *Instance) hookDestroyed(v Value) {
	if h, ok := v.(DestroyedHook); ok {
		inst.safely(v, "OnDestroyed", h.OnDestroyed)
	}
}

func (inst *Instance) emit(kind EventKind, v Value) {
	for _, fn := range inst.subs.matching(kind) {
		inst.safely(v, "listener:"+kind.String(), func() { fn(v) })
	}
}

// safely runs consumer code, logging instead of propagating panics.
func (inst *Instance) safely(v Value, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			inst.log.Error("Storage callback panicked", "value", v.Name(), "callback", what, "panic", r)
		}
	}()
	fn()
}
