// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newWatchedInstance(t *testing.T, guard time.Duration) *Instance {
	t.Helper()
	opts := DefaultOptions()
	opts.WriteGuard = guard
	opts.Debounce = 20 * time.Millisecond
	opts.UpdateInterval = 0
	opts.Sync = false
	inst, err := New("watched", t.TempDir(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Initialize(nil); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	t.Cleanup(func() { inst.Destroy() })
	return inst
}

// pump drives Update until cond holds or the timeout expires.
func pump(inst *Instance, timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		inst.Update(time.Now())
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestReconcile_SelfWriteIsIgnored(t *testing.T) {
	inst := newWatchedInstance(t, 2*time.Second)
	v := newCounter("score", 0)
	if err := inst.Add(v); err != nil {
		t.Fatal(err)
	}
	changed := 0
	inst.Subscribe(EventChanged, func(Value) { changed++ })

	v.n = 42
	v.MarkDirty()
	inst.Flush()

	pump(inst, 300*time.Millisecond, func() bool { return false })
	if changed != 0 {
		t.Errorf("own write reported as external change %d times", changed)
	}
	for _, c := range v.calls {
		if c == "changed" {
			t.Error("OnChanged called for our own write")
		}
	}
}

func TestReconcile_ExternalWriteUpdatesValue(t *testing.T) {
	inst := newWatchedInstance(t, 100*time.Millisecond)
	v := newCounter("score", 0)
	if err := inst.Add(v); err != nil {
		t.Fatal(err)
	}
	var changed []string
	inst.Subscribe(EventChanged, func(v Value) { changed = append(changed, v.Name()) })

	v.n = 1
	v.MarkDirty()
	inst.Flush()
	time.Sleep(200 * time.Millisecond)
	inst.Update(time.Now())

	if err := os.WriteFile(filepath.Join(inst.Dir(), "score"), encodeInt(77), 0o644); err != nil {
		t.Fatal(err)
	}
	if !pump(inst, 3*time.Second, func() bool { return v.n == 77 }) {
		t.Fatalf("external write not reconciled, value = %d", v.n)
	}
	if len(changed) == 0 || changed[0] != "score" {
		t.Errorf("changed events = %v", changed)
	}
	if v.calls[len(v.calls)-1] != "changed" {
		t.Errorf("OnChanged not called: %v", v.calls)
	}
	if v.IsDirty() {
		t.Error("reconciled value marked dirty")
	}
}

func TestReconcile_CorruptExternalWriteKeepsState(t *testing.T) {
	inst := newWatchedInstance(t, 100*time.Millisecond)
	v := newCounter("score", 0)
	if err := inst.Add(v); err != nil {
		t.Fatal(err)
	}
	v.n = 5
	changed := 0
	inst.Subscribe(EventChanged, func(Value) { changed++ })

	if err := os.WriteFile(filepath.Join(inst.Dir(), "score"), []byte{1}, 0o644); err != nil {
		t.Fatal(err)
	}
	pump(inst, 500*time.Millisecond, func() bool { return false })
	if v.n != 5 || changed != 0 {
		t.Errorf("value = %d, changed = %d; want 5 and 0", v.n, changed)
	}
}

func TestReconcile_ExternalDeleteRemovesValue(t *testing.T) {
	inst := newWatchedInstance(t, 100*time.Millisecond)
	path := filepath.Join(inst.Dir(), "nested", "gone")
	writeRaw(t, path, encodeInt(3))
	// Give the watcher time to pick up the new subdirectory.
	time.Sleep(100 * time.Millisecond)

	v := newCounter("nested/gone", 0)
	if err := inst.Add(v); err != nil {
		t.Fatal(err)
	}
	if v.n != 3 {
		t.Fatalf("value = %d, want 3", v.n)
	}
	removed := 0
	inst.Subscribe(EventRemoved, func(Value) { removed++ })

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !pump(inst, 3*time.Second, func() bool { return inst.Len() == 0 }) {
		t.Fatal("externally deleted value still tracked")
	}
	if v.Storage() != nil || removed != 1 {
		t.Errorf("value not detached: storage=%v removed=%d", v.Storage(), removed)
	}
	if _, ok := inst.Get("nested/gone"); ok {
		t.Error("name still resolves")
	}
}

func TestReconcile_UntrackedFileIsIgnored(t *testing.T) {
	inst := newWatchedInstance(t, 100*time.Millisecond)
	added := 0
	inst.Subscribe(EventAdded, func(Value) { added++ })

	writeRaw(t, filepath.Join(inst.Dir(), "stranger"), encodeInt(1))
	pump(inst, 300*time.Millisecond, func() bool { return false })
	if inst.Len() != 0 || added != 0 {
		t.Errorf("untracked file picked up: len=%d added=%d", inst.Len(), added)
	}
}

// eventCounts tallies the events an instance emits after countEvents.
type eventCounts struct {
	changed, removed int
}

func countEvents(inst *Instance) *eventCounts {
	c := &eventCounts{}
	inst.Subscribe(EventChanged, func(Value) { c.changed++ })
	inst.Subscribe(EventRemoved, func(Value) { c.removed++ })
	return c
}

func addFlushed(t *testing.T, inst *Instance, name string, n int64) *counter {
	t.Helper()
	v := newCounter(name, 0)
	if err := inst.Add(v); err != nil {
		t.Fatal(err)
	}
	v.n = n
	v.MarkDirty()
	inst.Flush()
	return v
}

func TestReconcile_OwnDeleteThenReAdd(t *testing.T) {
	tests := []struct {
		name   string
		remove func(inst *Instance)
		dirty  bool
	}{
		{"Remove", func(inst *Instance) { inst.Remove("score", true) }, false},
		{"RemoveDirtyReAdd", func(inst *Instance) { inst.Remove("score", true) }, true},
		{"RemoveAll", func(inst *Instance) { inst.RemoveAll(true) }, false},
		{"RemoveAllDirtyReAdd", func(inst *Instance) { inst.RemoveAll(true) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := newWatchedInstance(t, time.Second)
			addFlushed(t, inst, "score", 1)
			addFlushed(t, inst, "nested/other", 2)
			// Let the echoes of the initial writes pass.
			pump(inst, 200*time.Millisecond, func() bool { return false })

			tt.remove(inst)
			events := countEvents(inst)

			fresh := newCounter("score", 0)
			if err := inst.Add(fresh); err != nil {
				t.Fatal(err)
			}
			if tt.dirty {
				fresh.n = 9
				fresh.MarkDirty()
				inst.Flush()
			}

			pump(inst, 500*time.Millisecond, func() bool { return false })
			if fresh.Storage() != inst {
				t.Fatal("re-added value was dropped by the echo of our own delete")
			}
			if got, ok := inst.Get("score"); !ok || got != Value(fresh) {
				t.Error("re-added value no longer resolves")
			}
			if events.changed != 0 || events.removed != 0 {
				t.Errorf("own delete reported: changed=%d removed=%d", events.changed, events.removed)
			}
			for _, c := range fresh.calls {
				if c == "changed" {
					t.Error("OnChanged called for our own delete")
				}
			}
		})
	}
}

func TestReconcile_OwnRenameIsIgnored(t *testing.T) {
	inst := newWatchedInstance(t, time.Second)
	v := addFlushed(t, inst, "old", 4)
	pump(inst, 200*time.Millisecond, func() bool { return false })
	events := countEvents(inst)

	if err := inst.Rename("old", "moved/new"); err != nil {
		t.Fatal(err)
	}
	pump(inst, 500*time.Millisecond, func() bool { return false })

	if v.Storage() != inst || v.Name() != "moved/new" {
		t.Fatalf("renamed value lost: storage=%v name=%q", v.Storage(), v.Name())
	}
	if events.changed != 0 || events.removed != 0 {
		t.Errorf("own rename reported: changed=%d removed=%d", events.changed, events.removed)
	}
}
