// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package values

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/ffutop/kvstorage/internal/storage"
	"github.com/ffutop/kvstorage/internal/storage/codec"
)

func newMemInstance(t *testing.T, fs afero.Fs) *storage.Instance {
	t.Helper()
	opts := storage.DefaultOptions()
	opts.Fs = fs
	inst, err := storage.New("test", "/data", opts)
	if err != nil {
		t.Fatalf("storage.New() failed: %v", err)
	}
	return inst
}

func TestField_PersistsThroughInstance(t *testing.T) {
	fs := afero.NewMemMapFs()
	inst := newMemInstance(t, fs)

	score := NewInt64("score", 0)
	if err := inst.Add(score); err != nil {
		t.Fatal(err)
	}
	score.Set(42)
	if err := inst.Flush(); err != nil {
		t.Fatal(err)
	}

	data, err := afero.ReadFile(fs, "/data/score")
	if err != nil {
		t.Fatalf("value file missing: %v", err)
	}
	want := binary.LittleEndian.AppendUint64(nil, 42)
	if !bytes.Equal(data, want) {
		t.Fatalf("file = %x, want %x", data, want)
	}

	reloaded := NewInt64("score", 0)
	if err := newMemInstance(t, fs).Add(reloaded); err != nil {
		t.Fatal(err)
	}
	if reloaded.Get() != 42 {
		t.Errorf("reloaded value = %d, want 42", reloaded.Get())
	}
}

func TestField_Types(t *testing.T) {
	fs := afero.NewMemMapFs()
	inst := newMemInstance(t, fs)

	name := NewString("player/name", "anon")
	ratio := NewFloat64("ratio", 0.5)
	banned := NewBool("banned", false)
	blob := NewBytes("blob", nil)
	for _, v := range []storage.Value{name, ratio, banned, blob} {
		if err := inst.Add(v); err != nil {
			t.Fatalf("Add(%s) failed: %v", v.Name(), err)
		}
	}
	if name.Get() != "anon" || ratio.Get() != 0.5 {
		t.Fatalf("defaults not applied: %q %v", name.Get(), ratio.Get())
	}

	name.Set("ffutop")
	ratio.Set(0.75)
	banned.Set(true)
	blob.Set([]byte{1, 2, 3})
	inst.Flush()

	other := newMemInstance(t, fs)
	name2 := NewString("player/name", "")
	ratio2 := NewFloat64("ratio", 0)
	banned2 := NewBool("banned", false)
	blob2 := NewBytes("blob", nil)
	for _, v := range []storage.Value{name2, ratio2, banned2, blob2} {
		if err := other.Add(v); err != nil {
			t.Fatal(err)
		}
	}
	if name2.Get() != "ffutop" || ratio2.Get() != 0.75 || !banned2.Get() || !bytes.Equal(blob2.Get(), []byte{1, 2, 3}) {
		t.Errorf("reloaded = %q %v %v %x", name2.Get(), ratio2.Get(), banned2.Get(), blob2.Get())
	}
}

func TestField_RejectsTrailingBytes(t *testing.T) {
	f := NewInt64("n", 7)
	w := codec.NewWriter()
	w.WriteInt64(9)
	w.WriteByte(0xFF)

	if err := f.ReadValue(codec.NewReader(w.Bytes())); err == nil {
		t.Fatal("expected an error for trailing bytes")
	}
	if f.Get() != 7 {
		t.Errorf("value changed on failed decode: %d", f.Get())
	}
}

func TestField_ResetMarksDirty(t *testing.T) {
	f := NewInt64("n", 7)
	f.Set(1)
	if !f.IsDirty() {
		t.Fatal("Set() did not mark dirty")
	}
	f.Reset()
	if f.Get() != 7 {
		t.Errorf("Reset() = %d, want 7", f.Get())
	}
}

type settings struct {
	Level int      `yaml:"level" msgpack:"level"`
	Motd  string   `yaml:"motd" msgpack:"motd"`
	Tags  []string `yaml:"tags" msgpack:"tags"`
}

func TestDocument_YAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	inst := newMemInstance(t, fs)

	doc := NewYAML("settings.yaml", func() settings { return settings{Level: 1} })
	if err := inst.Add(doc); err != nil {
		t.Fatal(err)
	}
	doc.Update(func(s *settings) {
		s.Level = 3
		s.Tags = append(s.Tags, "pvp")
	})
	inst.Flush()

	data, err := afero.ReadFile(fs, "/data/settings.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "level: 3") {
		t.Fatalf("yaml file does not contain level: %s", data)
	}

	// The file replaces the whole document; the default is not merged in.
	if err := afero.WriteFile(fs, "/data/settings.yaml", []byte("motd: hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reloaded := NewYAML("settings.yaml", func() settings { return settings{Level: 1} })
	if err := newMemInstance(t, fs).Add(reloaded); err != nil {
		t.Fatal(err)
	}
	got := reloaded.Get()
	if got.Level != 0 || got.Motd != "hello" {
		t.Errorf("reloaded = %+v", got)
	}
}

func TestDocument_DeletedKeyStaysDeleted(t *testing.T) {
	tests := []struct {
		name  string
		build func(name string, def func() map[string]any) *Document[map[string]any]
	}{
		{"YAML", NewYAML[map[string]any]},
		{"Msgpack", NewMsgpack[map[string]any]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			def := func() map[string]any { return map[string]any{"a": 1} }

			doc := tt.build("doc", def)
			if err := newMemInstance(t, fs).Add(doc); err != nil {
				t.Fatal(err)
			}
			doc.Update(func(m *map[string]any) {
				delete(*m, "a")
				(*m)["b"] = 2
			})
			if err := doc.Storage().Flush(); err != nil {
				t.Fatal(err)
			}

			reloaded := tt.build("doc", def)
			if err := newMemInstance(t, fs).Add(reloaded); err != nil {
				t.Fatal(err)
			}
			got := reloaded.Get()
			if _, ok := got["a"]; ok || len(got) != 1 {
				t.Errorf("reloaded = %v, want only key b", got)
			}
			// msgpack decodes small integers into the narrowest type.
			if fmt.Sprint(got["b"]) != "2" {
				t.Errorf("b = %#v, want 2", got["b"])
			}
		})
	}
}

func TestDocument_Msgpack(t *testing.T) {
	fs := afero.NewMemMapFs()
	inst := newMemInstance(t, fs)

	doc := NewMsgpack[settings]("state", nil)
	if err := inst.Add(doc); err != nil {
		t.Fatal(err)
	}
	doc.Set(settings{Level: 9, Motd: "hi", Tags: []string{"a", "b"}})
	inst.Flush()

	reloaded := NewMsgpack[settings]("state", nil)
	if err := newMemInstance(t, fs).Add(reloaded); err != nil {
		t.Fatal(err)
	}
	got := reloaded.Get()
	if got.Level != 9 || got.Motd != "hi" || len(got.Tags) != 2 {
		t.Errorf("reloaded = %+v", got)
	}
}

func TestDocument_CorruptFileKeepsState(t *testing.T) {
	doc := NewMsgpack("state", func() settings { return settings{Level: 4} })
	if err := doc.ReadValue(codec.NewReader([]byte{0xC1})); err == nil {
		t.Fatal("expected a decode error for reserved msgpack byte")
	}
	if doc.Get().Level != 4 {
		t.Errorf("state changed on failed decode: %+v", doc.Get())
	}
}

func TestRegistry(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		def     any
		want    string
		wantErr bool
	}{
		{"IntFromString", "int64", "42", "42", false},
		{"IntNilDefault", "int64", nil, "0", false},
		{"IntInvalid", "int64", "abc", "", true},
		{"Float", "float64", 1.5, "1.5", false},
		{"Bool", "bool", "true", "true", false},
		{"String", "string", 12, "12", false},
		{"Yaml", "yaml", map[string]any{"a": 1}, "map[a:1]", false},
		{"UnknownKind", "uuid", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := New(tt.kind, "v", tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if v.Name() != "v" {
				t.Errorf("Name() = %q", v.Name())
			}
			if s := v.(interface{ String() string }).String(); s != tt.want {
				t.Errorf("String() = %q, want %q", s, tt.want)
			}
		})
	}

	kinds := Kinds()
	if len(kinds) != 7 || kinds[0] != "bool" {
		t.Errorf("Kinds() = %v", kinds)
	}
}
