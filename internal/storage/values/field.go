// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package values provides ready-made storage values: scalar fields encoded
// with the storage codec, and structured documents encoded as msgpack or
// YAML.
package values

import (
	"fmt"
	"sync"

	"github.com/ffutop/kvstorage/internal/storage"
	"github.com/ffutop/kvstorage/internal/storage/codec"
)

// Field is a single scalar value. Reads and writes are safe from any
// goroutine; Set marks the field dirty.
type Field[T any] struct {
	storage.Base

	mu    sync.RWMutex
	value T
	def   T
	enc   func(w *codec.Writer, v T)
	dec   func(r *codec.Reader) (T, error)
}

type (
	Int64   = Field[int64]
	Float64 = Field[float64]
	Bool    = Field[bool]
	String  = Field[string]
	Bytes   = Field[[]byte]
)

func newField[T any](name string, def T, enc func(*codec.Writer, T), dec func(*codec.Reader) (T, error)) *Field[T] {
	f := &Field[T]{value: def, def: def, enc: enc, dec: dec}
	f.SetName(name)
	return f
}

func NewInt64(name string, def int64) *Int64 {
	return newField(name, def, (*codec.Writer).WriteInt64, (*codec.Reader).ReadInt64)
}

func NewFloat64(name string, def float64) *Float64 {
	return newField(name, def, (*codec.Writer).WriteFloat64, (*codec.Reader).ReadFloat64)
}

func NewBool(name string, def bool) *Bool {
	return newField(name, def, (*codec.Writer).WriteBool, (*codec.Reader).ReadBool)
}

func NewString(name string, def string) *String {
	return newField(name, def, (*codec.Writer).WriteString, (*codec.Reader).ReadString)
}

func NewBytes(name string, def []byte) *Bytes {
	return newField(name, def, (*codec.Writer).WriteBytes, (*codec.Reader).ReadBytes)
}

// Get returns the current value.
func (f *Field[T]) Get() T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

// Set replaces the value and marks it dirty.
func (f *Field[T]) Set(v T) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
	f.MarkDirty()
}

// Reset restores the default and marks the field dirty.
func (f *Field[T]) Reset() {
	f.Set(f.def)
}

func (f *Field[T]) WriteValue(w *codec.Writer) error {
	f.enc(w, f.Get())
	return nil
}

func (f *Field[T]) ReadValue(r *codec.Reader) error {
	v, err := f.dec(r)
	if err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes", r.Len())
	}
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
	return nil
}

func (f *Field[T]) ApplyDefault() {
	f.mu.Lock()
	f.value = f.def
	f.mu.Unlock()
}

func (f *Field[T]) String() string {
	return fmt.Sprint(f.Get())
}
