// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package values

import (
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/ffutop/kvstorage/internal/storage"
	"github.com/ffutop/kvstorage/internal/storage/codec"
)

// Format is the encoding of a Document file.
type Format int

const (
	FormatMsgpack Format = iota
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatMsgpack:
		return "msgpack"
	case FormatYAML:
		return "yaml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Document is a structured value stored as a whole msgpack or YAML file.
// YAML documents are meant to be hand-edited; edits made while the process
// runs are picked up by the instance's watcher.
type Document[T any] struct {
	storage.Base

	mu     sync.RWMutex
	value  T
	def    func() T
	format Format
}

// NewMsgpack creates a msgpack-encoded document. def builds the default and
// is called every time the default is applied, so it should return a fresh
// value.
func NewMsgpack[T any](name string, def func() T) *Document[T] {
	return newDocument(name, def, FormatMsgpack)
}

// NewYAML creates a YAML-encoded document.
func NewYAML[T any](name string, def func() T) *Document[T] {
	return newDocument(name, def, FormatYAML)
}

func newDocument[T any](name string, def func() T, format Format) *Document[T] {
	if def == nil {
		def = func() T { var zero T; return zero }
	}
	d := &Document[T]{def: def, format: format, value: def()}
	d.SetName(name)
	return d
}

func (d *Document[T]) Format() Format { return d.format }

// Get returns the current document. Reference types inside T are shared;
// use Update to modify them.
func (d *Document[T]) Get() T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value
}

// Set replaces the document and marks it dirty.
func (d *Document[T]) Set(v T) {
	d.mu.Lock()
	d.value = v
	d.mu.Unlock()
	d.MarkDirty()
}

// Update edits the document in place under its lock and marks it dirty.
func (d *Document[T]) Update(fn func(v *T)) {
	d.mu.Lock()
	fn(&d.value)
	d.mu.Unlock()
	d.MarkDirty()
}

func (d *Document[T]) WriteValue(w *codec.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch d.format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d.value); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		if err := msgpack.NewEncoder(w).Encode(d.value); err != nil {
			return fmt.Errorf("failed to encode msgpack: %w", err)
		}
		return nil
	}
}

// ReadValue replaces the document with the file contents. Keys missing from
// the file are left at their zero value, not the default, so a saved
// document reloads exactly as it was written.
func (d *Document[T]) ReadValue(r *codec.Reader) error {
	var v T
	switch d.format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&v); err != nil {
			return fmt.Errorf("failed to decode yaml: %w", err)
		}
	default:
		if err := msgpack.NewDecoder(r).Decode(&v); err != nil {
			return fmt.Errorf("failed to decode msgpack: %w", err)
		}
	}

	d.mu.Lock()
	d.value = v
	d.mu.Unlock()
	return nil
}

func (d *Document[T]) ApplyDefault() {
	d.mu.Lock()
	d.value = d.def()
	d.mu.Unlock()
}

func (d *Document[T]) String() string {
	return fmt.Sprintf("%+v", d.Get())
}
