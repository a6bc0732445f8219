// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package codec provides the binary writer and reader that storage values
// encode themselves through. Multi-byte integers are little-endian; strings
// and byte slices carry a uvarint length prefix.
package codec

import (
	"encoding/binary"
	"math"
)

// Writer is a growable binary buffer. Reset rewinds the write cursor so one
// Writer can be reused across many values.
type Writer struct {
	buf []byte
}

// NewWriter creates a Writer with a small preallocated buffer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

// Reset rewinds the cursor, keeping the allocated capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Len returns the number of bytes written since the last Reset.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written bytes. The slice is only valid until the next
// write or Reset.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Write implements io.Writer so streaming encoders can target a Writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// WriteByte implements io.ByteWriter.
func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

func (w *Writer) WriteUvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *Writer) WriteVarint(v int64) {
	w.buf = binary.AppendVarint(w.buf, v)
}

// WriteBytes writes a length-prefixed byte slice.
func (w *Writer) WriteBytes(p []byte) {
	w.WriteUvarint(uint64(len(p)))
	w.buf = append(w.buf, p...)
}

// WriteString writes a length-prefixed string.
func (w *Writer) WriteString(s string) {
	w.WriteUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}
