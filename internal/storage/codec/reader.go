// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrShortBuffer is returned when a read needs more bytes than remain.
var ErrShortBuffer = errors.New("codec: short buffer")

// Reader decodes values from a byte slice set with SetBuffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// SetBuffer replaces the underlying buffer and rewinds to its start.
func (r *Reader) SetBuffer(b []byte) {
	r.buf = b
	r.pos = 0
}

// Position returns the read cursor.
func (r *Reader) Position() int {
	return r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// Remaining returns the unread bytes without advancing.
func (r *Reader) Remaining() []byte {
	return r.buf[r.pos:]
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

// ReadByte implements io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, r.Len())
	}
	p := r.buf[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

func (r *Reader) ReadBool() (bool, error) {
	p, err := r.next(1)
	if err != nil {
		return false, err
	}
	return p[0] != 0, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	p, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	p, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	p, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: malformed uvarint", ErrShortBuffer)
	}
	r.pos += n
	return v, nil
}

func (r *Reader) ReadVarint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: malformed varint", ErrShortBuffer)
	}
	r.pos += n
	return v, nil
}

// ReadBytes reads a length-prefixed byte slice. The result is a copy.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: length %d exceeds %d remaining", ErrShortBuffer, n, r.Len())
	}
	p, _ := r.next(int(n))
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

// ReadString reads a length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return "", err
	}
	if n > uint64(r.Len()) {
		return "", fmt.Errorf("%w: length %d exceeds %d remaining", ErrShortBuffer, n, r.Len())
	}
	p, _ := r.next(int(n))
	return string(p), nil
}
