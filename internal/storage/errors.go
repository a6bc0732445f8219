// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import "errors"

var (
	ErrNilValue     = errors.New("storage: nil value")
	ErrInvalidName  = errors.New("storage: invalid value name")
	ErrExists       = errors.New("storage: value already exists")
	ErrAttached     = errors.New("storage: value is attached to an instance")
	ErrNotFound     = errors.New("storage: value not found")
	ErrTypeMismatch = errors.New("storage: value type mismatch")
	ErrDestroyed    = errors.New("storage: instance destroyed")

	// ErrSkipWrite may be returned by WriteValue to drop the pending write
	// on purpose. The value is marked clean without touching its file.
	ErrSkipWrite = errors.New("storage: skip write")
)
