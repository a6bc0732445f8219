// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package values

import (
	"fmt"
	"sort"

	"github.com/spf13/cast"

	"github.com/ffutop/kvstorage/internal/storage"
)

// Factory builds a value of one kind from a loosely typed default, as read
// from a config file.
type Factory func(name string, def any) (storage.Value, error)

var kinds = map[string]Factory{
	"int64": func(name string, def any) (storage.Value, error) {
		v, err := cast.ToInt64E(orZero(def, 0))
		if err != nil {
			return nil, err
		}
		return NewInt64(name, v), nil
	},
	"float64": func(name string, def any) (storage.Value, error) {
		v, err := cast.ToFloat64E(orZero(def, 0))
		if err != nil {
			return nil, err
		}
		return NewFloat64(name, v), nil
	},
	"bool": func(name string, def any) (storage.Value, error) {
		v, err := cast.ToBoolE(orZero(def, false))
		if err != nil {
			return nil, err
		}
		return NewBool(name, v), nil
	},
	"string": func(name string, def any) (storage.Value, error) {
		v, err := cast.ToStringE(orZero(def, ""))
		if err != nil {
			return nil, err
		}
		return NewString(name, v), nil
	},
	"bytes": func(name string, def any) (storage.Value, error) {
		v, err := cast.ToStringE(orZero(def, ""))
		if err != nil {
			return nil, err
		}
		return NewBytes(name, []byte(v)), nil
	},
	"msgpack": func(name string, def any) (storage.Value, error) {
		m, err := cast.ToStringMapE(orZero(def, map[string]any{}))
		if err != nil {
			return nil, err
		}
		return NewMsgpack(name, copyMap(m)), nil
	},
	"yaml": func(name string, def any) (storage.Value, error) {
		m, err := cast.ToStringMapE(orZero(def, map[string]any{}))
		if err != nil {
			return nil, err
		}
		return NewYAML(name, copyMap(m)), nil
	},
}

// New builds a value of the named kind.
func New(kind, name string, def any) (storage.Value, error) {
	factory, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
	v, err := factory(name, def)
	if err != nil {
		return nil, fmt.Errorf("invalid default for %s value %q: %w", kind, name, err)
	}
	return v, nil
}

// Kinds lists the registered kinds in sorted order.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func orZero(def, zero any) any {
	if def == nil {
		return zero
	}
	return def
}

// copyMap returns a default builder handing out shallow copies of m.
func copyMap(m map[string]any) func() map[string]any {
	return func() map[string]any {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
}
