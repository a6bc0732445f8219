// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ffutop/kvstorage/internal/storage"
)

// Config defines the global configuration structure
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Tick    TickConfig    `mapstructure:"tick"`
	Storage StorageConfig `mapstructure:"storage"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// TickConfig defines the update loop driving every storage instance
type TickConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// StorageConfig defines the storage root and its instances
type StorageConfig struct {
	Root      string           `mapstructure:"root"`     // Base for relative instance dirs
	Defaults  OptionsConfig    `mapstructure:"defaults"` // Applied to every instance
	Instances []InstanceConfig `mapstructure:"instances"`
}

// OptionsConfig mirrors storage.Options. Pointer fields distinguish
// "unset" from an explicit zero so instances can override defaults.
type OptionsConfig struct {
	WriteGuard     *time.Duration `mapstructure:"write_guard"`
	UpdateInterval *time.Duration `mapstructure:"update_interval"`
	MaxRetries     *int           `mapstructure:"max_retries"`
	Debounce       *time.Duration `mapstructure:"debounce"`
	ReadMode       string         `mapstructure:"read_mode"` // "file", "mmap"
	Sync           *bool          `mapstructure:"sync"`
	Watch          *bool          `mapstructure:"watch"`
}

// InstanceConfig defines a single storage instance
type InstanceConfig struct {
	Name          string        `mapstructure:"name"`
	Dir           string        `mapstructure:"dir"` // Defaults to Name under Root
	OptionsConfig `mapstructure:",squash"`
	Values        []ValueConfig `mapstructure:"values"`
}

// ValueConfig declares a value created when the instance is opened
type ValueConfig struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"` // int64, float64, bool, string, bytes, msgpack, yaml
	Default any    `mapstructure:"default"`
}

// LoadConfig loads configuration from file
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/kvstorage/")
		v.AddConfigPath("$HOME/.kvstorage")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("tick.interval", "50ms")
	v.SetDefault("storage.root", "./data")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("failed to find config file: %w", err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.fixup(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate / Fixups
func (c *Config) fixup() error {
	if c.Tick.Interval <= 0 {
		c.Tick.Interval = 50 * time.Millisecond
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	fixupOptions(&c.Storage.Defaults, defaultOptions())

	seen := make(map[string]bool)
	for i := range c.Storage.Instances {
		inst := &c.Storage.Instances[i]
		if strings.TrimSpace(inst.Name) == "" {
			return fmt.Errorf("storage instance %d has no name", i)
		}
		if seen[inst.Name] {
			return fmt.Errorf("duplicate storage instance %q", inst.Name)
		}
		seen[inst.Name] = true

		if inst.Dir == "" {
			inst.Dir = inst.Name
		}
		if !filepath.IsAbs(inst.Dir) {
			inst.Dir = filepath.Join(c.Storage.Root, inst.Dir)
		}
		fixupOptions(&inst.OptionsConfig, c.Storage.Defaults)

		for j := range inst.Values {
			val := &inst.Values[j]
			if val.Name == "" {
				return fmt.Errorf("storage %q: value %d has no name", inst.Name, j)
			}
			val.Type = strings.ToLower(val.Type)
			if val.Type == "" {
				val.Type = "string"
			}
		}
	}
	return nil
}

func defaultOptions() OptionsConfig {
	d := storage.DefaultOptions()
	return OptionsConfig{
		WriteGuard:     &d.WriteGuard,
		UpdateInterval: &d.UpdateInterval,
		MaxRetries:     &d.MaxRetries,
		Debounce:       &d.Debounce,
		ReadMode:       string(d.ReadMode),
		Sync:           &d.Sync,
		Watch:          ptr(!d.DisableWatch),
	}
}

// fixupOptions fills every unset field of o from base.
func fixupOptions(o *OptionsConfig, base OptionsConfig) {
	if o.WriteGuard == nil {
		o.WriteGuard = base.WriteGuard
	}
	if o.UpdateInterval == nil {
		o.UpdateInterval = base.UpdateInterval
	}
	if o.MaxRetries == nil {
		o.MaxRetries = base.MaxRetries
	}
	if o.Debounce == nil {
		o.Debounce = base.Debounce
	}
	o.ReadMode = strings.ToLower(o.ReadMode)
	if o.ReadMode == "" {
		o.ReadMode = base.ReadMode
	}
	if o.Sync == nil {
		o.Sync = base.Sync
	}
	if o.Watch == nil {
		o.Watch = base.Watch
	}
}

// StorageOptions converts o, which must have been through fixup.
func (o OptionsConfig) StorageOptions() storage.Options {
	opts := storage.DefaultOptions()
	if o.WriteGuard != nil {
		opts.WriteGuard = *o.WriteGuard
	}
	if o.UpdateInterval != nil {
		opts.UpdateInterval = *o.UpdateInterval
	}
	if o.Debounce != nil {
		opts.Debounce = *o.Debounce
	}
	opts.ReadMode = storage.ReadMode(o.ReadMode)
	if o.MaxRetries != nil {
		opts.MaxRetries = *o.MaxRetries
	}
	if o.Sync != nil {
		opts.Sync = *o.Sync
	}
	if o.Watch != nil {
		opts.DisableWatch = !*o.Watch
	}
	return opts
}

func ptr[T any](v T) *T { return &v }
