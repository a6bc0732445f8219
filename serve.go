// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/ffutop/kvstorage/internal/config"
	"github.com/ffutop/kvstorage/internal/manager"
	"github.com/ffutop/kvstorage/internal/storage"
	"github.com/ffutop/kvstorage/internal/storage/values"
	"github.com/ffutop/kvstorage/internal/tick"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the configured storage instances and keep them in sync with disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "Path to config file")
	return cmd
}

func serve(ctx context.Context, configFile string) error {
	// Load Configuration
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting kvstorage...", "root", cfg.Storage.Root, "tick", cfg.Tick.Interval)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := tick.New(cfg.Tick.Interval, slog.Default())
	mgr := manager.New(loop, cfg.Storage.Defaults.StorageOptions(), slog.Default())

	// The loop outlives ctx so shutdown can still run on it.
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	var wg conc.WaitGroup
	wg.Go(func() {
		if err := loop.Run(loopCtx); err != nil {
			slog.Error("Tick loop stopped with error", "err", err)
		}
	})
	defer func() {
		cancelLoop()
		wg.Wait()
	}()

	var opened int
	if err := loop.Do(ctx, func() { opened = openInstances(mgr, cfg.Storage.Instances) }); err != nil {
		return err
	}
	if opened == 0 {
		shutdown(loop, mgr)
		return errors.New("no valid storage instances configured")
	}

	<-ctx.Done()

	slog.Info("Shutting down...")
	if err := shutdown(loop, mgr); err != nil {
		return err
	}
	slog.Info("Goodbye.")
	return nil
}

// openInstances runs on the loop goroutine. Misconfigured instances and
// values are logged and skipped.
func openInstances(mgr *manager.Manager, instances []config.InstanceConfig) int {
	opened := 0
	for _, ic := range instances {
		inst, err := mgr.OpenWith(ic.Name, ic.Dir, ic.StorageOptions())
		if err != nil {
			slog.Error("Failed to open storage", "storage", ic.Name, "dir", ic.Dir, "err", err)
			continue
		}
		opened++

		for _, vc := range ic.Values {
			v, err := values.New(vc.Type, vc.Name, vc.Default)
			if err != nil {
				slog.Error("Invalid value", "storage", ic.Name, "value", vc.Name, "err", err)
				continue
			}
			if err := inst.Add(v); err != nil {
				slog.Error("Failed to add value", "storage", ic.Name, "value", vc.Name, "err", err)
				continue
			}
			slog.Debug("Value loaded", "storage", ic.Name, "value", v.Name(), "current", v)
		}

		name := ic.Name
		inst.Subscribe(storage.EventChanged, func(v storage.Value) {
			slog.Info("Value reloaded from disk", "storage", name, "value", v.Name(), "current", v)
		})
		inst.Subscribe(storage.EventRemoved, func(v storage.Value) {
			slog.Info("Value removed", "storage", name, "value", v.Name())
		})
		inst.Subscribe(storage.EventSaved, func(v storage.Value) {
			slog.Debug("Value saved", "storage", name, "value", v.Name())
		})
	}
	return opened
}

func shutdown(loop *tick.Loop, mgr *manager.Manager) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if doErr := loop.Do(ctx, func() { err = mgr.Shutdown() }); doErr != nil {
		return fmt.Errorf("failed to shut down storage: %w", doErr)
	}
	if err != nil {
		slog.Error("Storage shutdown finished with errors", "err", err)
	}
	return err
}
