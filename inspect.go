// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "inspect <dir>",
		Short: "List the value files of a storage directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewReadOnlyFs(afero.NewOsFs())
			return inspect(cmd.OutOrStdout(), fs, args[0], dump)
		},
	}
	cmd.Flags().BoolVar(&dump, "hex", false, "Hex dump every file")
	return cmd
}

// inspect prints one line per file under dir: its value name, size and
// modification time, followed by a hex dump when dump is set.
func inspect(out io.Writer, fs afero.Fs, dir string, dump bool) error {
	info, err := fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to open storage directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
	var dumps []string
	count := 0

	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, fi.Size(), fi.ModTime().Format(time.RFC3339))
		count++

		if dump {
			data, err := afero.ReadFile(fs, path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", name, err)
			}
			dumps = append(dumps, fmt.Sprintf("== %s (%d bytes)\n%s", name, len(data), hex.Dump(data)))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, d := range dumps {
		fmt.Fprint(out, "\n", d)
	}
	fmt.Fprintf(out, "%d value files\n", count)
	return nil
}
