// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Thermoquad/testbench/pkg/calib"
	"github.com/spf13/cobra"
)

var (
	calibFormat  string
	calibOutput  string
	calibOffline bool
)

var calibCmd = &cobra.Command{
	Use:   "calib",
	Short: "Inspect and move calibration tables",
}

var calibExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the active calibration table",
	Long: `Write the calibration table the instrument would use as YAML, JSON or CBOR.

With --offline the table is built from --calibration (or the built-in
defaults) without connecting to the instrument.`,
	Args: cobra.NoArgs,
	RunE: runCalibExport,
}

var calibStoreCmd = &cobra.Command{
	Use:   "store <file>",
	Short: "Write a calibration file into the instrument's bulk flash",
	Args:  cobra.ExactArgs(1),
	RunE:  runCalibStore,
}

func init() {
	rootCmd.AddCommand(calibCmd)
	calibCmd.AddCommand(calibExportCmd, calibStoreCmd)
	calibExportCmd.Flags().StringVarP(&calibFormat, "format", "f", "", "yaml, json or cbor (default from --output extension, else yaml)")
	calibExportCmd.Flags().StringVarP(&calibOutput, "output", "o", "", "Output file (default stdout)")
	calibExportCmd.Flags().BoolVar(&calibOffline, "offline", false, "Do not connect to the instrument")
}

// exportFormat picks the explicit format or derives it from the file name
func exportFormat(format, output string) string {
	if format != "" {
		return format
	}
	switch strings.ToLower(filepath.Ext(output)) {
	case ".json":
		return "json"
	case ".cbor":
		return "cbor"
	}
	return "yaml"
}

func runCalibExport(cmd *cobra.Command, args []string) error {
	var table *calib.Table
	if calibOffline {
		if cfg.Calibration.Path == "" {
			table = calib.Fallback()
		} else {
			t, err := calib.Load(cfg.Calibration.Path)
			if err != nil {
				return err
			}
			table = t
		}
	} else {
		inst, err := OpenInstrument(cmd.Context())
		if err != nil {
			return err
		}
		defer inst.Close()
		table = inst.Calibration()
	}

	out := io.Writer(os.Stdout)
	if calibOutput != "" {
		f, err := os.Create(calibOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	fmt.Fprintf(os.Stderr, "Exporting calibration from %s\n", table.Source())
	return table.Export(out, exportFormat(calibFormat, calibOutput))
}

func runCalibStore(cmd *cobra.Command, args []string) error {
	table, err := calib.Load(args[0])
	if err != nil {
		return err
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := inst.Flash.WriteCalibration(table); err != nil {
		return err
	}
	fmt.Printf("Stored %s in flash (%d bytes)\n", args[0], calib.FlashBlobSize)
	return nil
}
