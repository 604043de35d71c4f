// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var infoStats bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show firmware version, calibration and chip temperature",
	Long: `Connect to the instrument and print what it reports about itself.

The calibration line shows where the conversion table came from: a file path,
"flash", or "built-in" when no usable table was found.`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoStats, "stats", false, "Print wire statistics after the queries")
}

func runInfo(cmd *cobra.Command, args []string) error {
	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	table := inst.Calibration()
	fmt.Printf("Connection:  %s\n", connectionInfo(inst))
	fmt.Printf("Firmware:    %s\n", inst.Version())
	fmt.Printf("Calibration: %s\n", table.Source())
	if filled := table.Filled(); len(filled) > 0 {
		fmt.Printf("             defaults used for %s\n", strings.Join(filled, ", "))
	}

	temp, err := inst.Temperature()
	if err != nil {
		return fmt.Errorf("temperature: %w", err)
	}
	fmt.Printf("Temperature: %.1f °C\n", temp)

	if infoStats {
		fmt.Println()
		fmt.Print(inst.Conn().Stats().String())
	}
	return nil
}
