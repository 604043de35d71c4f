// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/testbench/pkg/sources"
	"github.com/spf13/cobra"
)

var sourceCmd = &cobra.Command{
	Use:   "source <output> <value>",
	Short: "Set a programmable voltage or current source",
	Long: `Set one of the programmable outputs and print the value achieved.

Outputs:
  pvs1  -5 to 5 V (MCP4728 channel)
  pvs2  0 to 3.3 V (MCP4728 channel)
  pvs3  -3.3 to 3.3 V, 5-bit
  pcs   0 to 3.3 mA, 5-bit, load dependent`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"pvs1", "pvs2", "pvs3", "pcs"},
	RunE:      runSource,
}

func init() {
	rootCmd.AddCommand(sourceCmd)
}

// sourceSetters maps an output name to its setter and unit
var sourceSetters = map[string]struct {
	set  func(*sources.Sources, float64) (float64, error)
	unit string
}{
	"pvs1": {(*sources.Sources).SetPVS1, "V"},
	"pvs2": {(*sources.Sources).SetPVS2, "V"},
	"pvs3": {(*sources.Sources).SetPVS3, "V"},
	"pcs":  {(*sources.Sources).SetPCS, "mA"},
}

func runSource(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(args[0])
	setter, ok := sourceSetters[name]
	if !ok {
		return fmt.Errorf("unknown output %q", args[0])
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %v", args[1], err)
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	actual, err := setter.set(inst.Sources, value)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %.4f %s\n", strings.ToUpper(name), actual, setter.unit)
	return nil
}
