// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/testbench/pkg/digital"
	"github.com/spf13/cobra"
)

var dioCmd = &cobra.Command{
	Use:   "dio [OUTPUT=0|1 ...]",
	Short: "Set digital outputs and read the digital inputs",
	Long: `Drive OD1, OD2, SQR1 and SQR2 to static levels, then print ID1-ID4.

Example:
  testbench dio OD1=1 SQR2=0`,
	RunE: runDIO,
}

func init() {
	rootCmd.AddCommand(dioCmd)
}

// parseOutputs turns NAME=LEVEL arguments into digital.Outputs
func parseOutputs(args []string) (digital.Outputs, error) {
	var o digital.Outputs
	for _, arg := range args {
		name, level, ok := strings.Cut(arg, "=")
		if !ok || (level != "0" && level != "1") {
			return o, fmt.Errorf("invalid output %q (use NAME=0 or NAME=1)", arg)
		}
		v := level == "1"
		switch strings.ToUpper(name) {
		case "OD1":
			o.OD1 = &v
		case "OD2":
			o.OD2 = &v
		case "SQR1":
			o.SQR1 = &v
		case "SQR2":
			o.SQR2 = &v
		default:
			return o, fmt.Errorf("unknown output %q", name)
		}
	}
	return o, nil
}

func runDIO(cmd *cobra.Command, args []string) error {
	outputs, err := parseOutputs(args)
	if err != nil {
		return err
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	if len(args) > 0 {
		if err := inst.Logic.SetState(outputs); err != nil {
			return err
		}
	}

	in, err := inst.Logic.States()
	if err != nil {
		return err
	}
	for i, level := range in {
		state := "low"
		if level {
			state = "high"
		}
		fmt.Printf("%s: %s\n", digital.ChannelNames[i], state)
	}
	return nil
}
