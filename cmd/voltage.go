// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	voltageGain     int
	voltageCount    int
	voltageInterval time.Duration
)

var voltageCmd = &cobra.Command{
	Use:   "voltage [channel]",
	Short: "Read the averaged voltage on an analog input",
	Long: `Read the calibrated mean of 16 conversions on an analog input.

Channels: CH1-CH9, 5V, PCS, 9V, IN1, SEN, TEMP. Default CH1.
The gain index (0-7) applies to inputs with a programmable amplifier.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVoltage,
}

func init() {
	rootCmd.AddCommand(voltageCmd)
	voltageCmd.Flags().IntVarP(&voltageGain, "gain", "g", -1, "Amplifier gain index (0-7)")
	voltageCmd.Flags().IntVarP(&voltageCount, "count", "n", 1, "Number of readings")
	voltageCmd.Flags().DurationVar(&voltageInterval, "interval", 500*time.Millisecond, "Delay between readings")
}

func runVoltage(cmd *cobra.Command, args []string) error {
	channel := "CH1"
	if len(args) > 0 {
		channel = args[0]
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	if voltageGain >= 0 {
		mult, err := inst.Scope.SetGain(channel, voltageGain)
		if err != nil {
			return err
		}
		fmt.Printf("%s gain: x%g\n", channel, mult)
	}

	for i := 0; i < voltageCount; i++ {
		if i > 0 {
			time.Sleep(voltageInterval)
		}
		volts, err := inst.Scope.AverageVoltage(channel)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %.4f V\n", channel, volts)
	}
	return nil
}
