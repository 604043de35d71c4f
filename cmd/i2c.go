// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/testbench/pkg/bus"
	"github.com/spf13/cobra"
)

var (
	i2cFrequency float64
	i2cCount     int
)

var i2cCmd = &cobra.Command{
	Use:   "i2c",
	Short: "Talk to devices on the instrument's I2C bus",
}

var i2cScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List responding 7-bit addresses",
	Args:  cobra.NoArgs,
	RunE:  runI2CScan,
}

var i2cReadCmd = &cobra.Command{
	Use:   "read <addr> <reg>",
	Short: "Read registers from a device",
	Args:  cobra.ExactArgs(2),
	RunE:  runI2CRead,
}

var i2cWriteCmd = &cobra.Command{
	Use:   "write <addr> <reg> <value>",
	Short: "Write one register of a device",
	Args:  cobra.ExactArgs(3),
	RunE:  runI2CWrite,
}

func init() {
	rootCmd.AddCommand(i2cCmd)
	i2cCmd.AddCommand(i2cScanCmd, i2cReadCmd, i2cWriteCmd)
	i2cCmd.PersistentFlags().Float64VarP(&i2cFrequency, "frequency", "f", bus.DefaultI2CFrequency, "Bus clock in Hz")
	i2cReadCmd.Flags().IntVarP(&i2cCount, "count", "n", 1, "Number of bytes")
}

// parseByte accepts decimal, 0x hex or 0b binary
func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q: %v", s, err)
	}
	return byte(v), nil
}

func runI2CScan(cmd *cobra.Command, args []string) error {
	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	found, err := inst.I2C.Scan(i2cFrequency)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No devices found")
		return nil
	}
	for _, addr := range found {
		names := bus.KnownDevices(addr)
		if len(names) == 0 {
			fmt.Printf("0x%02X\n", addr)
			continue
		}
		fmt.Printf("0x%02X  %s\n", addr, strings.Join(names, ", "))
	}
	return nil
}

func runI2CRead(cmd *cobra.Command, args []string) error {
	addr, err := parseByte(args[0])
	if err != nil {
		return err
	}
	reg, err := parseByte(args[1])
	if err != nil {
		return err
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := inst.I2C.Config(i2cFrequency); err != nil {
		return err
	}
	data, err := inst.I2C.ReadBulk(addr, reg, i2cCount)
	if err != nil {
		return err
	}
	fmt.Printf("0x%02X[0x%02X]: % X\n", addr, reg, data)
	return nil
}

func runI2CWrite(cmd *cobra.Command, args []string) error {
	var vals [3]byte
	for i, a := range args {
		v, err := parseByte(a)
		if err != nil {
			return err
		}
		vals[i] = v
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := inst.I2C.Config(i2cFrequency); err != nil {
		return err
	}
	return inst.I2C.WriteRegister(vals[0], vals[1], vals[2])
}
