// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"

	"github.com/Thermoquad/testbench/pkg/flash"
	"github.com/spf13/cobra"
)

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Read and write the instrument's user flash",
	Long: fmt.Sprintf(`Access the %d pages of %d bytes each in the instrument's user flash.

Writes shorter than a page are padded with '.'.`, flash.Pages, flash.PageSize),
}

var flashReadCmd = &cobra.Command{
	Use:   "read [page]",
	Short: "Print one page, or every page",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFlashRead,
}

var flashWriteCmd = &cobra.Command{
	Use:   "write <page> <text>",
	Short: "Write text to a page",
	Args:  cobra.ExactArgs(2),
	RunE:  runFlashWrite,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.AddCommand(flashReadCmd, flashWriteCmd)
}

func parsePage(s string) (int, error) {
	page, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid page %q: %v", s, err)
	}
	return page, nil
}

func runFlashRead(cmd *cobra.Command, args []string) error {
	first, last := 0, flash.Pages-1
	if len(args) == 1 {
		page, err := parsePage(args[0])
		if err != nil {
			return err
		}
		first, last = page, page
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	for page := first; page <= last; page++ {
		data, err := inst.Flash.ReadPage(page)
		if err != nil {
			return err
		}
		fmt.Printf("%2d: % X  %q\n", page, data, data)
	}
	return nil
}

func runFlashWrite(cmd *cobra.Command, args []string) error {
	page, err := parsePage(args[0])
	if err != nil {
		return err
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	return inst.Flash.WritePage(page, []byte(args[1]))
}
