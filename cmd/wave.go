// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"

	"github.com/Thermoquad/testbench/pkg/wavegen"
	"github.com/spf13/cobra"
)

var (
	sineGen      int
	sineRegister int
	sineShape    string
	sinePhase    float64

	squareOut    int
	squareDuty   float64
	squareServo  bool
	squareFour   bool
	squarePhase  []float64
	squareDuties []float64
)

var sineCmd = &cobra.Command{
	Use:   "sine <hz>",
	Short: "Set a DDS waveform generator",
	Long: `Set WG1 or WG2 to a frequency.

--shape selects sine, triangle or square output. --phase sets WG2's phase
relative to WG1 in degrees after the frequency is loaded.`,
	Args: cobra.ExactArgs(1),
	RunE: runSine,
}

var squareCmd = &cobra.Command{
	Use:   "square <hz|angle>",
	Short: "Set a square wave or servo output",
	Long: `Output a square wave on SQR1 or SQR2.

With --servo the argument is an angle (0-180) and a 100 Hz servo pulse is
generated instead. With --four, SQR1, SQR2, OD1 and OD2 run phase correlated:
--phase and --duties give the rising edge and high fraction of SQR2, OD1 and
OD2 as fractions of the period.`,
	Args: cobra.ExactArgs(1),
	RunE: runSquare,
}

func init() {
	rootCmd.AddCommand(sineCmd)
	sineCmd.Flags().IntVar(&sineGen, "gen", 1, "Generator (1 or 2)")
	sineCmd.Flags().IntVar(&sineRegister, "register", 0, "Frequency register (0 or 1)")
	sineCmd.Flags().StringVar(&sineShape, "shape", "sine", "Waveform (sine, triangle, square)")
	sineCmd.Flags().Float64Var(&sinePhase, "phase", 0, "WG2 phase offset in degrees")

	rootCmd.AddCommand(squareCmd)
	squareCmd.Flags().IntVar(&squareOut, "out", 1, "Square output (1 or 2)")
	squareCmd.Flags().Float64VarP(&squareDuty, "duty", "d", 50, "Duty cycle in percent")
	squareCmd.Flags().BoolVar(&squareServo, "servo", false, "Treat the argument as a servo angle")
	squareCmd.Flags().BoolVar(&squareFour, "four", false, "Drive SQR1, SQR2, OD1 and OD2 together")
	squareCmd.Flags().Float64SliceVar(&squarePhase, "phase", []float64{0.25, 0.5, 0.75}, "SQR2, OD1, OD2 phase (fractions)")
	squareCmd.Flags().Float64SliceVar(&squareDuties, "duties", []float64{0.5, 0.5, 0.5}, "SQR2, OD1, OD2 duty (fractions)")
}

var waveforms = map[string]wavegen.Waveform{
	"sine":     wavegen.Sine,
	"triangle": wavegen.Triangle,
	"square":   wavegen.Square,
}

func runSine(cmd *cobra.Command, args []string) error {
	freq, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid frequency %q: %v", args[0], err)
	}
	shape, ok := waveforms[sineShape]
	if !ok {
		return fmt.Errorf("unknown shape %q", sineShape)
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	wg := inst.Wavegen
	if err := wg.SetWaveform(sineGen, shape); err != nil {
		return err
	}
	actual, err := wg.SetSine(sineGen, freq, sineRegister)
	if err != nil {
		return err
	}
	if err := wg.SelectRegister(sineGen, sineRegister); err != nil {
		return err
	}
	if cmd.Flags().Changed("phase") {
		if err := wg.SetSinePhase(sinePhase); err != nil {
			return err
		}
	}
	fmt.Printf("WG%d: %s %.3f Hz (DDS clock %.0f Hz)\n", sineGen, sineShape, actual, wg.DDSClock())
	return nil
}

func runSquare(cmd *cobra.Command, args []string) error {
	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %v", args[0], err)
	}
	if squareFour && (len(squarePhase) != 3 || len(squareDuties) != 3) {
		return fmt.Errorf("--phase and --duties take exactly three values")
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	wg := inst.Wavegen
	switch {
	case squareServo:
		if err := wg.Servo(squareOut, value); err != nil {
			return err
		}
		fmt.Printf("SQR%d: servo at %.1f°\n", squareOut, value)

	case squareFour:
		cfg := wavegen.PulseConfig{Frequency: value, Duty: squareDuty / 100}
		copy(cfg.Phase[:], squarePhase)
		copy(cfg.Duties[:], squareDuties)
		edges, err := wg.CorrelatedSquares(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("SQR1/SQR2/OD1/OD2: wavelength %d ticks, prescaler %d\n",
			edges.Wavelength, edges.Params&0x03)

	default:
		actual, err := wg.SetSquare(squareOut, value, squareDuty)
		if err != nil {
			return err
		}
		fmt.Printf("SQR%d: %.3f Hz, %.1f%% duty\n", squareOut, actual, squareDuty)
	}
	return nil
}
