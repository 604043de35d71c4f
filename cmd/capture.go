// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/Thermoquad/testbench/pkg/analog"
	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/Thermoquad/testbench/pkg/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
	"sigs.k8s.io/yaml"
)

var (
	captureChannels  int
	captureSamples   int
	captureTimegap   float64
	capturePrimary   string
	captureGain      int
	captureLevel     float64
	captureNoTrigger bool
	captureOutput    string
	captureFormat    string
	captureNoTUI     bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture oscilloscope traces",
	Long: `Capture 1, 2 or 4 oscilloscope traces and write them as CSV or YAML.

Trace 1 records --primary; traces 2-4 record CH2-CH4. Samples are clamped to
3200 split across the traces, and the sample interval is raised to the
minimum the channel count allows (1, 1.25 or 1.75 µs).

When stdout is a terminal and --output is set, a progress view is shown
while the device acquires.

Exit codes:
  0 - Capture written
  1 - Capture or connection failed`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	f := captureCmd.Flags()
	f.IntVarP(&captureChannels, "channels", "c", 1, "Number of traces (1, 2 or 4)")
	f.IntVarP(&captureSamples, "samples", "n", 1000, "Samples per trace")
	f.Float64VarP(&captureTimegap, "timegap", "t", 2, "Microseconds between samples")
	f.StringVar(&capturePrimary, "primary", "CH1", "Input recorded by trace 1")
	f.IntVarP(&captureGain, "gain", "g", -1, "Amplifier gain index for the primary input")
	f.Float64Var(&captureLevel, "trigger-level", 0, "Trigger level in volts on trace 1")
	f.BoolVar(&captureNoTrigger, "no-trigger", false, "Start immediately instead of waiting for the trigger")
	f.StringVarP(&captureOutput, "output", "o", "", "Output file (default stdout)")
	f.StringVar(&captureFormat, "format", "csv", "Output format (csv or yaml)")
	f.BoolVar(&captureNoTUI, "no-tui", false, "Disable the progress view")
}

func runCapture(cmd *cobra.Command, args []string) error {
	if captureFormat != "csv" && captureFormat != "yaml" {
		return fmt.Errorf("unsupported format %q (use csv or yaml)", captureFormat)
	}

	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	scope := inst.Scope
	if captureGain >= 0 {
		if _, err := scope.SetGain(capturePrimary, captureGain); err != nil {
			return err
		}
	}

	trigger := !captureNoTrigger
	if trigger && cmd.Flags().Changed("trigger-level") {
		if _, err := scope.ConfigureTrigger(0, captureLevel); err != nil {
			return err
		}
	}

	config := analog.CaptureConfig{
		Channels:      captureChannels,
		Samples:       captureSamples,
		TimegapMicros: captureTimegap,
		Primary:       capturePrimary,
		Trigger:       &trigger,
	}

	var traces *analog.Traces
	if !captureNoTUI && captureOutput != "" && term.IsTerminal(int(os.Stdout.Fd())) {
		traces, err = runCaptureTUI(scope, inst.Conn(), config)
	} else {
		traces, err = scope.Capture(cmd.Context(), config)
	}
	if isReconnectFailure(err) {
		logger.Fatal("instrument lost during capture", zap.Error(err))
	}
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if captureOutput != "" {
		f, err := os.Create(captureOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	names := traceNames(capturePrimary, len(traces.Voltages))
	if captureFormat == "yaml" {
		return writeTracesYAML(out, names, traces)
	}
	return writeTracesCSV(out, names, traces)
}

// isReconnectFailure reports whether err means the instrument could not be
// reopened after a failed progress poll.
func isReconnectFailure(err error) bool {
	return errors.Is(err, transport.ErrReconnectFailed) || errors.Is(err, lts.ErrNoReopen)
}

func traceNames(primary string, n int) []string {
	names := []string{primary, "CH2", "CH3", "CH4"}
	return names[:n]
}

// writeTracesCSV writes one row per sample: time (µs) then each trace
func writeTracesCSV(w io.Writer, names []string, traces *analog.Traces) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"time_us"}, names...)); err != nil {
		return err
	}
	row := make([]string, len(names)+1)
	for i, t := range traces.Time {
		row[0] = strconv.FormatFloat(t, 'f', 3, 64)
		for j, v := range traces.Voltages {
			row[j+1] = strconv.FormatFloat(v[i], 'f', 5, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type traceDocument struct {
	TimeMicros []float64            `json:"time_us"`
	Traces     map[string][]float64 `json:"traces"`
}

func writeTracesYAML(w io.Writer, names []string, traces *analog.Traces) error {
	doc := traceDocument{TimeMicros: traces.Time, Traces: make(map[string][]float64)}
	for i, name := range names {
		doc.Traces[name] = traces.Voltages[i]
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
