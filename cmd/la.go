// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/testbench/pkg/digital"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var (
	laChannels  int
	laInput     string
	laDuration  time.Duration
	laNoTrigger bool
	laRising    bool
	laPrescaler int
	laOutput    string
)

var laCmd = &cobra.Command{
	Use:   "la",
	Short: "Record edge timestamps with the logic analyzer",
	Long: `Record level changes on the digital inputs and print the timestamps.

Modes:
  1 channel:  --input ID1-ID4, 32-bit timestamps
  2 channels: ID1 and ID2, 32-bit timestamps
  4 channels: ID1-ID4, 16-bit timestamps with --prescaler (0-3 = /1 /8 /64 /256)

The analyzer records for --duration before the buffers are read back.
Timestamps are written as YAML, in seconds from the first trigger edge.`,
	RunE: runLA,
}

func init() {
	rootCmd.AddCommand(laCmd)
	f := laCmd.Flags()
	f.IntVarP(&laChannels, "channels", "c", 1, "Number of channels (1, 2 or 4)")
	f.StringVarP(&laInput, "input", "i", "ID1", "Input recorded in one channel mode")
	f.DurationVarP(&laDuration, "duration", "d", time.Second, "Recording time")
	f.BoolVar(&laNoTrigger, "no-trigger", false, "Start immediately instead of waiting for an edge")
	f.BoolVar(&laRising, "rising", false, "Trigger on a rising edge instead of a falling one")
	f.IntVar(&laPrescaler, "prescaler", 0, "Four channel timer prescaler (0-3)")
	f.StringVarP(&laOutput, "output", "o", "", "Output file (default stdout)")
}

type laTrace struct {
	Mode         string    `json:"mode"`
	InitialState bool      `json:"initial_state"`
	Seconds      []float64 `json:"seconds"`
}

func runLA(cmd *cobra.Command, args []string) error {
	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	logic := inst.Logic
	trigger := !laNoTrigger
	switch laChannels {
	case 1:
		err = logic.StartOneChannel(digital.OneChannelConfig{
			Channel: laInput,
			Trigger: &trigger,
			Rising:  laRising,
		})
	case 2:
		err = logic.StartTwoChannel(trigger)
	case 4:
		err = logic.StartFourChannel(digital.FourChannelConfig{
			Prescaler: laPrescaler,
			Trigger:   &trigger,
			Rising:    laRising,
		})
	default:
		return fmt.Errorf("unsupported channel count %d (use 1, 2 or 4)", laChannels)
	}
	if err != nil {
		return err
	}

	select {
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	case <-time.After(laDuration):
	}

	channels, err := logic.FetchChannels(1)
	if err != nil {
		return err
	}

	doc := make(map[string]laTrace, len(channels))
	for _, ch := range channels {
		doc[ch.Name] = laTrace{
			Mode:         ch.Mode.String(),
			InitialState: ch.InitialState,
			Seconds:      ch.Seconds(),
		}
		fmt.Fprintf(os.Stderr, "%s: %d edges (%s)\n", ch.Name, len(ch.Ticks), ch.Mode)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	out := io.Writer(os.Stdout)
	if laOutput != "" {
		f, err := os.Create(laOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err = out.Write(data)
	return err
}
