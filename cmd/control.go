// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/testbench/pkg/digital"
	"github.com/Thermoquad/testbench/pkg/instrument"
	"github.com/Thermoquad/testbench/pkg/lts"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	controlMonitor  string
	controlInterval time.Duration
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for the instrument's outputs",
	Long: `Set sources, waveform generators and square outputs from an interactive
terminal UI while watching one analog input and the digital inputs.

Features:
  - Output list: PVS1, PVS2, PVS3, PCS, WG1, WG2, SQR1, SQR2
  - Live readout of --monitor and ID1-ID4
  - Wire statistics
  - Event logging
  - Automatic reconnection on connection loss

Tab switches between the output list and the value field. Enter applies the
value to the selected output.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().StringVarP(&controlMonitor, "monitor", "m", "CH1", "Analog input shown in the readout")
	controlCmd.Flags().DurationVar(&controlInterval, "interval", time.Second, "Readout refresh interval")
}

// deviceManager serializes access to the instrument between the readout
// and output commands, which bubbletea runs on separate goroutines
type deviceManager struct {
	inst *instrument.Instrument
	mu   sync.Mutex
}

// do runs fn with exclusive use of the instrument. A link failure triggers
// one reconnect; reconnected reports whether it happened.
func (dm *deviceManager) do(fn func(*instrument.Instrument) error) (reconnected bool, err error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	err = fn(dm.inst)
	if !errors.Is(err, lts.ErrCommunication) {
		return false, err
	}
	if rerr := dm.inst.Conn().Reconnect(); rerr != nil {
		return false, fmt.Errorf("%w (reconnect: %v)", err, rerr)
	}
	return true, err
}

// readout is one refresh of the monitored inputs
type readout struct {
	volts  float64
	inputs digital.Inputs
	stats  lts.Statistics
}

func (dm *deviceManager) readout(channel string) (readout, bool, error) {
	var r readout
	reconnected, err := dm.do(func(inst *instrument.Instrument) error {
		v, err := inst.Scope.AverageVoltage(channel)
		if err != nil {
			return err
		}
		in, err := inst.Logic.States()
		if err != nil {
			return err
		}
		r.volts, r.inputs = v, in
		r.stats = *inst.Conn().Stats()
		return nil
	})
	return r, reconnected, err
}

func runControl(cmd *cobra.Command, args []string) error {
	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	dm := &deviceManager{inst: inst}
	m := initialControlModel(dm, connectionInfo(inst), controlMonitor, controlInterval)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %v", err)
	}
	logger.Info("control session ended", zap.Uint64("commands", inst.Conn().Stats().Commands))
	return nil
}
