// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/testbench/pkg/digital"
	"github.com/Thermoquad/testbench/pkg/instrument"
	"github.com/spf13/cobra"
)

var (
	measureInput   string
	measureStop    string
	measureTimeout time.Duration
)

var measureCmd = &cobra.Command{
	Use:   "measure <quantity>",
	Short: "Run a single timing or passive component measurement",
	Long: `Measure one quantity and print it.

Quantities:
  frequency      Signal frequency on --input (low frequency, edge timed)
  highfreq       Signal frequency on --input (gated counter, up to MHz)
  period         Rising edge to rising edge time on --input
  duty           Period and duty cycle on --input
  pulse          High time of a single pulse on --input
  interval       Rising edge on --input to rising edge on --stop
  distance       HC-SR04 echo: OD1 triggers, ID1 reads the echo
  capacitance    Capacitor on the CAP pin
  inductance     Inductor on the LMETER tank

A timeout without a result prints "timeout" and exits with status 0.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"frequency", "highfreq", "period", "duty", "pulse", "interval", "distance", "capacitance", "inductance"},
	RunE:      runMeasure,
}

func init() {
	rootCmd.AddCommand(measureCmd)
	measureCmd.Flags().StringVarP(&measureInput, "input", "i", "ID1", "Digital input (ID1-ID4, LMETER, CH4)")
	measureCmd.Flags().StringVar(&measureStop, "stop", "ID2", "Input that stops an interval measurement")
	measureCmd.Flags().DurationVarP(&measureTimeout, "wait", "w", time.Second, "Measurement timeout")
}

var errMeasureTimeout = errors.New("timeout")

func runMeasure(cmd *cobra.Command, args []string) error {
	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	result, err := measure(inst, args[0])
	if errors.Is(err, errMeasureTimeout) {
		fmt.Println("timeout")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

// measure runs one quantity and formats the result
func measure(inst *instrument.Instrument, quantity string) (string, error) {
	logic := inst.Logic
	timed := func(v float64, ok bool, err error) (float64, error) {
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errMeasureTimeout
		}
		return v, nil
	}

	switch quantity {
	case "frequency":
		f, err := timed(logic.Frequency(measureInput, measureTimeout))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: %.3f Hz", measureInput, f), nil

	case "highfreq":
		f, err := logic.HighFrequency(measureInput)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: %.0f Hz", measureInput, f), nil

	case "period":
		t, err := timed(logic.RisingInterval(measureInput, measureTimeout))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: %.9f s", measureInput, t), nil

	case "duty":
		period, duty, ok, err := logic.DutyCycle(measureInput, measureTimeout)
		if _, err := timed(0, ok, err); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: period %.9f s, duty %.1f%%", measureInput, period, duty*100), nil

	case "pulse":
		t, err := timed(logic.PulseTime(measureInput, measureTimeout))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: high for %.9f s", measureInput, t), nil

	case "interval":
		t, err := timed(logic.Interval(digital.IntervalConfig{
			Start: measureInput,
			Stop:  measureStop,
		}, measureTimeout))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s -> %s: %.9f s", measureInput, measureStop, t), nil

	case "distance":
		t, err := timed(logic.EchoTime(measureTimeout))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("echo %.6f s, distance %.3f m", t, digital.EchoDistance(t)), nil

	case "capacitance":
		_, farads, err := inst.EstimateCapacitance()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%.4g F", farads), nil

	case "inductance":
		henries, err := inst.Inductance()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%.4g H", henries), nil
	}
	return "", fmt.Errorf("unknown quantity %q", quantity)
}
