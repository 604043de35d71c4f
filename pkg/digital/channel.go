// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package digital drives the logic analyzer, the edge timing measurements
// and the digital inputs and outputs.
package digital

import (
	"fmt"

	"github.com/Thermoquad/testbench/pkg/lts"
)

// Edge selects which level changes a channel records.
type Edge int

const (
	Disabled Edge = iota
	EveryEdge
	EveryFallingEdge
	EveryRisingEdge
	EveryFourthRisingEdge
	EverySixteenthRisingEdge
)

func (e Edge) String() string {
	switch e {
	case Disabled:
		return "disabled"
	case EveryEdge:
		return "every edge"
	case EveryFallingEdge:
		return "falling"
	case EveryRisingEdge:
		return "rising"
	case EveryFourthRisingEdge:
		return "every 4th rising"
	case EverySixteenthRisingEdge:
		return "every 16th rising"
	default:
		return fmt.Sprintf("Edge(%d)", int(e))
	}
}

// ChannelNames lists the digital inputs in device order.
var ChannelNames = []string{"ID1", "ID2", "ID3", "ID4", "LMETER", "CH4"}

// ChannelIndex returns the device number of a digital input.
func ChannelIndex(name string) (int, error) {
	for i, n := range ChannelNames {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown digital input %q", name)
}

// prescalerDivisors maps the four-channel prescaler setting to its divisor.
var prescalerDivisors = [4]float64{1, 8, 64, 256}

// Channel holds one logic analyzer trace.
type Channel struct {
	Number int // 0-3, position in the capture buffer
	Name   string
	Mode   Edge

	// Bits is the counter width, 32 in one and two channel modes and 16 in
	// four channel mode.
	Bits      int
	Prescaler int

	InitialState bool
	// Ticks are rollover-corrected timer counts after alignment.
	Ticks []int64
}

func newChannel(n int) *Channel {
	return &Channel{Number: n, Name: ChannelNames[n], Mode: EveryEdge, Bits: 32}
}

// Seconds converts Ticks using the 64 MHz timer and the channel prescaler.
func (c *Channel) Seconds() []float64 {
	div := prescalerDivisors[c.Prescaler&3]
	out := make([]float64, len(c.Ticks))
	for i, t := range c.Ticks {
		out[i] = float64(t) * div / lts.TimerClockHz
	}
	return out
}

// Steps returns a level-vs-time trace in seconds for plotting. Every-edge
// channels toggle from InitialState at each timestamp; the other modes draw
// a unit pulse per recorded edge.
func (c *Channel) Steps() ([]float64, []float64) {
	ts := c.Seconds()
	if len(ts) == 0 {
		return nil, nil
	}

	var x, y []float64
	if c.Mode == EveryEdge {
		level := 0.0
		if c.InitialState {
			level = 1
		}
		x = append(x, 0)
		y = append(y, level)
		for _, t := range ts {
			x = append(x, t, t)
			y = append(y, level, 1-level)
			level = 1 - level
		}
		return x, y
	}

	for _, t := range ts {
		x = append(x, t, t, t)
		y = append(y, 0, 1, 0)
	}
	return x, y
}
