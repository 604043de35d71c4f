// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package analog drives the oscilloscope: analog channel state, calibrated
// conversion and the capture controller.
package analog

import (
	"fmt"

	"github.com/Thermoquad/testbench/pkg/calib"
	"github.com/Thermoquad/testbench/pkg/lts"
)

// fixedGainIndex is the last channel index with a programmable amplifier.
const fixedGainIndex = 11

// ChannelIndex returns the position of name in calib.ChannelNames, or -1.
func ChannelIndex(name string) int {
	for i, n := range calib.ChannelNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Params updates a Channel. Nil fields keep their current value.
type Params struct {
	Channel    *string
	Gain       *int
	Resolution *calib.Resolution
	Length     *int
	Timebase   *float64 // µs per sample
}

// Channel is one oscilloscope trace buffer. Defaults: CH1, gain index 0,
// 10-bit, 100 samples, 1 µs per sample.
type Channel struct {
	name       string
	gain       int
	resolution calib.Resolution
	length     int
	timebase   float64

	table *calib.Table
	xaxis []float64
	yaxis []float64
}

// NewChannel returns a channel reading name through table.
func NewChannel(name string, table *calib.Table) *Channel {
	c := &Channel{
		name:       name,
		resolution: calib.TenBit,
		length:     100,
		timebase:   1,
		table:      table,
		xaxis:      make([]float64, lts.MaxSamples),
		yaxis:      make([]float64, lts.MaxSamples),
	}
	c.regenerateXAxis()
	return c
}

func (c *Channel) Name() string                 { return c.name }
func (c *Channel) Gain() int                    { return c.gain }
func (c *Channel) Resolution() calib.Resolution { return c.resolution }
func (c *Channel) Length() int                  { return c.length }
func (c *Channel) Timebase() float64            { return c.timebase }
func (c *Channel) Index() int                   { return ChannelIndex(c.name) }
func (c *Channel) Multiplier() float64          { return calib.Gains[c.gain] }
func (c *Channel) SetTable(table *calib.Table)  { c.table = table }

// SetParams applies p. The time axis is rebuilt when the timebase or length
// changes.
func (c *Channel) SetParams(p Params) error {
	if p.Channel != nil && ChannelIndex(*p.Channel) < 0 {
		return fmt.Errorf("unknown analog channel %q", *p.Channel)
	}
	if p.Gain != nil && (*p.Gain < 0 || *p.Gain >= calib.NumGains) {
		return &lts.OutOfRangeError{What: "gain index", Value: float64(*p.Gain)}
	}
	if p.Length != nil && (*p.Length < 0 || *p.Length > lts.MaxSamples) {
		return &lts.OutOfRangeError{What: "sample length", Value: float64(*p.Length)}
	}
	if p.Resolution != nil && *p.Resolution != calib.TenBit && *p.Resolution != calib.TwelveBit {
		return &lts.OutOfRangeError{What: "resolution", Value: float64(*p.Resolution)}
	}

	if p.Channel != nil {
		c.name = *p.Channel
	}
	if p.Gain != nil {
		c.gain = *p.Gain
	}
	if p.Resolution != nil {
		c.resolution = *p.Resolution
	}

	regenerate := false
	if p.Length != nil && *p.Length != c.length {
		c.length = *p.Length
		regenerate = true
	}
	if p.Timebase != nil && *p.Timebase != c.timebase {
		c.timebase = *p.Timebase
		regenerate = true
	}
	if regenerate {
		c.regenerateXAxis()
	}
	return nil
}

func (c *Channel) regenerateXAxis() {
	for i := 0; i < c.length; i++ {
		c.xaxis[i] = c.timebase * float64(i)
	}
}

// FixValue converts a raw ADC code to volts. Channels past the programmable
// amplifiers always use gain index 0.
func (c *Channel) FixValue(raw float64) (float64, error) {
	if c.Index() > fixedGainIndex {
		c.gain = 0
	}
	return c.table.Evaluate(c.name, c.gain, raw, c.resolution)
}

// setSamples converts raw codes into the value axis.
func (c *Channel) setSamples(raw []uint16) error {
	for i, code := range raw {
		v, err := c.FixValue(float64(code))
		if err != nil {
			return err
		}
		c.yaxis[i] = v
	}
	return nil
}

// XAxis returns the time axis in µs.
func (c *Channel) XAxis() []float64 { return c.xaxis[:c.length] }

// YAxis returns the last fetched voltages.
func (c *Channel) YAxis() []float64 { return c.yaxis[:c.length] }
