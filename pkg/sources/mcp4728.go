// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sources

import (
	"github.com/Thermoquad/testbench/pkg/lts"
)

// MCP4728BaseAddress is the DAC's 7-bit I2C address with device id 0.
const MCP4728BaseAddress = 0x60

// DAC channels wired to the source outputs.
const (
	PVS2Channel = 1
	PVS1Channel = 3
)

// Range is an output span in volts.
type Range struct{ Min, Max float64 }

// mcp4728Ranges are the output spans after each channel's amplifier.
var mcp4728Ranges = [4]Range{{0, 3.3}, {0, 3.3}, {-3.3, 3.3}, {-5, 5}}

// MCP4728 is the 12-bit quad DAC on the instrument's I2C bus.
type MCP4728 struct {
	conn *lts.Conn
	addr byte
}

// NewMCP4728 returns the DAC with device id 0-7.
func NewMCP4728(conn *lts.Conn, devid byte) *MCP4728 {
	return &MCP4728{conn: conn, addr: MCP4728BaseAddress | devid&0x07}
}

// Address returns the 7-bit I2C address.
func (d *MCP4728) Address() byte { return d.addr }

// Range returns the output span of channel.
func (d *MCP4728) Range(channel int) Range { return mcp4728Ranges[channel&3] }

// Code converts volts on channel to a 12-bit code and the voltage it
// produces.
func (d *MCP4728) Code(channel int, volts float64) (uint16, float64) {
	r := d.Range(channel)
	code := int(4095 * (volts - r.Min) / (r.Max - r.Min))
	return uint16(code), (r.Max-r.Min)*float64(code)/4095 + r.Min
}

// SetVoltage sets channel (0-3) to volts and returns the voltage achieved.
func (d *MCP4728) SetVoltage(channel int, volts float64) (float64, error) {
	if channel < 0 || channel > 3 {
		return 0, &lts.OutOfRangeError{What: "DAC channel", Value: float64(channel)}
	}
	r := d.Range(channel)
	if volts < r.Min || volts > r.Max {
		return 0, &lts.OutOfRangeError{What: "DAC voltage", Value: volts}
	}
	code, actual := d.Code(channel, volts)
	if err := d.SetRaw(channel, code); err != nil {
		return 0, err
	}
	return actual, nil
}

// SetRaw writes a 12-bit code to channel.
func (d *MCP4728) SetRaw(channel int, code uint16) error {
	if channel < 0 || channel > 3 {
		return &lts.OutOfRangeError{What: "DAC channel", Value: float64(channel)}
	}
	if code > 0x0FFF {
		return &lts.OutOfRangeError{What: "DAC code", Value: float64(code)}
	}
	// VDD reference, powered up, gain 1
	word := 1<<12 | code
	payload := lts.Payload{}.U8(d.addr << 1).U8(byte(channel)).U16(word)
	if err := d.conn.Send(lts.GroupDAC, lts.DACSet, payload...); err != nil {
		return err
	}
	_, err := d.conn.Ack()
	return err
}
