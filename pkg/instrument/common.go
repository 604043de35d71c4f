// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"errors"
	"math"
	"math/bits"
	"strings"
	"time"

	"github.com/Thermoquad/testbench/pkg/bus"
	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

// ============================================================================
// Firmware
// ============================================================================

// ReadVersion queries the firmware version again.
func (i *Instrument) ReadVersion() (string, error) {
	if err := i.conn.Send(lts.GroupCommon, lts.CommonVersion); err != nil {
		return "", err
	}
	line, err := i.conn.ReadLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ReadProgramAddress returns the word at a program memory address.
func (i *Instrument) ReadProgramAddress(addr uint32) (uint16, error) {
	payload := lts.Payload{}.U16(uint16(addr)).U16(uint16(addr >> 16))
	return i.readWord(lts.CommonReadProgramAddress, payload)
}

// ReadDataAddress returns the word at a RAM address.
func (i *Instrument) ReadDataAddress(addr uint16) (uint16, error) {
	return i.readWord(lts.CommonReadDataAddress, lts.Payload{}.U16(addr))
}

// WriteDataAddress stores value at a RAM address.
func (i *Instrument) WriteDataAddress(addr, value uint16) error {
	return i.command(lts.CommonWriteDataAddress, lts.Payload{}.U16(addr).U16(value))
}

func (i *Instrument) command(op byte, payload lts.Payload) error {
	if err := i.conn.Send(lts.GroupCommon, op, payload...); err != nil {
		return err
	}
	_, err := i.conn.Ack()
	return err
}

func (i *Instrument) readWord(op byte, payload lts.Payload) (uint16, error) {
	if err := i.conn.Send(lts.GroupCommon, op, payload...); err != nil {
		return 0, err
	}
	v, err := i.conn.ReadU16LE()
	if err != nil {
		return 0, err
	}
	if _, err := i.conn.Ack(); err != nil {
		return 0, err
	}
	return v, nil
}

// ============================================================================
// CTMU: charge time measurement unit
// ============================================================================

// CTMU source channels
const (
	CTMUChannelIN1         = 0
	CTMUChannelTemperature = 0b11110
)

// CTMUVoltage charges channel from the constant current source in crange
// (0-3) and returns the voltage across it. With tgen set the CTMU runs in
// time generation mode.
func (i *Instrument) CTMUVoltage(channel, crange byte, tgen bool) (float64, error) {
	sel := channel&0x1F | (crange&0x03)<<5
	if tgen {
		sel |= 0x80
	}
	if err := i.conn.Send(lts.GroupCommon, lts.CommonCTMUVoltage, sel); err != nil {
		return 0, err
	}
	i.sleep(time.Millisecond)
	// The UART was idle and the firmware sends a zero byte while it recovers
	if _, err := i.conn.ReadByte(); err != nil {
		return 0, err
	}
	v, err := i.conn.ReadU16LE()
	if err != nil {
		return 0, err
	}
	if _, err := i.conn.Ack(); err != nil {
		return 0, err
	}
	return 3.3 * float64(v) / 15 / 4096, nil
}

// Temperature returns the on-chip temperature in °C, derived from the
// CTMU's internal diode.
func (i *Instrument) Temperature() (float64, error) {
	v, err := i.CTMUVoltage(CTMUChannelTemperature, 3, false)
	if err != nil {
		return 0, err
	}
	return (783.24 - v*1000) / 1.87, nil
}

// ctmuCurrents are the nominal charge currents of each range in A.
var ctmuCurrents = [4]float64{0.5775e-3, 0.53e-6, 0.5775e-5, 0.5775e-4}

// ErrNoCharge is returned when a capacitance measurement sees no voltage.
var ErrNoCharge = errors.New("capacitor did not charge")

// CapacitanceResult is one constant current charge measurement.
type CapacitanceResult struct {
	Voltage     float64 // V across the capacitor
	Current     float64 // A
	ChargeTime  time.Duration
	Capacitance float64 // F
}

// trimByte encodes a current trim in percent. Negative trims use the
// sign bit.
func trimByte(trim int) byte {
	if trim < 0 {
		return byte(31-(-trim)/2) | 32
	}
	return byte(trim / 2)
}

// Capacitance charges a capacitor on IN1 with a constant current for
// chargeTime and computes C = I·t/V. crange 0-3 selects 550 µA, 0.55 µA,
// 5.5 µA or 55 µA; trim adjusts the current in percent.
func (i *Instrument) Capacitance(crange int, trim int, chargeTime time.Duration) (CapacitanceResult, error) {
	if crange < 0 || crange > 3 {
		return CapacitanceResult{}, &lts.OutOfRangeError{What: "current range", Value: float64(crange)}
	}
	us := chargeTime.Microseconds()
	if us <= 0 || us > 0xFFFF {
		return CapacitanceResult{}, &lts.OutOfRangeError{What: "charge time", Value: float64(us)}
	}

	payload := lts.Payload{}.U8(byte(crange)).U8(trimByte(trim)).U16(uint16(us))
	if err := i.conn.Send(lts.GroupCommon, lts.CommonCapacitance, payload...); err != nil {
		return CapacitanceResult{}, err
	}
	i.sleep(chargeTime + 20*time.Millisecond)
	raw, err := i.conn.ReadU16LE()
	if err != nil {
		return CapacitanceResult{}, err
	}
	if _, err := i.conn.Ack(); err != nil {
		return CapacitanceResult{}, err
	}

	r := CapacitanceResult{
		Voltage:    3.3 * float64(raw) / 4095,
		Current:    ctmuCurrents[crange] * float64(100+trim) / 100,
		ChargeTime: time.Duration(us) * time.Microsecond,
	}
	if r.Voltage == 0 {
		return r, ErrNoCharge
	}
	r.Capacitance = r.Current * float64(us) * 1e-6 / r.Voltage
	return r, nil
}

// rcResistance is the resistor CapacitorRange charges through, in ohms.
const rcResistance = 1e4

// CapacitorRange charges a capacitor on IN1 from 3.3 V through a 20 kΩ
// resistor for chargeTime and returns the voltage reached and the RC
// estimate of its capacitance.
func (i *Instrument) CapacitorRange(chargeTime time.Duration) (volts, farads float64, err error) {
	us := chargeTime.Microseconds()
	if us <= 0 || us > 0xFFFF {
		return 0, 0, &lts.OutOfRangeError{What: "charge time", Value: float64(us)}
	}
	sum, err := i.readWord(lts.CommonCapRange, lts.Payload{}.U16(uint16(us)))
	if err != nil {
		return 0, 0, err
	}
	volts = float64(sum) * 3.3 / 16 / 4095
	farads = -float64(us) * 1e-6 / rcResistance / math.Log(1-volts/3.3)
	return volts, farads, nil
}

// EstimateCapacitance tries charge times of 20 µs to 20 ms until the
// capacitor passes 1.5 V, giving a first estimate for Capacitance. Very
// small capacitors saturate on the first step and report 50 pF.
func (i *Instrument) EstimateCapacitance() (volts, farads float64, err error) {
	volts, farads = 1.5, 50e-12
	ct := 20 * time.Microsecond
	for step := range 4 {
		volts, farads, err = i.CapacitorRange(ct)
		if err != nil {
			return 0, 0, err
		}
		if volts > 1.5 {
			if step == 0 && volts > 3.28 {
				farads = 50e-12
			}
			break
		}
		ct *= 10
	}
	return volts, farads, nil
}

// Inductance meter tank constants
const (
	lmeterCapacitance = 1.09017e-9
	lmeterInductance  = 9.68246e-06
)

// Inductance returns the inductance in H of the part connected to the
// inductance meter, or 0 when the oscillator is not running.
func (i *Instrument) Inductance() (float64, error) {
	f, err := i.Logic.HighFrequency("LMETER")
	if err != nil {
		return 0, err
	}
	if f <= 1 {
		return 0, nil
	}
	return 1/(lmeterCapacitance*f*f*4*math.Pi*math.Pi) - lmeterInductance, nil
}

// ============================================================================
// LEDs
// ============================================================================

// Color is an RGB triple.
type Color struct{ R, G, B uint8 }

// rgbPayload is the WS2812B order the firmware shifts out LSB first.
func rgbPayload(c Color) lts.Payload {
	return lts.Payload{bits.Reverse8(c.B), bits.Reverse8(c.R), bits.Reverse8(c.G)}
}

// SetRGB sets a WS2812B LED connected to SQR1.
func (i *Instrument) SetRGB(c Color) error {
	return i.command(lts.CommonSetRGB, rgbPayload(c))
}

// SetOnboardRGB sets the LED on the board.
func (i *Instrument) SetOnboardRGB(c Color) error {
	if err := i.conn.Send(lts.GroupCommon, lts.CommonSetOnboardRGB, rgbPayload(c)...); err != nil {
		return err
	}
	i.sleep(time.Millisecond)
	_, err := i.conn.Ack()
	return err
}

// ============================================================================
// Misc
// ============================================================================

// passthroughDrain bounds the junk read after entering passthrough.
const passthroughDrain = 100

// EnableUARTPassthrough relays everything sent to the instrument out of
// UART2 (SCL as TX, SDA as RX) at baud. The device returns to normal mode
// after half a second without traffic. Used to program boards with serial
// bootloaders.
func (i *Instrument) EnableUARTPassthrough(baud int) error {
	sel, err := bus.BaudSelector(baud)
	if err != nil {
		return err
	}
	if err := i.conn.Send(lts.GroupPassthroughs, lts.PassUART, sel); err != nil {
		return err
	}
	n, err := i.conn.Drain(passthroughDrain)
	if err != nil {
		return err
	}
	i.logger.Info("UART passthrough enabled", zap.Int("baud", baud), zap.Int("junk", n))
	return nil
}

// StopStreaming ends ADC streaming if it is running.
func (i *Instrument) StopStreaming() error {
	return i.Scope.StopStreaming()
}
