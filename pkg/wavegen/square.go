// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wavegen

import (
	"fmt"
	"math"

	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

// Prescalers lists the timer clock dividers, indexed by the value sent to
// the device.
var Prescalers = [4]float64{1, 8, 64, 256}

// squareCeiling is the largest wavelength a square output accepts.
const squareCeiling = 65525

var squareOps = map[int]byte{1: lts.WavegenSetSqr1, 2: lts.WavegenSetSqr2}

// SquareTiming is a square wave in timer ticks.
type SquareTiming struct {
	Wavelength float64
	HighTime   float64
	Prescaler  int
}

// Frequency returns the frequency the rounded wavelength produces.
func (s SquareTiming) Frequency() float64 {
	return lts.TimerClockHz / Prescalers[s.Prescaler] / math.Round(s.Wavelength)
}

// SquareWave picks the smallest prescaler whose wavelength fits the 16-bit
// counter.
func SquareWave(freq, dutyPercent float64) (SquareTiming, error) {
	if freq <= 0 {
		return SquareTiming{}, &lts.OutOfRangeError{What: "square frequency", Value: freq}
	}
	for i, p := range Prescalers {
		wl := lts.TimerClockHz / freq / p
		if wl < squareCeiling {
			return SquareTiming{Wavelength: wl, HighTime: wl * dutyPercent / 100, Prescaler: i}, nil
		}
	}
	return SquareTiming{}, &lts.OutOfRangeError{What: "square frequency", Value: freq}
}

// SetSquare outputs freq with dutyPercent high time on SQR1 or SQR2 (out 1
// or 2) and returns the frequency realized.
func (g *Generator) SetSquare(out int, freq, dutyPercent float64) (float64, error) {
	op, ok := squareOps[out]
	if !ok {
		return 0, fmt.Errorf("no square output SQR%d", out)
	}
	if dutyPercent < 0 || dutyPercent > 100 {
		return 0, &lts.OutOfRangeError{What: "duty cycle", Value: dutyPercent}
	}
	st, err := SquareWave(freq, dutyPercent)
	if err != nil {
		return 0, err
	}
	if err := g.sendSquare(op, uint16(math.Round(st.Wavelength)), uint16(math.Round(st.HighTime)), byte(st.Prescaler)); err != nil {
		return 0, err
	}
	g.logger.Debug("square set",
		zap.Int("out", out),
		zap.Float64("hz", st.Frequency()),
		zap.Int("prescaler", st.Prescaler))
	return st.Frequency(), nil
}

func (g *Generator) sendSquare(op byte, wavelength, high uint16, prescaler byte) error {
	payload := lts.Payload{}.U16(wavelength).U16(high).U8(prescaler)
	if err := g.conn.Send(lts.GroupWavegen, op, payload...); err != nil {
		return err
	}
	return g.ack()
}

// SetSquares loads SQR1 and SQR2 together in raw ticks: a shared
// wavelength, the SQR2 rising edge delay and both high times.
func (g *Generator) SetSquares(wavelength, phase, high1, high2 uint16, prescaler int) error {
	if prescaler < 0 || prescaler > 3 {
		return &lts.OutOfRangeError{What: "prescaler", Value: float64(prescaler)}
	}
	payload := lts.Payload{}.U16(wavelength).U16(phase).U16(high1).U16(high2).U8(byte(prescaler))
	if err := g.conn.Send(lts.GroupWavegen, lts.WavegenSetSqrs, payload...); err != nil {
		return err
	}
	return g.ack()
}

// ============================================================================
// Servos
// ============================================================================

const (
	servoWavelength = 10000 // 10 ms at 1 MHz
	servoPrescaler  = 2     // 64 MHz / 64
	servoMinHigh    = 750
	servoSpan       = 1900
)

// ServoHighTime returns the pulse width in 1 MHz ticks for an angle in
// degrees (0-180).
func ServoHighTime(angle float64) uint16 {
	return uint16(servoMinHigh + int(angle*servoSpan/180))
}

// Servo drives a hobby servo on SQR1 or SQR2.
func (g *Generator) Servo(out int, angle float64) error {
	op, ok := squareOps[out]
	if !ok {
		return fmt.Errorf("no square output SQR%d", out)
	}
	if angle < 0 || angle > 180 {
		return &lts.OutOfRangeError{What: "servo angle", Value: angle}
	}
	return g.sendSquare(op, servoWavelength, ServoHighTime(angle), servoPrescaler)
}

// Servo4 drives four servos on SQR1, SQR2, OD1 and OD2.
func (g *Generator) Servo4(angles [4]float64) error {
	for _, a := range angles {
		if a < 0 || a > 180 {
			return &lts.OutOfRangeError{What: "servo angle", Value: a}
		}
	}
	payload := lts.Payload{}.
		U16(servoWavelength).
		U16(ServoHighTime(angles[0])).
		U16(0).U16(ServoHighTime(angles[1])).
		U16(0).U16(ServoHighTime(angles[2])).
		U16(0).U16(ServoHighTime(angles[3])).
		U8(continuousFlag | servoPrescaler)
	if err := g.conn.Send(lts.GroupWavegen, lts.WavegenSqr4, payload...); err != nil {
		return err
	}
	return g.ack()
}
