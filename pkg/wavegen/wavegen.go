// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wavegen drives the instrument's signal outputs: two DDS sine
// generators and the timer-based square outputs SQR1, SQR2, OD1 and OD2.
package wavegen

import (
	"fmt"
	"math"

	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

const (
	// MaxTuningWord is the DDS phase accumulator span.
	MaxTuningWord = 0xFFFFFFF - 1
	// ReferenceClockHz is the oscillator the reference clock divides.
	ReferenceClockHz = 128e6
	// DefaultClockScaler feeds the DDS with 1 MHz.
	DefaultClockScaler = 7
)

// Generator controls the waveform outputs.
type Generator struct {
	conn     *lts.Conn
	logger   *zap.Logger
	ddsClock float64
}

// New returns a generator assuming the DDS runs from the default clock.
func New(conn *lts.Conn) *Generator {
	return &Generator{
		conn:     conn,
		logger:   conn.Logger().Named("wavegen"),
		ddsClock: ReferenceClockHz / (1 << DefaultClockScaler),
	}
}

// DDSClock returns the clock the tuning word is computed against.
func (g *Generator) DDSClock() float64 { return g.ddsClock }

func (g *Generator) ack() error {
	_, err := g.conn.Ack()
	return err
}

// ============================================================================
// Sine generators
// ============================================================================

// Waveform is a DDS output shape.
type Waveform int

const (
	Sine Waveform = iota
	Triangle
	Square
)

var sineOps = map[int]byte{1: lts.WavegenSetWG1, 2: lts.WavegenSetWG2}

// TuningWord returns the DDS word for freq at clock.
func TuningWord(freq, clock float64) uint32 {
	return uint32(math.Round(freq * MaxTuningWord / clock))
}

// SetSine sets sine generator gen (1 or 2) to freq using frequency register
// 0 or 1. It returns freq: the device decides the achievable resolution.
func (g *Generator) SetSine(gen int, freq float64, register int) (float64, error) {
	op, ok := sineOps[gen]
	if !ok {
		return 0, fmt.Errorf("no sine generator %d", gen)
	}
	if register != 0 && register != 1 {
		return 0, &lts.OutOfRangeError{What: "frequency register", Value: float64(register)}
	}
	if freq < 0 {
		return 0, &lts.OutOfRangeError{What: "frequency", Value: freq}
	}

	word := TuningWord(freq, g.ddsClock)
	payload := lts.Payload{}.
		U8(byte(14 + register)).
		U16(uint16(word & 0x3FFF)).
		U16(uint16((word >> 14) & 0x3FFF))
	if err := g.conn.Send(lts.GroupWavegen, op, payload...); err != nil {
		return 0, err
	}
	if err := g.ack(); err != nil {
		return 0, err
	}
	g.logger.Debug("sine set", zap.Int("gen", gen), zap.Float64("hz", freq), zap.Uint32("word", word))
	return freq, nil
}

// SetSinePhase sets the phase of generator 2 relative to generator 1, in
// degrees.
func (g *Generator) SetSinePhase(degrees float64) error {
	code := uint16(int(4095*degrees/360) & 0x3FFF)
	if err := g.conn.Send(lts.GroupWavegen, lts.WavegenSetBothWG, lts.Payload{}.U16(code)...); err != nil {
		return err
	}
	return g.ack()
}

// SetWaveform selects the output shape of generator gen.
func (g *Generator) SetWaveform(gen int, w Waveform) error {
	if _, ok := sineOps[gen]; !ok {
		return fmt.Errorf("no sine generator %d", gen)
	}
	if w < Sine || w > Square {
		return fmt.Errorf("unknown waveform %d", w)
	}
	if err := g.conn.Send(lts.GroupWavegen, lts.WavegenSetWaveformType, byte(1<<w)|byte(0x10<<gen)); err != nil {
		return err
	}
	return g.ack()
}

// SelectRegister switches generator gen to frequency register 0 or 1.
func (g *Generator) SelectRegister(gen, register int) error {
	if _, ok := sineOps[gen]; !ok {
		return fmt.Errorf("no sine generator %d", gen)
	}
	if register != 0 && register != 1 {
		return &lts.OutOfRangeError{What: "frequency register", Value: float64(register)}
	}
	if err := g.conn.Send(lts.GroupWavegen, lts.WavegenSelectFreqReg, byte(1<<register)|byte(0x10<<gen)); err != nil {
		return err
	}
	return g.ack()
}

// ============================================================================
// Reference clock
// ============================================================================

// ClockOutput selects where MapReferenceClock routes the divided oscillator.
type ClockOutput byte

const (
	ClockSQR1    ClockOutput = 1
	ClockSQR2    ClockOutput = 2
	ClockOD1     ClockOutput = 4
	ClockOD2     ClockOutput = 8
	ClockWavegen ClockOutput = 16
)

// MapReferenceClock outputs 128 MHz / 2^scaler on outputs. Routing it to
// the wave generator changes the DDS clock used for later tuning words.
func (g *Generator) MapReferenceClock(scaler int, outputs ClockOutput) error {
	if scaler < 0 || scaler > 15 {
		return &lts.OutOfRangeError{What: "clock scaler", Value: float64(scaler)}
	}
	if err := g.conn.Send(lts.GroupWavegen, lts.WavegenMapReference, byte(outputs), byte(scaler)); err != nil {
		return err
	}
	if err := g.ack(); err != nil {
		return err
	}
	if outputs&ClockWavegen != 0 {
		g.ddsClock = ReferenceClockHz / float64(int(1)<<scaler)
	}
	return nil
}
