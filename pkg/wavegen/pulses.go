// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wavegen

import (
	"math"

	"github.com/Thermoquad/testbench/pkg/lts"
)

// continuousFlag in the SQR4 parameter byte keeps the outputs running
// instead of emitting a single set of pulses.
const continuousFlag = 1 << 5

// PulseConfig describes four phase correlated outputs. SQR1 rises at t=0;
// SQR2, OD1 and OD2 follow at fractions of the period.
type PulseConfig struct {
	Frequency float64
	// Duty is the SQR1 high fraction (0-1).
	Duty float64
	// Phase and Duties are the rising edge delay and high fraction of SQR2,
	// OD1 and OD2, as fractions of the period.
	Phase  [3]float64
	Duties [3]float64
}

// Edges are the SQR4 tick positions sent to the device.
type Edges struct {
	Wavelength uint16
	High       uint16    // SQR1 falling edge
	Rise, Fall [3]uint16 // per output
	Params     byte
}

func (e Edges) payload() lts.Payload {
	p := lts.Payload{}.U16(e.Wavelength).U16(e.High)
	for i := range e.Rise {
		p = p.U16(e.Rise[i]).U16(e.Fall[i])
	}
	return p.U8(e.Params)
}

// PulseEdges computes a single pulse set. An output whose high interval
// crosses the end of the period is sent with its edges swapped and flagged
// in Params so the device starts it high.
func PulseEdges(cfg PulseConfig) (Edges, error) {
	if cfg.Frequency <= 0 {
		return Edges{}, &lts.OutOfRangeError{What: "pulse frequency", Value: cfg.Frequency}
	}
	wl := int(lts.TimerClockHz / cfg.Frequency)
	if wl > 0xFFFF {
		return Edges{}, &lts.OutOfRangeError{What: "pulse frequency", Value: cfg.Frequency}
	}
	w := float64(wl)
	e := Edges{Wavelength: uint16(wl), High: uint16(int(w * cfg.Duty))}

	for i := range cfg.Phase {
		p, h := cfg.Phase[i], cfg.Duties[i]
		if p == 0 {
			p = 1
		}
		if h+p > 1 {
			e.Rise[i] = uint16(int(math.Mod(h+p, 1) * w))
			e.Fall[i] = uint16(int(p * w))
			e.Params |= 1 << (i + 2)
		} else {
			e.Rise[i] = uint16(int(p * w))
			e.Fall[i] = uint16(int((h + p) * w))
		}
	}
	return e, nil
}

// continuousBands are the wavelength limits above which the next prescaler
// is needed.
var continuousBands = [...]struct {
	above     int
	prescaler int
}{
	{0x3FFFC0, 3},
	{0x7FFF8, 2},
	{0xFFFF, 1},
}

// ContinuousEdges computes edges for free running correlated outputs,
// choosing a prescaler for low frequencies.
func ContinuousEdges(cfg PulseConfig) (Edges, error) {
	if cfg.Frequency <= 0 {
		return Edges{}, &lts.OutOfRangeError{What: "square frequency", Value: cfg.Frequency}
	}
	wl := int(lts.TimerClockHz / cfg.Frequency)
	if wl > 0xFFFF00 {
		return Edges{}, &lts.OutOfRangeError{What: "square frequency", Value: cfg.Frequency}
	}
	var params byte
	for _, b := range continuousBands {
		if wl > b.above {
			wl = int(lts.TimerClockHz / cfg.Frequency / Prescalers[b.prescaler])
			params = byte(b.prescaler)
			break
		}
	}

	w := float64(wl)
	e := Edges{Wavelength: uint16(wl), High: uint16(int(w * cfg.Duty)), Params: params | continuousFlag}
	for i := range cfg.Phase {
		p, h := cfg.Phase[i], cfg.Duties[i]
		e.Rise[i] = uint16(int(math.Mod(p, 1) * w))
		e.Fall[i] = uint16(int(math.Mod(h+p, 1) * w))
	}
	return e, nil
}

func (g *Generator) sendEdges(e Edges) error {
	if err := g.conn.Send(lts.GroupWavegen, lts.WavegenSqr4, e.payload()...); err != nil {
		return err
	}
	return g.ack()
}

// CorrelatedPulses emits one set of phase correlated pulses on SQR1, SQR2,
// OD1 and OD2.
func (g *Generator) CorrelatedPulses(cfg PulseConfig) (Edges, error) {
	e, err := PulseEdges(cfg)
	if err != nil {
		return Edges{}, err
	}
	if err := g.sendEdges(e); err != nil {
		return Edges{}, err
	}
	return e, nil
}

// CorrelatedSquares starts continuous phase correlated square waves on
// SQR1, SQR2, OD1 and OD2.
func (g *Generator) CorrelatedSquares(cfg PulseConfig) (Edges, error) {
	e, err := ContinuousEdges(cfg)
	if err != nil {
		return Edges{}, err
	}
	if err := g.sendEdges(e); err != nil {
		return Edges{}, err
	}
	return e, nil
}
