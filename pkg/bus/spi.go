// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

// SPIParams configures the SPI master clock and sampling.
type SPIParams struct {
	// PrimaryPrescaler 0-3 selects 64:1, 16:1, 4:1, 1:1.
	PrimaryPrescaler byte
	// SecondaryPrescaler 0-7 selects 8:1 down to 1:1.
	SecondaryPrescaler byte
	// ClockEdge (CKE) shifts data on the active to idle transition when set.
	ClockEdge bool
	// ClockIdleHigh (CKP) selects the idle clock level.
	ClockIdleHigh bool
	// SampleEnd (SMP) samples input data at the end of the output time.
	SampleEnd bool
}

// DefaultSPIParams is the configuration the firmware boots with.
var DefaultSPIParams = SPIParams{SecondaryPrescaler: 2, ClockEdge: true, SampleEnd: true}

func (p SPIParams) encode() byte {
	return p.PrimaryPrescaler&0x03 | (p.SecondaryPrescaler&0x07)<<2 |
		bit(p.ClockEdge)<<5 | bit(p.ClockIdleHigh)<<6 | bit(p.SampleEnd)<<7
}

func bit(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// SPI is the instrument's SPI master.
type SPI struct {
	conn   *lts.Conn
	logger *zap.Logger
}

// NewSPI returns the SPI master on conn.
func NewSPI(conn *lts.Conn) *SPI {
	return &SPI{conn: conn, logger: conn.Logger().Named("spi")}
}

func (s *SPI) command(op byte, payload ...byte) error {
	if err := s.conn.Send(lts.GroupSPI, op, payload...); err != nil {
		return err
	}
	_, err := s.conn.Ack()
	return err
}

// SetParameters configures the SPI clock.
func (s *SPI) SetParameters(p SPIParams) error {
	return s.command(lts.SPISetParameters, p.encode())
}

// Start asserts chip select cs.
func (s *SPI) Start(cs byte) error { return s.command(lts.SPIStart, cs) }

// Stop releases chip select cs.
func (s *SPI) Stop(cs byte) error { return s.command(lts.SPIStop, cs) }

// Send8 clocks out one byte and returns the byte clocked in.
func (s *SPI) Send8(v byte) (byte, error) {
	if err := s.conn.Send(lts.GroupSPI, lts.SPISend8, v); err != nil {
		return 0, err
	}
	r, err := s.conn.ReadByte()
	if err != nil {
		return 0, err
	}
	if _, err := s.conn.Ack(); err != nil {
		return 0, err
	}
	return r, nil
}

// Send16 clocks out one 16-bit word and returns the word clocked in.
func (s *SPI) Send16(v uint16) (uint16, error) {
	if err := s.conn.Send(lts.GroupSPI, lts.SPISend16, lts.Payload{}.U16(v)...); err != nil {
		return 0, err
	}
	r, err := s.conn.ReadU16LE()
	if err != nil {
		return 0, err
	}
	if _, err := s.conn.Ack(); err != nil {
		return 0, err
	}
	return r, nil
}

// Send8Burst clocks out one byte without reading a response or ack.
func (s *SPI) Send8Burst(v byte) error {
	return s.conn.Send(lts.GroupSPI, lts.SPISend8Burst, v)
}

// Send16Burst clocks out one word without reading a response or ack.
func (s *SPI) Send16Burst(v uint16) error {
	return s.conn.Send(lts.GroupSPI, lts.SPISend16Burst, lts.Payload{}.U16(v)...)
}

// Transfer asserts cs, exchanges data one byte at a time and releases cs.
func (s *SPI) Transfer(cs byte, data []byte) ([]byte, error) {
	if err := s.Start(cs); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data))
	for _, d := range data {
		r, err := s.Send8(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, s.Stop(cs)
}
