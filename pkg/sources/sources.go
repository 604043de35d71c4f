// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sources sets the programmable voltage and current sources.
//
// PVS3 and PCS are 5-bit outputs driven directly by the instrument. PVS1
// and PVS2 sit on channels of an MCP4728 quad DAC that the firmware writes
// over its I2C bus.
package sources

import (
	"math"

	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

const (
	pvs3Min = -3.3
	pvs3Max = 3.3
	pcsMax  = 3.3 // mA
	fiveBit = 31
)

// Sources controls the programmable outputs.
type Sources struct {
	conn   *lts.Conn
	logger *zap.Logger
	dac    *MCP4728
}

// New returns the sources on conn with the DAC at its default address.
func New(conn *lts.Conn) *Sources {
	return &Sources{
		conn:   conn,
		logger: conn.Logger().Named("sources"),
		dac:    NewMCP4728(conn, 0),
	}
}

// DAC returns the quad DAC behind PVS1 and PVS2.
func (s *Sources) DAC() *MCP4728 { return s.dac }

// PVS3Code quantizes volts to the PVS3 code and the voltage it produces.
func PVS3Code(volts float64) (uint16, float64) {
	x := math.Round((volts - pvs3Min) * fiveBit / (pvs3Max - pvs3Min))
	return uint16(x), (pvs3Max-pvs3Min)*x/fiveBit + pvs3Min
}

// PCSCode quantizes a current in mA to the PCS code and the current it
// produces. The code counts down from full scale.
func PCSCode(mA float64) (uint16, float64) {
	x := fiveBit - math.Round(mA*fiveBit/pcsMax)
	return uint16(x), pcsMax * (fiveBit + 1 - x) / fiveBit
}

// SetPVS3 sets PVS3 (-3.3 to 3.3 V) and returns the voltage achieved.
func (s *Sources) SetPVS3(volts float64) (float64, error) {
	if volts < pvs3Min || volts > pvs3Max {
		return 0, &lts.OutOfRangeError{What: "PVS3 voltage", Value: volts}
	}
	code, actual := PVS3Code(volts)
	if err := s.send(lts.DACSetPVS3, code); err != nil {
		return 0, err
	}
	s.logger.Debug("PVS3 set", zap.Float64("volts", actual))
	return actual, nil
}

// SetPCS sets the current source (0 to 3.3 mA) and returns the current
// attempted. The delivered current depends on the load.
func (s *Sources) SetPCS(mA float64) (float64, error) {
	if mA < 0 || mA > pcsMax {
		return 0, &lts.OutOfRangeError{What: "PCS current", Value: mA}
	}
	code, actual := PCSCode(mA)
	if err := s.send(lts.DACSetPCS, code); err != nil {
		return 0, err
	}
	s.logger.Debug("PCS set", zap.Float64("mA", actual))
	return actual, nil
}

func (s *Sources) send(op byte, code uint16) error {
	if err := s.conn.Send(lts.GroupDAC, op, lts.Payload{}.U16(code)...); err != nil {
		return err
	}
	_, err := s.conn.Ack()
	return err
}

// SetPVS1 sets PVS1 (-5 to 5 V) and returns the voltage achieved.
func (s *Sources) SetPVS1(volts float64) (float64, error) {
	return s.dac.SetVoltage(PVS1Channel, volts)
}

// SetPVS2 sets PVS2 (0 to 3.3 V) and returns the voltage achieved.
func (s *Sources) SetPVS2(volts float64) (float64, error) {
	return s.dac.SetVoltage(PVS2Channel, volts)
}
