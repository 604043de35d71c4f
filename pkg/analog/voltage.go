// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package analog

import (
	"github.com/Thermoquad/testbench/pkg/calib"
	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

// streamDrain bounds how much in-flight stream data is discarded on stop.
const streamDrain = 20000

// RawAverage returns the mean of 16 conversions on channel as a 10-bit code.
func (s *Scope) RawAverage(channel string) (float64, error) {
	chosa, err := s.channelSelect(channel)
	if err != nil {
		return 0, err
	}
	if err := s.conn.Command(lts.GroupADC, lts.ADCVoltageSummed); err != nil {
		return 0, err
	}
	if err := s.conn.WriteByte(chosa); err != nil {
		return 0, err
	}
	// The firmware pads the reply with one zero word
	if _, err := s.conn.ReadU16LE(); err != nil {
		return 0, err
	}
	sum, err := s.conn.ReadU16LE()
	if err != nil {
		return 0, err
	}
	if _, err := s.conn.Ack(); err != nil {
		return 0, err
	}
	return 1023 * float64(sum) / 16 / 4095, nil
}

// AverageVoltage returns the calibrated mean voltage on channel.
func (s *Scope) AverageVoltage(channel string) (float64, error) {
	raw, err := s.RawAverage(channel)
	if err != nil {
		return 0, err
	}
	gain := s.gainFor(channel)
	if ChannelIndex(channel) > fixedGainIndex {
		gain = 0
	}
	return s.table.Evaluate(channel, gain, raw, calib.TenBit)
}

// StartStreaming makes the device send 8-bit samples of channel continuously
// every timegap ticks. Nothing else may be sent until StopStreaming.
func (s *Scope) StartStreaming(channel string, timegap uint16) error {
	if s.streaming {
		if err := s.StopStreaming(); err != nil {
			return err
		}
	}
	chosa, err := s.channelSelect(channel)
	if err != nil {
		return err
	}
	if err := s.conn.Command(lts.GroupADC, lts.ADCStartStreaming); err != nil {
		return err
	}
	if err := s.conn.WriteByte(chosa); err != nil {
		return err
	}
	if err := s.conn.WriteU16LE(timegap); err != nil {
		return err
	}
	s.streaming = true
	return nil
}

// StopStreaming ends streaming and discards samples still in transit.
func (s *Scope) StopStreaming() error {
	if !s.streaming {
		return nil
	}
	s.streaming = false
	if err := s.conn.WriteByte(lts.StopStreaming); err != nil {
		return err
	}
	n, err := s.conn.Drain(streamDrain)
	s.logger.Debug("streaming stopped", zap.Int("discarded", n))
	return err
}

// ReadStream returns the next n streamed samples.
func (s *Scope) ReadStream(n int) ([]byte, error) {
	return s.conn.ReadBytes(n)
}

// Streaming reports whether the device is streaming.
func (s *Scope) Streaming() bool { return s.streaming }
