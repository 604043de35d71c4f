// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package digital

import (
	"time"

	"github.com/Thermoquad/testbench/pkg/lts"
)

// Timing measurements block on the device until the edges arrive or the
// timeout elapses. A timeout is not an error: the measurement returns
// ok == false.

// DefaultTimeout bounds a timing measurement when none is given.
const DefaultTimeout = 100 * time.Millisecond

// highFrequencyGate is the counting window of HighFrequency.
const highFrequencyGate = 0.1

// timeoutMSB is the upper 16 bits of the timeout in timer ticks, the unit
// the device counts overflows in.
func timeoutMSB(timeout time.Duration) uint16 {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return uint16(int64(timeout.Seconds()*lts.TimerClockHz) >> 16)
}

func ticksToSeconds(t int64) float64 { return float64(t) / lts.TimerClockHz }

// readTimestamps reads n 32-bit counter captures.
func (c *Controller) readTimestamps(n int) ([]int64, error) {
	out := make([]int64, n)
	for i := range out {
		v, err := c.conn.ReadU32LE()
		if err != nil {
			return nil, err
		}
		out[i] = int64(v)
	}
	return out, nil
}

// Frequency measures the time for 16 rising edges on channel and returns the
// frequency in Hz.
func (c *Controller) Frequency(channel string, timeout time.Duration) (float64, bool, error) {
	ch, err := ChannelIndex(channel)
	if err != nil {
		return 0, false, err
	}
	msb := timeoutMSB(timeout)
	if err := c.conn.Send(lts.GroupCommon, lts.CommonFrequency, lts.Payload{}.U16(msb).U8(byte(ch))...); err != nil {
		return 0, false, err
	}
	tmt, err := c.conn.ReadU16LE()
	if err != nil {
		return 0, false, err
	}
	x, err := c.readTimestamps(2)
	if err != nil {
		return 0, false, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return 0, false, err
	}
	period := x[1] - x[0]
	if tmt >= msb || period == 0 {
		return 0, false, nil
	}
	return 16 * lts.TimerClockHz / float64(period), true, nil
}

// HighFrequency counts edges on channel for 100 ms. It reaches past 10 MHz
// but shares a timer with the ADC.
func (c *Controller) HighFrequency(channel string) (float64, error) {
	ch, err := ChannelIndex(channel)
	if err != nil {
		return 0, err
	}
	if err := c.conn.Send(lts.GroupCommon, lts.CommonHighFrequency, byte(ch)); err != nil {
		return 0, err
	}
	scale, err := c.conn.ReadByte()
	if err != nil {
		return 0, err
	}
	count, err := c.conn.ReadU32LE()
	if err != nil {
		return 0, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return 0, err
	}
	return float64(scale) * float64(count) / highFrequencyGate, nil
}

func (c *Controller) edgeInterval(channel string, edge Edge, timeout time.Duration) (float64, bool, error) {
	ch, err := ChannelIndex(channel)
	if err != nil {
		return 0, false, err
	}
	msb := timeoutMSB(timeout)
	payload := lts.Payload{}.U16(msb).U8(byte(edge)<<2 | 2).U8(byte(ch))
	if err := c.conn.Send(lts.GroupTiming, lts.TimingGetTiming, payload...); err != nil {
		return 0, false, err
	}
	tmt, err := c.conn.ReadU16LE()
	if err != nil {
		return 0, false, err
	}
	x, err := c.readTimestamps(2)
	if err != nil {
		return 0, false, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return 0, false, err
	}
	if tmt >= msb {
		return 0, false, nil
	}
	return ticksToSeconds(x[1] - x[0]), true, nil
}

// RisingInterval returns the seconds between two rising edges on channel.
func (c *Controller) RisingInterval(channel string, timeout time.Duration) (float64, bool, error) {
	return c.edgeInterval(channel, EveryRisingEdge, timeout)
}

// FallingInterval returns the seconds between two falling edges on channel.
func (c *Controller) FallingInterval(channel string, timeout time.Duration) (float64, bool, error) {
	return c.edgeInterval(channel, EveryFallingEdge, timeout)
}

// DutyCycle returns the period in seconds and the high fraction of one
// cycle on channel.
func (c *Controller) DutyCycle(channel string, timeout time.Duration) (period, duty float64, ok bool, err error) {
	ch, err := ChannelIndex(channel)
	if err != nil {
		return 0, 0, false, err
	}
	msb := timeoutMSB(timeout)
	payload := lts.Payload{}.U16(msb).U8(byte(ch) | byte(ch)<<4)
	if err := c.conn.Send(lts.GroupTiming, lts.TimingGetDutyCycle, payload...); err != nil {
		return 0, 0, false, err
	}
	x, err := c.readTimestamps(3)
	if err != nil {
		return 0, 0, false, err
	}
	edge, err := c.conn.ReadByte()
	if err != nil {
		return 0, 0, false, err
	}
	tmt, err := c.conn.ReadU16LE()
	if err != nil {
		return 0, 0, false, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return 0, 0, false, err
	}
	if tmt >= msb {
		return 0, 0, false, nil
	}

	// The capture starts on whichever edge came first
	var high, cycle int64
	if edge != 0 {
		high, cycle = x[1]-x[0], x[2]-x[0]
	} else {
		high, cycle = x[2]-x[1], x[2]-x[0]
	}
	if cycle == 0 {
		return 0, 0, false, nil
	}
	return ticksToSeconds(cycle), float64(high) / float64(cycle), true, nil
}

// PulseTime returns the width in seconds of the first complete high or low
// pulse on channel.
func (c *Controller) PulseTime(channel string, timeout time.Duration) (float64, bool, error) {
	ch, err := ChannelIndex(channel)
	if err != nil {
		return 0, false, err
	}
	msb := timeoutMSB(timeout)
	if err := c.conn.Send(lts.GroupTiming, lts.TimingGetPulseTime, lts.Payload{}.U16(msb).U8(byte(ch))...); err != nil {
		return 0, false, err
	}
	x, err := c.readTimestamps(2)
	if err != nil {
		return 0, false, err
	}
	tmt, err := c.conn.ReadU16LE()
	if err != nil {
		return 0, false, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return 0, false, err
	}
	if tmt >= msb {
		return 0, false, nil
	}
	return ticksToSeconds(x[1] - x[0]), true, nil
}

// IntervalEdge is the event that starts or stops an interval measurement.
type IntervalEdge byte

const (
	IntervalFalling          IntervalEdge = 2
	IntervalRising           IntervalEdge = 3
	IntervalFourthRisingEdge IntervalEdge = 4
)

// IntervalConfig configures Interval.
type IntervalConfig struct {
	Start     string // input whose event starts the timer
	Stop      string // input whose event stops it, may equal Start
	StartEdge IntervalEdge
	StopEdge  IntervalEdge
}

// intervalLatency is the fixed count between the two capture units.
const intervalLatency = 20

// Interval measures the seconds from an event on one input to an event on
// another. A negative result means the stop event came first.
func (c *Controller) Interval(cfg IntervalConfig, timeout time.Duration) (float64, bool, error) {
	start, err := ChannelIndex(cfg.Start)
	if err != nil {
		return 0, false, err
	}
	stop, err := ChannelIndex(cfg.Stop)
	if err != nil {
		return 0, false, err
	}
	startEdge, stopEdge := cfg.StartEdge, cfg.StopEdge
	if startEdge == 0 {
		startEdge = IntervalRising
	}
	if stopEdge == 0 {
		stopEdge = IntervalRising
	}

	msb := timeoutMSB(timeout)
	payload := lts.Payload{}.
		U16(msb).
		U8(byte(start) | byte(stop)<<4).
		U8(byte(startEdge) | byte(stopEdge)<<3)
	if err := c.conn.Send(lts.GroupTiming, lts.TimingIntervalMeasurements, payload...); err != nil {
		return 0, false, err
	}
	x, err := c.readTimestamps(2)
	if err != nil {
		return 0, false, err
	}
	tmt, err := c.conn.ReadU16LE()
	if err != nil {
		return 0, false, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return 0, false, err
	}
	if tmt >= msb || x[1] == 0 {
		return 0, false, nil
	}
	return ticksToSeconds(x[1] - x[0] + intervalLatency), true, nil
}

// ConfigureComparator sets the reference level (0-15) and digital filter of
// the comparator on CH4, which lets the timing functions measure analog
// signals through the CH4 input.
func (c *Controller) ConfigureComparator(level, filter int) error {
	if level < 0 || level > 15 {
		return &lts.OutOfRangeError{What: "comparator level", Value: float64(level)}
	}
	if filter < 0 || filter > 15 {
		return &lts.OutOfRangeError{What: "comparator filter", Value: float64(filter)}
	}
	if err := c.conn.Send(lts.GroupTiming, lts.TimingConfigureComparator, byte(level|filter<<4)); err != nil {
		return err
	}
	_, err := c.conn.Ack()
	return err
}

// ComparatorThreshold returns the comparator reference voltage for level.
func ComparatorThreshold(level int) float64 {
	return 3.3/4 + float64(level)/32*3.3
}

// EchoTime pulses OD1 for 10 µs and times the echo pulse on ID1, as
// produced by an HC-SR04 ultrasonic ranger. OD1 drives the sensor's TRIG
// pin and ID1 reads its ECHO pin.
func (c *Controller) EchoTime(timeout time.Duration) (float64, bool, error) {
	msb := timeoutMSB(timeout)
	if err := c.conn.Send(lts.GroupNonStandard, lts.NonStandardHCSR04, lts.Payload{}.U16(msb)...); err != nil {
		return 0, false, err
	}
	x, err := c.readTimestamps(2)
	if err != nil {
		return 0, false, err
	}
	tmt, err := c.conn.ReadU16LE()
	if err != nil {
		return 0, false, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return 0, false, err
	}
	if tmt >= msb || x[1] == 0 {
		return 0, false, nil
	}
	return ticksToSeconds(x[1] - x[0] + intervalLatency), true, nil
}

// speedOfSound in m/s at 20 °C.
const speedOfSound = 343.0

// EchoDistance converts an echo time to the distance of the reflecting
// object in meters.
func EchoDistance(seconds float64) float64 { return seconds * speedOfSound / 2 }
