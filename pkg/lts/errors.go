// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lts

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below match them with errors.Is.
var (
	ErrDeviceNotFound     = errors.New("no instrument found")
	ErrPortBusy           = errors.New("port is locked by another process")
	ErrCommunication      = errors.New("communication error")
	ErrProtocolStatus     = errors.New("device reported command failure")
	ErrChannelUnavailable = errors.New("channel not captured")
	ErrOutOfRange         = errors.New("value out of range")
	ErrReadInBurst        = errors.New("read issued while in burst mode")
)

// PortBusyError reports a port whose exclusive lock is held elsewhere.
type PortBusyError struct {
	Port string
	Err  error
}

func (e *PortBusyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Port, ErrPortBusy)
}

func (e *PortBusyError) Unwrap() error { return e.Err }

func (e *PortBusyError) Is(target error) bool { return target == ErrPortBusy }

// CommunicationError is a short or empty read. The protocol has no resync
// marker, so the in-flight command is lost.
type CommunicationError struct {
	Op   string // primitive that failed, e.g. "ReadU16LE"
	Want int
	Got  int
	Err  error // transport error, if any
}

func (e *CommunicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: read %d of %d bytes: %v", e.Op, e.Got, e.Want, e.Err)
	}
	return fmt.Sprintf("%s: read %d of %d bytes", e.Op, e.Got, e.Want)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

func (e *CommunicationError) Is(target error) bool { return target == ErrCommunication }

// ProtocolStatusError carries an ack byte whose low nibble reports an
// argument error or a failure.
type ProtocolStatusError struct {
	Ack byte
}

// Status returns the low-nibble status code.
func (e *ProtocolStatusError) Status() byte { return e.Ack & 0x0F }

func (e *ProtocolStatusError) Error() string {
	switch e.Status() {
	case StatusArgError:
		return fmt.Sprintf("device rejected arguments (ack 0x%02X)", e.Ack)
	default:
		return fmt.Sprintf("device command failed (ack 0x%02X)", e.Ack)
	}
}

func (e *ProtocolStatusError) Is(target error) bool { return target == ErrProtocolStatus }

// ChannelUnavailableError is returned when fetching a channel that the
// current capture did not acquire.
type ChannelUnavailableError struct {
	Channel   int
	Available int
}

func (e *ChannelUnavailableError) Error() string {
	return fmt.Sprintf("channel %d not available, capture holds %d channel(s)", e.Channel, e.Available)
}

func (e *ChannelUnavailableError) Is(target error) bool { return target == ErrChannelUnavailable }

// OutOfRangeError reports a parameter the hardware cannot realize.
type OutOfRangeError struct {
	What  string
	Value float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s %g out of range", e.What, e.Value)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }
