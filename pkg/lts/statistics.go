// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lts

import (
	"fmt"
	"time"
)

// Statistics tracks wire traffic on a Conn
type Statistics struct {
	StartTime time.Time

	// Counters
	Commands     uint64
	Acks         uint64
	StatusErrors uint64
	ShortReads   uint64
	Bursts       uint64
	Reconnects   uint64
	BytesOut     uint64
	BytesIn      uint64

	// Rates (calculated)
	CommandRate float64 // commands/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// CalculateRates calculates command and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CommandRate = float64(s.Commands) / elapsed
		s.ErrorRate = float64(s.StatusErrors+s.ShortReads) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Wire statistics (%.1f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Commands:        %8d (%.1f/sec)\n", s.Commands, s.CommandRate)
	result += fmt.Sprintf("Acks:            %8d\n", s.Acks)
	if s.Bursts > 0 {
		result += fmt.Sprintf("Bursts:          %8d\n", s.Bursts)
	}
	if s.StatusErrors > 0 {
		result += fmt.Sprintf("Status errors:   %8d\n", s.StatusErrors)
	}
	if s.ShortReads > 0 {
		result += fmt.Sprintf("Short reads:     %8d\n", s.ShortReads)
	}
	if s.Reconnects > 0 {
		result += fmt.Sprintf("Reconnects:      %8d\n", s.Reconnects)
	}
	result += fmt.Sprintf("Bytes out/in:    %8d / %d\n", s.BytesOut, s.BytesIn)

	return result
}
