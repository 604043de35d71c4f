// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sources

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/Thermoquad/testbench/pkg/lts/ltstest"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPVS3Code(t *testing.T) {
	tests := []struct {
		name     string
		volts    float64
		wantCode uint16
		want     float64
	}{
		{"minimum", -3.3, 0, -3.3},
		{"maximum", 3.3, 31, 3.3},
		{"one volt", 1, 20, 6.6*20/31 - 3.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, got := PVS3Code(tt.volts)
			if code != tt.wantCode || !almostEqual(got, tt.want) {
				t.Errorf("PVS3Code(%v) = %d, %v, want %d, %v", tt.volts, code, got, tt.wantCode, tt.want)
			}
		})
	}
}

func TestPCSCode(t *testing.T) {
	tests := []struct {
		name     string
		mA       float64
		wantCode uint16
	}{
		{"off", 0, 31},
		{"full scale", 3.3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, got := PCSCode(tt.mA)
			if code != tt.wantCode {
				t.Errorf("PCSCode(%v) code = %d, want %d", tt.mA, code, tt.wantCode)
			}
			if want := 3.3 * float64(32-int(code)) / 31; !almostEqual(got, want) {
				t.Errorf("PCSCode(%v) = %v, want %v", tt.mA, got, want)
			}
		})
	}
}

func TestSetPVS3AndPCS(t *testing.T) {
	port := ltstest.NewPort(lts.StatusSuccess, lts.StatusSuccess)
	s := New(lts.NewConn(port))

	got, err := s.SetPVS3(3.3)
	if err != nil {
		t.Fatalf("SetPVS3() error = %v", err)
	}
	if !almostEqual(got, 3.3) {
		t.Errorf("SetPVS3(3.3) = %v", got)
	}
	if _, err := s.SetPCS(0); err != nil {
		t.Fatalf("SetPCS() error = %v", err)
	}
	want := []byte{lts.GroupDAC, lts.DACSetPVS3, 31, 0, lts.GroupDAC, lts.DACSetPCS, 31, 0}
	if !bytes.Equal(port.Written(), want) {
		t.Errorf("wrote % X, want % X", port.Written(), want)
	}
}

func TestSetPVS1PVS2(t *testing.T) {
	port := ltstest.NewPort(lts.StatusSuccess, lts.StatusSuccess)
	s := New(lts.NewConn(port))

	v1, err := s.SetPVS1(0)
	if err != nil {
		t.Fatalf("SetPVS1() error = %v", err)
	}
	if !almostEqual(v1, 10*2047.0/4095-5) {
		t.Errorf("SetPVS1(0) = %v", v1)
	}
	v2, err := s.SetPVS2(0)
	if err != nil {
		t.Fatalf("SetPVS2() error = %v", err)
	}
	if v2 != 0 {
		t.Errorf("SetPVS2(0) = %v, want 0", v2)
	}

	want := []byte{lts.GroupDAC, lts.DACSet, 0xC0, 3, 0xFF, 0x17}
	want = append(want, lts.GroupDAC, lts.DACSet, 0xC0, 1, 0x00, 0x10)
	if !bytes.Equal(port.Written(), want) {
		t.Errorf("wrote % X, want % X", port.Written(), want)
	}
}

func TestSources_OutOfRange(t *testing.T) {
	tests := []struct {
		name string
		set  func(*Sources) (float64, error)
	}{
		{"PVS1 6V", func(s *Sources) (float64, error) { return s.SetPVS1(6) }},
		{"PVS2 negative", func(s *Sources) (float64, error) { return s.SetPVS2(-0.1) }},
		{"PVS3 4V", func(s *Sources) (float64, error) { return s.SetPVS3(4) }},
		{"PCS 5mA", func(s *Sources) (float64, error) { return s.SetPCS(5) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := ltstest.NewPort()
			if _, err := tt.set(New(lts.NewConn(port))); !errors.Is(err, lts.ErrOutOfRange) {
				t.Errorf("error = %v, want ErrOutOfRange", err)
			}
			if len(port.Written()) != 0 {
				t.Errorf("wrote % X for an out of range value", port.Written())
			}
		})
	}
}

func TestMCP4728_Address(t *testing.T) {
	d := NewMCP4728(lts.NewConn(ltstest.NewPort()), 3)
	if d.Address() != 0x63 {
		t.Errorf("Address() = 0x%02X, want 0x63", d.Address())
	}
	if err := d.SetRaw(0, 0x1000); !errors.Is(err, lts.ErrOutOfRange) {
		t.Errorf("SetRaw(0x1000) error = %v, want ErrOutOfRange", err)
	}
}
