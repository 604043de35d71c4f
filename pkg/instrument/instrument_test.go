// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Thermoquad/testbench/pkg/calib"
	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/Thermoquad/testbench/pkg/lts/ltstest"
)

const ack = lts.StatusSuccess

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

// newTestInstrument assembles the subsystems without the startup writes.
func newTestInstrument(port *ltstest.Port) (*Instrument, *[]time.Duration) {
	var slept []time.Duration
	inst := assemble(lts.NewConn(port, lts.WithVersion("LTS-1.0.0")))
	inst.sleep = func(d time.Duration) { slept = append(slept, d) }
	return inst, &slept
}

func checkWritten(t *testing.T, port *ltstest.Port, want []byte) {
	t.Helper()
	if !bytes.Equal(port.Written(), want) {
		t.Errorf("wrote % X, want % X", port.Written(), want)
	}
}

// startupWrites is what New sends after loading calibration.
var startupWrites = []byte{
	lts.GroupWavegen, lts.WavegenMapReference, 16, 7,
	lts.GroupADC, lts.ADCSetPGAGain, 1, 0,
	lts.GroupADC, lts.ADCSetPGAGain, 2, 0,
	lts.GroupADC, lts.ADCSetPGAGain, 3, 0,
	lts.GroupADC, lts.ADCSetPGAGain, 4, 0,
	lts.GroupADC, lts.ADCSetPGAGain, 5, 0,
}

// ============================================================================
// Assembly
// ============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		opts         Options
		reply        []byte
		wantPrefix   []byte
		wantFallback bool
		wantSource   string
	}{
		{
			name:         "built-in table",
			opts:         Options{},
			wantFallback: true,
			wantSource:   "built-in",
		},
		{
			name:         "missing file falls back",
			opts:         Options{CalibrationPath: "/nonexistent/calibration.yaml"},
			wantFallback: true,
			wantSource:   "built-in",
		},
		{
			name:       "flash",
			opts:       Options{Calibration: CalibrationFlash},
			reply:      append(calib.Fallback().FlashBlob(), ack),
			wantPrefix: []byte{lts.GroupFlash, lts.FlashReadBulk, 0x60, 0x03},
			wantSource: "flash",
		},
		{
			name:         "erased flash falls back",
			opts:         Options{Calibration: CalibrationFlash},
			reply:        append(bytes.Repeat([]byte{0xFF}, calib.FlashBlobSize), ack),
			wantPrefix:   []byte{lts.GroupFlash, lts.FlashReadBulk, 0x60, 0x03},
			wantFallback: true,
			wantSource:   "built-in",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := ltstest.NewPort(tt.reply...).Reply(ack, ack, ack, ack, ack, ack)
			inst, err := New(lts.NewConn(port), tt.opts)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			table := inst.Calibration()
			if table.IsFallback() != tt.wantFallback || table.Source() != tt.wantSource {
				t.Errorf("Calibration() = %s (fallback %v), want %s (fallback %v)",
					table.Source(), table.IsFallback(), tt.wantSource, tt.wantFallback)
			}
			checkWritten(t, port, append(append([]byte(nil), tt.wantPrefix...), startupWrites...))
		})
	}
}

func TestNew_FlashReadFailureIsFatal(t *testing.T) {
	port := ltstest.NewPort()
	_, err := New(lts.NewConn(port), Options{Calibration: CalibrationFlash})
	if !errors.Is(err, lts.ErrCommunication) {
		t.Errorf("New() error = %v, want ErrCommunication", err)
	}
}

func TestNew_DeviceRejectsStartup(t *testing.T) {
	port := ltstest.NewPort(lts.StatusFailed)
	_, err := New(lts.NewConn(port), Options{})
	if !errors.Is(err, lts.ErrProtocolStatus) {
		t.Errorf("New() error = %v, want ErrProtocolStatus", err)
	}
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Open(ctx, Options{Port: "/nonexistent/ttyACM99"}); err == nil {
		t.Error("Open() error = nil, want an error")
	}
}

func TestVersion(t *testing.T) {
	inst, _ := newTestInstrument(ltstest.NewPort())
	if got := inst.Version(); got != "LTS-1.0.0" {
		t.Errorf("Version() = %q", got)
	}
}

// ============================================================================
// Common operations
// ============================================================================

func TestTemperature(t *testing.T) {
	port := ltstest.NewPort(0).ReplyU16(2000).Reply(ack)
	inst, slept := newTestInstrument(port)
	got, err := inst.Temperature()
	if err != nil {
		t.Fatalf("Temperature() error = %v", err)
	}
	v := 3.3 * 2000 / 15.0 / 4096
	if want := (783.24 - v*1000) / 1.87; !almostEqual(got, want) {
		t.Errorf("Temperature() = %v, want %v", got, want)
	}
	checkWritten(t, port, []byte{lts.GroupCommon, lts.CommonCTMUVoltage, 0x7E})
	if len(*slept) != 1 {
		t.Errorf("slept %v, want one settle delay", *slept)
	}
}

func TestTrimByte(t *testing.T) {
	tests := []struct {
		trim int
		want byte
	}{
		{0, 0},
		{10, 5},
		{-4, 61},
		{-1, 63},
	}
	for _, tt := range tests {
		if got := trimByte(tt.trim); got != tt.want {
			t.Errorf("trimByte(%d) = %d, want %d", tt.trim, got, tt.want)
		}
	}
}

func TestCapacitance(t *testing.T) {
	port := ltstest.NewPort().ReplyU16(4095).Reply(ack)
	inst, slept := newTestInstrument(port)
	got, err := inst.Capacitance(0, 0, 100*time.Microsecond)
	if err != nil {
		t.Fatalf("Capacitance() error = %v", err)
	}
	if !almostEqual(got.Voltage, 3.3) {
		t.Errorf("Voltage = %v, want 3.3", got.Voltage)
	}
	if want := 0.5775e-3 * 100e-6 / 3.3; !almostEqual(got.Capacitance, want) {
		t.Errorf("Capacitance = %v, want %v", got.Capacitance, want)
	}
	checkWritten(t, port, []byte{lts.GroupCommon, lts.CommonCapacitance, 0, 0, 100, 0})
	if len(*slept) != 1 || (*slept)[0] != 100*time.Microsecond+20*time.Millisecond {
		t.Errorf("slept %v", *slept)
	}
}

func TestCapacitance_Errors(t *testing.T) {
	port := ltstest.NewPort().ReplyU16(0).Reply(ack)
	inst, _ := newTestInstrument(port)
	if _, err := inst.Capacitance(1, 0, time.Millisecond); !errors.Is(err, ErrNoCharge) {
		t.Errorf("Capacitance() error = %v, want ErrNoCharge", err)
	}
	if _, err := inst.Capacitance(4, 0, time.Millisecond); !errors.Is(err, lts.ErrOutOfRange) {
		t.Errorf("Capacitance(range 4) error = %v, want ErrOutOfRange", err)
	}
	if _, err := inst.Capacitance(0, 0, time.Second); !errors.Is(err, lts.ErrOutOfRange) {
		t.Errorf("Capacitance(1s) error = %v, want ErrOutOfRange", err)
	}
}

func TestEstimateCapacitance(t *testing.T) {
	port := ltstest.NewPort().ReplyU16(9927).Reply(ack).ReplyU16(40000).Reply(ack)
	inst, _ := newTestInstrument(port)
	v, c, err := inst.EstimateCapacitance()
	if err != nil {
		t.Fatalf("EstimateCapacitance() error = %v", err)
	}
	wantV := 40000 * 3.3 / 16 / 4095
	if !almostEqual(v, wantV) {
		t.Errorf("volts = %v, want %v", v, wantV)
	}
	if wantC := -200e-6 / 1e4 / math.Log(1-wantV/3.3); !almostEqual(c, wantC) {
		t.Errorf("farads = %v, want %v", c, wantC)
	}
	checkWritten(t, port, []byte{
		lts.GroupCommon, lts.CommonCapRange, 20, 0,
		lts.GroupCommon, lts.CommonCapRange, 200, 0,
	})
}

func TestInductance(t *testing.T) {
	port := ltstest.NewPort(1).ReplyU32(150000).Reply(ack)
	inst, _ := newTestInstrument(port)
	got, err := inst.Inductance()
	if err != nil {
		t.Fatalf("Inductance() error = %v", err)
	}
	f := 1.5e6
	if want := 1/(lmeterCapacitance*f*f*4*math.Pi*math.Pi) - lmeterInductance; !almostEqual(got, want) {
		t.Errorf("Inductance() = %v, want %v", got, want)
	}
}

func TestMemoryAccess(t *testing.T) {
	port := ltstest.NewPort().ReplyU16(0xABCD).Reply(ack, ack)
	inst, _ := newTestInstrument(port)
	v, err := inst.ReadProgramAddress(0x12345678)
	if err != nil {
		t.Fatalf("ReadProgramAddress() error = %v", err)
	}
	if v != 0xABCD {
		t.Errorf("ReadProgramAddress() = 0x%04X, want 0xABCD", v)
	}
	if err := inst.WriteDataAddress(0x1000, 0x55AA); err != nil {
		t.Fatalf("WriteDataAddress() error = %v", err)
	}
	checkWritten(t, port, []byte{
		lts.GroupCommon, lts.CommonReadProgramAddress, 0x78, 0x56, 0x34, 0x12,
		lts.GroupCommon, lts.CommonWriteDataAddress, 0x00, 0x10, 0xAA, 0x55,
	})
}

func TestSetRGB(t *testing.T) {
	port := ltstest.NewPort(ack, ack)
	inst, slept := newTestInstrument(port)
	c := Color{R: 0x01, G: 0x02, B: 0x80}
	if err := inst.SetRGB(c); err != nil {
		t.Fatalf("SetRGB() error = %v", err)
	}
	if err := inst.SetOnboardRGB(c); err != nil {
		t.Fatalf("SetOnboardRGB() error = %v", err)
	}
	checkWritten(t, port, []byte{
		lts.GroupCommon, lts.CommonSetRGB, 0x01, 0x80, 0x40,
		lts.GroupCommon, lts.CommonSetOnboardRGB, 0x01, 0x80, 0x40,
	})
	if len(*slept) != 1 {
		t.Errorf("slept %v, want one delay for the onboard LED", *slept)
	}
}

func TestEnableUARTPassthrough(t *testing.T) {
	port := ltstest.NewPort(0, 0, 0)
	inst, _ := newTestInstrument(port)
	if err := inst.EnableUARTPassthrough(9600); err != nil {
		t.Fatalf("EnableUARTPassthrough() error = %v", err)
	}
	checkWritten(t, port, []byte{lts.GroupPassthroughs, lts.PassUART, lts.Baud9600})
	if port.Remaining() != 0 {
		t.Errorf("left %d junk bytes", port.Remaining())
	}
	if err := inst.EnableUARTPassthrough(300); !errors.Is(err, lts.ErrOutOfRange) {
		t.Errorf("EnableUARTPassthrough(300) error = %v, want ErrOutOfRange", err)
	}
}
