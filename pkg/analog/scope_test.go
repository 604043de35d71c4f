// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package analog

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/Thermoquad/testbench/pkg/calib"
	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/Thermoquad/testbench/pkg/lts/ltstest"
)

func ptr[T any](v T) *T { return &v }

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newTestScope(port *ltstest.Port) *Scope {
	return NewScope(lts.NewConn(port), calib.Fallback())
}

// ============================================================================
// Channel model
// ============================================================================

func TestChannel_SetParamsFixValue(t *testing.T) {
	ch := NewChannel("CH2", calib.Fallback())
	err := ch.SetParams(Params{
		Channel:  ptr("CH1"),
		Gain:     ptr(0),
		Length:   ptr(100),
		Timebase: ptr(2.0),
	})
	if err != nil {
		t.Fatalf("SetParams() error = %v", err)
	}

	x := ch.XAxis()
	if len(x) != 100 {
		t.Fatalf("len(XAxis()) = %d, want 100", len(x))
	}
	if x[0] != 0 || x[99] != 198 {
		t.Errorf("XAxis() spans %v..%v, want 0..198", x[0], x[99])
	}

	v, err := ch.FixValue(341)
	if err != nil {
		t.Fatalf("FixValue() error = %v", err)
	}
	if !almostEqual(v, -33.0/1023*341+16.5) {
		t.Errorf("FixValue(341) = %v, want 5.5", v)
	}
}

func TestChannel_FixedGainChannels(t *testing.T) {
	ch := NewChannel("SEN", calib.Fallback())
	if err := ch.SetParams(Params{Gain: ptr(5)}); err != nil {
		t.Fatalf("SetParams() error = %v", err)
	}
	v, _ := ch.FixValue(1023)
	if !almostEqual(v, 3.3) {
		t.Errorf("FixValue(1023) = %v, want 3.3", v)
	}
	if ch.Gain() != 0 {
		t.Errorf("Gain() = %d after FixValue, want 0", ch.Gain())
	}

	// 9V is index 11 and keeps its programmable gain
	rail := NewChannel("9V", calib.Fallback())
	rail.SetParams(Params{Gain: ptr(1)})
	rail.FixValue(1023)
	if rail.Gain() != 1 {
		t.Errorf("9V Gain() = %d after FixValue, want 1", rail.Gain())
	}
}

func TestChannel_TwelveBit(t *testing.T) {
	ch := NewChannel("CH5", calib.Fallback())
	ch.SetParams(Params{Resolution: ptr(calib.TwelveBit)})
	v, _ := ch.FixValue(4092)
	if !almostEqual(v, 3.3) {
		t.Errorf("FixValue(4092) at 12 bits = %v, want 3.3", v)
	}
}

func TestChannel_SetParamsRejects(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"unknown channel", Params{Channel: ptr("CH10")}},
		{"gain 8", Params{Gain: ptr(8)}},
		{"negative gain", Params{Gain: ptr(-1)}},
		{"too long", Params{Length: ptr(lts.MaxSamples + 1)}},
		{"resolution 8", Params{Resolution: ptr(calib.Resolution(8))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewChannel("CH1", calib.Fallback())
			if err := ch.SetParams(tt.p); err == nil {
				t.Error("SetParams() error = nil")
			}
			if ch.Name() != "CH1" || ch.Gain() != 0 || ch.Length() != 100 {
				t.Error("rejected SetParams() changed channel state")
			}
		})
	}
}

// ============================================================================
// Capture controller
// ============================================================================

func TestStartCapture_Clamps(t *testing.T) {
	tests := []struct {
		name        string
		cfg         CaptureConfig
		wantOp      byte
		wantSamples int
		wantGap     float64
		wantChans   int
	}{
		{"one channel", CaptureConfig{Channels: 1, Samples: 5000, TimegapMicros: 0.5}, lts.ADCCaptureOne, 3200, 1.0, 1},
		{"two channels", CaptureConfig{Channels: 2, Samples: 5000, TimegapMicros: 1}, lts.ADCCaptureTwo, 1600, 1.25, 2},
		{"four channels", CaptureConfig{Channels: 4, Samples: 5000, TimegapMicros: 0.5}, lts.ADCCaptureFour, 800, 1.75, 4},
		{"three means four", CaptureConfig{Channels: 3, Samples: 100, TimegapMicros: 4}, lts.ADCCaptureFour, 100, 4, 4},
		{"within limits", CaptureConfig{Channels: 1, Samples: 1000, TimegapMicros: 2}, lts.ADCCaptureOne, 1000, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := ltstest.NewPort(lts.StatusSuccess)
			s := newTestScope(port)

			got, err := s.StartCapture(tt.cfg)
			if err != nil {
				t.Fatalf("StartCapture() error = %v", err)
			}
			if got.Samples != tt.wantSamples {
				t.Errorf("Samples = %d, want %d", got.Samples, tt.wantSamples)
			}
			if got.TimegapMicros != tt.wantGap {
				t.Errorf("TimegapMicros = %v, want %v", got.TimegapMicros, tt.wantGap)
			}
			if got.Channels != tt.wantChans {
				t.Errorf("Channels = %d, want %d", got.Channels, tt.wantChans)
			}
			if s.State() != Armed {
				t.Errorf("State() = %v, want armed", s.State())
			}

			ticks := uint16(tt.wantGap * 8)
			want := []byte{lts.GroupADC, tt.wantOp, 0x80 | 3}
			want = append(want, lts.EncodeU16LE(uint16(tt.wantSamples))...)
			want = append(want, lts.EncodeU16LE(ticks)...)
			if !bytes.Equal(port.Written(), want) {
				t.Errorf("wrote % X, want % X", port.Written(), want)
			}
			if s.Trace(1).Length() != tt.wantSamples || s.Trace(1).Timebase() != tt.wantGap {
				t.Errorf("trace 1 length/timebase = %d/%v", s.Trace(1).Length(), s.Trace(1).Timebase())
			}
		})
	}
}

func TestStartCapture_Selectors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CaptureConfig
		wantSel byte
	}{
		{"CH2 untriggered", CaptureConfig{Channels: 1, Primary: "CH2", Trigger: ptr(false)}, 0},
		{"CH1 triggered", CaptureConfig{Channels: 1, Primary: "CH1"}, 0x83},
		{"IN1", CaptureConfig{Channels: 1, Primary: "IN1", Trigger: ptr(false)}, 5},
		{"TEMP", CaptureConfig{Channels: 1, Primary: "TEMP", Trigger: ptr(false)}, 8},
		{"CH5 on default mux", CaptureConfig{Channels: 1, Primary: "CH5", Trigger: ptr(false)}, 4},
		{"four with secondary", CaptureConfig{Channels: 4, Primary: "CH1", Secondary: 2}, 0x80 | 0x20 | 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := ltstest.NewPort(lts.StatusSuccess)
			s := newTestScope(port)
			if _, err := s.StartCapture(tt.cfg); err != nil {
				t.Fatalf("StartCapture() error = %v", err)
			}
			if got := port.Written()[2]; got != tt.wantSel {
				t.Errorf("selector = 0x%02X, want 0x%02X", got, tt.wantSel)
			}
		})
	}
}

func TestStartCapture_SensorMuxSwitchesOnce(t *testing.T) {
	port := ltstest.NewPort(lts.StatusSuccess, lts.StatusSuccess, lts.StatusSuccess)
	s := newTestScope(port)

	cfg := CaptureConfig{Channels: 1, Samples: 10, TimegapMicros: 1, Primary: "5V", Trigger: ptr(false)}
	if _, err := s.StartCapture(cfg); err != nil {
		t.Fatalf("first StartCapture() error = %v", err)
	}
	prefix := []byte{lts.GroupADC, lts.ADCSelectPGAChannel, 5, lts.GroupADC, lts.ADCCaptureOne, 4}
	if !bytes.HasPrefix(port.Written(), prefix) {
		t.Fatalf("wrote % X, want prefix % X", port.Written(), prefix)
	}

	port.Reset()
	if _, err := s.StartCapture(cfg); err != nil {
		t.Fatalf("second StartCapture() error = %v", err)
	}
	if port.Written()[1] != lts.ADCCaptureOne {
		t.Errorf("second capture reselected the multiplexer: % X", port.Written())
	}
}

func TestStartCapture_Rejects(t *testing.T) {
	s := newTestScope(ltstest.NewPort())
	if _, err := s.StartCapture(CaptureConfig{Channels: 5}); !errors.Is(err, lts.ErrOutOfRange) {
		t.Errorf("5 channels error = %v, want ErrOutOfRange", err)
	}
	if _, err := s.StartCapture(CaptureConfig{Channels: 1, Primary: "CH0"}); err == nil {
		t.Error("unknown primary error = nil")
	}
}

func TestPollProgress(t *testing.T) {
	port := ltstest.NewPort(lts.StatusSuccess)
	s := newTestScope(port)
	s.StartCapture(CaptureConfig{Channels: 1, Samples: 100, TimegapMicros: 1})

	port.Reply(0).ReplyU16(46).Reply(lts.StatusSuccess)
	p := s.PollProgress()
	if p.Complete || p.Samples != 46 || p.Disconnected {
		t.Errorf("PollProgress() = %+v, want 46 samples in progress", p)
	}

	port.Reply(1).ReplyU16(100).Reply(lts.StatusSuccess)
	p = s.PollProgress()
	if !p.Complete || p.Samples != 100 {
		t.Errorf("PollProgress() = %+v, want complete with 100", p)
	}
	if s.State() != Complete {
		t.Errorf("State() = %v, want complete", s.State())
	}

	// Silence from the device is a disconnect, not an error
	p = s.PollProgress()
	if !p.Disconnected {
		t.Errorf("PollProgress() on silent port = %+v, want Disconnected", p)
	}
}

func TestFetchChannel(t *testing.T) {
	port := ltstest.NewPort(lts.StatusSuccess)
	s := newTestScope(port)
	s.StartCapture(CaptureConfig{Channels: 2, Samples: 25, TimegapMicros: 2, Trigger: ptr(false)})
	port.Reset()

	codes := make([]uint16, 25)
	for i := range codes {
		codes[i] = 341
	}
	port.ReplyU16(codes[:20]...).Reply(lts.StatusSuccess)
	port.ReplyU16(codes[20:]...).Reply(lts.StatusSuccess)

	x, y, err := s.FetchChannel(2)
	if err != nil {
		t.Fatalf("FetchChannel() error = %v", err)
	}
	if len(x) != 25 || len(y) != 25 {
		t.Fatalf("FetchChannel() lengths = %d/%d, want 25", len(x), len(y))
	}
	if x[24] != 48 {
		t.Errorf("x[24] = %v, want 48", x[24])
	}
	for i, v := range y {
		if !almostEqual(v, -33.0/1023*341+16.5) {
			t.Fatalf("y[%d] = %v, want 5.5", i, v)
		}
	}

	want := []byte{lts.GroupADC, lts.ADCCaptureChannel, 1, 20, 0, 0, 0}
	want = append(want, lts.GroupADC, lts.ADCCaptureChannel, 1, 5, 0, 20, 0)
	if !bytes.Equal(port.Written(), want) {
		t.Errorf("wrote % X, want % X", port.Written(), want)
	}
}

func TestFetchChannel_Unavailable(t *testing.T) {
	port := ltstest.NewPort(lts.StatusSuccess)
	s := newTestScope(port)
	s.StartCapture(CaptureConfig{Channels: 2, Samples: 10, TimegapMicros: 2})

	_, _, err := s.FetchChannel(3)
	if !errors.Is(err, lts.ErrChannelUnavailable) {
		t.Fatalf("FetchChannel(3) error = %v, want ErrChannelUnavailable", err)
	}
	var ce *lts.ChannelUnavailableError
	if errors.As(err, &ce) && ce.Available != 2 {
		t.Errorf("Available = %d, want 2", ce.Available)
	}
}

// ============================================================================
// Trigger
// ============================================================================

func TestTriggerCode(t *testing.T) {
	tests := []struct {
		name  string
		level float64
		mult  float64
		want  uint16
	}{
		{"zero volts", 0, 1, 511},
		{"one volt", 1, 1, 480},
		{"one volt at 2x", 1, 2, 449},
		{"clamps high", -100, 1, 1023},
		{"clamps low", 100, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TriggerCode(tt.level, tt.mult); got != tt.want {
				t.Errorf("TriggerCode(%v, %v) = %d, want %d", tt.level, tt.mult, got, tt.want)
			}
		})
	}
}

func TestConfigureTrigger(t *testing.T) {
	port := ltstest.NewPort(lts.StatusSuccess, lts.StatusSuccess)
	s := newTestScope(port)
	if _, err := s.SetGain("CH2", 1); err != nil {
		t.Fatalf("SetGain() error = %v", err)
	}
	s.StartCapture(CaptureConfig{Channels: 2, Samples: 10, TimegapMicros: 2})
	port.Reset()
	port.Reply(lts.StatusSuccess)

	code, err := s.ConfigureTrigger(1, 1)
	if err != nil {
		t.Fatalf("ConfigureTrigger() error = %v", err)
	}
	if code != 449 {
		t.Errorf("ConfigureTrigger() = %d, want 449", code)
	}
	want := []byte{lts.GroupADC, lts.ADCConfigureTrigger, 0x02, 0xC1, 0x01}
	if !bytes.Equal(port.Written(), want) {
		t.Errorf("wrote % X, want % X", port.Written(), want)
	}
}

// ============================================================================
// Voltmeter
// ============================================================================

func TestAverageVoltage(t *testing.T) {
	port := ltstest.NewPort().ReplyU16(0, 65520).Reply(lts.StatusSuccess)
	s := newTestScope(port)

	v, err := s.AverageVoltage("CH5")
	if err != nil {
		t.Fatalf("AverageVoltage() error = %v", err)
	}
	if !almostEqual(v, 3.3) {
		t.Errorf("AverageVoltage(CH5) = %v, want 3.3", v)
	}
	want := []byte{lts.GroupADC, lts.ADCVoltageSummed, 4}
	if !bytes.Equal(port.Written(), want) {
		t.Errorf("wrote % X, want % X", port.Written(), want)
	}
}

func TestSetGain(t *testing.T) {
	port := ltstest.NewPort(lts.StatusSuccess)
	s := newTestScope(port)
	mult, err := s.SetGain("PCS", 7)
	if err != nil {
		t.Fatalf("SetGain() error = %v", err)
	}
	if mult != 32 {
		t.Errorf("SetGain() = %v, want 32", mult)
	}
	if !bytes.Equal(port.Written(), []byte{lts.GroupADC, lts.ADCSetPGAGain, 5, 7}) {
		t.Errorf("wrote % X", port.Written())
	}
	if s.gainFor("CH9") != 7 {
		t.Errorf("shared sensor gain = %d, want 7", s.gainFor("CH9"))
	}
	if _, err := s.SetGain("IN1", 1); err == nil {
		t.Error("SetGain(IN1) error = nil, IN1 has no amplifier")
	}
}
