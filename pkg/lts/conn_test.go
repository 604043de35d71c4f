// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lts_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/Thermoquad/testbench/pkg/lts/ltstest"
)

// ============================================================================
// Codec
// ============================================================================

func TestU16LE_RoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x7FFF, 0xFFFF} {
		if got := lts.DecodeU16LE(lts.EncodeU16LE(v)); got != v {
			t.Errorf("DecodeU16LE(EncodeU16LE(0x%X)) = 0x%X", v, got)
		}
	}
	if got := lts.EncodeU16LE(0x1234); !bytes.Equal(got, []byte{0x34, 0x12}) {
		t.Errorf("EncodeU16LE(0x1234) = % X, want 34 12", got)
	}
}

func TestU32LE_RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x7FFF, 0xFFFF, 0xFFFFFFFF} {
		if got := lts.DecodeU32LE(lts.EncodeU32LE(v)); got != v {
			t.Errorf("DecodeU32LE(EncodeU32LE(0x%X)) = 0x%X", v, got)
		}
	}
	if got := lts.EncodeU32LE(0x01020304); !bytes.Equal(got, []byte{4, 3, 2, 1}) {
		t.Errorf("EncodeU32LE(0x01020304) = % X, want 04 03 02 01", got)
	}
}

func TestSend_Payload(t *testing.T) {
	port := ltstest.NewPort()
	c := lts.NewConn(port)

	payload := lts.Payload{}.U16(0x0320).U8(0x83).U32(0x01020304)
	if err := c.Send(lts.GroupTiming, lts.TimingGetTiming, payload...); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	want := []byte{lts.GroupTiming, lts.TimingGetTiming, 0x20, 0x03, 0x83, 4, 3, 2, 1}
	if !bytes.Equal(port.Written(), want) {
		t.Errorf("Send() wrote % X, want % X", port.Written(), want)
	}
	if c.Stats().Commands != 1 {
		t.Errorf("Stats().Commands = %d, want 1", c.Stats().Commands)
	}
}

// ============================================================================
// Reads
// ============================================================================

func TestConn_Reads(t *testing.T) {
	port := ltstest.NewPort(0x7E).ReplyU16(0xBEEF).ReplyU32(0xDEADBEEF).Reply('L', 'T', 'S', '\n')
	c := lts.NewConn(port)

	b, err := c.ReadByte()
	if err != nil || b != 0x7E {
		t.Fatalf("ReadByte() = 0x%02X, %v, want 0x7E", b, err)
	}
	u16, err := c.ReadU16LE()
	if err != nil || u16 != 0xBEEF {
		t.Fatalf("ReadU16LE() = 0x%X, %v, want 0xBEEF", u16, err)
	}
	u32, err := c.ReadU32LE()
	if err != nil || u32 != 0xDEADBEEF {
		t.Fatalf("ReadU32LE() = 0x%X, %v, want 0xDEADBEEF", u32, err)
	}
	line, err := c.ReadLine()
	if err != nil || line != "LTS\n" {
		t.Fatalf("ReadLine() = %q, %v, want %q", line, err, "LTS\n")
	}
}

func TestConn_RawRead(t *testing.T) {
	c := lts.NewConn(ltstest.NewPort('o', 'k'))
	buf := make([]byte, 8)

	n, err := c.Read(buf)
	if err != nil || string(buf[:n]) != "ok" {
		t.Fatalf("Read() = %q, %v, want %q", buf[:n], err, "ok")
	}
	// Timeout
	n, err = c.Read(buf)
	if n != 0 || err != nil {
		t.Errorf("Read() on idle port = %d, %v, want 0, nil", n, err)
	}
	if got := c.Stats().BytesIn; got != 2 {
		t.Errorf("BytesIn = %d, want 2", got)
	}
}

// timedPort is a serial-like port whose reads report the timeout in effect
type timedPort struct {
	*ltstest.Port
	timeout  time.Duration
	readAt   []time.Duration
	resets   int
	timeouts []time.Duration
}

func (p *timedPort) Read(b []byte) (int, error) {
	p.readAt = append(p.readAt, p.timeout)
	return p.Port.Read(b)
}

func (p *timedPort) SetReadTimeout(d time.Duration) error {
	p.timeout = d
	p.timeouts = append(p.timeouts, d)
	return nil
}

func (p *timedPort) ResetInputBuffer() error {
	p.resets++
	return nil
}

func TestConn_DrainShortensTimeout(t *testing.T) {
	const operating = time.Second
	tests := []struct {
		name  string
		stale []byte
		want  int
	}{
		{"empty queue", nil, 0},
		{"stale bytes", []byte{1, 2, 3}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &timedPort{Port: ltstest.NewPort(tt.stale...), timeout: operating}
			c := lts.NewConn(port, lts.WithTimeout(operating))

			n, err := c.Drain(100)
			if err != nil || n != tt.want {
				t.Fatalf("Drain() = %d, %v, want %d, nil", n, err, tt.want)
			}
			if port.resets != 1 {
				t.Errorf("ResetInputBuffer calls = %d, want 1", port.resets)
			}
			for i, d := range port.readAt {
				if d != lts.DrainTimeout {
					t.Errorf("read %d timeout = %v, want %v", i, d, lts.DrainTimeout)
				}
			}
			if port.timeout != operating {
				t.Errorf("timeout after Drain() = %v, want %v", port.timeout, operating)
			}
		})
	}
}

func TestConn_DrainWithoutTimeoutLeavesPortAlone(t *testing.T) {
	port := &timedPort{Port: ltstest.NewPort(), timeout: time.Second}
	if _, err := lts.NewConn(port).Drain(10); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(port.timeouts) != 0 {
		t.Errorf("SetReadTimeout calls = %v, want none", port.timeouts)
	}
}

func TestConn_ShortRead(t *testing.T) {
	tests := []struct {
		name  string
		reply []byte
		read  func(*lts.Conn) error
		want  int
	}{
		{
			name:  "empty byte",
			reply: nil,
			read:  func(c *lts.Conn) error { _, err := c.ReadByte(); return err },
			want:  0,
		},
		{
			name:  "half u16",
			reply: []byte{0x01},
			read:  func(c *lts.Conn) error { _, err := c.ReadU16LE(); return err },
			want:  1,
		},
		{
			name:  "three of four",
			reply: []byte{1, 2, 3},
			read:  func(c *lts.Conn) error { _, err := c.ReadU32LE(); return err },
			want:  3,
		},
		{
			name:  "missing ack",
			reply: nil,
			read:  func(c *lts.Conn) error { _, err := c.Ack(); return err },
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := lts.NewConn(ltstest.NewPort(tt.reply...))
			err := tt.read(c)
			if !errors.Is(err, lts.ErrCommunication) {
				t.Fatalf("error = %v, want ErrCommunication", err)
			}
			var ce *lts.CommunicationError
			if !errors.As(err, &ce) {
				t.Fatalf("error %T is not *CommunicationError", err)
			}
			if ce.Got != tt.want {
				t.Errorf("Got = %d, want %d", ce.Got, tt.want)
			}
			if c.Stats().ShortReads != 1 {
				t.Errorf("ShortReads = %d, want 1", c.Stats().ShortReads)
			}
		})
	}
}

// ============================================================================
// Ack
// ============================================================================

func TestConn_Ack(t *testing.T) {
	tests := []struct {
		name       string
		ack        byte
		wantStatus bool
		wantShift  byte
	}{
		{"success", 0x01, false, 0},
		{"argument error", 0x02, true, 0},
		{"failure", 0x03, true, 0},
		{"i2c nack packed high", 0x11, false, 1},
		{"i2c ack packed high", 0x21, false, 2},
		{"generic acknowledge", lts.Acknowledge, false, 0x0F},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := lts.NewConn(ltstest.NewPort(tt.ack, tt.ack))

			raw, err := c.Ack()
			if raw != tt.ack {
				t.Errorf("Ack() = 0x%02X, want 0x%02X", raw, tt.ack)
			}
			if got := errors.Is(err, lts.ErrProtocolStatus); got != tt.wantStatus {
				t.Errorf("Ack() error = %v, want status error %v", err, tt.wantStatus)
			}

			shifted, _ := c.AckStatus()
			if shifted != tt.wantShift {
				t.Errorf("AckStatus() = 0x%X, want 0x%X", shifted, tt.wantShift)
			}
		})
	}
}

// ============================================================================
// Burst
// ============================================================================

func TestConn_BurstFlushReadsOneAckPerCommand(t *testing.T) {
	port := ltstest.NewPort(1, 1, 1, 1, 1)
	c := lts.NewConn(port)

	c.BeginBurst()
	for i := 0; i < 5; i++ {
		if err := c.Command(lts.GroupDOut, lts.DOutSetState); err != nil {
			t.Fatalf("Command() error = %v", err)
		}
		if err := c.WriteByte(byte(i)); err != nil {
			t.Fatalf("WriteByte() error = %v", err)
		}
		if ack, err := c.Ack(); err != nil || ack != lts.StatusSuccess {
			t.Fatalf("Ack() in burst = %d, %v", ack, err)
		}
	}

	if len(port.Written()) != 0 {
		t.Fatalf("burst transmitted %d bytes before flush", len(port.Written()))
	}
	if c.Pending() != 5 {
		t.Fatalf("Pending() = %d, want 5", c.Pending())
	}

	acks, err := c.FlushBurst()
	if err != nil {
		t.Fatalf("FlushBurst() error = %v", err)
	}
	if len(acks) != 5 {
		t.Errorf("FlushBurst() returned %d acks, want 5", len(acks))
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() after flush = %d, want 0", c.Pending())
	}
	if c.InBurst() {
		t.Error("InBurst() after flush = true, want false")
	}
	if len(port.Written()) != 15 {
		t.Errorf("flush wrote %d bytes, want 15", len(port.Written()))
	}
	if port.Remaining() != 0 {
		t.Errorf("%d reply bytes unread", port.Remaining())
	}
}

func TestConn_BurstRejectsReads(t *testing.T) {
	c := lts.NewConn(ltstest.NewPort(0x55))
	c.BeginBurst()
	if _, err := c.ReadByte(); !errors.Is(err, lts.ErrReadInBurst) {
		t.Errorf("ReadByte() in burst error = %v, want ErrReadInBurst", err)
	}
}

func TestConn_BurstShortFlushResets(t *testing.T) {
	c := lts.NewConn(ltstest.NewPort(1))
	c.BeginBurst()
	c.Ack()
	c.Ack()

	if _, err := c.FlushBurst(); !errors.Is(err, lts.ErrCommunication) {
		t.Fatalf("FlushBurst() error = %v, want ErrCommunication", err)
	}
	if c.Pending() != 0 || c.InBurst() {
		t.Errorf("after failed flush Pending() = %d InBurst() = %v", c.Pending(), c.InBurst())
	}
}

// ============================================================================
// Reconnect
// ============================================================================

func TestConn_Reconnect(t *testing.T) {
	old := ltstest.NewPort()
	fresh := ltstest.NewPort()
	c := lts.NewConn(old, lts.WithReopen(func() (lts.Port, error) { return fresh, nil }))

	if err := c.Reconnect(); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if !old.Closed() {
		t.Error("old port not closed")
	}
	c.WriteByte(0xAA)
	if !bytes.Equal(fresh.Written(), []byte{0xAA}) {
		t.Errorf("write after reconnect went to % X, want AA on new port", fresh.Written())
	}

	if err := lts.NewConn(ltstest.NewPort()).Reconnect(); !errors.Is(err, lts.ErrNoReopen) {
		t.Errorf("Reconnect() without reopen error = %v, want ErrNoReopen", err)
	}
}

func TestFormatCommand(t *testing.T) {
	tests := []struct {
		group, op byte
		want      string
	}{
		{lts.GroupADC, lts.ADCCaptureFour, "ADC.CAPTURE_FOUR"},
		{lts.GroupWavegen, lts.WavegenSetWG1, "WAVEGEN.SET_WG1"},
		{lts.GroupTiming, lts.TimingFetchIntDMAData, "TIMING.FETCH_INT_DMA_DATA"},
		{lts.GroupI2C, 0x40, "I2C.0x40"},
		{0x99, 1, "UNKNOWN(0x99).0x01"},
	}
	for _, tt := range tests {
		if got := lts.FormatCommand(tt.group, tt.op); got != tt.want {
			t.Errorf("FormatCommand(%d, %d) = %q, want %q", tt.group, tt.op, got, tt.want)
		}
	}
}
