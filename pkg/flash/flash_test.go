// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/testbench/pkg/calib"
	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/Thermoquad/testbench/pkg/lts/ltstest"
)

func newFlash(port *ltstest.Port) *Flash {
	f := New(lts.NewConn(port))
	f.sleep = func(time.Duration) {}
	return f
}

func TestReadPage(t *testing.T) {
	page := []byte("0123456789abcdef")
	port := ltstest.NewPort(page...).Reply(lts.StatusSuccess)
	got, err := newFlash(port).ReadPage(5)
	if err != nil {
		t.Fatalf("ReadPage() error = %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Errorf("ReadPage() = %q, want %q", got, page)
	}
	if want := []byte{lts.GroupFlash, lts.FlashRead, 5}; !bytes.Equal(port.Written(), want) {
		t.Errorf("wrote % X, want % X", port.Written(), want)
	}
}

func TestWritePage(t *testing.T) {
	port := ltstest.NewPort(lts.StatusSuccess)
	if err := newFlash(port).WritePage(63, []byte("hello")); err != nil {
		t.Fatalf("WritePage() error = %v", err)
	}
	want := append([]byte{lts.GroupFlash, lts.FlashWrite, 63}, "hello..........."...)
	if !bytes.Equal(port.Written(), want) {
		t.Errorf("wrote %q, want %q", port.Written(), want)
	}
}

func TestPageRange(t *testing.T) {
	tests := []struct {
		name string
		op   func(*Flash) error
	}{
		{"read negative page", func(f *Flash) error { _, err := f.ReadPage(-1); return err }},
		{"read page 64", func(f *Flash) error { _, err := f.ReadPage(64); return err }},
		{"write page 64", func(f *Flash) error { return f.WritePage(64, nil) }},
		{"write 17 bytes", func(f *Flash) error { return f.WritePage(0, make([]byte, 17)) }},
		{"bulk read zero", func(f *Flash) error { _, err := f.ReadBulk(0); return err }},
		{"bulk write too long", func(f *Flash) error { return f.WriteBulk(make([]byte, MaxBulk+1)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := ltstest.NewPort()
			if err := tt.op(newFlash(port)); !errors.Is(err, lts.ErrOutOfRange) {
				t.Errorf("error = %v, want ErrOutOfRange", err)
			}
			if len(port.Written()) != 0 {
				t.Errorf("wrote % X", port.Written())
			}
		})
	}
}

func TestBulk(t *testing.T) {
	port := ltstest.NewPort(lts.StatusSuccess).Reply(7, 8, 9, lts.StatusSuccess)
	f := newFlash(port)
	if err := f.WriteBulk([]byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteBulk() error = %v", err)
	}
	got, err := f.ReadBulk(3)
	if err != nil {
		t.Fatalf("ReadBulk() error = %v", err)
	}
	if !bytes.Equal(got, []byte{7, 8, 9}) {
		t.Errorf("ReadBulk() = % X", got)
	}
	want := []byte{
		lts.GroupFlash, lts.FlashWriteBulk, 3, 0, 1, 2, 3,
		lts.GroupFlash, lts.FlashReadBulk, 3, 0,
	}
	if !bytes.Equal(port.Written(), want) {
		t.Errorf("wrote % X, want % X", port.Written(), want)
	}
}

func TestCalibrationRoundTripThroughFlash(t *testing.T) {
	blob := calib.Fallback().FlashBlob()
	port := ltstest.NewPort(blob...).Reply(lts.StatusSuccess)
	table, err := newFlash(port).ReadCalibration()
	if err != nil {
		t.Fatalf("ReadCalibration() error = %v", err)
	}
	if table.Source() != "flash" {
		t.Errorf("Source() = %q, want flash", table.Source())
	}
	if want := []byte{lts.GroupFlash, lts.FlashReadBulk, 0x60, 0x03}; !bytes.Equal(port.Written(), want) {
		t.Errorf("wrote % X, want % X", port.Written(), want)
	}
}

func TestReadCalibration_Erased(t *testing.T) {
	port := ltstest.NewPort(bytes.Repeat([]byte{0xFF}, calib.FlashBlobSize)...).Reply(lts.StatusSuccess)
	if _, err := newFlash(port).ReadCalibration(); !errors.Is(err, calib.ErrBadTable) {
		t.Errorf("ReadCalibration() error = %v, want ErrBadTable", err)
	}
}
