// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flash reads and writes the instrument's user flash.
//
// Flash is addressed two ways: 64 pages of 16 bytes each, or one bulk
// region streamed from its start with an explicit length. A bulk write
// erases the whole region.
package flash

import (
	"bytes"
	"time"

	"github.com/Thermoquad/testbench/pkg/calib"
	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

const (
	PageSize = 16
	Pages    = 64
	// MaxBulk is the size of the bulk region.
	MaxBulk = 1024

	pagePad = '.'

	pageWriteSettle = 100 * time.Millisecond
	bulkWriteSettle = 200 * time.Millisecond
)

// Flash is the instrument's user flash.
type Flash struct {
	conn   *lts.Conn
	logger *zap.Logger
	sleep  func(time.Duration)
}

// New returns the flash on conn.
func New(conn *lts.Conn) *Flash {
	return &Flash{conn: conn, logger: conn.Logger().Named("flash"), sleep: time.Sleep}
}

func checkPage(page int) error {
	if page < 0 || page >= Pages {
		return &lts.OutOfRangeError{What: "flash page", Value: float64(page)}
	}
	return nil
}

// ReadPage returns the 16 bytes stored at page (0-63).
func (f *Flash) ReadPage(page int) ([]byte, error) {
	if err := checkPage(page); err != nil {
		return nil, err
	}
	if err := f.conn.Send(lts.GroupFlash, lts.FlashRead, byte(page)); err != nil {
		return nil, err
	}
	data, err := f.conn.ReadBytes(PageSize)
	if err != nil {
		return nil, err
	}
	if _, err := f.conn.Ack(); err != nil {
		return nil, err
	}
	return data, nil
}

// PadPage pads data to a full page with '.'.
func PadPage(data []byte) []byte {
	out := append([]byte(nil), data...)
	if n := PageSize - len(out); n > 0 {
		out = append(out, bytes.Repeat([]byte{pagePad}, n)...)
	}
	return out
}

// WritePage stores up to 16 bytes at page (0-63), padding short data.
func (f *Flash) WritePage(page int, data []byte) error {
	if err := checkPage(page); err != nil {
		return err
	}
	if len(data) > PageSize {
		return &lts.OutOfRangeError{What: "flash page length", Value: float64(len(data))}
	}
	payload := append(lts.Payload{byte(page)}, PadPage(data)...)
	if err := f.conn.Send(lts.GroupFlash, lts.FlashWrite, payload...); err != nil {
		return err
	}
	f.sleep(pageWriteSettle)
	_, err := f.conn.Ack()
	return err
}

// ReadBulk reads the first n bytes of the bulk region.
func (f *Flash) ReadBulk(n int) ([]byte, error) {
	if n < 1 || n > MaxBulk {
		return nil, &lts.OutOfRangeError{What: "flash bulk length", Value: float64(n)}
	}
	if err := f.conn.Send(lts.GroupFlash, lts.FlashReadBulk, lts.Payload{}.U16(uint16(n))...); err != nil {
		return nil, err
	}
	data, err := f.conn.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	if _, err := f.conn.Ack(); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteBulk replaces the bulk region with data.
func (f *Flash) WriteBulk(data []byte) error {
	if len(data) == 0 || len(data) > MaxBulk {
		return &lts.OutOfRangeError{What: "flash bulk length", Value: float64(len(data))}
	}
	payload := append(lts.Payload{}.U16(uint16(len(data))), data...)
	if err := f.conn.Send(lts.GroupFlash, lts.FlashWriteBulk, payload...); err != nil {
		return err
	}
	f.logger.Info("bulk flash written", zap.Int("bytes", len(data)))
	f.sleep(bulkWriteSettle)
	_, err := f.conn.Ack()
	return err
}

// ReadCalibration decodes the calibration table stored in the bulk region.
func (f *Flash) ReadCalibration() (*calib.Table, error) {
	blob, err := f.ReadBulk(calib.FlashBlobSize)
	if err != nil {
		return nil, err
	}
	return calib.FromFlash(blob)
}

// WriteCalibration stores t in the bulk region.
func (f *Flash) WriteCalibration(t *calib.Table) error {
	return f.WriteBulk(t.FlashBlob())
}
