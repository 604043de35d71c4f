// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bus drives the instrument's peripheral buses: the I2C master,
// the SPI master, the NRF24L01 radio add-on and the second UART.
//
// Each adapter is a thin sequence of commands over an lts.Conn. None of them
// hold device state beyond what the caller configures.
package bus

import (
	"fmt"
	"sort"

	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

// I2C directions for Start and Restart.
const (
	Write = 0
	Read  = 1
)

// DefaultI2CFrequency is the bus clock used by Scan when none is given.
const DefaultI2CFrequency = 100000

// I2C is the instrument's I2C master.
type I2C struct {
	conn   *lts.Conn
	logger *zap.Logger
}

// NewI2C returns the I2C master on conn.
func NewI2C(conn *lts.Conn) *I2C {
	return &I2C{conn: conn, logger: conn.Logger().Named("i2c")}
}

// BaudRateGenerator returns the BRG register value for a bus clock in Hz.
func BaudRateGenerator(freq float64) (uint16, error) {
	if freq <= 0 {
		return 0, &lts.OutOfRangeError{What: "I2C frequency", Value: freq}
	}
	brg := int((1/freq-1/1e7)*lts.TimerClockHz - 1)
	if brg < 0 || brg > 0xFFFF {
		return 0, &lts.OutOfRangeError{What: "I2C frequency", Value: freq}
	}
	return uint16(brg), nil
}

// Config sets the bus clock.
func (b *I2C) Config(freq float64) error {
	brg, err := BaudRateGenerator(freq)
	if err != nil {
		return err
	}
	if err := b.conn.Send(lts.GroupI2C, lts.I2CConfig, lts.Payload{}.U16(brg)...); err != nil {
		return err
	}
	_, err = b.conn.Ack()
	return err
}

func addressByte(addr, rw byte) byte {
	return (addr<<1 | rw) & 0xFF
}

// Start issues a start condition and the address byte. The returned status
// has bit 0 set when the address was not acknowledged.
func (b *I2C) Start(addr, rw byte) (byte, error) {
	if err := b.conn.Send(lts.GroupI2C, lts.I2CStart, addressByte(addr, rw)); err != nil {
		return 0, err
	}
	return b.conn.AckStatus()
}

// Restart issues a repeated start and the address byte.
func (b *I2C) Restart(addr, rw byte) (byte, error) {
	if err := b.conn.Send(lts.GroupI2C, lts.I2CRestart, addressByte(addr, rw)); err != nil {
		return 0, err
	}
	return b.conn.AckStatus()
}

// Stop issues a stop condition.
func (b *I2C) Stop() error { return b.simple(lts.I2CStop) }

// Wait blocks on the device until the bus is idle.
func (b *I2C) Wait() error { return b.simple(lts.I2CWait) }

func (b *I2C) simple(op byte) error {
	if err := b.conn.Send(lts.GroupI2C, op); err != nil {
		return err
	}
	_, err := b.conn.Ack()
	return err
}

// Send writes one data byte. The returned status has bit 0 set on NACK.
func (b *I2C) Send(data byte) (byte, error) {
	if err := b.conn.Send(lts.GroupI2C, lts.I2CSend, data); err != nil {
		return 0, err
	}
	return b.conn.AckStatus()
}

// SendBurst writes one data byte without waiting for an ack. The device
// sends none for this command.
func (b *I2C) SendBurst(data byte) error {
	return b.conn.Send(lts.GroupI2C, lts.I2CSendBurst, data)
}

func (b *I2C) readOne(op byte) (byte, error) {
	if err := b.conn.Send(lts.GroupI2C, op); err != nil {
		return 0, err
	}
	v, err := b.conn.ReadByte()
	if err != nil {
		return 0, err
	}
	if _, err := b.conn.Ack(); err != nil {
		return 0, err
	}
	return v, nil
}

// ReadRepeat reads one byte and acknowledges it so the slave keeps sending.
func (b *I2C) ReadRepeat() (byte, error) { return b.readOne(lts.I2CReadMore) }

// ReadEnd reads one byte and answers NACK, ending the transfer.
func (b *I2C) ReadEnd() (byte, error) { return b.readOne(lts.I2CReadEnd) }

// Read reads n bytes: n-1 acknowledged, the last one not.
func (b *I2C) Read(n int) ([]byte, error) {
	if n < 1 {
		return nil, &lts.OutOfRangeError{What: "I2C read length", Value: float64(n)}
	}
	data := make([]byte, 0, n)
	for range n - 1 {
		v, err := b.ReadRepeat()
		if err != nil {
			return nil, err
		}
		data = append(data, v)
	}
	v, err := b.ReadEnd()
	if err != nil {
		return nil, err
	}
	return append(data, v), nil
}

// Status returns the I2C module status register.
func (b *I2C) Status() (uint16, error) {
	if err := b.conn.Send(lts.GroupI2C, lts.I2CStatus); err != nil {
		return 0, err
	}
	v, err := b.conn.ReadU16LE()
	if err != nil {
		return 0, err
	}
	if _, err := b.conn.Ack(); err != nil {
		return 0, err
	}
	return v, nil
}

// NACKError reports a slave that did not acknowledge its address or a data
// byte.
type NACKError struct {
	Address byte
	Stage   string
}

func (e *NACKError) Error() string {
	return fmt.Sprintf("I2C device 0x%02X did not acknowledge %s", e.Address, e.Stage)
}

// WriteBulk writes data to the slave at addr in one transfer.
func (b *I2C) WriteBulk(addr byte, data []byte) error {
	st, err := b.Start(addr, Write)
	if err != nil {
		return err
	}
	if st&1 != 0 {
		_ = b.Stop()
		return &NACKError{Address: addr, Stage: "address"}
	}
	for _, d := range data {
		st, err := b.Send(d)
		if err != nil {
			return err
		}
		if st&1 != 0 {
			_ = b.Stop()
			return &NACKError{Address: addr, Stage: "data"}
		}
	}
	return b.Stop()
}

// WriteRegister writes value to register reg of the slave at addr.
func (b *I2C) WriteRegister(addr, reg, value byte) error {
	return b.WriteBulk(addr, []byte{reg, value})
}

// ReadBulk reads n bytes starting at register reg of the slave at addr.
func (b *I2C) ReadBulk(addr, reg byte, n int) ([]byte, error) {
	st, err := b.Start(addr, Write)
	if err != nil {
		return nil, err
	}
	if st&1 != 0 {
		_ = b.Stop()
		return nil, &NACKError{Address: addr, Stage: "address"}
	}
	if _, err := b.Send(reg); err != nil {
		return nil, err
	}
	if _, err := b.Restart(addr, Read); err != nil {
		return nil, err
	}
	data, err := b.Read(n)
	if err != nil {
		return nil, err
	}
	return data, b.Stop()
}

// Scan configures the bus clock and probes every 7-bit address, returning
// those that acknowledge.
func (b *I2C) Scan(freq float64) ([]byte, error) {
	if freq == 0 {
		freq = DefaultI2CFrequency
	}
	if err := b.Config(freq); err != nil {
		return nil, err
	}
	var found []byte
	for addr := byte(0); addr < 128; addr++ {
		st, err := b.Start(addr, Write)
		if err != nil {
			return nil, err
		}
		if st&1 == 0 {
			found = append(found, addr)
			b.logger.Debug("device found",
				zap.String("address", fmt.Sprintf("0x%02X", addr)),
				zap.Strings("candidates", KnownDevices(addr)))
		}
		if err := b.Stop(); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// knownDevices maps common 7-bit addresses to the parts usually found there.
var knownDevices = map[byte][]string{
	0x1E: {"HMC5883L"},
	0x23: {"BH1750"},
	0x39: {"TSL2561"},
	0x3C: {"SSD1306"},
	0x40: {"HTU21D", "SHT21"},
	0x48: {"ADS1115", "TMP102"},
	0x50: {"AT24C32"},
	0x5A: {"MLX90614"},
	0x60: {"MCP4728"},
	0x68: {"MPU6050", "DS1307"},
	0x76: {"BMP280"},
	0x77: {"BMP180", "BMP280"},
}

// KnownDevices returns part names commonly found at addr, sorted.
func KnownDevices(addr byte) []string {
	names := append([]string(nil), knownDevices[addr]...)
	sort.Strings(names)
	return names
}
