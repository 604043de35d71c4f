// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

// NRF24L01 commands
const (
	NRFCmdReadReg    = 0x00
	NRFCmdWriteReg   = 0x20
	NRFCmdRxPayload  = 0x61
	NRFCmdTxPayload  = 0xA0
	NRFCmdAckPayload = 0xA8
	NRFCmdFlushTx    = 0xE1
	NRFCmdFlushRx    = 0xE2
	NRFCmdActivate   = 0x50
)

// NRF24L01 registers
const (
	NRFRegConfig     = 0x00
	NRFRegEnAA       = 0x01
	NRFRegEnRxAddr   = 0x02
	NRFRegSetupAW    = 0x03
	NRFRegSetupRetr  = 0x04
	NRFRegRFChannel  = 0x05
	NRFRegRFSetup    = 0x06
	NRFRegStatus     = 0x07
	NRFRegObserveTx  = 0x08
	NRFRegRxAddrP0   = 0x0A
	NRFRegRxAddrP1   = 0x0B
	NRFRegTxAddr     = 0x10
	NRFRegRxPWP0     = 0x11
	NRFRegFIFOStatus = 0x17
	NRFRegDynPD      = 0x1C
	NRFRegFeature    = 0x1D
)

const (
	// DefaultRadioAddress is the pipe 0 address used when none is given.
	DefaultRadioAddress = 0xA523B5

	nrfMaxPayload    = 32
	nrfMaxAckPayload = 15
	nrfTransmitNow   = 0x80

	nrfChannel = 10
	nrfRF2Mbps = 0x26

	nrfSetupSettle = 150 * time.Millisecond
	nrfModeSettle  = 100 * time.Millisecond
)

// RadioStatus is the status nibble the firmware returns for radio
// transmissions.
type RadioStatus byte

// NoAck reports that the remote node did not acknowledge.
func (s RadioStatus) NoAck() bool { return s&0x1 != 0 }

// NoRadio reports that no radio module is plugged in.
func (s RadioStatus) NoRadio() bool { return s&0x2 != 0 }

// NoReply reports that the node acknowledged but never replied.
func (s RadioStatus) NoReply() bool { return s&0x4 != 0 }

// Err returns a *RadioError for any failure bit, or nil.
func (s RadioStatus) Err() error {
	if s&0x7 == 0 {
		return nil
	}
	return &RadioError{Status: s}
}

// RadioError reports a failed radio transmission.
type RadioError struct {
	Status RadioStatus
}

func (e *RadioError) Error() string {
	var why []string
	if e.Status.NoRadio() {
		why = append(why, "radio not found")
	}
	if e.Status.NoAck() {
		why = append(why, "node did not acknowledge")
	}
	if e.Status.NoReply() {
		why = append(why, "node did not reply")
	}
	return fmt.Sprintf("radio transmission failed: %s", strings.Join(why, ", "))
}

// NRF24L01 drives the radio add-on.
type NRF24L01 struct {
	conn   *lts.Conn
	logger *zap.Logger
	sleep  func(time.Duration)
}

// NewNRF24L01 returns the radio on conn.
func NewNRF24L01(conn *lts.Conn) *NRF24L01 {
	return &NRF24L01{conn: conn, logger: conn.Logger().Named("nrf"), sleep: time.Sleep}
}

func (r *NRF24L01) command(op byte, payload ...byte) error {
	if err := r.conn.Send(lts.GroupNRF, op, payload...); err != nil {
		return err
	}
	_, err := r.conn.Ack()
	return err
}

func (r *NRF24L01) query(op byte, payload ...byte) (byte, error) {
	if err := r.conn.Send(lts.GroupNRF, op, payload...); err != nil {
		return 0, err
	}
	v, err := r.conn.ReadByte()
	if err != nil {
		return 0, err
	}
	if _, err := r.conn.Ack(); err != nil {
		return 0, err
	}
	return v, nil
}

// Init powers up the radio and waits for it to settle.
func (r *NRF24L01) Init() error {
	if err := r.command(lts.NRFSetup); err != nil {
		return err
	}
	r.sleep(nrfSetupSettle)
	return nil
}

// RxMode puts the radio into listening mode.
func (r *NRF24L01) RxMode() error { return r.command(lts.NRFRxMode) }

// TxMode puts the radio into transmit mode.
func (r *NRF24L01) TxMode() error { return r.command(lts.NRFTxMode) }

// PowerDown powers the radio down.
func (r *NRF24L01) PowerDown() error { return r.command(lts.NRFPowerDown) }

// Flush empties the TX and RX FIFOs.
func (r *NRF24L01) Flush() error { return r.command(lts.NRFFlush) }

// RxChar receives a one byte payload.
func (r *NRF24L01) RxChar() (byte, error) { return r.query(lts.NRFRxChar) }

// HasData reports whether the RX FIFO holds data.
func (r *NRF24L01) HasData() (bool, error) {
	v, err := r.query(lts.NRFHasData)
	return v != 0, err
}

// Status returns the radio STATUS register.
func (r *NRF24L01) Status() (byte, error) { return r.query(lts.NRFGetStatus) }

// ReadRegister returns a configuration register.
func (r *NRF24L01) ReadRegister(reg byte) (byte, error) {
	return r.query(lts.NRFReadReg, reg)
}

// WriteRegister sets a configuration register.
func (r *NRF24L01) WriteRegister(reg, value byte) error {
	return r.command(lts.NRFWriteReg, reg, value)
}

// WriteCommand sends a raw radio command byte.
func (r *NRF24L01) WriteCommand(cmd byte) error {
	return r.command(lts.NRFWriteCommand, cmd)
}

// WriteAddress writes a 3-byte address to TX_ADDR or one of the RX pipe
// address registers. The low byte must not be 0xFF.
func (r *NRF24L01) WriteAddress(reg byte, addr uint32) error {
	if addr > 0xFFFFFF {
		return &lts.OutOfRangeError{What: "radio address", Value: float64(addr)}
	}
	return r.command(lts.NRFWriteAddress, reg, byte(addr), byte(addr>>8), byte(addr>>16))
}

// TxChar transmits a one byte payload.
func (r *NRF24L01) TxChar(c byte) (RadioStatus, error) {
	if err := r.conn.Send(lts.GroupNRF, lts.NRFTxChar, c); err != nil {
		return 0, err
	}
	st, err := r.conn.AckStatus()
	return RadioStatus(st), err
}

// ReadPayload reads n bytes from the RX FIFO.
func (r *NRF24L01) ReadPayload(n int) ([]byte, error) {
	if n < 1 || n > nrfMaxPayload {
		return nil, &lts.OutOfRangeError{What: "radio payload size", Value: float64(n)}
	}
	if err := r.conn.Send(lts.GroupNRF, lts.NRFReadPayload, byte(n)); err != nil {
		return nil, err
	}
	data, err := r.conn.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	if _, err := r.conn.Ack(); err != nil {
		return nil, err
	}
	return data, nil
}

func (r *NRF24L01) writePayload(lenByte, cmd byte, data []byte) (RadioStatus, error) {
	payload := append(lts.Payload{lenByte, cmd}, data...)
	if err := r.conn.Send(lts.GroupNRF, lts.NRFWritePayload, payload...); err != nil {
		return 0, err
	}
	st, err := r.conn.AckStatus()
	return RadioStatus(st), err
}

// WritePayload transmits data immediately.
func (r *NRF24L01) WritePayload(data []byte) (RadioStatus, error) {
	if len(data) == 0 || len(data) > nrfMaxPayload {
		return 0, &lts.OutOfRangeError{What: "radio payload size", Value: float64(len(data))}
	}
	return r.writePayload(byte(len(data))|nrfTransmitNow, NRFCmdTxPayload, data)
}

// WriteAckPayload loads data to be returned with the next acknowledge on
// pipe.
func (r *NRF24L01) WriteAckPayload(data []byte, pipe byte) (RadioStatus, error) {
	if len(data) == 0 || len(data) > nrfMaxAckPayload {
		return 0, &lts.OutOfRangeError{What: "ack payload size", Value: float64(len(data))}
	}
	if pipe > 5 {
		return 0, &lts.OutOfRangeError{What: "radio pipe", Value: float64(pipe)}
	}
	return r.writePayload(byte(len(data)), NRFCmdAckPayload|pipe, data)
}

// Transaction sends data to a node and returns its reply. timeout bounds
// the wait for the reply on the device side. A failed transaction flushes
// the FIFOs and returns a *RadioError.
func (r *NRF24L01) Transaction(data []byte, timeout time.Duration) ([]byte, error) {
	if len(data) > nrfMaxPayload {
		return nil, &lts.OutOfRangeError{What: "radio payload size", Value: float64(len(data))}
	}
	ms := timeout.Milliseconds()
	if ms <= 0 || ms > 0xFFFF {
		ms = 100
	}
	payload := lts.Payload{}.U8(byte(len(data))).U16(uint16(ms))
	if err := r.conn.Send(lts.GroupNRF, lts.NRFTransaction, append(payload, data...)...); err != nil {
		return nil, err
	}
	n, err := r.conn.ReadByte()
	if err != nil {
		return nil, err
	}
	var reply []byte
	if n > 0 {
		if reply, err = r.conn.ReadBytes(int(n)); err != nil {
			return nil, err
		}
	}
	st, err := r.conn.AckStatus()
	if err != nil {
		return nil, err
	}
	if err := RadioStatus(st).Err(); err != nil {
		r.logger.Warn("transaction failed", zap.Error(err))
		if ferr := r.Flush(); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}
	return reply, nil
}

// RadioConfig sets up the radio as a transmitter or receiver.
type RadioConfig struct {
	PayloadSize byte
	// Address is this node's pipe 0 address. Zero selects
	// DefaultRadioAddress.
	Address uint32
	// Destination is the TX_ADDR of a transmitter. Zero selects
	// DefaultRadioAddress.
	Destination uint32
	// Pipes are the RX pipe 1-5 addresses of a receiver. Zero leaves a
	// pipe disabled. Pipes 2-5 share the upper bytes of pipe 1.
	Pipes [5]uint32
}

func orDefault(a uint32) uint32 {
	if a == 0 {
		return DefaultRadioAddress
	}
	return a
}

type regWrite struct{ reg, value byte }

func (r *NRF24L01) writeRegisters(regs ...regWrite) error {
	for _, w := range regs {
		if err := r.WriteRegister(w.reg, w.value); err != nil {
			return err
		}
	}
	return nil
}

func (r *NRF24L01) baseSetup() error {
	if err := r.Init(); err != nil {
		return err
	}
	return r.writeRegisters(regWrite{NRFRegRFChannel, nrfChannel}, regWrite{NRFRegRFSetup, nrfRF2Mbps})
}

// writePipes writes pipe 1-5 addresses, pipe 1 last since the others share
// its upper bytes, and returns the enabled pipe mask.
func (r *NRF24L01) writePipes(pipes [5]uint32) (byte, error) {
	var mask byte
	for i, a := range pipes {
		if a == 0 {
			continue
		}
		mask |= 1 << (i + 1)
		if err := r.WriteAddress(NRFRegRxAddrP0+byte(i+1), a); err != nil {
			return 0, err
		}
	}
	if pipes[0] != 0 {
		if err := r.WriteAddress(NRFRegRxAddrP1, pipes[0]); err != nil {
			return 0, err
		}
	}
	return mask, nil
}

func (r *NRF24L01) enterMode(mode func() error) error {
	if err := mode(); err != nil {
		return err
	}
	r.sleep(nrfModeSettle)
	return r.Flush()
}

// InitShockBurstTransmitter configures auto acknowledge with dynamic
// payloads and up to 15 retransmits, then enters transmit mode.
func (r *NRF24L01) InitShockBurstTransmitter(cfg RadioConfig) error {
	if err := r.baseSetup(); err != nil {
		return err
	}
	if err := r.WriteAddress(NRFRegTxAddr, orDefault(cfg.Destination)); err != nil {
		return err
	}
	if err := r.WriteAddress(NRFRegRxAddrP0, orDefault(cfg.Address)); err != nil {
		return err
	}
	err := r.writeRegisters(
		regWrite{NRFRegEnAA, 0x01},
		regWrite{NRFRegDynPD, 0x01},
		regWrite{NRFRegEnRxAddr, 0x01},
		regWrite{NRFRegFeature, 0x04},
		regWrite{NRFRegSetupRetr, 0xFF},
		regWrite{NRFRegRxPWP0, cfg.PayloadSize},
	)
	if err != nil {
		return err
	}
	return r.enterMode(r.TxMode)
}

// InitShockBurstReceiver enables auto acknowledge and dynamic payloads on
// pipe 0 and every configured pipe, then enters receive mode.
func (r *NRF24L01) InitShockBurstReceiver(cfg RadioConfig) error {
	if err := r.baseSetup(); err != nil {
		return err
	}
	if err := r.WriteAddress(NRFRegRxAddrP0, orDefault(cfg.Address)); err != nil {
		return err
	}
	mask, err := r.writePipes(cfg.Pipes)
	if err != nil {
		return err
	}
	mask |= 1
	err = r.writeRegisters(
		regWrite{NRFRegEnRxAddr, mask},
		regWrite{NRFRegEnAA, mask},
		regWrite{NRFRegDynPD, mask},
		regWrite{NRFRegFeature, 0x06},
	)
	if err != nil {
		return err
	}
	return r.enterMode(r.RxMode)
}

// InitTransmitter configures fixed payloads without acknowledge and enters
// transmit mode.
func (r *NRF24L01) InitTransmitter(cfg RadioConfig) error {
	if err := r.baseSetup(); err != nil {
		return err
	}
	if err := r.WriteAddress(NRFRegTxAddr, orDefault(cfg.Destination)); err != nil {
		return err
	}
	if err := r.WriteAddress(NRFRegRxAddrP0, orDefault(cfg.Address)); err != nil {
		return err
	}
	err := r.writeRegisters(
		regWrite{NRFRegEnAA, 0},
		regWrite{NRFRegDynPD, 0},
		regWrite{NRFRegFeature, 0},
		regWrite{NRFRegSetupRetr, 0},
		regWrite{NRFRegRxPWP0, cfg.PayloadSize},
	)
	if err != nil {
		return err
	}
	return r.enterMode(r.TxMode)
}

// InitReceiver configures fixed payloads without acknowledge and enters
// receive mode.
func (r *NRF24L01) InitReceiver(cfg RadioConfig) error {
	if err := r.baseSetup(); err != nil {
		return err
	}
	if err := r.WriteAddress(NRFRegTxAddr, orDefault(cfg.Destination)); err != nil {
		return err
	}
	if err := r.WriteAddress(NRFRegRxAddrP0, orDefault(cfg.Address)); err != nil {
		return err
	}
	mask, err := r.writePipes(cfg.Pipes)
	if err != nil {
		return err
	}
	err = r.writeRegisters(
		regWrite{NRFRegEnRxAddr, mask | 1},
		regWrite{NRFRegEnAA, 0},
		regWrite{NRFRegDynPD, 0},
		regWrite{NRFRegFeature, 0},
		regWrite{NRFRegRxPWP0, cfg.PayloadSize},
	)
	if err != nil {
		return err
	}
	return r.enterMode(r.RxMode)
}
