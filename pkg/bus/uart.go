// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"github.com/Thermoquad/testbench/pkg/lts"
)

// baudSelectors maps a baud rate to the firmware's selector code.
var baudSelectors = map[int]byte{
	9600:    lts.Baud9600,
	14400:   lts.Baud14400,
	19200:   lts.Baud19200,
	28800:   lts.Baud28800,
	38400:   lts.Baud38400,
	57600:   lts.Baud57600,
	115200:  lts.Baud115200,
	230400:  lts.Baud230400,
	1000000: lts.Baud1000000,
}

// BaudSelector returns the selector code for a supported baud rate.
func BaudSelector(baud int) (byte, error) {
	sel, ok := baudSelectors[baud]
	if !ok {
		return 0, &lts.OutOfRangeError{What: "baud rate", Value: float64(baud)}
	}
	return sel, nil
}

// UART is the instrument's second UART, used to talk to add-on boards.
type UART struct {
	conn *lts.Conn
}

// NewUART returns UART2 on conn.
func NewUART(conn *lts.Conn) *UART {
	return &UART{conn: conn}
}

func (u *UART) command(op byte, payload ...byte) error {
	if err := u.conn.Send(lts.GroupUART2, op, payload...); err != nil {
		return err
	}
	_, err := u.conn.Ack()
	return err
}

// SendChar transmits one byte.
func (u *UART) SendChar(c byte) error { return u.command(lts.UARTSendChar, c) }

// SendInt transmits a 16-bit word, low byte first.
func (u *UART) SendInt(v uint16) error {
	return u.command(lts.UARTSendInt, lts.Payload{}.U16(v)...)
}

// SendAddress transmits a byte with the address bit set, selecting which
// slave on the line listens to the following data.
func (u *UART) SendAddress(addr byte) error {
	return u.command(lts.UARTSendAddress, addr)
}

// SetBaud sets the UART2 baud rate.
func (u *UART) SetBaud(baud int) error {
	sel, err := BaudSelector(baud)
	if err != nil {
		return err
	}
	return u.command(lts.UARTSetBaud, sel)
}

// SetMode writes the raw parity and stop bit configuration.
func (u *UART) SetMode(mode byte) error { return u.command(lts.UARTSetMode, mode) }
