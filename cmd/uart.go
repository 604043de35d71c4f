// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/Thermoquad/testbench/pkg/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	uartBaud int
	uartHex  bool
)

var uartCmd = &cobra.Command{
	Use:   "uart",
	Short: "Relay stdin/stdout through the instrument's UART",
	Long: `Put the instrument into UART passthrough and relay raw bytes: stdin is sent
out of UART2 (SCL as TX, SDA as RX) and everything received is written to
stdout. The instrument leaves passthrough after half a second without traffic.

Example (flash a board with a serial bootloader):
  testbench uart --baud 57600 < firmware.bin`,
	RunE: runUART,
}

func init() {
	rootCmd.AddCommand(uartCmd)
	uartCmd.Flags().IntVarP(&uartBaud, "baud", "b", 9600, "UART baud rate")
	uartCmd.Flags().BoolVar(&uartHex, "hex", false, "Print received bytes as a hex dump")
}

func runUART(cmd *cobra.Command, args []string) error {
	inst, err := OpenInstrument(cmd.Context())
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := inst.EnableUARTPassthrough(uartBaud); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Passthrough at %d baud on %s, press Ctrl+C to exit\n", uartBaud, inst.Conn().Name())

	var out io.Writer = os.Stdout
	if uartHex {
		dumper := hex.Dumper(os.Stdout)
		defer dumper.Close()
		out = dumper
	}

	conn := inst.Conn()
	go func() {
		if err := relayInput(os.Stdin, conn); err != nil {
			logger.Warn("stdin relay stopped", zap.Error(err))
		}
	}()

	return relayOutput(cmd.Context().Done(), conn, out)
}

// relayInput copies r to the instrument until EOF
func relayInput(r io.Reader, conn *lts.Conn) error {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := conn.WriteBytes(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// relayOutput copies received bytes to w until done is closed or the
// connection is lost
func relayOutput(done <-chan struct{}, conn io.Reader, w io.Writer) error {
	buf := make([]byte, 128)
	for {
		select {
		case <-done:
			return nil
		default:
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, transport.ErrConnectionClosed) {
				logger.Info("connection closed")
				return nil
			}
			return err
		}
	}
}
