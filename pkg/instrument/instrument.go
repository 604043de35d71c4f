// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package instrument assembles one connection with every subsystem of the
// instrument.
//
// There is no package-level handle: callers Open an Instrument and pass it
// (or the subsystems it exposes) to whatever needs the device. Subsystems
// share the Conn and must not be used from more than one goroutine at a
// time.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/testbench/pkg/analog"
	"github.com/Thermoquad/testbench/pkg/bus"
	"github.com/Thermoquad/testbench/pkg/calib"
	"github.com/Thermoquad/testbench/pkg/digital"
	"github.com/Thermoquad/testbench/pkg/flash"
	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/Thermoquad/testbench/pkg/sources"
	"github.com/Thermoquad/testbench/pkg/transport"
	"github.com/Thermoquad/testbench/pkg/wavegen"
	"go.uber.org/zap"
)

// CalibrationSource selects where Open loads the calibration table from.
type CalibrationSource int

const (
	// CalibrationFile loads Options.CalibrationPath, or uses the built-in
	// table when the path is empty.
	CalibrationFile CalibrationSource = iota
	// CalibrationFlash decodes the table stored in the device's bulk flash.
	CalibrationFlash
)

// DDSClockScaler divides the 128 MHz reference down to the DDS clock at
// startup.
const DDSClockScaler = wavegen.DefaultClockScaler

// Options configures Open.
type Options struct {
	// Port is a serial device path. Empty probes the candidate list.
	Port    string
	Timeout time.Duration

	// URL connects through a serial-over-WebSocket bridge instead of a
	// local port.
	URL           string
	Username      string
	Password      string
	SkipTLSVerify bool

	Calibration     CalibrationSource
	CalibrationPath string

	Logger *zap.Logger
}

// Instrument is an open instrument.
type Instrument struct {
	conn   *lts.Conn
	logger *zap.Logger
	table  *calib.Table
	sleep  func(time.Duration)

	Scope   *analog.Scope
	Logic   *digital.Controller
	Wavegen *wavegen.Generator
	Sources *sources.Sources
	I2C     *bus.I2C
	SPI     *bus.SPI
	Radio   *bus.NRF24L01
	UART    *bus.UART
	Flash   *flash.Flash
}

// Open connects to the instrument and initializes it. Opening a serial port
// does not observe ctx once started; a cancelled ctx closes the connection
// as soon as the open returns.
func Open(ctx context.Context, opts Options) (*Instrument, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	type result struct {
		conn *lts.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := dial(opts)
		done <- result{conn, err}
	}()

	var conn *lts.Conn
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		conn = r.conn
	}

	inst, err := New(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return inst, nil
}

func dial(opts Options) (*lts.Conn, error) {
	if opts.URL != "" {
		return transport.OpenWebSocket(transport.WebSocketOptions{
			URL:           opts.URL,
			Username:      opts.Username,
			Password:      opts.Password,
			SkipTLSVerify: opts.SkipTLSVerify,
			Timeout:       opts.Timeout,
			Logger:        opts.Logger,
		})
	}
	return transport.Open(transport.Options{
		Port:    opts.Port,
		Timeout: opts.Timeout,
		Logger:  opts.Logger,
	})
}

// New builds every subsystem on an already open conn, loads the
// calibration table and puts the device into its default state: the DDS
// clock mapped and every amplifier at unity gain.
func New(conn *lts.Conn, opts Options) (*Instrument, error) {
	inst := assemble(conn)

	table, err := inst.loadCalibration(opts)
	if err != nil {
		return nil, err
	}
	inst.SetCalibration(table)

	if err := inst.reset(); err != nil {
		return nil, fmt.Errorf("initialize instrument: %w", err)
	}
	return inst, nil
}

func assemble(conn *lts.Conn) *Instrument {
	return &Instrument{
		conn:    conn,
		logger:  conn.Logger().Named("instrument"),
		table:   calib.Fallback(),
		sleep:   time.Sleep,
		Scope:   analog.NewScope(conn, calib.Fallback()),
		Logic:   digital.NewController(conn),
		Wavegen: wavegen.New(conn),
		Sources: sources.New(conn),
		I2C:     bus.NewI2C(conn),
		SPI:     bus.NewSPI(conn),
		Radio:   bus.NewNRF24L01(conn),
		UART:    bus.NewUART(conn),
		Flash:   flash.New(conn),
	}
}

func (i *Instrument) loadCalibration(opts Options) (*calib.Table, error) {
	var (
		table *calib.Table
		err   error
	)
	switch opts.Calibration {
	case CalibrationFlash:
		table, err = i.Flash.ReadCalibration()
		if errors.Is(err, lts.ErrCommunication) {
			return nil, err
		}
	case CalibrationFile:
		if opts.CalibrationPath == "" {
			return calib.Fallback(), nil
		}
		table, err = calib.Load(opts.CalibrationPath)
	default:
		return nil, fmt.Errorf("unknown calibration source %d", opts.Calibration)
	}
	if err != nil {
		i.logger.Warn("calibration unavailable, using built-in table", zap.Error(err))
	}
	return calib.OrFallback(table, err), nil
}

// analogAmplifiers are the channels whose amplifier is reset on startup.
// CH5 stands for the shared sensor amplifier.
var analogAmplifiers = []string{"CH1", "CH2", "CH3", "CH4", "CH5"}

func (i *Instrument) reset() error {
	if err := i.Wavegen.MapReferenceClock(DDSClockScaler, wavegen.ClockWavegen); err != nil {
		return err
	}
	for _, ch := range analogAmplifiers {
		if _, err := i.Scope.SetGain(ch, 0); err != nil {
			return err
		}
	}
	return nil
}

// Conn returns the shared connection.
func (i *Instrument) Conn() *lts.Conn { return i.conn }

// Calibration returns the active calibration table.
func (i *Instrument) Calibration() *calib.Table { return i.table }

// SetCalibration replaces the calibration table used for analog
// conversions.
func (i *Instrument) SetCalibration(t *calib.Table) {
	i.table = t
	i.Scope.SetTable(t)
	i.logger.Info("calibration loaded",
		zap.String("source", t.Source()),
		zap.Bool("fallback", t.IsFallback()),
		zap.Strings("filled", t.Filled()))
}

// Version returns the firmware version read when the link was opened.
func (i *Instrument) Version() string { return i.conn.Version() }

// Close releases the port.
func (i *Instrument) Close() error { return i.conn.Close() }
