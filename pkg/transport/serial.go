// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport finds the instrument, bootstraps its serial link and
// hands back an exclusive lts.Conn.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/testbench/pkg/lts"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Link parameters
const (
	BootstrapBaud   = 9600
	OperatingBaud   = 1000000
	DefaultTimeout  = time.Second
	bootstrapFlush  = 100
	drainLimit      = 1000
	bootstrapWait   = 20 * time.Millisecond
	reconnectWait   = 100 * time.Millisecond
	reconnectSettle = 200 * time.Millisecond
)

// ErrReconnectFailed wraps every failure to reopen a known port.
var ErrReconnectFailed = errors.New("reconnect failed")

// Options selects the port and link parameters. Zero values mean: probe the
// candidate list, one second read timeout, no logging.
type Options struct {
	Port    string
	Timeout time.Duration
	Logger  *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// serialPort is an open operating-baud port plus its advisory lock.
type serialPort struct {
	serial.Port
	lock *portLock
}

func (p *serialPort) Close() error {
	err := p.Port.Close()
	p.lock.release()
	return err
}

func operatingMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Open connects to the instrument. With Options.Port set only that path is
// tried; otherwise every candidate is probed in order.
func Open(opts Options) (*lts.Conn, error) {
	opts.setDefaults()
	logger := opts.Logger

	if opts.Port != "" {
		return probe(opts.Port, opts)
	}

	var busy error
	for _, path := range Candidates(logger) {
		conn, err := probe(path, opts)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, lts.ErrPortBusy) {
			busy = err
		}
		logger.Debug("candidate rejected", zap.String("port", path), zap.Error(err))
	}
	if busy != nil {
		return nil, busy
	}
	return nil, lts.ErrDeviceNotFound
}

// probe bootstraps one path and validates the firmware version.
func probe(path string, opts Options) (*lts.Conn, error) {
	logger := opts.Logger.With(zap.String("port", path))

	port, err := bootstrap(path, opts.Timeout)
	if err != nil {
		return nil, err
	}

	query := lts.NewConn(port, lts.WithName(path), lts.WithLogger(logger), lts.WithTimeout(opts.Timeout))
	version, err := queryVersion(query)
	if err != nil {
		port.Close()
		return nil, err
	}

	logger.Info("connected", zap.String("version", version))
	return lts.NewConn(port,
		lts.WithName(path),
		lts.WithLogger(logger),
		lts.WithTimeout(opts.Timeout),
		lts.WithVersion(version),
		lts.WithReopen(func() (lts.Port, error) { return reopen(path, opts.Timeout, logger) }),
	), nil
}

// queryVersion drains stale input, asks for the version line and checks the
// product prefix.
func queryVersion(c *lts.Conn) (string, error) {
	if _, err := c.Drain(drainLimit); err != nil {
		return "", err
	}
	if err := c.Command(lts.GroupCommon, lts.CommonVersion); err != nil {
		return "", err
	}
	line, err := c.ReadLine()
	if err != nil {
		return "", fmt.Errorf("%s: version query: %w", c.Name(), err)
	}
	if !strings.HasPrefix(line, lts.VersionPrefix) {
		return "", fmt.Errorf("%s: unexpected version %q: %w", c.Name(), strings.TrimSpace(line), lts.ErrDeviceNotFound)
	}
	return strings.TrimSpace(line), nil
}

// bootstrap opens path at the bootstrap baud, discards stale bytes, then
// reopens it at the operating baud and takes the exclusive lock.
func bootstrap(path string, timeout time.Duration) (*serialPort, error) {
	low, err := serial.Open(path, operatingMode(BootstrapBaud))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := low.SetReadTimeout(bootstrapWait); err == nil {
		stale := make([]byte, bootstrapFlush)
		low.Read(stale)
	}
	low.Close()

	return openOperating(path, timeout)
}

func openOperating(path string, timeout time.Duration) (*serialPort, error) {
	port, err := serial.Open(path, operatingMode(OperatingBaud))
	if err != nil {
		return nil, fmt.Errorf("open %s at %d baud: %w", path, OperatingBaud, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	lock, err := acquireLock(path)
	if err != nil {
		port.Close()
		return nil, err
	}
	return &serialPort{Port: port, lock: lock}, nil
}

// reopen repeats the baud bootstrap on a known path for Conn.Reconnect.
func reopen(path string, timeout time.Duration, logger *zap.Logger) (lts.Port, error) {
	logger.Warn("reconnecting")

	low, err := serial.Open(path, operatingMode(BootstrapBaud))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrReconnectFailed, path, err)
	}
	low.SetReadTimeout(reconnectWait)
	low.Close()
	time.Sleep(reconnectSettle)

	port, err := openOperating(path, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReconnectFailed, err)
	}
	return port, nil
}
