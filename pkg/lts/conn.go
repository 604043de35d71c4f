// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lts

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Port is the byte-stream endpoint a Conn transacts over. Reads must return
// (0, nil) when the configured read timeout elapses, as serial ports do.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// inputResetter is implemented by ports that can discard the OS input queue.
type inputResetter interface {
	ResetInputBuffer() error
}

// timeoutSetter is implemented by ports whose read timeout can be changed.
type timeoutSetter interface {
	SetReadTimeout(t time.Duration) error
}

// DrainTimeout is the read timeout used while discarding stale input.
const DrainTimeout = 10 * time.Millisecond

// ErrNoReopen is returned by Reconnect when the Conn has no way to reopen its
// port.
var ErrNoReopen = errors.New("connection cannot be reopened")

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger used for frame-level debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithName records the port path or URL for logs and errors.
func WithName(name string) Option {
	return func(c *Conn) { c.name = name }
}

// WithVersion records the firmware version negotiated during bootstrap.
func WithVersion(v string) Option {
	return func(c *Conn) { c.version = v }
}

// WithTimeout records the operating read timeout of the port. Drain shortens
// the timeout on ports that support it and restores this value afterwards.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) { c.timeout = d }
}

// WithReopen installs the function Reconnect uses to obtain a fresh port.
func WithReopen(fn func() (Port, error)) Option {
	return func(c *Conn) { c.reopen = fn }
}

// Conn is one exclusive connection to the instrument. It carries the command
// codec and the ack/burst coordinator.
//
// Conn is not safe for concurrent use. The wire protocol has no request IDs,
// so only one command may be in flight at a time.
type Conn struct {
	port    Port
	name    string
	version string
	logger  *zap.Logger
	reopen  func() (Port, error)
	stats   *Statistics
	timeout time.Duration

	burst    bool
	burstBuf []byte
	pending  int
}

// NewConn wraps an already bootstrapped port.
func NewConn(port Port, opts ...Option) *Conn {
	c := &Conn{
		port:   port,
		logger: zap.NewNop(),
		stats:  NewStatistics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the port path or URL.
func (c *Conn) Name() string { return c.name }

// Version returns the firmware version string.
func (c *Conn) Version() string { return c.version }

// Stats returns the wire counters.
func (c *Conn) Stats() *Statistics { return c.stats }

// Logger returns the connection's logger, for subsystems built on it.
func (c *Conn) Logger() *zap.Logger { return c.logger }

// Close releases the port.
func (c *Conn) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

// ============================================================================
// Write primitives
// ============================================================================

// Command writes a subsystem/operation header.
func (c *Conn) Command(group, op byte) error {
	return c.Send(group, op)
}

// Send writes a command header and its payload in a single write.
func (c *Conn) Send(group, op byte, payload ...byte) error {
	c.stats.Commands++
	if ce := c.logger.Check(zap.DebugLevel, "command"); ce != nil {
		ce.Write(
			zap.String("cmd", FormatCommand(group, op)),
			zap.Binary("payload", payload),
			zap.Bool("burst", c.burst))
	}
	return c.write(append([]byte{group, op}, payload...))
}

// WriteByte writes a single byte.
func (c *Conn) WriteByte(b byte) error {
	return c.write([]byte{b})
}

// WriteBytes writes b as-is.
func (c *Conn) WriteBytes(b []byte) error {
	return c.write(b)
}

// WriteU16LE writes v little-endian.
func (c *Conn) WriteU16LE(v uint16) error {
	return c.write(EncodeU16LE(v))
}

// WriteU32LE writes v little-endian.
func (c *Conn) WriteU32LE(v uint32) error {
	return c.write(EncodeU32LE(v))
}

func (c *Conn) write(b []byte) error {
	if c.burst {
		c.burstBuf = append(c.burstBuf, b...)
		return nil
	}
	return c.transmit(b)
}

func (c *Conn) transmit(b []byte) error {
	if c.port == nil {
		return &CommunicationError{Op: "Write", Want: len(b), Err: io.ErrClosedPipe}
	}
	n, err := c.port.Write(b)
	c.stats.BytesOut += uint64(n)
	if err != nil {
		return fmt.Errorf("write to %s: %w", c.name, err)
	}
	if n != len(b) {
		return fmt.Errorf("write to %s: %w", c.name, io.ErrShortWrite)
	}
	return nil
}

// ============================================================================
// Read primitives
// ============================================================================

// ReadByte reads one byte.
func (c *Conn) ReadByte() (byte, error) {
	b, err := c.readFull("ReadByte", 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16LE reads a little-endian 16-bit value.
func (c *Conn) ReadU16LE() (uint16, error) {
	b, err := c.readFull("ReadU16LE", 2)
	if err != nil {
		return 0, err
	}
	return DecodeU16LE(b), nil
}

// ReadU32LE reads a little-endian 32-bit value.
func (c *Conn) ReadU32LE() (uint32, error) {
	b, err := c.readFull("ReadU32LE", 4)
	if err != nil {
		return 0, err
	}
	return DecodeU32LE(b), nil
}

// ReadBytes reads exactly n bytes.
func (c *Conn) ReadBytes(n int) ([]byte, error) {
	return c.readFull("ReadBytes", n)
}

// Read returns whatever input is available, up to len(p) bytes. A timeout
// returns 0 and no error. Used for raw relays such as UART passthrough.
func (c *Conn) Read(p []byte) (int, error) {
	if c.burst {
		return 0, ErrReadInBurst
	}
	return c.readPort(p)
}

// ReadLine reads up to and including '\n'. A timeout after at least one
// byte returns the partial line.
func (c *Conn) ReadLine() (string, error) {
	if c.burst {
		return "", ErrReadInBurst
	}
	var line []byte
	one := make([]byte, 1)
	for {
		n, err := c.readPort(one)
		if n == 1 {
			line = append(line, one[0])
			if one[0] == '\n' {
				return string(line), nil
			}
			continue
		}
		if len(line) > 0 && err == nil {
			return string(line), nil
		}
		c.stats.ShortReads++
		return "", &CommunicationError{Op: "ReadLine", Want: 1, Got: 0, Err: err}
	}
}

// Drain discards buffered input: the OS queue when the port supports it,
// then up to max bytes until a read times out. Ports with an adjustable
// timeout are read with DrainTimeout so an empty queue costs little.
func (c *Conn) Drain(max int) (total int, err error) {
	if c.port == nil {
		return 0, nil
	}
	if r, ok := c.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return 0, fmt.Errorf("reset input on %s: %w", c.name, err)
		}
	}
	if ts, ok := c.port.(timeoutSetter); ok && c.timeout > 0 {
		if err := ts.SetReadTimeout(DrainTimeout); err != nil {
			return 0, fmt.Errorf("set drain timeout on %s: %w", c.name, err)
		}
		defer func() {
			if rerr := ts.SetReadTimeout(c.timeout); rerr != nil && err == nil {
				err = fmt.Errorf("restore read timeout on %s: %w", c.name, rerr)
			}
		}()
	}

	buf := make([]byte, max)
	for total < max {
		n, rerr := c.readPort(buf[:max-total])
		total += n
		if rerr != nil || n == 0 {
			break
		}
	}
	if total > 0 {
		c.logger.Debug("drained stale input", zap.Int("bytes", total))
	}
	return total, nil
}

func (c *Conn) readPort(p []byte) (int, error) {
	if c.port == nil {
		return 0, io.ErrClosedPipe
	}
	n, err := c.port.Read(p)
	c.stats.BytesIn += uint64(n)
	return n, err
}

// readFull reads exactly n bytes. A read returning no data means the port
// timed out.
func (c *Conn) readFull(op string, n int) ([]byte, error) {
	if c.burst {
		return nil, ErrReadInBurst
	}
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := c.readPort(buf[got:])
		got += m
		if got == n {
			break
		}
		if err != nil || m == 0 {
			c.stats.ShortReads++
			return nil, &CommunicationError{Op: op, Want: n, Got: got, Err: err}
		}
	}
	return buf, nil
}

// ============================================================================
// Ack / burst coordinator
// ============================================================================

// Ack consumes the command's ack byte and returns it raw. A low nibble of
// StatusArgError or StatusFailed yields a *ProtocolStatusError alongside the
// byte. In burst mode no read happens: the ack is counted for FlushBurst and
// StatusSuccess is returned.
func (c *Conn) Ack() (byte, error) {
	if c.burst {
		c.pending++
		return StatusSuccess, nil
	}
	b, err := c.readFull("Ack", 1)
	if err != nil {
		return 0, err
	}
	c.stats.Acks++
	return b[0], c.checkStatus(b[0])
}

// AckStatus consumes the ack byte and returns its high nibble. Commands that
// pack a result into the ack use this form; see the table below.
//
//	I2C   START, RESTART, SEND       bit 0 set = address/data NACK
//	NRF   TXCHAR, WRITEPAYLOAD       radio status
//	NRF   TRANSACTION                bit 0 no ack, bit 1 no radio, bit 2 no reply
//
// Every other command uses Ack.
func (c *Conn) AckStatus() (byte, error) {
	b, err := c.Ack()
	return b >> 4, err
}

func (c *Conn) checkStatus(b byte) error {
	switch b & 0x0F {
	case StatusArgError, StatusFailed:
		c.stats.StatusErrors++
		c.logger.Warn("device status error", zap.Uint8("ack", b))
		return &ProtocolStatusError{Ack: b}
	}
	return nil
}

// BeginBurst starts queueing writes and acks instead of transmitting.
func (c *Conn) BeginBurst() {
	if c.burst {
		return
	}
	c.burst = true
	c.burstBuf = c.burstBuf[:0]
	c.pending = 0
}

// InBurst reports whether writes are being queued.
func (c *Conn) InBurst() bool { return c.burst }

// Pending returns the number of acks queued since BeginBurst.
func (c *Conn) Pending() int { return c.pending }

// FlushBurst transmits the queued bytes in one write and reads exactly one
// ack byte per queued command. Burst mode ends and the queue is cleared
// whether or not the exchange succeeds.
func (c *Conn) FlushBurst() ([]byte, error) {
	if !c.burst {
		return nil, nil
	}
	buf, pending := c.burstBuf, c.pending
	c.burst = false
	defer func() {
		c.burstBuf = buf[:0]
		c.pending = 0
	}()

	c.stats.Bursts++
	c.logger.Debug("flushing burst", zap.Int("bytes", len(buf)), zap.Int("acks", pending))
	if err := c.transmit(buf); err != nil {
		return nil, err
	}
	if pending == 0 {
		return []byte{}, nil
	}
	acks, err := c.readFull("FlushBurst", pending)
	if err != nil {
		return nil, err
	}
	c.stats.Acks += uint64(pending)
	return acks, nil
}

// ============================================================================
// Reconnect
// ============================================================================

// Reconnect replaces the port using the installed reopen function and drains
// stale input. Any queued burst is discarded.
func (c *Conn) Reconnect() error {
	if c.reopen == nil {
		return ErrNoReopen
	}
	if c.port != nil {
		_ = c.port.Close()
		c.port = nil
	}
	c.burst = false
	c.burstBuf = c.burstBuf[:0]
	c.pending = 0

	port, err := c.reopen()
	if err != nil {
		return err
	}
	c.port = port
	c.stats.Reconnects++
	c.logger.Info("reconnected", zap.String("port", c.name))
	_, err = c.Drain(1000)
	return err
}
