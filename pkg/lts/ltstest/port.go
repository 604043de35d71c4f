// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ltstest provides an in-memory instrument port for tests.
package ltstest

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Port records everything the host writes and plays back scripted device
// replies. When the script runs dry, Read returns (0, nil) like a serial
// port whose read timeout elapsed.
type Port struct {
	written bytes.Buffer
	replies bytes.Buffer
	pending []byte
	closed  bool
}

// NewPort returns a port that will reply with the given bytes.
func NewPort(reply ...byte) *Port {
	p := &Port{}
	p.replies.Write(reply)
	return p
}

// Reply appends raw reply bytes.
func (p *Port) Reply(b ...byte) *Port {
	p.replies.Write(b)
	return p
}

// ReplyAfterWrite queues reply bytes that become readable only after the
// next Write, so input drained before a command cannot consume them.
func (p *Port) ReplyAfterWrite(b ...byte) *Port {
	p.pending = append(p.pending, b...)
	return p
}

// ReplyU16 appends little-endian 16-bit reply words.
func (p *Port) ReplyU16(vs ...uint16) *Port {
	for _, v := range vs {
		p.replies.Write(binary.LittleEndian.AppendUint16(nil, v))
	}
	return p
}

// ReplyU32 appends little-endian 32-bit reply words.
func (p *Port) ReplyU32(vs ...uint32) *Port {
	for _, v := range vs {
		p.replies.Write(binary.LittleEndian.AppendUint32(nil, v))
	}
	return p
}

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) {
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.replies.Len() == 0 {
		return 0, nil
	}
	return p.replies.Read(b)
}

// Write implements io.Writer.
func (p *Port) Write(b []byte) (int, error) {
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p.pending) > 0 {
		p.replies.Write(p.pending)
		p.pending = nil
	}
	return p.written.Write(b)
}

// Close implements io.Closer.
func (p *Port) Close() error {
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool { return p.closed }

// Written returns every byte written so far.
func (p *Port) Written() []byte { return p.written.Bytes() }

// Remaining returns the number of unread reply bytes.
func (p *Port) Remaining() int { return p.replies.Len() }

// Reset clears the write log.
func (p *Port) Reset() { p.written.Reset() }
