// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lts

import "encoding/binary"

// EncodeU16LE returns v as two bytes, lowest first.
func EncodeU16LE(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

// EncodeU32LE returns v as four bytes, lowest first.
func EncodeU32LE(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// DecodeU16LE decodes the first two bytes of b.
func DecodeU16LE(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// DecodeU32LE decodes the first four bytes of b.
func DecodeU32LE(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// DecodeU16Slice decodes len(b)/2 consecutive little-endian words.
func DecodeU16Slice(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return out
}

// DecodeU32Slice decodes len(b)/4 consecutive little-endian words.
func DecodeU32Slice(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return out
}

// Payload accumulates little-endian command arguments.
//
//	conn.Send(GroupTiming, TimingGetTiming, Payload{}.U16(msb).U8(mode).U8(ch)...)
type Payload []byte

// U8 appends one byte.
func (p Payload) U8(v byte) Payload { return append(p, v) }

// U16 appends a 16-bit word.
func (p Payload) U16(v uint16) Payload { return binary.LittleEndian.AppendUint16(p, v) }

// U32 appends a 32-bit word.
func (p Payload) U32(v uint32) Payload { return binary.LittleEndian.AppendUint32(p, v) }
