// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calib

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FlashChannels are the channels stored in the on-device calibration blob,
// in storage order.
var FlashChannels = ChannelNames[:9]

// FlashBlobSize is the byte length of the blob: 9 channels x 8 gains x 3
// float32 coefficients.
const FlashBlobSize = 9 * NumGains * 3 * 4

// FromFlash decodes the coefficient blob written to bulk flash by the
// calibration tool. Coefficients are little-endian float32.
func FromFlash(blob []byte) (*Table, error) {
	if len(blob) < FlashBlobSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", errBlobLength, len(blob), FlashBlobSize)
	}

	polys := make(map[string][NumGains]Poly, len(ChannelNames))
	off := 0
	for _, name := range FlashChannels {
		var row [NumGains]Poly
		for g := range row {
			for k := 0; k < 3; k++ {
				v := math.Float32frombits(binary.LittleEndian.Uint32(blob[off:]))
				off += 4
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					// Erased flash reads back as 0xFF: no calibration stored
					return nil, fmt.Errorf("%w: %s gain %d is not a number", ErrBadTable, name, g)
				}
				row[g][k] = float64(v)
			}
		}
		polys[name] = row
	}

	t := &Table{polys: polys, source: "flash"}
	t.fillMissing()
	return t, nil
}

// FlashBlob encodes the flash-stored channels of t for writing back.
func (t *Table) FlashBlob() []byte {
	blob := make([]byte, 0, FlashBlobSize)
	for _, name := range FlashChannels {
		row := t.polys[name]
		for _, p := range row {
			for _, c := range p {
				blob = binary.LittleEndian.AppendUint32(blob, math.Float32bits(float32(c)))
			}
		}
	}
	return blob
}
