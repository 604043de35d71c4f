// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package digital

// TrimTrailingZeros drops the unused zero tail of a timestamp buffer.
func TrimTrailingZeros(raw []uint32) []uint32 {
	n := len(raw)
	for n > 0 && raw[n-1] == 0 {
		n--
	}
	return raw[:n]
}

// CorrectRollover rebuilds a non-decreasing sequence from a wrapping counter
// of the given width. Each nonzero value smaller than its predecessor adds
// the full counter range to itself and everything after it.
func CorrectRollover(raw []uint32, bits int) []int64 {
	span := int64(1) << bits
	out := make([]int64, len(raw))
	var offset int64
	for i, v := range raw {
		out[i] = int64(v) + offset
		if i > 0 && out[i] != 0 && out[i] < out[i-1] {
			offset += span
			out[i] += span
		}
	}
	return out
}
