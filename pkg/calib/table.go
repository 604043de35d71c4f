// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package calib stores the per-channel, per-gain polynomials that turn raw
// ADC codes into volts.
package calib

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"sigs.k8s.io/yaml"
)

// NumGains is the number of PGA gain settings.
const NumGains = 8

// Gains maps a gain index to its amplifier multiplier.
var Gains = [NumGains]float64{1, 2, 4, 5, 8, 10, 16, 32}

// ChannelNames lists every analog input in multiplexer order. Channels past
// index 11 sit behind a fixed-gain amplifier.
var ChannelNames = []string{
	"CH1", "CH2", "CH3", "CH4", "CH5", "CH6", "CH7", "CH8", "CH9",
	"5V", "PCS", "9V", "IN1", "SEN", "TEMP",
}

// Resolution is the ADC conversion width a raw code was taken with.
type Resolution int

const (
	TenBit    Resolution = 10
	TwelveBit Resolution = 12
)

// Poly is a quadratic, highest-degree coefficient first: p[0]x² + p[1]x + p[2].
type Poly [3]float64

// Eval evaluates the polynomial at x.
func (p Poly) Eval(x float64) float64 {
	return (p[0]*x+p[1])*x + p[2]
}

// Errors returned while loading a table
var (
	ErrBadTable   = errors.New("malformed calibration table")
	ErrNoChannel  = errors.New("channel has no calibration")
	ErrGainRange  = errors.New("gain index out of range")
	errBlobLength = errors.New("calibration blob has wrong length")
)

// Table maps (channel, gain) to a Poly.
type Table struct {
	polys    map[string][NumGains]Poly
	source   string
	fallback bool
	filled   []string
}

// Source describes where the table came from.
func (t *Table) Source() string { return t.source }

// IsFallback reports whether this is the built-in constant table.
func (t *Table) IsFallback() bool { return t.fallback }

// Filled lists channels that were absent from the loaded data and were
// taken from the fallback constants.
func (t *Table) Filled() []string { return t.filled }

// Poly returns the polynomial for channel at gain.
func (t *Table) Poly(channel string, gain int) (Poly, error) {
	if gain < 0 || gain >= NumGains {
		return Poly{}, fmt.Errorf("%w: %d", ErrGainRange, gain)
	}
	polys, ok := t.polys[channel]
	if !ok {
		return Poly{}, fmt.Errorf("%w: %s", ErrNoChannel, channel)
	}
	return polys[gain], nil
}

// Evaluate converts raw to volts. 12-bit codes are scaled to the 10-bit range
// the polynomials were fitted against.
func (t *Table) Evaluate(channel string, gain int, raw float64, res Resolution) (float64, error) {
	p, err := t.Poly(channel, gain)
	if err != nil {
		return 0, err
	}
	if res == TwelveBit {
		raw /= 4
	}
	return p.Eval(raw), nil
}

// Channels returns the calibrated channel names, sorted.
func (t *Table) Channels() []string {
	names := make([]string, 0, len(t.polys))
	for name := range t.polys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ============================================================================
// Fallback
// ============================================================================

func scaled(a, b, c func(g float64) float64) [NumGains]Poly {
	var out [NumGains]Poly
	for i, g := range Gains {
		out[i] = Poly{a(g), b(g), c(g)}
	}
	return out
}

func zero(float64) float64 { return 0 }

func constant(v float64) func(float64) float64 {
	return func(float64) float64 { return v }
}

// fallbackPolys are the nominal front-end transfer functions. CH1-CH4 are
// inverting with a mid-rail offset; the rest are plain dividers.
func fallbackPolys() map[string][NumGains]Poly {
	m := make(map[string][NumGains]Poly, len(ChannelNames))
	for _, ch := range []string{"CH1", "CH2", "CH3", "CH4"} {
		m[ch] = scaled(zero, func(g float64) float64 { return -33.0 / 1023 / g }, func(g float64) float64 { return 16.5 / g })
	}
	for _, ch := range []string{"CH5", "CH6", "CH7", "CH8", "CH9"} {
		m[ch] = scaled(zero, func(g float64) float64 { return 3.3 / 1023 / g }, zero)
	}
	for name, p := range auxiliaryPolys() {
		m[name] = p
	}
	return m
}

// auxiliaryPolys covers the fixed rails and single-gain inputs, which are
// never part of a calibration run.
func auxiliaryPolys() map[string][NumGains]Poly {
	return map[string][NumGains]Poly{
		"5V":   scaled(zero, func(g float64) float64 { return 2 * 3.3 / 1023 / g }, zero),
		"PCS":  scaled(zero, func(g float64) float64 { return 3.3 / 1023 / g }, zero),
		"9V":   scaled(zero, func(g float64) float64 { return 33.0 / 1023 / g }, zero),
		"IN1":  scaled(zero, constant(3.3/1023), zero),
		"SEN":  scaled(zero, constant(3.3/1023), zero),
		"TEMP": scaled(zero, constant(3.3/1023), zero),
	}
}

// Fallback returns the table of nominal constants.
func Fallback() *Table {
	return &Table{polys: fallbackPolys(), source: "built-in", fallback: true}
}

// OrFallback returns t, or the fallback table when err is non-nil.
//
//	table := calib.OrFallback(calib.Load(path))
func OrFallback(t *Table, err error) *Table {
	if err != nil || t == nil {
		return Fallback()
	}
	return t
}

// ============================================================================
// Loading
// ============================================================================

// document is the on-disk layout: channel name -> one [a, b, c] per gain.
// A single entry applies to all gains.
type document map[string][][]float64

// Load reads a table from path. Files ending in .cbor are CBOR; anything else
// is parsed as YAML, which also accepts JSON.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	var t *Table
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		t, err = ParseCBOR(data)
	} else {
		t, err = Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.source = path
	return t, nil
}

// Parse decodes a YAML or JSON table.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTable, err)
	}
	return fromDocument(doc)
}

// ParseCBOR decodes a CBOR table.
func ParseCBOR(data []byte) (*Table, error) {
	var doc document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTable, err)
	}
	return fromDocument(doc)
}

func fromDocument(doc document) (*Table, error) {
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrBadTable)
	}
	polys := make(map[string][NumGains]Poly, len(ChannelNames))
	for name, entries := range doc {
		var row [NumGains]Poly
		switch len(entries) {
		case 1, NumGains:
		default:
			return nil, fmt.Errorf("%w: %s has %d gain entries, want 1 or %d", ErrBadTable, name, len(entries), NumGains)
		}
		for i := range row {
			e := entries[0]
			if len(entries) == NumGains {
				e = entries[i]
			}
			if len(e) != 3 {
				return nil, fmt.Errorf("%w: %s gain %d has %d coefficients, want 3", ErrBadTable, name, i, len(e))
			}
			row[i] = Poly{e[0], e[1], e[2]}
		}
		polys[name] = row
	}

	t := &Table{polys: polys, source: "memory"}
	t.fillMissing()
	return t, nil
}

// fillMissing installs fallback rows for channels the data did not cover.
// Rows present in the data are kept, the fixed rails (5V, PCS, 9V)
// included: a file or flash table that carries them overrides the constants.
func (t *Table) fillMissing() {
	defaults := fallbackPolys()
	for _, name := range ChannelNames {
		if _, ok := t.polys[name]; !ok {
			t.polys[name] = defaults[name]
			t.filled = append(t.filled, name)
		}
	}
}

// ============================================================================
// Export
// ============================================================================

func (t *Table) document() document {
	doc := make(document, len(t.polys))
	for name, row := range t.polys {
		entries := make([][]float64, NumGains)
		for i, p := range row {
			entries[i] = []float64{p[0], p[1], p[2]}
		}
		doc[name] = entries
	}
	return doc
}

// Export writes the table as "yaml", "json" or "cbor".
func (t *Table) Export(w io.Writer, format string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(format) {
	case "yaml", "yml":
		data, err = yaml.Marshal(t.document())
	case "json":
		data, err = json.MarshalIndent(t.document(), "", "  ")
	case "cbor":
		var em cbor.EncMode
		em, err = cbor.CoreDetEncOptions().EncMode()
		if err == nil {
			data, err = em.Marshal(t.document())
		}
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}
