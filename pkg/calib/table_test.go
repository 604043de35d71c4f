// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calib

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFallback_ZeroOffsetChannels(t *testing.T) {
	table := OrFallback(Load(filepath.Join(t.TempDir(), "missing.yaml")))
	if !table.IsFallback() {
		t.Fatal("IsFallback() = false for missing file")
	}

	for _, ch := range []string{"CH5", "CH6", "CH7", "CH8", "CH9", "5V", "PCS", "9V", "IN1", "SEN", "TEMP"} {
		v, err := table.Evaluate(ch, 0, 0, TenBit)
		if err != nil {
			t.Fatalf("Evaluate(%s) error = %v", ch, err)
		}
		if v != 0 {
			t.Errorf("Evaluate(%s, 0, 0) = %v, want 0", ch, v)
		}
	}
}

func TestFallback_Bipolar(t *testing.T) {
	table := Fallback()
	tests := []struct {
		name string
		gain int
		raw  float64
		res  Resolution
		want float64
	}{
		{"mid scale", 0, 511.5, TenBit, 0},
		{"code 341", 0, 341, TenBit, 5.5},
		{"full scale", 0, 1023, TenBit, -16.5},
		{"gain 2x halves", 1, 341, TenBit, 2.75},
		{"12-bit scaled", 0, 1364, TwelveBit, 5.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Evaluate("CH1", tt.gain, tt.raw, tt.res)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("Evaluate(CH1, %d, %v) = %v, want %v", tt.gain, tt.raw, got, tt.want)
			}
		})
	}
}

func TestFallback_EveryChannelEveryGain(t *testing.T) {
	table := Fallback()
	for _, ch := range ChannelNames {
		for g := 0; g < NumGains; g++ {
			if _, err := table.Poly(ch, g); err != nil {
				t.Errorf("Poly(%s, %d) error = %v", ch, g, err)
			}
		}
	}
}

func TestEvaluate_Errors(t *testing.T) {
	table := Fallback()
	if _, err := table.Evaluate("CH1", 8, 0, TenBit); !errors.Is(err, ErrGainRange) {
		t.Errorf("gain 8 error = %v, want ErrGainRange", err)
	}
	if _, err := table.Evaluate("CH42", 0, 0, TenBit); !errors.Is(err, ErrNoChannel) {
		t.Errorf("unknown channel error = %v, want ErrNoChannel", err)
	}
}

// ============================================================================
// Loading
// ============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		check   func(*testing.T, *Table)
	}{
		{
			name: "yaml eight gains",
			data: `CH1:
- [0.0001, -0.03, 16.4]
- [0, -0.016, 8.2]
- [0, 0, 1]
- [0, 0, 2]
- [0, 0, 3]
- [0, 0, 4]
- [0, 0, 5]
- [0, 0, 6]
`,
			check: func(t *testing.T, table *Table) {
				p, _ := table.Poly("CH1", 0)
				if p != (Poly{0.0001, -0.03, 16.4}) {
					t.Errorf("Poly(CH1, 0) = %v", p)
				}
				p, _ = table.Poly("CH1", 7)
				if p != (Poly{0, 0, 6}) {
					t.Errorf("Poly(CH1, 7) = %v", p)
				}
				if len(table.Filled()) != len(ChannelNames)-1 {
					t.Errorf("Filled() = %v, want every channel but CH1", table.Filled())
				}
			},
		},
		{
			name: "json single gain replicated",
			data: `{"SEN": [[0, 0.5, 0.1]]}`,
			check: func(t *testing.T, table *Table) {
				for g := 0; g < NumGains; g++ {
					p, _ := table.Poly("SEN", g)
					if p != (Poly{0, 0.5, 0.1}) {
						t.Errorf("Poly(SEN, %d) = %v", g, p)
					}
				}
			},
		},
		{
			name: "loaded rail overrides constant",
			data: `{"5V": [[0, 0.007, 0.01]]}`,
			check: func(t *testing.T, table *Table) {
				p, _ := table.Poly("5V", 0)
				if p != (Poly{0, 0.007, 0.01}) {
					t.Errorf("Poly(5V, 0) = %v, want loaded row", p)
				}
				for _, name := range table.Filled() {
					if name == "5V" {
						t.Errorf("Filled() = %v, should not include 5V", table.Filled())
					}
				}
			},
		},
		{name: "wrong gain count", data: `{"CH1": [[0,0,1],[0,0,2]]}`, wantErr: true},
		{name: "wrong coefficient count", data: `{"CH1": [[0,1]]}`, wantErr: true},
		{name: "empty", data: ``, wantErr: true},
		{name: "not a table", data: `hello`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Parse([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrBadTable) {
					t.Fatalf("Parse() error = %v, want ErrBadTable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tt.check(t, table)
		})
	}
}

func TestLoad_BadFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calib.yaml")
	if err := os.WriteFile(path, []byte("{{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	table := OrFallback(Load(path))
	if !table.IsFallback() {
		t.Error("OrFallback(Load(bad)) is not the fallback table")
	}
}

func TestExportLoad(t *testing.T) {
	dir := t.TempDir()
	for _, format := range []string{"yaml", "json", "cbor"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Fallback().Export(&buf, format); err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			path := filepath.Join(dir, "calib."+format)
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				t.Fatal(err)
			}
			table, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if table.Source() != path {
				t.Errorf("Source() = %q, want %q", table.Source(), path)
			}
			if len(table.Filled()) != 0 {
				t.Errorf("Filled() = %v, want none", table.Filled())
			}
			v, _ := table.Evaluate("CH1", 0, 341, TenBit)
			if !almostEqual(v, 5.5) {
				t.Errorf("Evaluate(CH1, 0, 341) = %v, want 5.5", v)
			}
		})
	}
	if err := Fallback().Export(&bytes.Buffer{}, "xml"); err == nil {
		t.Error("Export(xml) error = nil")
	}
}

// ============================================================================
// Flash blob
// ============================================================================

func TestFromFlash(t *testing.T) {
	blob := Fallback().FlashBlob()
	if len(blob) != FlashBlobSize {
		t.Fatalf("FlashBlob() length = %d, want %d", len(blob), FlashBlobSize)
	}

	table, err := FromFlash(blob)
	if err != nil {
		t.Fatalf("FromFlash() error = %v", err)
	}
	v, _ := table.Evaluate("CH1", 0, 341, TenBit)
	if math.Abs(v-5.5) > 1e-4 {
		t.Errorf("Evaluate(CH1, 0, 341) = %v, want 5.5 within float32 precision", v)
	}

	erased := bytes.Repeat([]byte{0xFF}, FlashBlobSize)
	if _, err := FromFlash(erased); !errors.Is(err, ErrBadTable) {
		t.Errorf("FromFlash(erased) error = %v, want ErrBadTable", err)
	}
	if _, err := FromFlash(blob[:10]); err == nil {
		t.Error("FromFlash(short) error = nil")
	}
}
