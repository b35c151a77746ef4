package obd

import (
	"bytes"
	"math"
	"testing"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		pid  byte
		data []byte
		want float64
	}{
		{0x04, []byte{0x7F}, float64(0x7F) * 100 / 255},
		{0x05, []byte{0x5A}, 50},
		{0x06, []byte{0x85}, 3.90625},
		{0x07, []byte{0x82}, 1.5625},
		{0x0C, []byte{0x1A, 0xF8}, 1726},
		{0x0D, []byte{0x37}, 55},
		{0x0E, []byte{0x80}, 0},
		{0x0F, []byte{0x46}, 30},
		{0x10, []byte{0x0B, 0xE6}, 30.46},
		{0x14, []byte{0x66, 0x00}, 0.51},
		{0x22, []byte{0x03, 0xE8}, 79},
		{0x2F, []byte{0x5A}, float64(0x5A) * 100 / 255},
		// Evap vapor pressure is two's complement: zero raw is zero Pa,
		// negative only from 0x8000 up.
		{0x32, []byte{0x00, 0x00}, 0},
		{0x32, []byte{0x7F, 0xFF}, 8191.75},
		{0x32, []byte{0x80, 0x00}, -8192},
		{0x32, []byte{0xFF, 0xFF}, -0.25},
		{0x33, []byte{0x65}, 101},
		{0x42, []byte{0x35, 0x52}, 13.65},
		{0x44, []byte{0x80, 0x00}, 1},
		{0x46, []byte{0x3C}, 20},
		{0x5C, []byte{0x55}, 45},
	}

	for _, tt := range tests {
		def, ok := Lookup(tt.pid)
		if !ok {
			t.Fatalf("no definition for pid %02X", tt.pid)
		}
		got := def.Convert(tt.data)
		if math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("pid %02X Convert(% X) = %v, want %v", tt.pid, tt.data, got, tt.want)
		}
	}
}

func TestLookup(t *testing.T) {
	def, ok := Lookup(PIDEngineRPM)
	if !ok {
		t.Fatal("Lookup(PIDEngineRPM) missing")
	}
	if def.Name != "Engine RPM" || def.Unit != "rpm" || def.Bytes != 2 {
		t.Errorf("Lookup(PIDEngineRPM) = %+v", def)
	}

	for _, pid := range []byte{PIDMonitorStatus, PIDFreezeFrameDTC, 0xFF} {
		if _, ok := Lookup(pid); ok {
			t.Errorf("Lookup(%02X) found a definition, want none", pid)
		}
	}
}

// TestMode01Table checks every definition for internal consistency: the
// key matches the PID field and the formula stays inside the declared
// range at both byte extremes.
func TestMode01Table(t *testing.T) {
	for pid, def := range Mode01 {
		if def.PID != pid {
			t.Errorf("pid %02X: definition carries PID %02X", pid, def.PID)
		}
		if def.Bytes < 1 || def.Bytes > 4 {
			t.Errorf("pid %02X: byte count %d", pid, def.Bytes)
		}
		if def.Name == "" || def.Convert == nil {
			t.Errorf("pid %02X: incomplete definition", pid)
			continue
		}

		lo := def.Convert(make([]byte, def.Bytes))
		hi := def.Convert(bytes.Repeat([]byte{0xFF}, def.Bytes))
		for _, v := range []float64{lo, hi} {
			if v < def.Min-1e-6 || v > def.Max+1e-6 {
				t.Errorf("pid %02X (%s): value %v outside [%v, %v]",
					pid, def.Name, v, def.Min, def.Max)
			}
		}
	}
}
