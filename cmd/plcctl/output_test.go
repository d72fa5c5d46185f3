package main

import (
	"bytes"
	"strings"
	"testing"

	modbus "github.com/edgeo-scada/plclink"
)

func TestRegisterRows(t *testing.T) {
	regs := []uint16{0x0000, 0x3F80, 0xFFFF}

	rows, err := registerRows(10, regs, "int16", modbus.LowHigh)
	if err != nil {
		t.Fatalf("registerRows failed: %v", err)
	}
	if rows[2].Address != 12 || rows[2].Value != int16(-1) {
		t.Errorf("int16 row: %+v", rows[2])
	}

	rows, err = registerRows(10, regs[:2], "float32", modbus.LowHigh)
	if err != nil {
		t.Fatalf("registerRows failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Value != float32(1.0) || rows[0].Raw != "0x0000 0x3F80" {
		t.Errorf("float32 row: %+v", rows)
	}

	if _, err := registerRows(0, regs, "float32", modbus.LowHigh); err == nil {
		t.Errorf("odd register count should fail for float32")
	}
	if _, err := registerRows(0, regs, "bcd", modbus.LowHigh); err == nil {
		t.Errorf("unknown format should fail")
	}
}

func TestWriteRows(t *testing.T) {
	rows := boolRows(4, []bool{true, false})

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"address": 4`},
		{"yaml", "address: 5"},
		{"csv", "4,,true"},
		{"table", "ADDRESS"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := writeRows(&buf, tt.format, "coils", rows); err != nil {
			t.Fatalf("%s: %v", tt.format, err)
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("%s output missing %q:\n%s", tt.format, tt.want, buf.String())
		}
	}

	if err := writeRows(&bytes.Buffer{}, "xml", "", rows); err == nil {
		t.Errorf("unknown output format should fail")
	}
}

func TestParseValues(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
	}{
		{"1234", 1234},
		{"0xFF00", 0xFF00},
		{"0b101", 5},
		{"0o17", 15},
		{"-1", 0xFFFF},
		{"-32768", 0x8000},
	}
	for _, tt := range tests {
		got, err := parseRegister(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseRegister(%q) = %d, %v", tt.in, got, err)
		}
	}
	for _, bad := range []string{"65536", "-32769", "abc"} {
		if _, err := parseRegister(bad); err == nil {
			t.Errorf("parseRegister(%q) should fail", bad)
		}
	}

	if got := splitValues([]string{"1,0 1", "0"}); len(got) != 4 {
		t.Errorf("splitValues: got %v", got)
	}
	if v, err := parseBool("ON"); err != nil || !v {
		t.Errorf("parseBool(ON) = %v, %v", v, err)
	}
}
