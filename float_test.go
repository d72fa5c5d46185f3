// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"errors"
	"math"
	"testing"
)

func TestRegistersToFloat(t *testing.T) {
	tests := []struct {
		name  string
		words []uint16
		order RegisterOrder
		want  float32
	}{
		{"one low-high", []uint16{0x0000, 0x3F80}, LowHigh, 1.0},
		{"one high-low", []uint16{0x3F80, 0x0000}, HighLow, 1.0},
		{"negative", []uint16{0x0000, 0xC120}, LowHigh, -10.0},
		{"fraction", []uint16{0x0000, 0x41AC}, LowHigh, 21.5},
		{"zero", []uint16{0, 0}, HighLow, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RegistersToFloat(tt.words, tt.order)
			if err != nil {
				t.Fatalf("RegistersToFloat failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRegistersToFloat_WrongLength(t *testing.T) {
	for _, words := range [][]uint16{nil, {0x3F80}, {0, 0, 0}} {
		if _, err := RegistersToFloat(words, LowHigh); !errors.Is(err, ErrEncoding) {
			t.Errorf("%d words: expected ErrEncoding, got %v", len(words), err)
		}
	}
}

func TestFloatToRegisters_RoundTrip(t *testing.T) {
	values := []float32{1.0, -273.15, 3.4e38, float32(math.Inf(1))}
	for _, order := range []RegisterOrder{LowHigh, HighLow} {
		for _, v := range values {
			got, err := RegistersToFloat(FloatToRegisters(v, order), order)
			if err != nil || got != v {
				t.Errorf("%s: %v round-tripped to %v, %v", order, v, got, err)
			}
		}
	}

	if regs := FloatToRegisters(1.0, LowHigh); regs[0] != 0x0000 || regs[1] != 0x3F80 {
		t.Errorf("LowHigh layout: got %04X %04X", regs[0], regs[1])
	}
}

func TestRegisterToInt16(t *testing.T) {
	tests := []struct {
		raw  uint16
		want int16
	}{
		{0x0000, 0},
		{0x7FFF, 32767},
		{0x8000, -32768},
		{0xFFFF, -1},
		{0xFFD6, -42},
	}
	for _, tt := range tests {
		if got := RegisterToInt16(tt.raw); got != tt.want {
			t.Errorf("RegisterToInt16(0x%04X) = %d, want %d", tt.raw, got, tt.want)
		}
		if back := Int16ToRegister(tt.want); back != tt.raw {
			t.Errorf("Int16ToRegister(%d) = 0x%04X, want 0x%04X", tt.want, back, tt.raw)
		}
	}

	got := RegistersToInt16s([]uint16{0x0001, 0xFFFE})
	if got[0] != 1 || got[1] != -2 {
		t.Errorf("RegistersToInt16s: got %v", got)
	}
}
