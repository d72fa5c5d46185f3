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
	"fmt"
	"math"
)

// RegistersToFloat composes an IEEE-754 single-precision value from two
// registers. With LowHigh the first register holds the low-order 16 bits.
func RegistersToFloat(words []uint16, order RegisterOrder) (float32, error) {
	if len(words) != 2 {
		return 0, fmt.Errorf("%w: float32 needs 2 registers, got %d", ErrEncoding, len(words))
	}
	lo, hi := words[0], words[1]
	if order == HighLow {
		lo, hi = hi, lo
	}
	return math.Float32frombits(uint32(hi)<<16 | uint32(lo)), nil
}

// FloatToRegisters splits f into two registers in the given order.
func FloatToRegisters(f float32, order RegisterOrder) []uint16 {
	bits := math.Float32bits(f)
	lo, hi := uint16(bits), uint16(bits>>16)
	if order == HighLow {
		return []uint16{hi, lo}
	}
	return []uint16{lo, hi}
}

// RegisterToInt16 interprets a raw register as a two's-complement value.
func RegisterToInt16(w uint16) int16 {
	return int16(w)
}

// Int16ToRegister returns the raw register pattern of v.
func Int16ToRegister(v int16) uint16 {
	return uint16(v)
}

// RegistersToInt16s interprets each register independently as int16.
func RegistersToInt16s(words []uint16) []int16 {
	out := make([]int16, len(words))
	for i, w := range words {
		out[i] = RegisterToInt16(w)
	}
	return out
}
