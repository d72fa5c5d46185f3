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

// Package modbus is a Modbus TCP client for programmable controllers.
//
// A Client owns one TCP connection, issues one request at a time and keeps the
// link usable with a background liveness loop that probes the controller and
// redials when the connection or the host goes away.
package modbus

import (
	"fmt"
	"time"
)

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents one of the Modbus function codes supported by the client.
type FunctionCode uint8

// Supported Modbus function codes.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// exceptionBit is set in the function code of an exception response.
const exceptionBit = 0x80

// Protocol constants.
const (
	// MaxQuantityCoils is the maximum number of coils that can be read.
	MaxQuantityCoils = 2000

	// MaxQuantityDiscreteInputs is the maximum number of discrete inputs that can be read.
	MaxQuantityDiscreteInputs = 2000

	// MaxQuantityRegisters is the maximum number of registers that can be read.
	MaxQuantityRegisters = 125

	// MaxQuantityWriteCoils is the maximum number of coils that can be written.
	MaxQuantityWriteCoils = 1968

	// MaxQuantityWriteRegisters is the maximum number of registers that can be written.
	MaxQuantityWriteRegisters = 123

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier (always 0 for Modbus TCP).
	ProtocolID = 0

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502

	// DefaultUnitID is the unit identifier used when none is configured.
	DefaultUnitID UnitID = 1

	// DefaultConnectTimeout bounds the reachability probe and the TCP handshake.
	DefaultConnectTimeout = 3 * time.Second

	// DefaultReadTimeout bounds the wait for a response.
	DefaultReadTimeout = 3 * time.Second

	// DefaultLivenessInterval is the period of the liveness loop.
	DefaultLivenessInterval = 8 * time.Second
)

// Coil values for write operations.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// requestKind selects the encode/decode strategy of a function code.
type requestKind uint8

const (
	kindReadBits requestKind = iota + 1
	kindReadRegisters
	kindWriteSingle
	kindWriteCoils
	kindWriteRegisters
)

type functionInfo struct {
	name   string
	kind   requestKind
	maxQty uint16
}

// functionTable is the closed set of function codes the client speaks.
var functionTable = map[FunctionCode]functionInfo{
	FuncReadCoils:              {"ReadCoils", kindReadBits, MaxQuantityCoils},
	FuncReadDiscreteInputs:     {"ReadDiscreteInputs", kindReadBits, MaxQuantityDiscreteInputs},
	FuncReadHoldingRegisters:   {"ReadHoldingRegisters", kindReadRegisters, MaxQuantityRegisters},
	FuncReadInputRegisters:     {"ReadInputRegisters", kindReadRegisters, MaxQuantityRegisters},
	FuncWriteSingleCoil:        {"WriteSingleCoil", kindWriteSingle, 1},
	FuncWriteSingleRegister:    {"WriteSingleRegister", kindWriteSingle, 1},
	FuncWriteMultipleCoils:     {"WriteMultipleCoils", kindWriteCoils, MaxQuantityWriteCoils},
	FuncWriteMultipleRegisters: {"WriteMultipleRegisters", kindWriteRegisters, MaxQuantityWriteRegisters},
}

// Valid reports whether fc is one of the supported function codes.
func (fc FunctionCode) Valid() bool {
	_, ok := functionTable[fc]
	return ok
}

// IsWrite reports whether fc modifies coils or registers.
func (fc FunctionCode) IsWrite() bool {
	info, ok := functionTable[fc]
	return ok && info.kind >= kindWriteSingle
}

// MaxQuantity returns the protocol limit on the quantity field for fc.
func (fc FunctionCode) MaxQuantity() uint16 {
	return functionTable[fc].maxQty
}

// String returns the name of the function code.
func (fc FunctionCode) String() string {
	if info, ok := functionTable[fc]; ok {
		return info.name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(fc))
}

// ConnectionState represents the state of a client connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// RegisterOrder selects how two 16-bit registers compose a 32-bit value.
type RegisterOrder int

const (
	// LowHigh takes the low-order word from the first register (PLC convention).
	LowHigh RegisterOrder = iota
	// HighLow takes the high-order word from the first register.
	HighLow
)

// String returns the string representation of the register order.
func (o RegisterOrder) String() string {
	switch o {
	case LowHigh:
		return "lowhigh"
	case HighLow:
		return "highlow"
	default:
		return "unknown"
	}
}

// ParseRegisterOrder parses "lowhigh" or "highlow".
func ParseRegisterOrder(s string) (RegisterOrder, error) {
	switch s {
	case "lowhigh", "low-high", "little":
		return LowHigh, nil
	case "highlow", "high-low", "big":
		return HighLow, nil
	default:
		return 0, fmt.Errorf("%w: unknown register order %q", ErrEncoding, s)
	}
}
