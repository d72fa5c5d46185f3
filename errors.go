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
	"fmt"
)

// Error classes. Errors returned by this package match one of them with
// errors.Is, except ErrClientClosed.
var (
	// ErrUnreachable indicates the reachability probe failed before connecting.
	ErrUnreachable = errors.New("modbus: host unreachable")

	// ErrConnect indicates the TCP connection could not be established.
	ErrConnect = errors.New("modbus: connect failed")

	// ErrTransport indicates a send or receive failed on an established connection.
	ErrTransport = errors.New("modbus: transport error")

	// ErrEncoding indicates invalid request parameters.
	ErrEncoding = errors.New("modbus: invalid request")

	// ErrProtocol indicates a malformed or unexpected response frame.
	ErrProtocol = errors.New("modbus: protocol error")

	// ErrTimeout indicates no response arrived within the read timeout.
	ErrTimeout = errors.New("modbus: timeout")
)

// Refinements of the error classes above.
var (
	// ErrInvalidQuantity indicates an invalid quantity was specified.
	ErrInvalidQuantity = fmt.Errorf("%w: invalid quantity", ErrEncoding)

	// ErrInvalidAddress indicates the address range exceeds 0xFFFF.
	ErrInvalidAddress = fmt.Errorf("%w: invalid address", ErrEncoding)

	// ErrMismatch indicates a write confirmation did not echo the request.
	ErrMismatch = fmt.Errorf("%w: echo mismatch", ErrProtocol)

	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrTransport)

	// ErrClientClosed indicates the client was closed.
	ErrClientClosed = errors.New("modbus: client closed")
)

// ExceptionCode represents a Modbus exception code.
type ExceptionCode uint8

// Modbus exception codes.
const (
	ExceptionIllegalFunction                    ExceptionCode = 0x01
	ExceptionIllegalDataAddress                 ExceptionCode = 0x02
	ExceptionIllegalDataValue                   ExceptionCode = 0x03
	ExceptionServerDeviceFailure                ExceptionCode = 0x04
	ExceptionAcknowledge                        ExceptionCode = 0x05
	ExceptionServerDeviceBusy                   ExceptionCode = 0x06
	ExceptionMemoryParityError                  ExceptionCode = 0x08
	ExceptionGatewayPathUnavailable             ExceptionCode = 0x0A
	ExceptionGatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

var exceptionNames = map[ExceptionCode]string{
	ExceptionIllegalFunction:                    "illegal function",
	ExceptionIllegalDataAddress:                 "illegal data address",
	ExceptionIllegalDataValue:                   "illegal data value",
	ExceptionServerDeviceFailure:                "server device failure",
	ExceptionAcknowledge:                        "acknowledge",
	ExceptionServerDeviceBusy:                   "server device busy",
	ExceptionMemoryParityError:                  "memory parity error",
	ExceptionGatewayPathUnavailable:             "gateway path unavailable",
	ExceptionGatewayTargetDeviceFailedToRespond: "gateway target device failed to respond",
}

// String returns the string representation of the exception code.
func (e ExceptionCode) String() string {
	if name, ok := exceptionNames[e]; ok {
		return name
	}
	return fmt.Sprintf("unknown exception (0x%02X)", uint8(e))
}

// ModbusError is an exception reported by the device.
type ModbusError struct {
	FunctionCode  FunctionCode
	ExceptionCode ExceptionCode
}

// NewModbusError creates a new Modbus exception error.
func NewModbusError(fc FunctionCode, ec ExceptionCode) *ModbusError {
	return &ModbusError{FunctionCode: fc, ExceptionCode: ec}
}

// Error implements the error interface.
func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception %s (FC=%02X)", e.ExceptionCode, uint8(e.FunctionCode))
}

// Is matches another *ModbusError with the same exception code.
func (e *ModbusError) Is(target error) bool {
	t, ok := target.(*ModbusError)
	if !ok {
		return false
	}
	return e.ExceptionCode == t.ExceptionCode
}

// Unwrap places device exceptions in the ErrProtocol class.
func (e *ModbusError) Unwrap() error {
	return ErrProtocol
}

// IsException checks if an error is a specific Modbus exception.
func IsException(err error, code ExceptionCode) bool {
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return modbusErr.ExceptionCode == code
	}
	return false
}

// IsIllegalFunction checks if the error is an illegal function exception.
func IsIllegalFunction(err error) bool {
	return IsException(err, ExceptionIllegalFunction)
}

// IsIllegalDataAddress checks if the error is an illegal data address exception.
func IsIllegalDataAddress(err error) bool {
	return IsException(err, ExceptionIllegalDataAddress)
}

// IsIllegalDataValue checks if the error is an illegal data value exception.
func IsIllegalDataValue(err error) bool {
	return IsException(err, ExceptionIllegalDataValue)
}
