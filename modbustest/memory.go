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

package modbustest

import (
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"

	modbus "github.com/edgeo-scada/plclink"
)

// Handler serves the data model behind a Server. Returning a
// *modbus.ModbusError sends that exception; any other error sends
// ExceptionServerDeviceFailure.
type Handler interface {
	ReadCoils(addr, qty uint16) ([]bool, error)
	ReadDiscreteInputs(addr, qty uint16) ([]bool, error)
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error)
	ReadInputRegisters(addr, qty uint16) ([]uint16, error)
	WriteSingleCoil(addr uint16, value bool) error
	WriteSingleRegister(addr, value uint16) error
	WriteMultipleCoils(addr uint16, values []bool) error
	WriteMultipleRegisters(addr uint16, values []uint16) error
}

type bitTable struct {
	mu   sync.RWMutex
	bits []bool
}

type registerTable struct {
	mu   sync.RWMutex
	regs []uint16
}

// Memory is an in-memory Handler with the four Modbus tables. Each table has
// its own lock.
type Memory struct {
	coils          bitTable
	discreteInputs bitTable
	holdingRegs    registerTable
	inputRegs      registerTable
}

// NewMemory creates a Memory with size entries in every table.
func NewMemory(size int) *Memory {
	return &Memory{
		coils:          bitTable{bits: make([]bool, size)},
		discreteInputs: bitTable{bits: make([]bool, size)},
		holdingRegs:    registerTable{regs: make([]uint16, size)},
		inputRegs:      registerTable{regs: make([]uint16, size)},
	}
}

func (t *bitTable) read(fc modbus.FunctionCode, addr, qty uint16) ([]bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(addr)+int(qty) > len(t.bits) {
		return nil, modbus.NewModbusError(fc, modbus.ExceptionIllegalDataAddress)
	}
	out := make([]bool, qty)
	copy(out, t.bits[addr:])
	return out, nil
}

func (t *bitTable) write(fc modbus.FunctionCode, addr uint16, values []bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(addr)+len(values) > len(t.bits) {
		return modbus.NewModbusError(fc, modbus.ExceptionIllegalDataAddress)
	}
	copy(t.bits[addr:], values)
	return nil
}

func (t *registerTable) read(fc modbus.FunctionCode, addr, qty uint16) ([]uint16, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(addr)+int(qty) > len(t.regs) {
		return nil, modbus.NewModbusError(fc, modbus.ExceptionIllegalDataAddress)
	}
	out := make([]uint16, qty)
	copy(out, t.regs[addr:])
	return out, nil
}

func (t *registerTable) write(fc modbus.FunctionCode, addr uint16, values []uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(addr)+len(values) > len(t.regs) {
		return modbus.NewModbusError(fc, modbus.ExceptionIllegalDataAddress)
	}
	copy(t.regs[addr:], values)
	return nil
}

func (m *Memory) ReadCoils(addr, qty uint16) ([]bool, error) {
	return m.coils.read(modbus.FuncReadCoils, addr, qty)
}

func (m *Memory) ReadDiscreteInputs(addr, qty uint16) ([]bool, error) {
	return m.discreteInputs.read(modbus.FuncReadDiscreteInputs, addr, qty)
}

func (m *Memory) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	return m.holdingRegs.read(modbus.FuncReadHoldingRegisters, addr, qty)
}

func (m *Memory) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	return m.inputRegs.read(modbus.FuncReadInputRegisters, addr, qty)
}

func (m *Memory) WriteSingleCoil(addr uint16, value bool) error {
	return m.coils.write(modbus.FuncWriteSingleCoil, addr, []bool{value})
}

func (m *Memory) WriteSingleRegister(addr, value uint16) error {
	return m.holdingRegs.write(modbus.FuncWriteSingleRegister, addr, []uint16{value})
}

func (m *Memory) WriteMultipleCoils(addr uint16, values []bool) error {
	return m.coils.write(modbus.FuncWriteMultipleCoils, addr, values)
}

func (m *Memory) WriteMultipleRegisters(addr uint16, values []uint16) error {
	return m.holdingRegs.write(modbus.FuncWriteMultipleRegisters, addr, values)
}

// SetCoil sets a coil value directly. Out-of-range addresses are ignored.
func (m *Memory) SetCoil(addr uint16, value bool) {
	m.coils.write(modbus.FuncWriteSingleCoil, addr, []bool{value})
}

// SetDiscreteInput sets a discrete input value directly.
func (m *Memory) SetDiscreteInput(addr uint16, value bool) {
	m.discreteInputs.write(modbus.FuncReadDiscreteInputs, addr, []bool{value})
}

// SetHoldingRegisters sets consecutive holding registers directly.
func (m *Memory) SetHoldingRegisters(addr uint16, values ...uint16) {
	m.holdingRegs.write(modbus.FuncWriteMultipleRegisters, addr, values)
}

// SetInputRegisters sets consecutive input registers directly.
func (m *Memory) SetInputRegisters(addr uint16, values ...uint16) {
	m.inputRegs.write(modbus.FuncReadInputRegisters, addr, values)
}

// Snapshot is a consistent copy of all four tables.
type Snapshot struct {
	Coils            []bool
	DiscreteInputs   []bool
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

// Snapshot copies all tables while holding every table lock at once.
func (m *Memory) Snapshot() Snapshot {
	l := multilocker.New(
		m.coils.mu.RLocker(),
		m.discreteInputs.mu.RLocker(),
		m.holdingRegs.mu.RLocker(),
		m.inputRegs.mu.RLocker(),
	)
	l.Lock()
	defer l.Unlock()

	return Snapshot{
		Coils:            append([]bool(nil), m.coils.bits...),
		DiscreteInputs:   append([]bool(nil), m.discreteInputs.bits...),
		HoldingRegisters: append([]uint16(nil), m.holdingRegs.regs...),
		InputRegisters:   append([]uint16(nil), m.inputRegs.regs...),
	}
}
