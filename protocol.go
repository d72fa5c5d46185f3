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
	"encoding/binary"
	"fmt"
	"io"
)

// maxPDUSize is the largest PDU allowed by the Modbus application protocol.
const maxPDUSize = 253

// MBAPHeader represents the Modbus Application Protocol header for TCP.
type MBAPHeader struct {
	TransactionID uint16 // Transaction identifier
	ProtocolID    uint16 // Protocol identifier (always 0 for Modbus)
	Length        uint16 // Number of following bytes (Unit ID + PDU)
	UnitID        UnitID // Unit identifier (slave address)
}

// put writes the header into the first MBAPHeaderSize bytes of buf.
func (h *MBAPHeader) put(buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	h.put(buf)
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrProtocol)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

// Request is a single Modbus request. Which payload field is used depends on
// the function code: Value for single writes, Bits for FC15, Registers for FC16.
type Request struct {
	Function  FunctionCode
	Address   uint16
	Quantity  uint16
	Value     uint16
	Bits      []bool
	Registers []uint16
}

// ReadRequest builds a request for one of the four read function codes.
func ReadRequest(fc FunctionCode, addr, qty uint16) Request {
	return Request{Function: fc, Address: addr, Quantity: qty}
}

// WriteSingleCoilRequest builds a FC05 request.
func WriteSingleCoilRequest(addr uint16, on bool) Request {
	value := CoilOff
	if on {
		value = CoilOn
	}
	return Request{Function: FuncWriteSingleCoil, Address: addr, Quantity: 1, Value: value}
}

// WriteSingleRegisterRequest builds a FC06 request.
func WriteSingleRegisterRequest(addr, value uint16) Request {
	return Request{Function: FuncWriteSingleRegister, Address: addr, Quantity: 1, Value: value}
}

// WriteMultipleCoilsRequest builds a FC15 request.
func WriteMultipleCoilsRequest(addr uint16, values []bool) Request {
	return Request{Function: FuncWriteMultipleCoils, Address: addr, Quantity: uint16(len(values)), Bits: values}
}

// WriteMultipleRegistersRequest builds a FC16 request.
func WriteMultipleRegistersRequest(addr uint16, values []uint16) Request {
	return Request{Function: FuncWriteMultipleRegisters, Address: addr, Quantity: uint16(len(values)), Registers: values}
}

// Validate checks the request against the protocol limits of its function code.
func (r *Request) Validate() error {
	info, ok := functionTable[r.Function]
	if !ok {
		return fmt.Errorf("%w: unsupported function code 0x%02X", ErrEncoding, uint8(r.Function))
	}

	if info.kind == kindWriteSingle {
		if r.Function == FuncWriteSingleCoil && r.Value != CoilOn && r.Value != CoilOff {
			return fmt.Errorf("%w: coil value must be 0xFF00 or 0x0000, got 0x%04X", ErrEncoding, r.Value)
		}
		return nil
	}

	if r.Quantity < 1 || r.Quantity > info.maxQty {
		return fmt.Errorf("%w: quantity must be 1-%d for %s", ErrInvalidQuantity, info.maxQty, r.Function)
	}
	if uint32(r.Address)+uint32(r.Quantity) > 65536 {
		return fmt.Errorf("%w: address range exceeds 65535", ErrInvalidAddress)
	}

	switch info.kind {
	case kindWriteCoils:
		if len(r.Bits) != int(r.Quantity) {
			return fmt.Errorf("%w: %d bits for quantity %d", ErrInvalidQuantity, len(r.Bits), r.Quantity)
		}
	case kindWriteRegisters:
		if len(r.Registers) != int(r.Quantity) {
			return fmt.Errorf("%w: %d registers for quantity %d", ErrInvalidQuantity, len(r.Registers), r.Quantity)
		}
	}
	return nil
}

// pduSize returns the encoded PDU length of a validated request.
func (r *Request) pduSize() int {
	switch functionTable[r.Function].kind {
	case kindWriteCoils:
		return 6 + bitBytes(r.Quantity)
	case kindWriteRegisters:
		return 6 + 2*int(r.Quantity)
	default:
		return 5
	}
}

// putPDU writes the PDU of a validated request into buf.
func (r *Request) putPDU(buf []byte) {
	buf[0] = byte(r.Function)
	binary.BigEndian.PutUint16(buf[1:3], r.Address)

	switch functionTable[r.Function].kind {
	case kindWriteSingle:
		binary.BigEndian.PutUint16(buf[3:5], r.Value)
	case kindWriteCoils:
		binary.BigEndian.PutUint16(buf[3:5], r.Quantity)
		buf[5] = byte(bitBytes(r.Quantity))
		packBits(buf[6:], r.Bits)
	case kindWriteRegisters:
		binary.BigEndian.PutUint16(buf[3:5], r.Quantity)
		buf[5] = byte(2 * r.Quantity)
		for i, v := range r.Registers {
			binary.BigEndian.PutUint16(buf[6+2*i:], v)
		}
	default:
		binary.BigEndian.PutUint16(buf[3:5], r.Quantity)
	}
}

// EncodeRequest encodes req as a complete Modbus TCP frame.
func EncodeRequest(txID uint16, unitID UnitID, req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	pduLen := req.pduSize()
	buf := make([]byte, MBAPHeaderSize+pduLen)
	header := MBAPHeader{
		TransactionID: txID,
		ProtocolID:    ProtocolID,
		Length:        uint16(pduLen + 1), // PDU length + Unit ID
		UnitID:        unitID,
	}
	header.put(buf)
	req.putPDU(buf[MBAPHeaderSize:])
	return buf, nil
}

// ResponseSize returns the size of the frame expected in reply to req. It is
// never smaller than an exception frame.
func ResponseSize(req Request) int {
	var n int
	switch functionTable[req.Function].kind {
	case kindReadBits:
		n = MBAPHeaderSize + 2 + bitBytes(req.Quantity)
	case kindReadRegisters:
		n = MBAPHeaderSize + 2 + 2*int(req.Quantity)
	default:
		n = MBAPHeaderSize + 5
	}
	if n < MBAPHeaderSize+2 {
		n = MBAPHeaderSize + 2
	}
	return n
}

// Response is a decoded and validated response frame.
type Response struct {
	Header    MBAPHeader
	Function  FunctionCode
	ByteCount int      // Payload byte count of read responses
	Data      []byte   // Read payload, or the 4 echoed bytes of a write
	Bits      []bool   // FC01/FC02 values in address order
	Registers []uint16 // FC03/FC04 raw words in address order
}

// DecodeResponse validates a response frame against the request it answers
// and decodes its payload. Device exceptions are returned as *ModbusError.
func DecodeResponse(txID uint16, unitID UnitID, req Request, raw []byte) (*Response, error) {
	if len(raw) < MBAPHeaderSize+1 {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrProtocol, len(raw))
	}

	info, ok := functionTable[req.Function]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported function code 0x%02X", ErrEncoding, uint8(req.Function))
	}

	var resp Response
	if err := resp.Header.Decode(raw); err != nil {
		return nil, err
	}
	h := resp.Header
	if h.TransactionID != txID {
		return nil, fmt.Errorf("%w: transaction ID mismatch (expected %d, got %d)",
			ErrProtocol, txID, h.TransactionID)
	}
	if h.ProtocolID != ProtocolID {
		return nil, fmt.Errorf("%w: invalid protocol ID %d", ErrProtocol, h.ProtocolID)
	}
	if int(h.Length) != len(raw)-6 {
		return nil, fmt.Errorf("%w: length field %d does not match %d trailing bytes",
			ErrProtocol, h.Length, len(raw)-6)
	}
	if h.UnitID != unitID {
		return nil, fmt.Errorf("%w: unit ID mismatch (expected %d, got %d)",
			ErrProtocol, unitID, h.UnitID)
	}

	pdu := raw[MBAPHeaderSize:]
	fc := pdu[0]
	switch fc {
	case byte(req.Function):
	case byte(req.Function) | exceptionBit:
		if len(pdu) < 2 {
			return nil, fmt.Errorf("%w: exception response without code", ErrProtocol)
		}
		return nil, NewModbusError(req.Function, ExceptionCode(pdu[1]))
	default:
		return nil, fmt.Errorf("%w: function code mismatch (expected %02X, got %02X)",
			ErrProtocol, uint8(req.Function), fc)
	}
	resp.Function = req.Function

	switch info.kind {
	case kindReadBits:
		data, err := readPayload(pdu, bitBytes(req.Quantity))
		if err != nil {
			return nil, err
		}
		resp.ByteCount = len(data)
		resp.Data = data
		resp.Bits = unpackBits(data, int(req.Quantity))
	case kindReadRegisters:
		data, err := readPayload(pdu, 2*int(req.Quantity))
		if err != nil {
			return nil, err
		}
		resp.ByteCount = len(data)
		resp.Data = data
		resp.Registers = make([]uint16, req.Quantity)
		for i := range resp.Registers {
			resp.Registers[i] = binary.BigEndian.Uint16(data[2*i:])
		}
	default:
		if err := verifyEcho(pdu, &req); err != nil {
			return nil, err
		}
		resp.Data = pdu[1:5]
	}
	return &resp, nil
}

// readPayload checks the byte count of a read response and returns the payload.
func readPayload(pdu []byte, want int) ([]byte, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: response too short", ErrProtocol)
	}
	byteCount := int(pdu[1])
	if byteCount != want {
		return nil, fmt.Errorf("%w: byte count %d, expected %d", ErrProtocol, byteCount, want)
	}
	if len(pdu) != 2+byteCount {
		return nil, fmt.Errorf("%w: payload is %d bytes, byte count says %d", ErrProtocol, len(pdu)-2, byteCount)
	}
	return pdu[2:], nil
}

// verifyEcho compares the address and value/quantity fields of a write
// confirmation with the request.
func verifyEcho(pdu []byte, req *Request) error {
	if len(pdu) != 5 {
		return fmt.Errorf("%w: write response is %d bytes, expected 5", ErrProtocol, len(pdu))
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	if addr != req.Address {
		return fmt.Errorf("%w: address 0x%04X, expected 0x%04X", ErrMismatch, addr, req.Address)
	}
	want := req.Quantity
	if functionTable[req.Function].kind == kindWriteSingle {
		want = req.Value
	}
	if got := binary.BigEndian.Uint16(pdu[3:5]); got != want {
		return fmt.Errorf("%w: value 0x%04X, expected 0x%04X", ErrMismatch, got, want)
	}
	return nil
}

// bitBytes returns the number of bytes needed to pack n bits.
func bitBytes(n uint16) int {
	return (int(n) + 7) / 8
}

// packBits packs values LSB-first: bit i lands in bit i%8 of byte i/8.
func packBits(dst []byte, values []bool) {
	for i, v := range values {
		if v {
			dst[i/8] |= 1 << (i % 8)
		}
	}
}

// PackBits packs values LSB-first into ceil(len(values)/8) bytes.
func PackBits(values []bool) []byte {
	out := make([]byte, (len(values)+7)/8)
	packBits(out, values)
	return out
}

// UnpackBits returns the first n bits of data, LSB-first.
func UnpackBits(data []byte, n int) []bool {
	if n > 8*len(data) {
		n = 8 * len(data)
	}
	return unpackBits(data, n)
}

func unpackBits(data []byte, n int) []bool {
	values := make([]bool, n)
	for i := range values {
		values[i] = (data[i/8]>>(i%8))&1 != 0
	}
	return values
}

// Frame represents a complete Modbus TCP frame (MBAP header + PDU).
type Frame struct {
	Header MBAPHeader
	PDU    []byte
}

// Encode encodes the frame to bytes, filling in the length field.
func (f *Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.PDU) + 1)
	buf := make([]byte, MBAPHeaderSize+len(f.PDU))
	f.Header.put(buf)
	copy(buf[MBAPHeaderSize:], f.PDU)
	return buf
}

// ReadFrame reads a complete Modbus TCP frame from a reader.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, MBAPHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	var f Frame
	if err := f.Header.Decode(header); err != nil {
		return nil, err
	}
	if f.Header.ProtocolID != ProtocolID {
		return nil, fmt.Errorf("%w: invalid protocol ID %d", ErrProtocol, f.Header.ProtocolID)
	}

	pduLen := int(f.Header.Length) - 1
	if pduLen < 1 || pduLen > maxPDUSize {
		return nil, fmt.Errorf("%w: invalid PDU length %d", ErrProtocol, pduLen)
	}

	f.PDU = make([]byte, pduLen)
	if _, err := io.ReadFull(r, f.PDU); err != nil {
		return nil, err
	}
	return &f, nil
}
