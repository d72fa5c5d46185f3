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
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	plclink "github.com/edgeo-scada/plclink"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, mem *Memory) *Server {
	t.Helper()
	srv := NewServer(mem, WithLogger(quietLogger()))
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestMemory_ReadWriteCoils(t *testing.T) {
	mem := NewMemory(100)

	if err := mem.WriteSingleCoil(10, true); err != nil {
		t.Fatalf("WriteSingleCoil failed: %v", err)
	}
	coils, err := mem.ReadCoils(9, 3)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	if coils[0] || !coils[1] || coils[2] {
		t.Errorf("unexpected coils %v", coils)
	}

	if err := mem.WriteMultipleCoils(98, []bool{true, true, true}); !plclink.IsIllegalDataAddress(err) {
		t.Errorf("write past end: expected illegal data address, got %v", err)
	}
}

func TestMemory_ReadWriteRegisters(t *testing.T) {
	mem := NewMemory(100)

	if err := mem.WriteMultipleRegisters(0, []uint16{1, 2, 3}); err != nil {
		t.Fatalf("WriteMultipleRegisters failed: %v", err)
	}
	if err := mem.WriteSingleRegister(3, 0xBEEF); err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
	regs, err := mem.ReadHoldingRegisters(0, 4)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if !equalRegs(regs, []uint16{1, 2, 3, 0xBEEF}) {
		t.Errorf("unexpected registers %v", regs)
	}

	if _, err := mem.ReadInputRegisters(99, 2); !plclink.IsIllegalDataAddress(err) {
		t.Errorf("read past end: expected illegal data address, got %v", err)
	}
}

func TestMemory_Setters(t *testing.T) {
	mem := NewMemory(10)
	mem.SetDiscreteInput(2, true)
	mem.SetInputRegisters(4, 40, 41)
	mem.SetCoil(1, true)
	mem.SetHoldingRegisters(0, 7)

	// Out of range writes through the setters are dropped.
	mem.SetInputRegisters(9, 1, 2, 3)

	inputs, _ := mem.ReadDiscreteInputs(0, 3)
	if !inputs[2] {
		t.Errorf("discrete input 2 not set")
	}
	regs, _ := mem.ReadInputRegisters(4, 2)
	if !equalRegs(regs, []uint16{40, 41}) {
		t.Errorf("unexpected input registers %v", regs)
	}
	if regs, _ := mem.ReadInputRegisters(9, 1); regs[0] != 0 {
		t.Errorf("out of range setter wrote register 9")
	}
}

func TestMemory_Snapshot(t *testing.T) {
	mem := NewMemory(4)
	mem.SetCoil(0, true)
	mem.SetDiscreteInput(1, true)
	mem.SetHoldingRegisters(2, 22)
	mem.SetInputRegisters(3, 33)

	snap := mem.Snapshot()
	if !snap.Coils[0] || !snap.DiscreteInputs[1] || snap.HoldingRegisters[2] != 22 || snap.InputRegisters[3] != 33 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	mem.SetHoldingRegisters(2, 99)
	if snap.HoldingRegisters[2] != 22 {
		t.Errorf("snapshot shares storage with memory")
	}
}

func TestServer_GoburrowInterop(t *testing.T) {
	mem := NewMemory(1000)
	mem.SetHoldingRegisters(100, 0x1234, 0x5678)
	mem.SetDiscreteInput(5, true)
	srv := startServer(t, mem)

	handler := modbus.NewTCPClientHandler(srv.Addr())
	handler.Timeout = 2 * time.Second
	handler.SlaveId = 1
	if err := handler.Connect(); err != nil {
		t.Fatalf("goburrow connect failed: %v", err)
	}
	defer handler.Close()
	client := modbus.NewClient(handler)

	results, err := client.ReadHoldingRegisters(100, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if !bytes.Equal(results, []byte{0x12, 0x34, 0x56, 0x78}) {
		t.Errorf("unexpected registers % x", results)
	}

	if _, err := client.WriteMultipleRegisters(200, 2, []byte{0x00, 0x01, 0x00, 0x02}); err != nil {
		t.Fatalf("WriteMultipleRegisters failed: %v", err)
	}
	if regs, _ := mem.ReadHoldingRegisters(200, 2); !equalRegs(regs, []uint16{1, 2}) {
		t.Errorf("FC16 not applied: %v", regs)
	}

	if _, err := client.WriteSingleCoil(7, 0xFF00); err != nil {
		t.Fatalf("WriteSingleCoil failed: %v", err)
	}
	coils, err := client.ReadCoils(0, 10)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	if !bytes.Equal(coils, []byte{0x80, 0x00}) {
		t.Errorf("unexpected coils % x", coils)
	}

	inputs, err := client.ReadDiscreteInputs(0, 8)
	if err != nil {
		t.Fatalf("ReadDiscreteInputs failed: %v", err)
	}
	if !bytes.Equal(inputs, []byte{0x20}) {
		t.Errorf("unexpected discrete inputs % x", inputs)
	}

	_, err = client.ReadInputRegisters(999, 5)
	var exc *modbus.ModbusError
	if !errors.As(err, &exc) || exc.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress {
		t.Errorf("expected illegal data address exception, got %v", err)
	}
}

func TestServer_IllegalFunction(t *testing.T) {
	srv := startServer(t, NewMemory(10))

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// FC08 diagnostics is not served.
	conn.Write([]byte{0x00, 0x09, 0x00, 0x00, 0x00, 0x06, 0x01, 0x08, 0x00, 0x00, 0x12, 0x34})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	frame, err := plclink.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Header.TransactionID != 9 {
		t.Errorf("transaction ID not echoed: %d", frame.Header.TransactionID)
	}
	if !bytes.Equal(frame.PDU, []byte{0x88, 0x01}) {
		t.Errorf("expected illegal function exception, got % x", frame.PDU)
	}
}

func TestServer_IllegalValue(t *testing.T) {
	srv := startServer(t, NewMemory(10))

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	tests := []struct {
		name  string
		frame []byte
		want  []byte
	}{
		{"zero quantity", []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x00}, []byte{0x83, 0x03}},
		{"bad coil value", []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x06, 0x01, 0x05, 0x00, 0x00, 0x12, 0x34}, []byte{0x85, 0x03}},
		{"byte count mismatch", []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x09, 0x01, 0x10, 0x00, 0x00, 0x00, 0x01, 0x04, 0x00, 0x01}, []byte{0x90, 0x03}},
	}
	for _, tt := range tests {
		conn.Write(tt.frame)
		frame, err := plclink.ReadFrame(conn)
		if err != nil {
			t.Fatalf("%s: ReadFrame failed: %v", tt.name, err)
		}
		if !bytes.Equal(frame.PDU, tt.want) {
			t.Errorf("%s: expected % x, got % x", tt.name, tt.want, frame.PDU)
		}
	}
}

func TestServer_FaultInjection(t *testing.T) {
	srv := startServer(t, NewMemory(10))

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	read := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01}

	srv.SetException(plclink.FuncReadHoldingRegisters, plclink.ExceptionServerDeviceBusy)
	conn.Write(read)
	frame, err := plclink.ReadFrame(conn)
	if err != nil || !bytes.Equal(frame.PDU, []byte{0x83, 0x06}) {
		t.Fatalf("forced exception: got %v, %v", frame, err)
	}

	srv.SetException(plclink.FuncReadHoldingRegisters, 0)
	srv.SetResponseHook(func(raw []byte) []byte {
		raw[0] = 0xAA
		return raw
	})
	conn.Write(read)
	frame, err = plclink.ReadFrame(conn)
	if err != nil || frame.Header.TransactionID != 0xAA01 {
		t.Fatalf("response hook: got %v, %v", frame, err)
	}
	if srv.Requests() != 2 {
		t.Errorf("Requests: expected 2, got %d", srv.Requests())
	}

	srv.DropConnections()
	if _, err := plclink.ReadFrame(conn); err == nil {
		t.Errorf("expected read on a dropped connection to fail")
	}
}

func TestServerAddr(t *testing.T) {
	srv := NewServer(NewMemory(1), WithLogger(quietLogger()))
	if srv.Addr() != "" || srv.Port() != 0 {
		t.Errorf("unstarted server should have no address")
	}
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Close()
	if srv.Port() == 0 {
		t.Errorf("Port should be set after Start")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func equalRegs(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
