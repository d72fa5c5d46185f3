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

// Package modbustest provides an in-process Modbus TCP server for tests and
// bench work against the client.
package modbustest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	modbus "github.com/edgeo-scada/plclink"
)

// ServerOption is a functional option for configuring the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger      *slog.Logger
	maxConns    int
	idleTimeout time.Duration
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:      slog.Default(),
		maxConns:    16,
		idleTimeout: 30 * time.Second,
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConns = n
	}
}

// WithIdleTimeout closes connections that send nothing for d.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.idleTimeout = d
	}
}

// Server is a Modbus TCP server for the eight data-access function codes.
type Server struct {
	handler Handler
	opts    *serverOptions

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	delay      time.Duration
	exceptions map[modbus.FunctionCode]modbus.ExceptionCode
	hook       func([]byte) []byte

	closed   atomic.Bool
	wg       sync.WaitGroup
	requests atomic.Int64
	accepted atomic.Int64
}

// NewServer creates a new Modbus TCP server.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	return &Server{
		handler:    handler,
		opts:       options,
		conns:      make(map[net.Conn]struct{}),
		exceptions: make(map[modbus.FunctionCode]modbus.ExceptionCode),
	}
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.setListener(listener)
	go s.Serve(listener)
	return nil
}

// ListenAndServe serves on addr until ctx is done or the server is closed.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.setListener(listener)

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	return s.Serve(listener)
}

func (s *Server) setListener(l net.Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Serve accepts connections on listener until it is closed.
func (s *Server) Serve(listener net.Listener) error {
	s.setListener(listener)
	s.opts.logger.Info("server started", slog.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.accepted.Add(1)

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops the listener and all connections.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("server stopped")
	return err
}

// Addr returns the listener address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the listening TCP port.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// Requests returns the number of requests received so far.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// DropConnections closes every open connection while still accepting new ones.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// SetDelay delays every response by d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// SetException makes every request for fc fail with ec. Zero clears it.
func (s *Server) SetException(fc modbus.FunctionCode, ec modbus.ExceptionCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ec == 0 {
		delete(s.exceptions, fc)
		return
	}
	s.exceptions[fc] = ec
}

// SetResponseHook lets a test rewrite each encoded response before it is
// sent. Returning nil sends nothing.
func (s *Server) SetResponseHook(fn func(raw []byte) []byte) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()

	remote := slog.String("remote", conn.RemoteAddr().String())
	s.opts.logger.Debug("connection accepted", remote)

	for !s.closed.Load() {
		if s.opts.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.idleTimeout))
		}

		frame, err := modbus.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.opts.logger.Debug("read error", remote, slog.String("error", err.Error()))
			}
			return
		}
		s.requests.Add(1)

		resp := s.process(frame)

		s.mu.Lock()
		delay, hook := s.delay, s.hook
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}

		raw := resp.Encode()
		if hook != nil {
			if raw = hook(raw); raw == nil {
				continue
			}
		}
		if _, err := conn.Write(raw); err != nil {
			s.opts.logger.Debug("write error", remote, slog.String("error", err.Error()))
			return
		}
	}
}

func (s *Server) process(req *modbus.Frame) *modbus.Frame {
	resp := &modbus.Frame{
		Header: modbus.MBAPHeader{
			TransactionID: req.Header.TransactionID,
			ProtocolID:    modbus.ProtocolID,
			UnitID:        req.Header.UnitID,
		},
	}

	fc := modbus.FunctionCode(req.PDU[0])
	s.opts.logger.Debug("processing request",
		slog.Uint64("tx_id", uint64(req.Header.TransactionID)),
		slog.String("func", fc.String()))

	s.mu.Lock()
	forced, ok := s.exceptions[fc]
	s.mu.Unlock()
	if ok {
		resp.PDU = exception(fc, forced)
		return resp
	}

	pdu, err := s.dispatch(fc, req.PDU)
	if err != nil {
		var modbusErr *modbus.ModbusError
		if errors.As(err, &modbusErr) {
			pdu = exception(fc, modbusErr.ExceptionCode)
		} else {
			s.opts.logger.Error("handler error",
				slog.String("func", fc.String()),
				slog.String("error", err.Error()))
			pdu = exception(fc, modbus.ExceptionServerDeviceFailure)
		}
	}
	resp.PDU = pdu
	return resp
}

func exception(fc modbus.FunctionCode, ec modbus.ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(ec)}
}

func illegalValue(fc modbus.FunctionCode) error {
	return modbus.NewModbusError(fc, modbus.ExceptionIllegalDataValue)
}

// dispatch decodes a request PDU, calls the handler and encodes the reply.
func (s *Server) dispatch(fc modbus.FunctionCode, pdu []byte) ([]byte, error) {
	if !fc.Valid() {
		return nil, modbus.NewModbusError(fc, modbus.ExceptionIllegalFunction)
	}
	if len(pdu) < 5 {
		return nil, illegalValue(fc)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	switch fc {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs:
		if qty < 1 || qty > fc.MaxQuantity() {
			return nil, illegalValue(fc)
		}
		read := s.handler.ReadCoils
		if fc == modbus.FuncReadDiscreteInputs {
			read = s.handler.ReadDiscreteInputs
		}
		values, err := read(addr, qty)
		if err != nil {
			return nil, err
		}
		packed := modbus.PackBits(values)
		return append([]byte{byte(fc), byte(len(packed))}, packed...), nil

	case modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		if qty < 1 || qty > fc.MaxQuantity() {
			return nil, illegalValue(fc)
		}
		read := s.handler.ReadHoldingRegisters
		if fc == modbus.FuncReadInputRegisters {
			read = s.handler.ReadInputRegisters
		}
		values, err := read(addr, qty)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 2+2*len(values))
		out[0], out[1] = byte(fc), byte(2*len(values))
		for i, v := range values {
			binary.BigEndian.PutUint16(out[2+2*i:], v)
		}
		return out, nil

	case modbus.FuncWriteSingleCoil:
		if qty != modbus.CoilOn && qty != modbus.CoilOff {
			return nil, illegalValue(fc)
		}
		if err := s.handler.WriteSingleCoil(addr, qty == modbus.CoilOn); err != nil {
			return nil, err
		}
		return append([]byte(nil), pdu[:5]...), nil

	case modbus.FuncWriteSingleRegister:
		if err := s.handler.WriteSingleRegister(addr, qty); err != nil {
			return nil, err
		}
		return append([]byte(nil), pdu[:5]...), nil

	case modbus.FuncWriteMultipleCoils:
		if len(pdu) < 6 || qty < 1 || qty > fc.MaxQuantity() {
			return nil, illegalValue(fc)
		}
		byteCount := int(pdu[5])
		if byteCount != (int(qty)+7)/8 || len(pdu) != 6+byteCount {
			return nil, illegalValue(fc)
		}
		if err := s.handler.WriteMultipleCoils(addr, modbus.UnpackBits(pdu[6:], int(qty))); err != nil {
			return nil, err
		}
		return append([]byte(nil), pdu[:5]...), nil

	case modbus.FuncWriteMultipleRegisters:
		if len(pdu) < 6 || qty < 1 || qty > fc.MaxQuantity() {
			return nil, illegalValue(fc)
		}
		byteCount := int(pdu[5])
		if byteCount != 2*int(qty) || len(pdu) != 6+byteCount {
			return nil, illegalValue(fc)
		}
		values := make([]uint16, qty)
		for i := range values {
			values[i] = binary.BigEndian.Uint16(pdu[6+2*i:])
		}
		if err := s.handler.WriteMultipleRegisters(addr, values); err != nil {
			return nil, err
		}
		return append([]byte(nil), pdu[:5]...), nil
	}
	return nil, modbus.NewModbusError(fc, modbus.ExceptionIllegalFunction)
}
