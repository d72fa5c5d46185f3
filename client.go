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
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Client is a Modbus TCP client for a single controller. Requests are
// serialized: a call blocks until the previous response has been consumed.
type Client struct {
	host string
	opts *clientOptions

	conn  *connection
	txIDs TransactionCounter

	mu      sync.Mutex
	unitID  UnitID
	closed  bool
	metrics *Metrics
	logger  *slog.Logger
}

// NewClient creates a new Modbus TCP client for host. The port and all
// timeouts come from options.
func NewClient(host string, opts ...Option) (*Client, error) {
	if host == "" {
		return nil, errors.New("modbus: host cannot be empty")
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.port <= 0 || options.port > 65535 {
		return nil, errors.New("modbus: port must be 1-65535")
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	metrics := NewMetrics()
	return &Client{
		host:    host,
		opts:    options,
		conn:    newConnection(host, options, metrics),
		unitID:  options.unitID,
		metrics: metrics,
		logger:  options.logger,
	}, nil
}

// Connect probes the controller, opens the TCP connection and starts the
// liveness loop.
func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.conn.connect(ctx)
}

// Disconnect closes the connection and stops the liveness loop. The client
// can connect again afterwards. Calling it twice is harmless.
func (c *Client) Disconnect() error {
	return c.conn.disconnect()
}

// Close disconnects and marks the client unusable.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Debug("closing client", slog.String("addr", c.conn.addr))
	return c.conn.disconnect()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return c.conn.State()
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// SetUnitID sets the unit ID for subsequent requests.
func (c *Client) SetUnitID(id UnitID) {
	c.mu.Lock()
	c.unitID = id
	c.mu.Unlock()
}

// UnitID returns the current unit ID.
func (c *Client) UnitID() UnitID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unitID
}

// Address returns the host:port of the controller.
func (c *Client) Address() string {
	return c.conn.addr
}

// SetReadTimeout changes the response timeout for subsequent requests.
func (c *Client) SetReadTimeout(d time.Duration) {
	c.conn.tr.SetReadTimeout(d)
}

// do encodes req, performs the round trip and decodes the response. On
// failure the response is nil and the error says why.
func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}

	unitID := c.UnitID()
	txID := c.txIDs.Next()
	frame, err := EncodeRequest(txID, unitID, req)
	if err != nil {
		return nil, err
	}

	fm := c.metrics.ForFunction(req.Function)
	c.metrics.RequestsTotal.Add(1)
	fm.Requests.Add(1)
	start := time.Now()

	c.logger.Debug("sending request",
		slog.Uint64("tx_id", uint64(txID)),
		slog.Uint64("unit_id", uint64(unitID)),
		slog.String("func", req.Function.String()),
		slog.Uint64("addr", uint64(req.Address)),
		slog.Uint64("qty", uint64(req.Quantity)))

	buf := make([]byte, ResponseSize(req))
	n, err := c.conn.roundTrip(ctx, frame, buf)
	var resp *Response
	if err == nil {
		resp, err = DecodeResponse(txID, unitID, req, buf[:n])
	}
	if err != nil {
		c.failed(fm, err)
		return nil, err
	}

	d := time.Since(start)
	c.metrics.RequestsSuccess.Add(1)
	c.metrics.Latency.Observe(d)
	fm.Latency.Observe(d)

	c.logger.Debug("received response",
		slog.Uint64("tx_id", uint64(txID)),
		slog.Duration("duration", d))
	return resp, nil
}

func (c *Client) failed(fm *FunctionMetrics, err error) {
	c.metrics.RequestsErrors.Add(1)
	fm.Errors.Add(1)

	var modbusErr *ModbusError
	switch {
	case errors.As(err, &modbusErr):
		c.metrics.Exceptions.Add(1)
	case errors.Is(err, ErrTimeout):
		c.metrics.Timeouts.Add(1)
	case errors.Is(err, ErrMismatch):
	case errors.Is(err, ErrProtocol):
		// A malformed frame leaves the stream position unknown.
		c.conn.reset(err)
	}

	c.logger.Debug("request failed", slog.String("error", err.Error()))
}

// ReadCoils reads coils from the server (FC01).
func (c *Client) ReadCoils(ctx context.Context, addr, qty uint16) ([]bool, error) {
	resp, err := c.do(ctx, ReadRequest(FuncReadCoils, addr, qty))
	if err != nil {
		return nil, err
	}
	return resp.Bits, nil
}

// ReadDiscreteInputs reads discrete inputs from the server (FC02).
func (c *Client) ReadDiscreteInputs(ctx context.Context, addr, qty uint16) ([]bool, error) {
	resp, err := c.do(ctx, ReadRequest(FuncReadDiscreteInputs, addr, qty))
	if err != nil {
		return nil, err
	}
	return resp.Bits, nil
}

// ReadHoldingRegisters reads holding registers from the server (FC03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	resp, err := c.do(ctx, ReadRequest(FuncReadHoldingRegisters, addr, qty))
	if err != nil {
		return nil, err
	}
	return resp.Registers, nil
}

// ReadInputRegisters reads input registers from the server (FC04).
func (c *Client) ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	resp, err := c.do(ctx, ReadRequest(FuncReadInputRegisters, addr, qty))
	if err != nil {
		return nil, err
	}
	return resp.Registers, nil
}

// WriteSingleCoil writes a single coil (FC05). A nil error means the device
// echoed the request.
func (c *Client) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	_, err := c.do(ctx, WriteSingleCoilRequest(addr, value))
	return err
}

// WriteSingleRegister writes a single register (FC06).
func (c *Client) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	_, err := c.do(ctx, WriteSingleRegisterRequest(addr, value))
	return err
}

// WriteMultipleCoils writes multiple coils (FC15).
func (c *Client) WriteMultipleCoils(ctx context.Context, addr uint16, values []bool) error {
	_, err := c.do(ctx, WriteMultipleCoilsRequest(addr, values))
	return err
}

// WriteMultipleRegisters writes multiple registers (FC16).
func (c *Client) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	_, err := c.do(ctx, WriteMultipleRegistersRequest(addr, values))
	return err
}

// ReadHoldingFloat32 reads a REAL value stored in two holding registers.
func (c *Client) ReadHoldingFloat32(ctx context.Context, addr uint16, order RegisterOrder) (float32, error) {
	regs, err := c.ReadHoldingRegisters(ctx, addr, 2)
	if err != nil {
		return 0, err
	}
	return RegistersToFloat(regs, order)
}

// ReadInputFloat32 reads a REAL value stored in two input registers.
func (c *Client) ReadInputFloat32(ctx context.Context, addr uint16, order RegisterOrder) (float32, error) {
	regs, err := c.ReadInputRegisters(ctx, addr, 2)
	if err != nil {
		return 0, err
	}
	return RegistersToFloat(regs, order)
}

// WriteFloat32 writes a REAL value into two holding registers.
func (c *Client) WriteFloat32(ctx context.Context, addr uint16, value float32, order RegisterOrder) error {
	return c.WriteMultipleRegisters(ctx, addr, FloatToRegisters(value, order))
}

// ReadHoldingInt16s reads holding registers as signed 16-bit values.
func (c *Client) ReadHoldingInt16s(ctx context.Context, addr, qty uint16) ([]int16, error) {
	regs, err := c.ReadHoldingRegisters(ctx, addr, qty)
	if err != nil {
		return nil, err
	}
	return RegistersToInt16s(regs), nil
}
