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
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/edgeo-scada/plclink/internal/transport"
)

// connection owns the TCP transport of a client and the liveness loop that
// keeps it alive.
//
// ioMu is held across every request/response pair and every liveness
// check/reconnect sequence, so a reconnect never interleaves with a request.
// mu guards the fields below it and is never held while acquiring ioMu.
type connection struct {
	host    string
	addr    string
	opts    *clientOptions
	tr      *transport.TCPTransport
	metrics *Metrics
	logger  *slog.Logger

	ioMu sync.Mutex

	mu     sync.Mutex
	state  ConnectionState
	cancel context.CancelFunc
	done   chan struct{}
}

func newConnection(host string, opts *clientOptions, metrics *Metrics) *connection {
	addr := net.JoinHostPort(host, strconv.Itoa(opts.port))
	return &connection{
		host:    host,
		addr:    addr,
		opts:    opts,
		tr:      transport.NewTCPTransport(addr, opts.connectTimeout, opts.readTimeout),
		metrics: metrics,
		logger:  opts.logger.With(slog.String("addr", addr)),
		state:   StateDisconnected,
	}
}

func (c *connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState records a state change and reports whether the connection was up
// before it.
func (c *connection) setState(s ConnectionState) (wasConnected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasConnected = c.state == StateConnected
	c.state = s
	return wasConnected
}

// connect probes the host, dials it and starts the liveness loop.
func (c *connection) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Debug("connecting")

	c.ioMu.Lock()
	err := c.dial(ctx)
	c.ioMu.Unlock()

	c.mu.Lock()
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.logger.Warn("connect failed", slog.String("error", err.Error()))
		return err
	}
	c.state = StateConnected
	if c.opts.livenessInterval > 0 && c.cancel == nil {
		c.startLivenessLocked()
	}
	c.mu.Unlock()

	c.metrics.Connects.Add(1)
	c.logger.Info("connected")
	if c.opts.onConnect != nil {
		c.opts.onConnect()
	}
	return nil
}

// dial runs the reachability gate and opens the socket. Must be called with
// ioMu held.
func (c *connection) dial(ctx context.Context) error {
	if !c.opts.prober.Reachable(ctx, c.host, c.opts.connectTimeout) {
		return fmt.Errorf("%w: %s", ErrUnreachable, c.host)
	}
	if err := c.tr.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return nil
}

// disconnect stops the liveness loop and closes the socket. It is idempotent
// and no callback fires after it returns.
func (c *connection) disconnect() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Closing first unblocks an in-flight receive.
	err := c.tr.Close()
	if done != nil {
		<-done
		// The loop may have redialed before it observed the cancellation.
		if cerr := c.tr.Close(); err == nil {
			err = cerr
		}
		c.setState(StateDisconnected)
	}

	if wasConnected {
		c.logger.Info("disconnected")
		if c.opts.onDisconnect != nil {
			c.opts.onDisconnect(nil)
		}
	}
	return err
}

// roundTrip sends one frame and reads its response into buf. Only one round
// trip runs at a time.
func (c *connection) roundTrip(ctx context.Context, frame, buf []byte) (int, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	if !c.tr.IsConnected() {
		return 0, ErrNotConnected
	}
	if err := c.tr.Send(ctx, frame); err != nil {
		return 0, c.ioFailure("send", err)
	}
	n, err := c.tr.Receive(ctx, buf)
	if err != nil {
		return 0, c.ioFailure("receive", err)
	}
	return n, nil
}

// ioFailure maps a transport error into the client taxonomy and records the
// lost link. The transport has already closed the socket.
func (c *connection) ioFailure(op string, err error) error {
	var mapped error
	switch {
	case errors.Is(err, transport.ErrTimeout):
		mapped = fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	case errors.Is(err, transport.ErrNotConnected):
		mapped = ErrNotConnected
	case errors.Is(err, transport.ErrBadFrame):
		mapped = fmt.Errorf("%w: %s: %w", ErrProtocol, op, err)
	default:
		mapped = fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	}
	c.lost(mapped)
	return mapped
}

// reset drops a connection whose stream can no longer be trusted.
func (c *connection) reset(cause error) {
	c.tr.Close()
	c.lost(cause)
}

func (c *connection) lost(cause error) {
	if !c.setState(StateDisconnected) {
		return
	}
	c.logger.Warn("connection lost", slog.String("error", cause.Error()))
	if c.opts.onDisconnect != nil {
		c.opts.onDisconnect(cause)
	}
}

func (c *connection) startLivenessLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	go c.liveness(ctx, done)
}

// liveness checks the link every interval until ctx is cancelled. After a
// failure the interval restarts from the end of the recovery attempt.
func (c *connection) liveness(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	interval := c.opts.livenessInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if c.tick(ctx) {
			ticker.Reset(interval)
		}
	}
}

// tick runs one liveness check and, on failure, the failure handler. It
// reports whether the handler ran.
func (c *connection) tick(ctx context.Context) bool {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	if ctx.Err() != nil {
		return false
	}

	var cause error
	switch {
	case !c.tr.IsConnected():
		cause = ErrNotConnected
	case !c.opts.prober.Reachable(ctx, c.host, c.opts.connectTimeout):
		cause = fmt.Errorf("%w: %s", ErrUnreachable, c.host)
	}
	if cause == nil || ctx.Err() != nil {
		return false
	}

	c.metrics.LivenessFailures.Add(1)
	c.logger.Warn("liveness check failed", slog.String("error", cause.Error()))
	c.lost(cause)

	if c.opts.onFailure != nil {
		c.opts.onFailure(ctx, cause)
	} else {
		c.reconnect(ctx)
	}
	return true
}

// reconnect tears down the socket and dials again. Must be called with ioMu
// held.
func (c *connection) reconnect(ctx context.Context) {
	c.tr.Close()
	c.metrics.Reconnections.Add(1)
	c.logger.Info("attempting reconnection")

	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		c.logger.Warn("reconnect failed", slog.String("error", err.Error()))
		return
	}
	if ctx.Err() != nil {
		return
	}
	c.setState(StateConnected)
	c.logger.Info("reconnected")
	if c.opts.onConnect != nil {
		c.opts.onConnect()
	}
}
