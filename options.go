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
	"log/slog"
	"time"

	"github.com/edgeo-scada/plclink/probe"
)

// Prober checks whether a host is reachable. It gates every connect and runs
// on every liveness tick.
type Prober interface {
	Reachable(ctx context.Context, host string, timeout time.Duration) bool
}

// FailureHandler is called by the liveness loop when the link is found dead.
// It runs while request I/O is blocked and must not call Client request
// methods. The default handler closes the socket and reconnects.
type FailureHandler func(ctx context.Context, cause error)

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

type clientOptions struct {
	// Connection settings
	port           int
	unitID         UnitID
	connectTimeout time.Duration
	readTimeout    time.Duration

	// Liveness settings
	livenessInterval time.Duration
	prober           Prober
	onFailure        FailureHandler

	// Callbacks
	onConnect    func()
	onDisconnect func(error)

	// Logging
	logger *slog.Logger
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		port:             DefaultPort,
		unitID:           DefaultUnitID,
		connectTimeout:   DefaultConnectTimeout,
		readTimeout:      DefaultReadTimeout,
		livenessInterval: DefaultLivenessInterval,
		prober:           probe.ICMP{},
		logger:           slog.Default(),
	}
}

// WithPort sets the TCP port of the controller.
func WithPort(port int) Option {
	return func(o *clientOptions) {
		o.port = port
	}
}

// WithUnitID sets the default unit ID for requests.
func WithUnitID(id UnitID) Option {
	return func(o *clientOptions) {
		o.unitID = id
	}
}

// WithConnectTimeout bounds the reachability probe and the TCP handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithReadTimeout bounds the wait for each response.
func WithReadTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.readTimeout = d
	}
}

// WithLivenessInterval sets the liveness loop period. Zero disables the loop.
func WithLivenessInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		o.livenessInterval = d
	}
}

// WithProber replaces the default ICMP reachability probe.
func WithProber(p Prober) Option {
	return func(o *clientOptions) {
		o.prober = p
	}
}

// WithOnFailure replaces the default reconnect performed by the liveness loop.
func WithOnFailure(fn FailureHandler) Option {
	return func(o *clientOptions) {
		o.onFailure = fn
	}
}

// WithOnConnect sets a callback to be called when the connection is established.
func WithOnConnect(fn func()) Option {
	return func(o *clientOptions) {
		o.onConnect = fn
	}
}

// WithOnDisconnect sets a callback to be called when the connection is lost
// or closed. The error is nil for a requested disconnect.
func WithOnDisconnect(fn func(error)) Option {
	return func(o *clientOptions) {
		o.onDisconnect = fn
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}
