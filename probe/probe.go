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

// Package probe provides host reachability checks used by the Modbus client
// before dialing and on every liveness tick.
package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ICMP probes with a single ICMP echo request.
//
// Unprivileged mode sends UDP pings and needs net.ipv4.ping_group_range to
// include the process group on Linux. Privileged mode needs raw socket rights.
type ICMP struct {
	Privileged bool
}

// Reachable reports whether host answered an echo request within timeout.
func (p ICMP) Reachable(ctx context.Context, host string, timeout time.Duration) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// TCP probes by opening and closing a TCP connection to Port.
type TCP struct {
	Port int
}

// Reachable reports whether a TCP handshake with host completed within timeout.
func (p TCP) Reachable(ctx context.Context, host string, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.Port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Static always returns the same answer. Static(true) disables probing.
type Static bool

// Reachable returns the fixed answer.
func (s Static) Reachable(context.Context, string, time.Duration) bool {
	return bool(s)
}

// Func adapts a plain function to the prober interface.
type Func func(ctx context.Context, host string, timeout time.Duration) bool

// Reachable calls f.
func (f Func) Reachable(ctx context.Context, host string, timeout time.Duration) bool {
	return f(ctx, host, timeout)
}
