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
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter.
type Counter struct {
	value atomic.Int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	c.value.Add(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	c.value.Store(0)
}

// latencyBounds are the upper bounds of the histogram buckets. Observations
// above the last bound land in the last bucket.
var latencyBounds = []time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	3 * time.Second,
}

// LatencyHistogram tracks round-trip latency distribution.
type LatencyHistogram struct {
	mu       sync.Mutex
	buckets  []int64
	count    int64
	sum      time.Duration
	min, max time.Duration
}

// NewLatencyHistogram creates a histogram with the default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{buckets: make([]int64, len(latencyBounds))}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 || d < h.min {
		h.min = d
	}
	if d > h.max {
		h.max = d
	}
	h.count++
	h.sum += d

	i := 0
	for i < len(latencyBounds)-1 && d > latencyBounds[i] {
		i++
	}
	h.buckets[i]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Min:     h.min,
		Max:     h.max,
		Buckets: make(map[string]int64, len(h.buckets)),
	}
	if h.count > 0 {
		stats.Avg = h.sum / time.Duration(h.count)
	}
	for i, n := range h.buckets {
		stats.Buckets["le_"+latencyBounds[i].String()] = n
	}
	return stats
}

// Reset clears all observations.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.buckets)
	h.count, h.sum, h.min, h.max = 0, 0, 0, 0
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Sum     time.Duration
	Avg     time.Duration
	Min     time.Duration
	Max     time.Duration
	Buckets map[string]int64
}

// Metrics holds client request and connection counters.
type Metrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	RequestsErrors  Counter
	Timeouts        Counter
	Exceptions      Counter

	Connects         Counter
	Reconnections    Counter
	LivenessFailures Counter

	Latency *LatencyHistogram

	funcMetrics sync.Map // FunctionCode -> *FunctionMetrics
}

// FunctionMetrics holds metrics for a specific function code.
type FunctionMetrics struct {
	Requests Counter
	Errors   Counter
	Latency  *LatencyHistogram
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{Latency: NewLatencyHistogram()}
}

// ForFunction returns metrics for a specific function code.
func (m *Metrics) ForFunction(fc FunctionCode) *FunctionMetrics {
	if v, ok := m.funcMetrics.Load(fc); ok {
		return v.(*FunctionMetrics)
	}
	v, _ := m.funcMetrics.LoadOrStore(fc, &FunctionMetrics{Latency: NewLatencyHistogram()})
	return v.(*FunctionMetrics)
}

// Collect returns all metrics as a map (compatible with expvar).
func (m *Metrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"requests_total":    m.RequestsTotal.Value(),
		"requests_success":  m.RequestsSuccess.Value(),
		"requests_errors":   m.RequestsErrors.Value(),
		"timeouts":          m.Timeouts.Value(),
		"exceptions":        m.Exceptions.Value(),
		"connects":          m.Connects.Value(),
		"reconnections":     m.Reconnections.Value(),
		"liveness_failures": m.LivenessFailures.Value(),
		"latency":           m.Latency.Stats(),
	}

	funcs := make(map[string]interface{})
	m.funcMetrics.Range(func(key, value interface{}) bool {
		fm := value.(*FunctionMetrics)
		funcs[key.(FunctionCode).String()] = map[string]interface{}{
			"requests": fm.Requests.Value(),
			"errors":   fm.Errors.Value(),
			"latency":  fm.Latency.Stats(),
		}
		return true
	})
	if len(funcs) > 0 {
		result["functions"] = funcs
	}
	return result
}

// Reset resets all metrics.
func (m *Metrics) Reset() {
	for _, c := range []*Counter{
		&m.RequestsTotal, &m.RequestsSuccess, &m.RequestsErrors, &m.Timeouts,
		&m.Exceptions, &m.Connects, &m.Reconnections, &m.LivenessFailures,
	} {
		c.Reset()
	}
	m.Latency.Reset()

	m.funcMetrics.Range(func(_, value interface{}) bool {
		fm := value.(*FunctionMetrics)
		fm.Requests.Reset()
		fm.Errors.Reset()
		fm.Latency.Reset()
		return true
	})
}
