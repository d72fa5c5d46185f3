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
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	var c Counter

	if c.Value() != 0 {
		t.Errorf("Initial value: expected 0, got %d", c.Value())
	}

	c.Add(5)
	c.Add(-2)
	if c.Value() != 3 {
		t.Errorf("After Add(5), Add(-2): expected 3, got %d", c.Value())
	}

	c.Reset()
	if c.Value() != 0 {
		t.Errorf("After Reset: expected 0, got %d", c.Value())
	}
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram()

	h.Observe(500 * time.Microsecond)
	h.Observe(2 * time.Millisecond)
	h.Observe(10 * time.Millisecond)
	h.Observe(100 * time.Millisecond)
	h.Observe(5 * time.Second)

	stats := h.Stats()

	if stats.Count != 5 {
		t.Errorf("Count: expected 5, got %d", stats.Count)
	}
	if stats.Min != 500*time.Microsecond {
		t.Errorf("Min: expected 500µs, got %v", stats.Min)
	}
	if stats.Max != 5*time.Second {
		t.Errorf("Max: expected 5s, got %v", stats.Max)
	}

	want := map[string]int64{
		"le_1ms":   1,
		"le_5ms":   1,
		"le_10ms":  1,
		"le_50ms":  0,
		"le_100ms": 1,
		"le_3s":    1,
	}
	for bucket, n := range want {
		if stats.Buckets[bucket] != n {
			t.Errorf("Bucket %s: expected %d, got %d", bucket, n, stats.Buckets[bucket])
		}
	}
}

func TestLatencyHistogramReset(t *testing.T) {
	h := NewLatencyHistogram()

	h.Observe(5 * time.Millisecond)
	h.Observe(10 * time.Millisecond)
	h.Reset()

	stats := h.Stats()
	if stats.Count != 0 || stats.Sum != 0 || stats.Avg != 0 {
		t.Errorf("after reset: expected empty stats, got %+v", stats)
	}
	if stats.Buckets["le_5ms"] != 0 {
		t.Errorf("buckets not cleared: %v", stats.Buckets)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.RequestsTotal.Add(10)
	m.RequestsSuccess.Add(8)
	m.RequestsErrors.Add(2)
	m.Reconnections.Add(1)
	m.LivenessFailures.Add(3)

	collected := m.Collect()

	for key, want := range map[string]int64{
		"requests_total":    10,
		"requests_success":  8,
		"requests_errors":   2,
		"reconnections":     1,
		"liveness_failures": 3,
		"timeouts":          0,
	} {
		if collected[key] != want {
			t.Errorf("%s: expected %d, got %v", key, want, collected[key])
		}
	}
	if _, ok := collected["functions"]; ok {
		t.Errorf("functions should be absent before any request")
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RequestsTotal.Add(10)
	m.Connects.Add(1)
	m.Latency.Observe(5 * time.Millisecond)
	m.ForFunction(FuncReadCoils).Requests.Add(4)

	m.Reset()

	if m.RequestsTotal.Value() != 0 || m.Connects.Value() != 0 {
		t.Errorf("counters not reset")
	}
	if m.Latency.Stats().Count != 0 {
		t.Errorf("Latency.Count after reset: expected 0, got %d", m.Latency.Stats().Count)
	}
	if m.ForFunction(FuncReadCoils).Requests.Value() != 0 {
		t.Errorf("function metrics not reset")
	}
}

func TestFunctionMetrics(t *testing.T) {
	m := NewMetrics()

	fm := m.ForFunction(FuncReadHoldingRegisters)
	fm.Requests.Add(5)
	fm.Errors.Add(1)

	if m.ForFunction(FuncReadHoldingRegisters) != fm {
		t.Errorf("ForFunction should return the same instance")
	}

	m.ForFunction(FuncWriteSingleRegister).Requests.Add(3)
	if fm.Requests.Value() != 5 {
		t.Errorf("ReadHoldingRegisters requests: expected 5, got %d", fm.Requests.Value())
	}

	funcs, ok := m.Collect()["functions"].(map[string]interface{})
	if !ok {
		t.Fatalf("functions missing from Collect")
	}
	if _, ok := funcs["WriteSingleRegister"]; !ok {
		t.Errorf("WriteSingleRegister missing from %v", funcs)
	}
}
