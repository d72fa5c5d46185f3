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
	"testing"
)

func TestTransactionCounter(t *testing.T) {
	var gen TransactionCounter

	for i := 0; i < 3; i++ {
		if id := gen.Next(); id != uint16(i) {
			t.Errorf("Expected %d, got %d", i, id)
		}
	}
	if gen.Peek() != 3 {
		t.Errorf("Peek: expected 3, got %d", gen.Peek())
	}
}

func TestTransactionCounter_Wraps(t *testing.T) {
	var gen TransactionCounter
	gen.counter.Store(65535)

	if id := gen.Next(); id != 65535 {
		t.Errorf("Expected 65535, got %d", id)
	}
	if id := gen.Next(); id != 0 {
		t.Errorf("Expected wrap to 0, got %d", id)
	}
}

func TestTransactionCounter_Concurrent(t *testing.T) {
	var gen TransactionCounter
	const workers, perWorker = 8, 1000

	seen := make([]map[uint16]bool, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		seen[w] = make(map[uint16]bool, perWorker)
		wg.Add(1)
		go func(m map[uint16]bool) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				m[gen.Next()] = true
			}
		}(seen[w])
	}
	wg.Wait()

	all := make(map[uint16]bool)
	for _, m := range seen {
		for id := range m {
			if all[id] {
				t.Fatalf("id %d handed out twice", id)
			}
			all[id] = true
		}
	}
	if len(all) != workers*perWorker {
		t.Errorf("expected %d ids, got %d", workers*perWorker, len(all))
	}
}
