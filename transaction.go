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

import "sync/atomic"

// TransactionCounter hands out MBAP transaction identifiers. The zero value
// starts at 0 and wraps from 65535 back to 0.
type TransactionCounter struct {
	counter atomic.Uint32
}

// Next returns the current identifier and advances the counter.
func (g *TransactionCounter) Next() uint16 {
	return uint16(g.counter.Add(1) - 1)
}

// Peek returns the identifier the next call to Next will return.
func (g *TransactionCounter) Peek() uint16 {
	return uint16(g.counter.Load())
}
