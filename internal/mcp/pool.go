// Copyright 2025 Tom Barlow
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

package mcp

import "sync"

// Pool holds pre-warmed transports keyed by server id, letting parallel
// connects hand an already-handshaked connection to the manager. At most
// one idle transport is kept per server.
type Pool struct {
	capacity int

	mu   sync.Mutex
	idle map[string]Transport
}

// NewPool creates a pool bounded to capacity idle transports in total.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 8
	}
	return &Pool{
		capacity: capacity,
		idle:     make(map[string]Transport),
	}
}

// Put offers an idle transport for a server. Returns false when the pool
// is full or already holds one for this id; the caller keeps ownership
// (and should close it) in that case.
func (p *Pool) Put(id string, t Transport) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.idle[id]; exists || len(p.idle) >= p.capacity {
		return false
	}
	p.idle[id] = t
	return true
}

// Take removes and returns the idle transport for a server, if any.
func (p *Pool) Take(id string) (Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.idle[id]
	if ok {
		delete(p.idle, id)
	}
	return t, ok
}

// Has reports whether an idle transport is pooled for a server.
func (p *Pool) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.idle[id]
	return ok
}

// Close tears down every idle transport.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = make(map[string]Transport)
	p.mu.Unlock()

	for _, t := range idle {
		_ = t.Close()
	}
}
