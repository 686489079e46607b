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

package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcpdock/mcpdock/internal/mcp"
)

// MockTransport implements mcp.Transport for testing.
type MockTransport struct {
	mu        sync.RWMutex
	tools     []mcp.ToolDefinition
	listErr   error
	listDelay time.Duration
	listCalls int
	pingErr   error
	closed    bool
}

// NewMockTransport creates a mock transport serving the given tools.
func NewMockTransport(tools []mcp.ToolDefinition) *MockTransport {
	return &MockTransport{tools: tools}
}

// SetTools replaces the served tool list.
func (t *MockTransport) SetTools(tools []mcp.ToolDefinition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools = tools
}

// SetListError makes subsequent ListTools calls fail.
func (t *MockTransport) SetListError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listErr = err
}

// SetListDelay makes ListTools block for the given duration.
func (t *MockTransport) SetListDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listDelay = d
}

// ListTools returns the configured tools.
func (t *MockTransport) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	t.mu.Lock()
	t.listCalls++
	delay := t.listDelay
	listErr := t.listErr
	toolsCopy := make([]mcp.ToolDefinition, len(t.tools))
	copy(toolsCopy, t.tools)
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if listErr != nil {
		return nil, listErr
	}
	return toolsCopy, nil
}

// ListCalls returns how many times ListTools was invoked.
func (t *MockTransport) ListCalls() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.listCalls
}

// Ping returns the configured ping error.
func (t *MockTransport) Ping(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pingErr
}

// Close marks the transport closed.
func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether Close was called.
func (t *MockTransport) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// MockDialer produces mcp.DialFunc implementations with scripted results.
type MockDialer struct {
	mu         sync.Mutex
	transports map[string]*MockTransport
	errs       map[string]error
	// errsByCommand fails dials by launch command, letting tests script
	// a failing primary launcher with a working fallback.
	errsByCommand map[string]error
	dialCount     map[string]int
	dialDelay     time.Duration
	commands      []string
}

// NewMockDialer creates an empty dialer; unscripted ids get a transport
// with no tools.
func NewMockDialer() *MockDialer {
	return &MockDialer{
		transports:    make(map[string]*MockTransport),
		errs:          make(map[string]error),
		errsByCommand: make(map[string]error),
		dialCount:     make(map[string]int),
	}
}

// SetTransport scripts the transport returned for a server id.
func (d *MockDialer) SetTransport(id string, t *MockTransport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transports[id] = t
}

// SetError makes dials for a server id fail.
func (d *MockDialer) SetError(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[id] = err
}

// SetCommandError makes dials using the given launch command fail.
func (d *MockDialer) SetCommandError(command string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errsByCommand[command] = err
}

// SetDialDelay makes every dial block for the given duration.
func (d *MockDialer) SetDialDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialDelay = delay
}

// DialCount returns how many dials were attempted for a server id.
func (d *MockDialer) DialCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount[id]
}

// Commands returns the launch commands of every dial in order.
func (d *MockDialer) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commands))
	copy(out, d.commands)
	return out
}

// Dial implements mcp.DialFunc.
func (d *MockDialer) Dial(ctx context.Context, serverID string, spec mcp.LaunchSpec) (mcp.Transport, error) {
	d.mu.Lock()
	d.dialCount[serverID]++
	d.commands = append(d.commands, spec.Command)
	delay := d.dialDelay
	err, scripted := d.errs[serverID]
	if !scripted {
		err, scripted = d.errsByCommand[spec.Command]
	}
	transport := d.transports[serverID]
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if scripted && err != nil {
		return nil, fmt.Errorf("dial %s: %w", serverID, err)
	}
	if transport == nil {
		transport = NewMockTransport(nil)
	}
	return transport, nil
}
