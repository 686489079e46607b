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

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mcpdock/mcpdock/internal/log"
)

// ToolRegistrationFunc is called after a deferred tool fetch succeeds with
// a non-empty tool list, letting the host surface the tools elsewhere.
type ToolRegistrationFunc func(serverID string, tools []ToolDefinition)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Store is the persisted server catalog. Required.
	Store *Store

	// Validator checks configurations before connecting.
	// Defaults to a fresh validator.
	Validator *Validator

	// Health tracks connection statistics.
	// Defaults to a tracker without Prometheus registration.
	Health *HealthTracker

	// Logger receives structured lifecycle logs.
	Logger *slog.Logger

	// Dial establishes transports. Defaults to DialStdio.
	Dial DialFunc

	// Pool, when set, provides pre-warmed transports for parallel connects.
	Pool *Pool

	// ConnectTimeout bounds spawn plus handshake. Defaults to 30s.
	ConnectTimeout time.Duration

	// ToolFetchDelay is how long after the handshake the deferred tool
	// fetch runs, giving the child process time to settle. Defaults to 1s.
	ToolFetchDelay time.Duration

	// MaxConcurrency bounds parallel connection attempts. Defaults to 3.
	MaxConcurrency int

	// OnToolsRegistered is invoked after successful tool discovery.
	OnToolsRegistered ToolRegistrationFunc
}

// connection is an established transport plus the cancel func for work
// tied to its lifetime (the deferred tool fetch).
type connection struct {
	transport Transport
	cancel    context.CancelFunc
}

// Manager owns the connection state machine for all configured servers.
//
// Per server, at most one connection and at most one in-flight connect
// attempt exist at any time. Status transitions are
// disconnected -> connecting -> handshaking -> connected -> ready, with
// error reachable from any connecting state.
type Manager struct {
	store     *Store
	validator *Validator
	health    *HealthTracker
	logger    *slog.Logger
	dial      DialFunc
	pool      *Pool

	connectTimeout time.Duration
	toolFetchDelay time.Duration
	onTools        ToolRegistrationFunc

	mu         sync.Mutex
	conns      map[string]*connection
	connecting map[string]struct{}

	concurrencyMu  sync.Mutex
	maxConcurrency int

	// lifetime bounds all deferred work; canceled by Shutdown.
	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager creates a connection manager over the given catalog.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Validator == nil {
		cfg.Validator = NewValidator()
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthTracker(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = DialStdio
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ToolFetchDelay <= 0 {
		cfg.ToolFetchDelay = time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}

	lifetime, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:          cfg.Store,
		validator:      cfg.Validator,
		health:         cfg.Health,
		logger:         log.WithComponent(cfg.Logger, "mcp-manager"),
		dial:           cfg.Dial,
		pool:           cfg.Pool,
		connectTimeout: cfg.ConnectTimeout,
		toolFetchDelay: cfg.ToolFetchDelay,
		onTools:        cfg.OnToolsRegistered,
		conns:          make(map[string]*connection),
		connecting:     make(map[string]struct{}),
		maxConcurrency: cfg.MaxConcurrency,
		lifetime:       lifetime,
		cancel:         cancel,
	}
}

// Store returns the manager's server catalog.
func (m *Manager) Store() *Store {
	return m.store
}

// Validator returns the manager's configuration validator.
func (m *Manager) Validator() *Validator {
	return m.validator
}

// Health returns the manager's health tracker.
func (m *Manager) Health() *HealthTracker {
	return m.health
}

// MaxConcurrency returns the current parallel-connect bound.
func (m *Manager) MaxConcurrency() int {
	m.concurrencyMu.Lock()
	defer m.concurrencyMu.Unlock()
	return m.maxConcurrency
}

// SetMaxConcurrency adjusts the parallel-connect bound and returns the
// previous value so callers can restore it.
func (m *Manager) SetMaxConcurrency(n int) int {
	m.concurrencyMu.Lock()
	defer m.concurrencyMu.Unlock()

	prev := m.maxConcurrency
	if n > 0 {
		m.maxConcurrency = n
	}
	return prev
}

// ConnectServer establishes a connection to the server with the given id.
//
// An already-connected server is a no-op success. A second call while an
// attempt is in flight fails fast with ErrorCodeAlreadyConnecting; every
// other failure mode is reported in the result rather than the error
// return. On success the tool fetch is deferred, so the result carries an
// empty tool list.
func (m *Manager) ConnectServer(ctx context.Context, id string) (*ConnectResult, error) {
	m.mu.Lock()
	if _, ok := m.conns[id]; ok {
		m.mu.Unlock()
		m.logger.Debug("server already connected", log.ServerKey, id)
		return &ConnectResult{Success: true, Tools: []ToolDefinition{}}, nil
	}
	if _, busy := m.connecting[id]; busy {
		m.mu.Unlock()
		return nil, ErrAlreadyConnecting(id)
	}
	m.connecting[id] = struct{}{}
	m.mu.Unlock()

	result := m.connect(ctx, id)

	if !result.Success {
		m.mu.Lock()
		delete(m.connecting, id)
		m.mu.Unlock()
	}

	return result, nil
}

// connect performs the actual attempt. The caller holds the busy marker;
// on success connect transfers it into a connection entry.
func (m *Manager) connect(ctx context.Context, id string) *ConnectResult {
	cfg, ok := m.store.Get(id)
	if !ok {
		err := ErrServerNotFound(id)
		return &ConnectResult{Success: false, Error: err.Error(), Code: err.Code}
	}

	if res := m.validator.Validate(cfg); !res.Valid {
		msg := strings.Join(res.Errors, "; ")
		m.logger.Warn("configuration invalid", log.ServerKey, id, "errors", msg)
		m.health.RecordError(id, msg)
		m.mirrorHealth(id)
		m.setStatus(id, StatusError)
		return &ConnectResult{Success: false, Error: msg, Code: ErrorCodeValidation}
	}

	spec, err := deriveLaunchSpec(cfg)
	if err != nil {
		m.health.RecordError(id, err.Error())
		m.mirrorHealth(id)
		m.setStatus(id, StatusError)
		return &ConnectResult{Success: false, Error: err.Error(), Code: ErrorCodeConfig}
	}

	m.setStatus(id, StatusConnecting)
	m.health.RecordAttempt(id)
	m.mirrorHealth(id)
	m.logger.Info("connecting", log.ServerKey, id, "command", spec.Command)

	var transport Transport
	if m.pool != nil {
		if pooled, ok := m.pool.Take(id); ok {
			m.logger.Debug("reusing pooled transport", log.ServerKey, id)
			transport = pooled
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	if transport == nil {
		transport, err = m.dialWithFallback(dialCtx, id, spec)
	}
	if err != nil {
		m.health.RecordError(id, err.Error())
		m.mirrorHealth(id)
		m.setStatus(id, StatusError)
		m.logger.Warn("connection failed", log.ServerKey, id, log.Error(err))
		code := ErrorCodeStartFailed
		if dialCtx.Err() != nil {
			code = ErrorCodeTimeout
		}
		return &ConnectResult{Success: false, Error: err.Error(), Code: code}
	}

	// Deferred work is tied to the manager lifetime, not the caller's
	// context: the fetch must survive the connect request returning.
	connCtx, connCancel := context.WithCancel(m.lifetime)

	m.mu.Lock()
	m.conns[id] = &connection{transport: transport, cancel: connCancel}
	delete(m.connecting, id)
	m.mu.Unlock()

	m.health.RecordSuccess(id)
	m.mirrorHealth(id)
	m.setStatus(id, StatusConnected)
	m.logger.Info("connected", log.ServerKey, id)

	m.scheduleToolFetch(connCtx, id, transport)

	return &ConnectResult{Success: true, Tools: []ToolDefinition{}}
}

// dialWithFallback dials the primary launch spec and, when the primary
// launcher is uvx or pipx and fails, retries once as a python3 module
// invocation. The primary error is reported when both fail.
func (m *Manager) dialWithFallback(ctx context.Context, id string, spec LaunchSpec) (Transport, error) {
	m.setStatus(id, StatusHandshaking)

	transport, err := m.dial(ctx, id, spec)
	if err == nil {
		return transport, nil
	}

	fallback, ok := pythonFallback(spec)
	if !ok {
		return nil, err
	}

	m.logger.Warn("primary launcher failed, retrying via python3",
		log.ServerKey, id, "command", spec.Command, log.Error(err))

	transport, fbErr := m.dial(ctx, id, fallback)
	if fbErr != nil {
		return nil, err
	}
	return transport, nil
}

// scheduleToolFetch runs the deferred tool discovery for a new connection.
// The delay gives slow-starting servers time to settle; disconnecting
// before it elapses cancels the fetch.
func (m *Manager) scheduleToolFetch(ctx context.Context, id string, transport Transport) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case <-time.After(m.toolFetchDelay):
		case <-ctx.Done():
			m.logger.Debug("tool fetch canceled", log.ServerKey, id)
			return
		}

		// Liveness re-check: the connection may have been replaced or
		// torn down while we slept.
		m.mu.Lock()
		conn, ok := m.conns[id]
		live := ok && conn.transport == transport
		m.mu.Unlock()
		if !live {
			m.logger.Debug("connection gone before tool fetch", log.ServerKey, id)
			return
		}

		fetchCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
		defer cancel()

		start := time.Now()
		tools, err := transport.ListTools(fetchCtx)
		now := time.Now()

		if err != nil {
			// The connection stays usable; tools from a previous session
			// are kept and the server parks at connected.
			m.logger.Warn("tool fetch failed", log.ServerKey, id, log.Error(err))
			m.store.Mutate(id, func(cfg *ServerConfig) {
				cfg.Status = StatusConnected
				cfg.LastConnected = &now
				cfg.UpdatedAt = now
			})
			m.flush(id)
			return
		}

		m.store.Mutate(id, func(cfg *ServerConfig) {
			cfg.Tools = tools
			cfg.Status = StatusReady
			cfg.LastConnected = &now
			cfg.UpdatedAt = now
		})
		m.flush(id)

		m.logger.Info("tools discovered", log.ServerKey, id,
			"count", len(tools), log.DurationKey, now.Sub(start).Milliseconds())

		if len(tools) > 0 && m.onTools != nil {
			m.onTools(id, tools)
		}
	}()
}

// DisconnectServer tears down the connection for the given id.
// Disconnecting a server with no active connection is a no-op.
// Cancels any pending deferred tool fetch before closing the transport.
func (m *Manager) DisconnectServer(ctx context.Context, id string) error {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("no active connection", log.ServerKey, id)
		m.setStatus(id, StatusDisconnected)
		return nil
	}

	conn.cancel()
	if err := conn.transport.Close(); err != nil {
		m.logger.Warn("error closing transport", log.ServerKey, id, log.Error(err))
	}

	m.health.RecordDisconnect(id)
	m.mirrorHealth(id)
	m.setStatus(id, StatusDisconnected)
	m.logger.Info("disconnected", log.ServerKey, id)
	return nil
}

// DisconnectAll tears down every active connection concurrently.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = m.DisconnectServer(ctx, id)
		}(id)
	}
	wg.Wait()
}

// Shutdown disconnects everything and waits for deferred work to finish.
func (m *Manager) Shutdown(ctx context.Context) {
	m.cancel()
	m.DisconnectAll(ctx)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timed out waiting for deferred work")
	}
}

// GetServerTools returns the live tool list for a connected server.
// Requires an active connection; an internal fetch failure yields an
// empty list rather than an error.
func (m *Manager) GetServerTools(ctx context.Context, id string) ([]ToolDefinition, error) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	m.mu.Unlock()

	if !ok {
		return nil, ErrNotConnected(id)
	}

	tools, err := conn.transport.ListTools(ctx)
	if err != nil {
		m.logger.Warn("live tool fetch failed", log.ServerKey, id, log.Error(err))
		return []ToolDefinition{}, nil
	}
	return tools, nil
}

// RefreshServerTools re-runs tool discovery for a connected server,
// overwriting the persisted tool list on success. When the server is not
// in a connected state the stored tools are returned unchanged.
func (m *Manager) RefreshServerTools(ctx context.Context, id string) ([]ToolDefinition, error) {
	cfg, ok := m.store.Get(id)
	if !ok {
		return nil, ErrServerNotFound(id)
	}

	m.mu.Lock()
	conn, connected := m.conns[id]
	m.mu.Unlock()

	if !connected {
		m.logger.Warn("refresh requested while disconnected", log.ServerKey, id)
		return cfg.Tools, nil
	}

	tools, err := conn.transport.ListTools(ctx)
	if err != nil {
		m.logger.Warn("tool refresh failed", log.ServerKey, id, log.Error(err))
		return cfg.Tools, nil
	}

	now := time.Now()
	m.store.Mutate(id, func(cfg *ServerConfig) {
		cfg.Tools = tools
		cfg.Status = StatusReady
		cfg.UpdatedAt = now
	})
	m.flush(id)

	if len(tools) > 0 && m.onTools != nil {
		m.onTools(id, tools)
	}
	return tools, nil
}

// TestConnection spawns a server from an unsaved configuration, fetches
// its tools inline, and tears it down. The catalog is never touched.
func (m *Manager) TestConnection(ctx context.Context, cfg ServerConfig) *ConnectResult {
	if res := m.validator.Validate(cfg); !res.Valid {
		return &ConnectResult{
			Success: false,
			Error:   strings.Join(res.Errors, "; "),
			Code:    ErrorCodeValidation,
		}
	}

	spec, err := deriveLaunchSpec(cfg)
	if err != nil {
		return &ConnectResult{Success: false, Error: err.Error(), Code: ErrorCodeConfig}
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	transport, err := m.dial(dialCtx, cfg.ID, spec)
	if err != nil {
		if fallback, ok := pythonFallback(spec); ok {
			transport, err = m.dial(dialCtx, cfg.ID, fallback)
		}
		if err != nil {
			return &ConnectResult{Success: false, Error: err.Error(), Code: ErrorCodeStartFailed}
		}
	}
	defer transport.Close()

	tools, err := transport.ListTools(dialCtx)
	if err != nil {
		return &ConnectResult{Success: false, Error: err.Error(), Code: ErrorCodeStartFailed}
	}

	return &ConnectResult{Success: true, Tools: tools}
}

// ConnectedIDs returns the ids with an active connection.
func (m *Manager) ConnectedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

// IsConnected reports whether the server has an active connection.
func (m *Manager) IsConnected(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[id]
	return ok
}

// setStatus updates the in-memory status for a server. Statuses are
// transient so no flush happens here.
func (m *Manager) setStatus(id string, status ServerStatus) {
	m.store.Mutate(id, func(cfg *ServerConfig) {
		cfg.Status = status
		cfg.UpdatedAt = time.Now()
	})
}

// mirrorHealth copies the tracker's snapshot onto the catalog entry.
func (m *Manager) mirrorHealth(id string) {
	snapshot, ok := m.health.Snapshot(id)
	if !ok {
		return
	}
	m.store.Mutate(id, func(cfg *ServerConfig) {
		cfg.ConnectionHealth = &snapshot
	})
}

// flush persists the catalog, logging rather than failing on error so a
// read-only disk never takes down live connections.
func (m *Manager) flush(id string) {
	if err := m.store.Flush(); err != nil {
		m.logger.Warn("failed to persist catalog", log.ServerKey, id, log.Error(err))
	}
}
