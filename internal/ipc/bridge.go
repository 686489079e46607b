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

// Package ipc bridges the daemon core to its host shell.
//
// Each handler wraps one core operation, normalizing every failure into a
// {success: false, error} envelope so callers never have to distinguish
// Go errors from structured results. The bridge also fans metric update
// batches out to registered sinks as "metrics-updated" notifications.
package ipc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpdock/mcpdock/internal/log"
	"github.com/mcpdock/mcpdock/internal/mcp"
	"github.com/mcpdock/mcpdock/internal/registry"
)

// Channel names for inbound requests and outbound notifications.
const (
	ChannelLoadServers        = "load-servers"
	ChannelSaveServers        = "save-servers"
	ChannelTestConnection     = "test-connection"
	ChannelConnectServer      = "connect-server"
	ChannelDisconnectServer   = "disconnect-server"
	ChannelGetServerTools     = "get-server-tools"
	ChannelRefreshServerTools = "refresh-server-tools"
	ChannelValidateServer     = "validate-server-config"
	ChannelRefreshMetrics     = "refresh-metrics"
	ChannelSetActiveServers   = "set-active-servers"
	ChannelSearchRegistry     = "search-registry"
	ChannelInstallServer      = "install-registry-server"
	ChannelMetricsUpdated     = "metrics-updated"
)

// Response is the uniform envelope every handler returns.
type Response struct {
	// Success indicates whether the operation completed.
	Success bool `json:"success"`

	// Data carries the operation result on success.
	Data any `json:"data,omitempty"`

	// Error is the failure message when Success is false.
	Error string `json:"error,omitempty"`
}

// Sink receives outbound notifications, typically one per shell window.
type Sink interface {
	Notify(channel string, payload any)
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// Manager is the MCP connection manager. Required.
	Manager *mcp.Manager

	// Scheduler is the metrics scheduler. Optional; metric channels
	// fail gracefully without it.
	Scheduler *registry.Scheduler

	// Search is the registry search service. Optional.
	Search *registry.SearchService

	// Logger receives per-request logs.
	Logger *slog.Logger
}

// Bridge exposes the daemon core over request/response channels.
type Bridge struct {
	manager   *mcp.Manager
	scheduler *registry.Scheduler
	search    *registry.SearchService
	logger    *slog.Logger

	sinksMu sync.Mutex
	sinks   []Sink

	pumpOnce sync.Once
	unsub    func()
	wg       sync.WaitGroup
}

// NewBridge creates a bridge over the given core services.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Bridge{
		manager:   cfg.Manager,
		scheduler: cfg.Scheduler,
		search:    cfg.Search,
		logger:    log.WithComponent(cfg.Logger, "ipc"),
	}
}

// RegisterSink adds a notification sink.
func (b *Bridge) RegisterSink(sink Sink) {
	b.sinksMu.Lock()
	defer b.sinksMu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// StartMetricsPump begins forwarding scheduler update batches to sinks.
// Safe to call once; a bridge without a scheduler pumps nothing.
func (b *Bridge) StartMetricsPump() {
	if b.scheduler == nil {
		return
	}

	b.pumpOnce.Do(func() {
		updates, unsub := b.scheduler.Subscribe()
		b.unsub = unsub

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for batch := range updates {
				b.broadcast(ChannelMetricsUpdated, batch)
			}
		}()
	})
}

// Close stops the metrics pump.
func (b *Bridge) Close() {
	if b.unsub != nil {
		b.unsub()
	}
	b.wg.Wait()
}

func (b *Bridge) broadcast(channel string, payload any) {
	b.sinksMu.Lock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.sinksMu.Unlock()

	for _, sink := range sinks {
		sink.Notify(channel, payload)
	}
}

// finish logs the request outcome and builds the response envelope.
func (b *Bridge) finish(req log.IPCRequest, start time.Time, data any, err error) Response {
	resp := Response{Success: err == nil, Data: data}
	if err != nil {
		resp.Error = err.Error()
		resp.Data = nil
	}

	log.LogIPCResponse(b.logger, req, log.IPCResponse{
		Success:  resp.Success,
		Error:    resp.Error,
		Duration: time.Since(start),
	})
	return resp
}

func (b *Bridge) begin(channel, serverID string) (log.IPCRequest, time.Time) {
	req := log.IPCRequest{Channel: channel, ServerID: serverID}
	log.LogIPCRequest(b.logger, req)
	return req, time.Now()
}

// LoadServers returns the persisted server catalog.
func (b *Bridge) LoadServers(ctx context.Context) Response {
	req, start := b.begin(ChannelLoadServers, "")
	return b.finish(req, start, b.manager.Store().List(), nil)
}

// SaveServers replaces the persisted server catalog.
func (b *Bridge) SaveServers(ctx context.Context, servers []mcp.ServerConfig) Response {
	req, start := b.begin(ChannelSaveServers, "")
	err := b.manager.Store().Save(servers)
	return b.finish(req, start, nil, err)
}

// TestConnection tries an unsaved configuration end to end.
func (b *Bridge) TestConnection(ctx context.Context, cfg mcp.ServerConfig) Response {
	req, start := b.begin(ChannelTestConnection, cfg.ID)
	result := b.manager.TestConnection(ctx, cfg)
	if !result.Success {
		return b.finish(req, start, nil, resultError(result))
	}
	return b.finish(req, start, result, nil)
}

// ConnectServer connects a configured server.
func (b *Bridge) ConnectServer(ctx context.Context, serverID string) Response {
	req, start := b.begin(ChannelConnectServer, serverID)

	result, err := b.manager.ConnectServer(ctx, serverID)
	if err != nil {
		return b.finish(req, start, nil, err)
	}
	if !result.Success {
		return b.finish(req, start, nil, resultError(result))
	}
	return b.finish(req, start, result, nil)
}

// DisconnectServer tears down a server connection.
func (b *Bridge) DisconnectServer(ctx context.Context, serverID string) Response {
	req, start := b.begin(ChannelDisconnectServer, serverID)
	err := b.manager.DisconnectServer(ctx, serverID)
	return b.finish(req, start, nil, err)
}

// GetServerTools returns the live tool list for a connected server.
func (b *Bridge) GetServerTools(ctx context.Context, serverID string) Response {
	req, start := b.begin(ChannelGetServerTools, serverID)
	tools, err := b.manager.GetServerTools(ctx, serverID)
	return b.finish(req, start, tools, err)
}

// RefreshServerTools re-runs tool discovery for a server.
func (b *Bridge) RefreshServerTools(ctx context.Context, serverID string) Response {
	req, start := b.begin(ChannelRefreshServerTools, serverID)
	tools, err := b.manager.RefreshServerTools(ctx, serverID)
	return b.finish(req, start, tools, err)
}

// ValidateServerConfig validates a configuration without connecting.
func (b *Bridge) ValidateServerConfig(ctx context.Context, cfg mcp.ServerConfig) Response {
	req, start := b.begin(ChannelValidateServer, cfg.ID)
	result := b.manager.Validator().Validate(cfg)
	return b.finish(req, start, result, nil)
}

// RefreshMetrics schedules an immediate metric fetch for one server.
// An empty serverID forces a full scheduler pass instead.
func (b *Bridge) RefreshMetrics(ctx context.Context, serverID string) Response {
	req, start := b.begin(ChannelRefreshMetrics, serverID)
	if b.scheduler == nil {
		return b.finish(req, start, nil, errNoScheduler)
	}
	if serverID != "" {
		b.scheduler.ScheduleImmediateFetch([]string{serverID})
	} else {
		b.scheduler.RefreshNow(ctx)
	}
	return b.finish(req, start, nil, nil)
}

// SetActiveServers marks which servers the shell is displaying. ttlMs
// bounds the activity window; zero keeps the scheduler's default.
func (b *Bridge) SetActiveServers(ctx context.Context, serverIDs []string, ttlMs int64) Response {
	req, start := b.begin(ChannelSetActiveServers, "")
	if b.scheduler == nil {
		return b.finish(req, start, nil, errNoScheduler)
	}
	b.scheduler.SetActive(serverIDs, time.Duration(ttlMs)*time.Millisecond)
	return b.finish(req, start, nil, nil)
}

// SearchRegistry queries the upstream registry with metric annotation.
func (b *Bridge) SearchRegistry(ctx context.Context, query string) Response {
	req, start := b.begin(ChannelSearchRegistry, "")
	if b.search == nil {
		return b.finish(req, start, nil, errNoSearch)
	}
	results, err := b.search.Search(ctx, query)
	return b.finish(req, start, results, err)
}

// InstallRegistryServer persists a registry entry as a local server.
func (b *Bridge) InstallRegistryServer(ctx context.Context, registryID string) Response {
	req, start := b.begin(ChannelInstallServer, registryID)
	if b.search == nil {
		return b.finish(req, start, nil, errNoSearch)
	}
	cfg, err := b.search.Install(ctx, registryID)
	if err != nil {
		return b.finish(req, start, nil, err)
	}
	return b.finish(req, start, cfg, nil)
}
