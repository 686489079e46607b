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

package log

import (
	"log/slog"
	"time"
)

// IPCRequest describes an inbound bridge request for logging purposes.
type IPCRequest struct {
	// Channel is the bridge channel name (e.g. "connect-server").
	Channel string

	// ServerID is the MCP server the request targets, if any.
	ServerID string
}

// IPCResponse describes the outcome of a bridge request for logging purposes.
type IPCResponse struct {
	// Success indicates whether the request succeeded.
	Success bool

	// Error is the error message on failure.
	Error string

	// Duration is how long the request took to process.
	Duration time.Duration
}

// LogIPCRequest logs an inbound bridge request at debug level.
func LogIPCRequest(logger *slog.Logger, req IPCRequest) {
	attrs := []any{ChannelKey, req.Channel}
	if req.ServerID != "" {
		attrs = append(attrs, ServerKey, req.ServerID)
	}
	logger.Debug("ipc request", attrs...)
}

// LogIPCResponse logs the outcome of a bridge request.
// Failures are logged at warn level, successes at debug.
func LogIPCResponse(logger *slog.Logger, req IPCRequest, resp IPCResponse) {
	attrs := []any{
		ChannelKey, req.Channel,
		DurationKey, resp.Duration.Milliseconds(),
		"success", resp.Success,
	}
	if req.ServerID != "" {
		attrs = append(attrs, ServerKey, req.ServerID)
	}

	if !resp.Success {
		attrs = append(attrs, "error", resp.Error)
		logger.Warn("ipc request failed", attrs...)
		return
	}
	logger.Debug("ipc request completed", attrs...)
}
