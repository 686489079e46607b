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
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

// Transport is a live, handshaked connection to an MCP server.
// Implementations must be safe for concurrent use.
type Transport interface {
	// ListTools retrieves the tools the server currently exposes.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// Ping checks connection liveness.
	Ping(ctx context.Context) error

	// Close terminates the connection and the underlying process.
	// Safe to call more than once.
	Close() error
}

// DialFunc spawns a server process from a launch spec and completes the
// MCP handshake, returning a ready transport. The manager takes a dialer
// so tests can substitute in-memory transports.
type DialFunc func(ctx context.Context, serverID string, spec LaunchSpec) (Transport, error)

// stdioTransport wraps an mcp-go stdio client.
type stdioTransport struct {
	serverID string
	client   *client.Client

	closeOnce sync.Once
	closeErr  error
}

// DialStdio spawns the server process over stdio and performs the MCP
// initialize handshake. The returned transport owns the child process.
func DialStdio(ctx context.Context, serverID string, spec LaunchSpec) (Transport, error) {
	mcpClient, err := client.NewStdioMCPClient(spec.Command, spec.Env, spec.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	t := &stdioTransport{
		serverID: serverID,
		client:   mcpClient,
	}

	if err := t.initialize(ctx); err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to initialize MCP server: %w", err)
	}

	return t, nil
}

// initialize sends the initialize request to the MCP server.
func (t *stdioTransport) initialize(ctx context.Context) error {
	initReq := mcpproto.InitializeRequest{
		Params: mcpproto.InitializeParams{
			ProtocolVersion: mcpproto.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcpproto.ClientCapabilities{
				// Minimal capabilities for tool usage
			},
			ClientInfo: mcpproto.Implementation{
				Name:    "mcpdock",
				Version: "0.1.0",
			},
		},
	}

	if _, err := t.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}

	return nil
}

// ListTools retrieves the list of available tools from the MCP server.
func (t *stdioTransport) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := t.client.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]ToolDefinition, len(result.Tools))
	for i, tool := range result.Tools {
		schemaBytes, err := toolSchemaBytes(tool)
		if err != nil {
			return nil, err
		}

		tools[i] = ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaBytes,
		}
	}

	return tools, nil
}

// toolSchemaBytes extracts the input schema from a protocol tool.
// Uses RawInputSchema if available, otherwise marshals the typed schema.
func toolSchemaBytes(tool mcpproto.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return json.RawMessage(tool.RawInputSchema), nil
	}

	toolBytes, err := tool.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool %s: %w", tool.Name, err)
	}

	var toolMap map[string]any
	if err := json.Unmarshal(toolBytes, &toolMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool %s: %w", tool.Name, err)
	}

	inputSchema, ok := toolMap["inputSchema"]
	if !ok {
		return nil, nil
	}

	schemaBytes, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
	}
	return schemaBytes, nil
}

// Ping checks that the server still responds.
func (t *stdioTransport) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close terminates the connection. Idempotent.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.client.Close()
	})
	return t.closeErr
}
