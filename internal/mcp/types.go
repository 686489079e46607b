// Package mcp manages the lifecycle of Model Context Protocol servers.
//
// MCP (Model Context Protocol) defines a standard way for LLMs to interact
// with external tools and data sources. This package owns the persisted
// server catalog, validates configurations, spawns server processes over
// stdio, tracks connection health, and exposes the discovered tools to the
// rest of the daemon.
package mcp

import (
	"encoding/json"
	"time"
)

// ServerType identifies the kind of MCP server a configuration describes.
// Known types map onto a reference server package; "custom" runs an
// arbitrary command.
type ServerType string

const (
	ServerTypeFilesystem ServerType = "filesystem"
	ServerTypeGitHub     ServerType = "github"
	ServerTypePostgres   ServerType = "postgres"
	ServerTypeSQLite     ServerType = "sqlite"
	ServerTypeCustom     ServerType = "custom"
)

// KnownServerTypes lists every server type the manager can launch.
func KnownServerTypes() []ServerType {
	return []ServerType{
		ServerTypeFilesystem,
		ServerTypeGitHub,
		ServerTypePostgres,
		ServerTypeSQLite,
		ServerTypeCustom,
	}
}

// ServerStatus is the runtime connection state of a server.
// Statuses are transient: they are recomputed while the daemon runs and
// reset to disconnected when the catalog is loaded from disk.
type ServerStatus string

const (
	StatusDisconnected ServerStatus = "disconnected"
	StatusConnecting   ServerStatus = "connecting"
	StatusHandshaking  ServerStatus = "handshaking"
	StatusConnected    ServerStatus = "connected"
	StatusReady        ServerStatus = "ready"
	StatusError        ServerStatus = "error"
)

// ToolDefinition represents an MCP tool definition.
// Maps to the MCP protocol's Tool schema.
type ToolDefinition struct {
	// Name is the unique identifier for this tool
	Name string `json:"name"`

	// Description explains what the tool does
	Description string `json:"description"`

	// InputSchema defines the expected input parameters using JSON Schema
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ConnectionSettings is the type-specific half of a server configuration.
// Which fields are meaningful depends on ServerConfig.Type; unused fields
// stay empty and are omitted from the persisted JSON.
type ConnectionSettings struct {
	// Type mirrors the owning ServerConfig.Type and must agree with it.
	Type ServerType `json:"type"`

	// RootPath is the directory exposed by a filesystem server.
	RootPath string `json:"rootPath,omitempty"`

	// Token is the personal access token for a github server.
	Token string `json:"token,omitempty"`

	// ConnectionString is the DSN for a postgres server.
	ConnectionString string `json:"connectionString,omitempty"`

	// DatabasePath is the database file for a sqlite server.
	DatabasePath string `json:"databasePath,omitempty"`

	// Command is the executable for a custom server.
	Command string `json:"command,omitempty"`

	// Args are the command-line arguments for a custom server.
	Args []string `json:"args,omitempty"`

	// Env are extra environment variables for a custom server.
	Env map[string]string `json:"env,omitempty"`
}

// ServerConfig is one entry in the persisted server catalog.
type ServerConfig struct {
	// ID uniquely identifies the server within the catalog.
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// Type selects the launch strategy and required settings.
	Type ServerType `json:"type"`

	// Enabled marks servers eligible for automatic connection.
	Enabled bool `json:"enabled"`

	// Config holds the type-specific connection settings.
	Config ConnectionSettings `json:"config"`

	// Status is the current runtime connection state.
	Status ServerStatus `json:"status"`

	// Tools are the tool definitions discovered on the last fetch.
	Tools []ToolDefinition `json:"tools"`

	// LastConnected records when the server last completed a handshake.
	LastConnected *time.Time `json:"lastConnected,omitempty"`

	// CreatedAt is when the entry was added to the catalog.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the entry was last modified.
	UpdatedAt time.Time `json:"updatedAt"`

	// ConnectionHealth carries rolling health statistics, if recorded.
	ConnectionHealth *HealthSnapshot `json:"connectionHealth,omitempty"`
}

// ConnectResult is the outcome of a connect or test-connection request.
type ConnectResult struct {
	// Success indicates whether the connection was established.
	Success bool `json:"success"`

	// Tools are the tools discovered during the attempt, when any were
	// fetched synchronously (test connections fetch inline; regular
	// connects defer the fetch and report an empty list).
	Tools []ToolDefinition `json:"tools"`

	// Error is the failure message when Success is false.
	Error string `json:"error,omitempty"`

	// Code categorizes the failure for programmatic handling.
	Code MCPErrorCode `json:"code,omitempty"`
}

// ValidationResult reports the outcome of validating a server configuration.
type ValidationResult struct {
	// Valid is true when no errors were found. Warnings do not affect it.
	Valid bool `json:"valid"`

	// Errors are problems that block connecting.
	Errors []string `json:"errors"`

	// Warnings are advisory findings that do not block connecting.
	Warnings []string `json:"warnings"`
}
