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
	"fmt"
	"strings"
)

// MCPErrorCode represents a category of MCP error.
type MCPErrorCode string

const (
	// ErrorCodeNotFound indicates a server was not found in the catalog.
	ErrorCodeNotFound MCPErrorCode = "NOT_FOUND"
	// ErrorCodeValidation indicates a configuration failed validation.
	ErrorCodeValidation MCPErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig MCPErrorCode = "CONFIG"
	// ErrorCodeAlreadyConnecting indicates a connect attempt is already in flight.
	ErrorCodeAlreadyConnecting MCPErrorCode = "ALREADY_CONNECTING"
	// ErrorCodeStartFailed indicates the server process failed to start.
	ErrorCodeStartFailed MCPErrorCode = "START_FAILED"
	// ErrorCodeTimeout indicates a timeout occurred.
	ErrorCodeTimeout MCPErrorCode = "TIMEOUT"
	// ErrorCodeNotConnected indicates the server has no active connection.
	ErrorCodeNotConnected MCPErrorCode = "NOT_CONNECTED"
	// ErrorCodePersistence indicates the catalog could not be written.
	ErrorCodePersistence MCPErrorCode = "PERSISTENCE"
	// ErrorCodeInternalError indicates an internal error.
	ErrorCodeInternalError MCPErrorCode = "INTERNAL"
)

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code MCPErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)

	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// Suggestion returns the first actionable suggestion, if any.
func (e *MCPError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// ErrServerNotFound creates an error for a server missing from the catalog.
func ErrServerNotFound(id string) *MCPError {
	return &MCPError{
		Code:    ErrorCodeNotFound,
		Message: "server configuration not found",
		Detail:  id,
		Suggestions: []string{
			"check the server id against the saved configuration list",
		},
	}
}

// ErrAlreadyConnecting creates an error for a duplicate in-flight connect.
func ErrAlreadyConnecting(id string) *MCPError {
	return &MCPError{
		Code:    ErrorCodeAlreadyConnecting,
		Message: "connection attempt already in progress",
		Detail:  id,
		Suggestions: []string{
			"wait for the current attempt to finish before retrying",
		},
	}
}

// ErrNotConnected creates an error for an operation requiring a live connection.
func ErrNotConnected(id string) *MCPError {
	return &MCPError{
		Code:    ErrorCodeNotConnected,
		Message: "server not connected",
		Detail:  id,
		Suggestions: []string{
			"connect the server before requesting its tools",
		},
	}
}

// ErrValidationFailed creates an error from a failed validation result.
func ErrValidationFailed(id string, result ValidationResult) *MCPError {
	return &MCPError{
		Code:    ErrorCodeValidation,
		Message: "server configuration is invalid",
		Detail:  fmt.Sprintf("%s: %s", id, strings.Join(result.Errors, "; ")),
	}
}

// ErrStartFailed creates an error for a failed server spawn or handshake.
func ErrStartFailed(id string, cause error) *MCPError {
	return &MCPError{
		Code:    ErrorCodeStartFailed,
		Message: "failed to start MCP server",
		Detail:  id,
		Cause:   cause,
		Suggestions: []string{
			"verify the launcher command is installed and on PATH",
		},
	}
}
