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
	"strings"
	"testing"
)

func validConfig(serverType ServerType) ServerConfig {
	cfg := ServerConfig{
		ID:   "srv-1",
		Name: "Server One",
		Type: serverType,
		Config: ConnectionSettings{
			Type: serverType,
		},
	}

	switch serverType {
	case ServerTypeFilesystem:
		cfg.Config.RootPath = "/home/user"
	case ServerTypeGitHub:
		cfg.Config.Token = "ghp_token"
	case ServerTypePostgres:
		cfg.Config.ConnectionString = "postgres://localhost:5432/db"
	case ServerTypeSQLite:
		cfg.Config.DatabasePath = "/tmp/data.db"
	case ServerTypeCustom:
		cfg.Config.Command = "my-server"
	}
	return cfg
}

func TestValidate_AllKnownTypesPass(t *testing.T) {
	v := NewValidator()

	for _, serverType := range KnownServerTypes() {
		result := v.Validate(validConfig(serverType))
		if !result.Valid {
			t.Errorf("%s: valid config rejected: %v", serverType, result.Errors)
		}
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		errLike string
	}{
		{
			name:    "missing id",
			mutate:  func(c *ServerConfig) { c.ID = " " },
			errLike: "id is required",
		},
		{
			name:    "missing name",
			mutate:  func(c *ServerConfig) { c.Name = "" },
			errLike: "name is required",
		},
		{
			name: "unknown type",
			mutate: func(c *ServerConfig) {
				c.Type = "redis"
			},
			errLike: "unknown server type",
		},
		{
			name: "type mismatch",
			mutate: func(c *ServerConfig) {
				c.Config.Type = ServerTypeGitHub
			},
			errLike: "does not match",
		},
		{
			name: "filesystem without root",
			mutate: func(c *ServerConfig) {
				c.Type = ServerTypeFilesystem
				c.Config = ConnectionSettings{Type: ServerTypeFilesystem}
			},
			errLike: "root path",
		},
		{
			name: "github without token",
			mutate: func(c *ServerConfig) {
				c.Type = ServerTypeGitHub
				c.Config = ConnectionSettings{Type: ServerTypeGitHub}
			},
			errLike: "access token",
		},
		{
			name: "postgres port out of range",
			mutate: func(c *ServerConfig) {
				c.Type = ServerTypePostgres
				c.Config = ConnectionSettings{
					Type:             ServerTypePostgres,
					ConnectionString: "postgres://localhost:99999/db",
				}
			},
			errLike: "out of range",
		},
		{
			name: "custom without command",
			mutate: func(c *ServerConfig) {
				c.Type = ServerTypeCustom
				c.Config = ConnectionSettings{Type: ServerTypeCustom}
			},
			errLike: "requires a command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(ServerTypeCustom)
			tt.mutate(&cfg)

			result := NewValidator().Validate(cfg)
			if result.Valid {
				t.Fatal("expected validation to fail")
			}

			found := false
			for _, msg := range result.Errors {
				if strings.Contains(msg, tt.errLike) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v missing %q", result.Errors, tt.errLike)
			}
		})
	}
}

func TestValidate_WarningsDoNotBlock(t *testing.T) {
	cfg := validConfig(ServerTypeFilesystem)
	cfg.Config.RootPath = "relative/path"

	result := NewValidator().Validate(cfg)
	if !result.Valid {
		t.Fatalf("warnings must not fail validation: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for a relative root path")
	}
}

func TestValidate_ShellMetacharacterWarning(t *testing.T) {
	cfg := validConfig(ServerTypeCustom)
	cfg.Config.Args = []string{"--flag", "value; rm -rf /"}

	result := NewValidator().Validate(cfg)
	if !result.Valid {
		t.Fatalf("expected valid with warnings, got errors: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a shell metacharacter warning")
	}
}

func TestValidate_CachesByContent(t *testing.T) {
	v := NewValidator()
	cfg := validConfig(ServerTypeCustom)

	first := v.Validate(cfg)
	cfg.Status = StatusReady // runtime churn must not bust the cache
	second := v.Validate(cfg)

	if first.Valid != second.Valid {
		t.Error("cached result differs")
	}

	// A content change produces a fresh result.
	cfg.Config.Command = ""
	third := v.Validate(cfg)
	if third.Valid {
		t.Error("changed config should re-validate")
	}
}

func TestClearCache(t *testing.T) {
	v := NewValidator()
	cfg := validConfig(ServerTypeCustom)

	v.Validate(cfg)
	v.ClearCache()

	result := v.Validate(cfg)
	if !result.Valid {
		t.Errorf("validation after cache clear failed: %v", result.Errors)
	}
}
