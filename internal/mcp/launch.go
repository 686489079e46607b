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
	"sort"
	"strings"
)

// LaunchSpec describes the process to spawn for a server connection.
type LaunchSpec struct {
	// Command is the executable to run.
	Command string

	// Args are the command-line arguments.
	Args []string

	// Env are extra environment variables in KEY=VALUE form, appended to
	// the daemon's own environment.
	Env []string
}

// deriveLaunchSpec maps a server configuration onto the process that
// implements it. Known types launch the corresponding reference server
// package; custom servers run their configured command directly.
func deriveLaunchSpec(cfg ServerConfig) (LaunchSpec, error) {
	switch cfg.Type {
	case ServerTypeFilesystem:
		return LaunchSpec{
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", cfg.Config.RootPath},
		}, nil

	case ServerTypeGitHub:
		return LaunchSpec{
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-github"},
			Env:     []string{"GITHUB_PERSONAL_ACCESS_TOKEN=" + cfg.Config.Token},
		}, nil

	case ServerTypePostgres:
		return LaunchSpec{
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-postgres", cfg.Config.ConnectionString},
		}, nil

	case ServerTypeSQLite:
		return LaunchSpec{
			Command: "uvx",
			Args:    []string{"mcp-server-sqlite", "--db-path", cfg.Config.DatabasePath},
		}, nil

	case ServerTypeCustom:
		return LaunchSpec{
			Command: cfg.Config.Command,
			Args:    append([]string(nil), cfg.Config.Args...),
			Env:     flattenEnv(cfg.Config.Env),
		}, nil

	default:
		return LaunchSpec{}, &MCPError{
			Code:    ErrorCodeConfig,
			Message: "cannot derive launch command",
			Detail:  fmt.Sprintf("unknown server type %q", cfg.Type),
		}
	}
}

// pythonFallback rewrites a uvx or pipx launch into a python3 module
// invocation for hosts without Python launcher tooling. The package name
// becomes the module name with hyphens mapped to underscores.
// Returns false when the spec has no such fallback.
func pythonFallback(spec LaunchSpec) (LaunchSpec, bool) {
	if spec.Command != "uvx" && spec.Command != "pipx" {
		return LaunchSpec{}, false
	}
	if len(spec.Args) == 0 {
		return LaunchSpec{}, false
	}

	module := strings.ReplaceAll(spec.Args[0], "-", "_")
	args := append([]string{"-m", module}, spec.Args[1:]...)

	return LaunchSpec{
		Command: "python3",
		Args:    args,
		Env:     spec.Env,
	}, true
}

// flattenEnv converts an environment map to sorted KEY=VALUE form so the
// derived spec is deterministic.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}

	flat := make([]string, 0, len(env))
	for key, value := range env {
		flat = append(flat, key+"="+value)
	}
	sort.Strings(flat)
	return flat
}
