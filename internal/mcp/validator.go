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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Validator checks server configurations before they are connected.
// Results are cached by a content hash of the configuration, so repeated
// validation of an unchanged config is free.
type Validator struct {
	mu    sync.Mutex
	cache map[string]ValidationResult
}

// NewValidator creates a validator with an empty result cache.
func NewValidator() *Validator {
	return &Validator{cache: make(map[string]ValidationResult)}
}

// Validate checks a server configuration and returns the findings.
// Errors block connecting; warnings are advisory only.
func (v *Validator) Validate(cfg ServerConfig) ValidationResult {
	key := configHash(cfg)

	v.mu.Lock()
	if cached, ok := v.cache[key]; ok {
		v.mu.Unlock()
		return cached
	}
	v.mu.Unlock()

	result := validate(cfg)

	v.mu.Lock()
	v.cache[key] = result
	v.mu.Unlock()

	return result
}

// ClearCache drops all cached validation results.
func (v *Validator) ClearCache() {
	v.mu.Lock()
	v.cache = make(map[string]ValidationResult)
	v.mu.Unlock()
}

func validate(cfg ServerConfig) ValidationResult {
	result := ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}
	addError := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}
	addWarning := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(cfg.ID) == "" {
		addError("server id is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		addError("server name is required")
	}

	if !knownType(cfg.Type) {
		addError("unknown server type %q", cfg.Type)
		result.Valid = len(result.Errors) == 0
		return result
	}

	if cfg.Config.Type != "" && cfg.Config.Type != cfg.Type {
		addError("connection settings type %q does not match server type %q", cfg.Config.Type, cfg.Type)
	}

	switch cfg.Type {
	case ServerTypeFilesystem:
		if cfg.Config.RootPath == "" {
			addError("filesystem server requires a root path")
		} else if !filepath.IsAbs(cfg.Config.RootPath) {
			addWarning("root path %q is not absolute", cfg.Config.RootPath)
		}

	case ServerTypeGitHub:
		if cfg.Config.Token == "" {
			addError("github server requires a personal access token")
		}

	case ServerTypePostgres:
		if cfg.Config.ConnectionString == "" {
			addError("postgres server requires a connection string")
		} else if err := checkPostgresDSN(cfg.Config.ConnectionString); err != nil {
			addError("invalid connection string: %v", err)
		}

	case ServerTypeSQLite:
		if cfg.Config.DatabasePath == "" {
			addError("sqlite server requires a database path")
		}

	case ServerTypeCustom:
		if strings.TrimSpace(cfg.Config.Command) == "" {
			addError("custom server requires a command")
		}
		for _, arg := range cfg.Config.Args {
			if strings.ContainsAny(arg, ";|&`$") {
				addWarning("argument %q contains shell metacharacters", arg)
			}
		}
		for key := range cfg.Config.Env {
			if strings.TrimSpace(key) == "" {
				addError("environment variable with empty name")
			}
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// checkPostgresDSN validates a postgres URL-style DSN, in particular that
// the port, when present, is in the valid TCP range.
func checkPostgresDSN(dsn string) error {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		// Key/value DSNs ("host=... port=...") are passed through as-is.
		return nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("port %q out of range", port)
		}
	}

	return nil
}

func knownType(t ServerType) bool {
	for _, known := range KnownServerTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// configHash computes a stable content hash of the fields that influence
// validation. Status, tools and timestamps are excluded so runtime churn
// does not invalidate cache entries.
func configHash(cfg ServerConfig) string {
	stripped := struct {
		ID     string             `json:"id"`
		Name   string             `json:"name"`
		Type   ServerType         `json:"type"`
		Config ConnectionSettings `json:"config"`
	}{cfg.ID, cfg.Name, cfg.Type, cfg.Config}

	data, err := json.Marshal(stripped)
	if err != nil {
		// Marshal of plain structs cannot fail; fall back to a cache miss key.
		return cfg.ID
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
