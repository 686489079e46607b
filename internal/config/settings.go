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

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds daemon configuration loaded from config.yaml.
type Settings struct {
	// ConnectTimeoutSeconds is the per-connection timeout for MCP handshakes.
	// Default: 30.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds,omitempty"`

	// MaxConcurrency bounds parallel connection attempts. Default: 3.
	MaxConcurrency int `yaml:"max_concurrency,omitempty"`

	// ToolFetchDelayMs is the delay between handshake and tool discovery,
	// giving the child process time to stabilize. Default: 1000.
	ToolFetchDelayMs int `yaml:"tool_fetch_delay_ms,omitempty"`

	// MetricsTickSeconds is the metrics scheduler tick interval. Default: 60.
	MetricsTickSeconds int `yaml:"metrics_tick_seconds,omitempty"`

	// MetricsListenAddr is the Prometheus metrics listen address.
	// Empty disables the endpoint.
	MetricsListenAddr string `yaml:"metrics_listen_addr,omitempty"`
}

// DefaultSettings returns the default daemon settings.
func DefaultSettings() *Settings {
	return &Settings{
		ConnectTimeoutSeconds: 30,
		MaxConcurrency:        3,
		ToolFetchDelayMs:      1000,
		MetricsTickSeconds:    60,
	}
}

// LoadSettings loads daemon settings from disk, returning defaults when the
// file does not exist.
func LoadSettings() (*Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get settings path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	cfg := DefaultSettings()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values with defaults.
func (s *Settings) applyDefaults() {
	if s.ConnectTimeoutSeconds <= 0 {
		s.ConnectTimeoutSeconds = 30
	}
	if s.MaxConcurrency <= 0 {
		s.MaxConcurrency = 3
	}
	if s.ToolFetchDelayMs <= 0 {
		s.ToolFetchDelayMs = 1000
	}
	if s.MetricsTickSeconds <= 0 {
		s.MetricsTickSeconds = 60
	}
}

// ConnectTimeout returns the handshake timeout as a duration.
func (s *Settings) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSeconds) * time.Second
}

// ToolFetchDelay returns the deferred tool fetch delay as a duration.
func (s *Settings) ToolFetchDelay() time.Duration {
	return time.Duration(s.ToolFetchDelayMs) * time.Millisecond
}

// MetricsTick returns the scheduler tick interval as a duration.
func (s *Settings) MetricsTick() time.Duration {
	return time.Duration(s.MetricsTickSeconds) * time.Second
}
