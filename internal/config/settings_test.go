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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadSettings_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, 30, cfg.ConnectTimeoutSeconds)
	require.Equal(t, 3, cfg.MaxConcurrency)
	require.Equal(t, time.Second, cfg.ToolFetchDelay())
	require.Equal(t, time.Minute, cfg.MetricsTick())
}

func TestLoadSettings_PartialFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "mcpdock", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte("max_concurrency: 8\n"), 0600))

	cfg, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, 8, cfg.MaxConcurrency)
	require.Equal(t, 30, cfg.ConnectTimeoutSeconds)
}

func TestLoadSettings_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "mcpdock", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0600))

	_, err := LoadSettings()
	require.Error(t, err)
}

func TestConfigDir_RespectsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ConfigDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "mcpdock"), got)

	info, err := os.Stat(got)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
