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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")

	store, err := NewStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save([]ServerConfig{storeEntry("a", StatusDisconnected)}))

	reloaded := make(chan struct{}, 4)
	watcher, err := NewWatcher(WatcherConfig{
		Store:         store,
		DebounceDelay: 50 * time.Millisecond,
		OnReload:      func() { reloaded <- struct{}{} },
	})
	require.NoError(t, err)
	defer watcher.Close()

	// Another process rewrites the catalog out from under us.
	external, err := json.Marshal([]ServerConfig{
		storeEntry("a", StatusDisconnected),
		storeEntry("b", StatusDisconnected),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, external, 0600))

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never reloaded")
	}

	require.Len(t, store.List(), 2)
}

func TestWatcher_OwnFlushKeepsRuntimeState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")

	store, err := NewStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save([]ServerConfig{storeEntry("a", StatusDisconnected)}))

	watcher, err := NewWatcher(WatcherConfig{
		Store:         store,
		DebounceDelay: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	defer watcher.Close()

	// A live connection marks the server ready and flushes its tools.
	ok := store.Mutate("a", func(cfg *ServerConfig) {
		cfg.Status = StatusReady
		cfg.Tools = []ToolDefinition{{Name: "read_file"}}
	})
	require.True(t, ok)
	require.NoError(t, store.Flush())

	// Well past the debounce window, the watcher has seen our own write
	// and must not have reset the status.
	time.Sleep(300 * time.Millisecond)

	cfg, found := store.Get("a")
	require.True(t, found)
	require.Equal(t, StatusReady, cfg.Status)
	require.Len(t, cfg.Tools, 1)
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")

	store, err := NewStore(path, nil)
	require.NoError(t, err)

	reloaded := make(chan struct{}, 4)
	watcher, err := NewWatcher(WatcherConfig{
		Store:         store,
		DebounceDelay: 30 * time.Millisecond,
		OnReload:      func() { reloaded <- struct{}{} },
	})
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0600))

	select {
	case <-reloaded:
		t.Fatal("sibling file change must not trigger a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")

	store, err := NewStore(path, nil)
	require.NoError(t, err)

	reloaded := make(chan struct{}, 16)
	watcher, err := NewWatcher(WatcherConfig{
		Store:         store,
		DebounceDelay: 100 * time.Millisecond,
		OnReload:      func() { reloaded <- struct{}{} },
	})
	require.NoError(t, err)
	defer watcher.Close()

	payload, err := json.Marshal([]ServerConfig{storeEntry("a", StatusDisconnected)})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, payload, 0600))
		time.Sleep(10 * time.Millisecond)
	}

	// The burst collapses into one reload.
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never reloaded")
	}

	select {
	case <-reloaded:
		t.Fatal("burst should debounce into a single reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_CloseStopsGoroutine(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "servers.json"), nil)
	require.NoError(t, err)

	watcher, err := NewWatcher(WatcherConfig{Store: store})
	require.NoError(t, err)
	require.NoError(t, watcher.Close())
}

func TestNewWatcher_RequiresStore(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{})
	require.Error(t, err)
}
