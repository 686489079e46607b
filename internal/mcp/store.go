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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mcpdock/mcpdock/internal/log"
)

// Store persists the server catalog as a single JSON array on disk.
// All writes go through a read-modify-write of the whole array; the
// in-memory cache is the source of truth between flushes.
type Store struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	cache []ServerConfig

	// lastFlushed fingerprints the bytes this store last wrote, so the
	// file watcher's reload can tell our own flushes from external edits.
	lastFlushed [sha256.Size]byte
}

// NewStore opens the catalog at path, creating it with a default entry
// when missing. A corrupt file is backed up and replaced rather than
// failing the daemon.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:   path,
		logger: log.WithComponent(logger, "store"),
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// Path returns the catalog file path.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the catalog from disk, replacing the in-memory cache.
// Statuses are transient and reset to disconnected on every load. A file
// that still matches this store's own last flush is a no-op, so runtime
// state (live statuses, freshly fetched tools) survives the watcher
// reacting to our own writes.
func (s *Store) Reload() error {
	servers, fromSelf, err := s.load()
	if err != nil {
		return err
	}
	if fromSelf {
		s.logger.Debug("catalog matches last flush, skipping reload")
		return nil
	}

	for i := range servers {
		servers[i].Status = StatusDisconnected
	}

	s.mu.Lock()
	s.cache = servers
	s.mu.Unlock()
	return nil
}

// List returns a copy of all catalog entries.
func (s *Store) List() []ServerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ServerConfig, len(s.cache))
	copy(out, s.cache)
	return out
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (ServerConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cfg := range s.cache {
		if cfg.ID == id {
			return cfg, true
		}
	}
	return ServerConfig{}, false
}

// Save replaces the whole catalog and persists it.
func (s *Store) Save(servers []ServerConfig) error {
	s.mu.Lock()
	s.cache = make([]ServerConfig, len(servers))
	copy(s.cache, servers)
	s.mu.Unlock()

	return s.Flush()
}

// Mutate applies fn to the entry with the given id, updating only the
// in-memory cache. Callers that need durability follow up with Flush.
// Returns false when the id is not present.
func (s *Store) Mutate(id string, fn func(*ServerConfig)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cache {
		if s.cache[i].ID == id {
			fn(&s.cache[i])
			return true
		}
	}
	return false
}

// Flush writes the current cache to disk atomically.
// A flush failure leaves the cache intact; callers decide whether the
// error is fatal.
func (s *Store) Flush() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.cache, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode server catalog: %w", err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return &MCPError{
			Code:    ErrorCodePersistence,
			Message: "failed to persist server catalog",
			Detail:  s.path,
			Cause:   err,
		}
	}

	s.mu.Lock()
	s.lastFlushed = sha256.Sum256(data)
	s.mu.Unlock()
	return nil
}

// load reads and parses the catalog file. Missing file means first run:
// a default entry is written. A file that cannot be parsed even after
// salvage is moved aside to .bak and replaced with the default entry.
// fromSelf reports that the bytes on disk are this store's own last flush.
func (s *Store) load() (servers []ServerConfig, fromSelf bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			servers, err = s.resetToDefault(false)
			return servers, false, err
		}
		return nil, false, fmt.Errorf("failed to read server catalog: %w", err)
	}

	sum := sha256.Sum256(data)
	s.mu.Lock()
	fromSelf = sum == s.lastFlushed && s.lastFlushed != [sha256.Size]byte{}
	s.mu.Unlock()
	if fromSelf {
		return nil, true, nil
	}

	servers, err = parseCatalog(data)
	if err != nil {
		s.logger.Warn("server catalog is corrupt, backing up and resetting",
			"path", s.path, log.Error(err))
		servers, err = s.resetToDefault(true)
		return servers, false, err
	}

	return servers, false, nil
}

// parseCatalog decodes the catalog JSON, salvaging files where editors or
// crashes left garbage around the top-level array.
func parseCatalog(data []byte) ([]ServerConfig, error) {
	var servers []ServerConfig
	if err := json.Unmarshal(data, &servers); err == nil {
		return servers, nil
	}

	text := string(data)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found in catalog")
	}

	if err := json.Unmarshal([]byte(text[start:end+1]), &servers); err != nil {
		return nil, fmt.Errorf("failed to parse server catalog: %w", err)
	}
	return servers, nil
}

// resetToDefault writes a fresh default catalog, optionally preserving the
// unreadable previous file as a .bak sibling.
func (s *Store) resetToDefault(backup bool) ([]ServerConfig, error) {
	if backup {
		bak := s.path + ".bak"
		if err := os.Rename(s.path, bak); err != nil {
			s.logger.Warn("failed to back up corrupt catalog", "path", bak, log.Error(err))
		}
	}

	servers := defaultServers()
	data, err := json.MarshalIndent(servers, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode default catalog: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return nil, fmt.Errorf("failed to write default catalog: %w", err)
	}

	s.mu.Lock()
	s.lastFlushed = sha256.Sum256(data)
	s.mu.Unlock()
	return servers, nil
}

// defaultServers is the catalog contents for a first run: a single
// filesystem server rooted at the user's home directory.
func defaultServers() []ServerConfig {
	root, err := os.UserHomeDir()
	if err != nil {
		root = "/"
	}

	now := time.Now().UTC()
	return []ServerConfig{{
		ID:      "default-filesystem",
		Name:    "Filesystem",
		Type:    ServerTypeFilesystem,
		Enabled: true,
		Config: ConnectionSettings{
			Type:     ServerTypeFilesystem,
			RootPath: root,
		},
		Status:    StatusDisconnected,
		Tools:     []ToolDefinition{},
		CreatedAt: now,
		UpdatedAt: now,
	}}
}

// writeFileAtomic writes data via a temp file and rename so readers never
// observe a partial catalog. Falls back to a direct write when the rename
// fails (some filesystems reject cross-directory renames).
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return os.WriteFile(path, data, 0600)
	}
	return nil
}
