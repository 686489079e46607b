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
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mcpdock/mcpdock/internal/log"
)

// WatcherConfig configures a catalog file watcher.
type WatcherConfig struct {
	// Store is the catalog to reload on changes. Required.
	Store *Store

	// Logger receives watcher logs.
	Logger *slog.Logger

	// DebounceDelay coalesces rapid successive events. Defaults to 200ms.
	DebounceDelay time.Duration

	// OnReload is called after the catalog has been reloaded.
	OnReload func()
}

// Watcher reloads the server catalog when another process writes it.
// The parent directory is watched rather than the file itself, because
// atomic writers replace the file via rename.
type Watcher struct {
	store    *Store
	logger   *slog.Logger
	debounce time.Duration
	onReload func()

	fsWatcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching the store's file for external changes.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 200 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fsWatcher.Add(filepath.Dir(cfg.Store.Path())); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	w := &Watcher{
		store:     cfg.Store,
		logger:    log.WithComponent(cfg.Logger, "catalog-watcher"),
		debounce:  cfg.DebounceDelay,
		onReload:  cfg.OnReload,
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsWatcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	target := filepath.Base(w.store.Path())

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", log.Error(err))

		case <-w.done:
			return
		}
	}
}

// scheduleReload debounces reloads so a burst of events (write, chmod,
// rename) triggers a single catalog read.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	if err := w.store.Reload(); err != nil {
		w.logger.Warn("failed to reload catalog", log.Error(err))
		return
	}

	w.logger.Info("catalog reloaded", "servers", len(w.store.List()))
	if w.onReload != nil {
		w.onReload()
	}
}
