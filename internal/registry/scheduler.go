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

package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcpdock/mcpdock/internal/log"
)

// maxPrioritizedPerTick caps how many active/surfaced servers one tick
// will enrich, keeping a large visible list from starving the sweep.
const maxPrioritizedPerTick = 50

// SchedulerConfig configures the metrics scheduler.
type SchedulerConfig struct {
	// Store is the metric store. Required.
	Store *Store

	// Enricher performs the actual metric fetches. Required.
	Enricher Enricher

	// Logger receives scheduler logs.
	Logger *slog.Logger

	// Tick is the background refresh interval. Defaults to 1 minute.
	Tick time.Duration

	// ActiveTTL is how long a server counts as active after the last
	// SetActive call naming it. Defaults to 15s.
	ActiveTTL time.Duration

	// SurfacedTTL is how long a search result counts as visible after
	// MarkSurfaced. Defaults to 60s.
	SurfacedTTL time.Duration

	// CoalesceDelay is how long ScheduleImmediateFetch waits to merge
	// bursts into one enrich call. Defaults to 50ms.
	CoalesceDelay time.Duration

	// SweepLimit throttles the enrich-missing background sweep.
	// Defaults to one sweep per 5 minutes.
	SweepLimit rate.Limit

	// MissingBatchSize is how many metric-less servers one sweep picks
	// up. Defaults to 20.
	MissingBatchSize int
}

// Scheduler keeps metrics warm in the background.
//
// Each tick runs three fault-isolated phases: enrich the servers the user
// is looking at (active + surfaced, bounded), opportunistically pick up
// catalog entries with no metrics at all (rate limited), and emit rows
// that changed since the previous tick to subscribers.
type Scheduler struct {
	store    *Store
	enricher Enricher
	logger   *slog.Logger

	tick          time.Duration
	activeTTL     time.Duration
	surfacedTTL   time.Duration
	coalesceDelay time.Duration
	missingBatch  int
	sweepLimiter  *rate.Limiter

	mu         sync.Mutex
	active     map[string]time.Time // id -> deadline
	surfaced   map[string]time.Time
	pending    map[string]struct{}
	drainTimer *time.Timer
	lastEmitAt time.Time

	subsMu sync.Mutex
	subs   map[int]chan []Update
	nextID int

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewScheduler creates a metrics scheduler. Call Start to begin ticking.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.ActiveTTL <= 0 {
		cfg.ActiveTTL = 15 * time.Second
	}
	if cfg.SurfacedTTL <= 0 {
		cfg.SurfacedTTL = 60 * time.Second
	}
	if cfg.CoalesceDelay <= 0 {
		cfg.CoalesceDelay = 50 * time.Millisecond
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = rate.Every(5 * time.Minute)
	}
	if cfg.MissingBatchSize <= 0 {
		cfg.MissingBatchSize = 20
	}

	return &Scheduler{
		store:         cfg.Store,
		enricher:      cfg.Enricher,
		logger:        log.WithComponent(cfg.Logger, "metrics-scheduler"),
		tick:          cfg.Tick,
		activeTTL:     cfg.ActiveTTL,
		surfacedTTL:   cfg.SurfacedTTL,
		coalesceDelay: cfg.CoalesceDelay,
		missingBatch:  cfg.MissingBatchSize,
		sweepLimiter:  rate.NewLimiter(cfg.SweepLimit, 1),
		active:        make(map[string]time.Time),
		surfaced:      make(map[string]time.Time),
		pending:       make(map[string]struct{}),
		subs:          make(map[int]chan []Update),
		lastEmitAt:    time.Now(),
		done:          make(chan struct{}),
	}
}

// Start begins the background tick loop. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
	})
}

// Stop halts the tick loop and waits for in-flight work.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()

	s.mu.Lock()
	if s.drainTimer != nil {
		s.drainTimer.Stop()
	}
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runTick(ctx)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SetActive replaces the activity deadlines for the given servers.
// Callers invoke this periodically; entries expire on their own when the
// calls stop. A non-positive ttl falls back to the configured default.
func (s *Scheduler) SetActive(serverIDs []string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.activeTTL
	}
	deadline := time.Now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range serverIDs {
		s.active[id] = deadline
	}
}

// MarkSurfaced notes that these servers are currently visible in search
// results, keeping their metrics prioritized for a short window. A
// non-positive ttl falls back to the configured default.
func (s *Scheduler) MarkSurfaced(serverIDs []string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.surfacedTTL
	}
	deadline := time.Now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range serverIDs {
		s.surfaced[id] = deadline
	}
}

// ScheduleImmediateFetch queues servers for an out-of-band enrich. Bursts
// of calls within the coalesce window collapse into a single enricher
// call covering the union of all requested ids.
func (s *Scheduler) ScheduleImmediateFetch(serverIDs []string) {
	if len(serverIDs) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range serverIDs {
		s.pending[id] = struct{}{}
	}

	if s.drainTimer == nil {
		s.drainTimer = time.AfterFunc(s.coalesceDelay, s.drainPending)
	}
}

// drainPending performs the single coalesced enrich for everything queued
// since the timer was armed.
func (s *Scheduler) drainPending() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.pending = make(map[string]struct{})
	s.drainTimer = nil
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Debug("immediate fetch", "servers", len(ids))
	if err := s.enricher.Enrich(ctx, ids); err != nil {
		s.logger.Warn("immediate fetch failed", log.Error(err))
	}

	s.emitChanged(ctx)
}

// Subscribe returns a channel of metric update batches plus a cancel
// func. Slow subscribers drop batches rather than blocking the scheduler.
func (s *Scheduler) Subscribe() (<-chan []Update, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan []Update, 8)
	s.subs[id] = ch

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
	}
}

// RefreshNow runs one full tick immediately, bypassing the interval but
// not the sweep rate limit.
func (s *Scheduler) RefreshNow(ctx context.Context) {
	s.runTick(ctx)
}

// runTick executes the three phases. Each phase is isolated: a failure is
// logged and the next phase still runs.
func (s *Scheduler) runTick(ctx context.Context) {
	s.enrichPrioritized(ctx)
	s.enrichMissing(ctx)
	s.emitChanged(ctx)
}

// enrichPrioritized refreshes the servers in the active and surfaced
// windows, pruning expired entries and capping the batch.
func (s *Scheduler) enrichPrioritized(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	ids := make([]string, 0, len(s.active)+len(s.surfaced))
	seen := make(map[string]struct{})
	for id, deadline := range s.active {
		if now.After(deadline) {
			delete(s.active, id)
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for id, deadline := range s.surfaced {
		if now.After(deadline) {
			delete(s.surfaced, id)
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	if len(ids) > maxPrioritizedPerTick {
		ids = ids[:maxPrioritizedPerTick]
	}

	if err := s.enricher.Enrich(ctx, ids); err != nil {
		s.logger.Warn("prioritized enrich failed", log.Error(err))
	}
}

// enrichMissing opportunistically backfills servers with no metrics yet,
// throttled so the sweep never dominates outbound traffic.
func (s *Scheduler) enrichMissing(ctx context.Context) {
	if !s.sweepLimiter.Allow() {
		return
	}

	ids, err := s.store.ServersMissingMetrics(ctx, s.missingBatch)
	if err != nil {
		s.logger.Warn("missing-metrics query failed", log.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	s.logger.Debug("backfilling metric-less servers", "servers", len(ids))
	if err := s.enricher.Enrich(ctx, ids); err != nil {
		s.logger.Warn("backfill enrich failed", log.Error(err))
	}
}

// emitChanged delivers rows changed since the previous emission to every
// subscriber. The high-water mark advances before the query so a row
// updated mid-query is re-delivered next time instead of lost.
func (s *Scheduler) emitChanged(ctx context.Context) {
	s.mu.Lock()
	since := s.lastEmitAt
	s.lastEmitAt = time.Now()
	s.mu.Unlock()

	changed, err := s.store.ChangedSince(ctx, since)
	if err != nil {
		s.logger.Warn("changed-rows query failed", log.Error(err))
		return
	}
	if len(changed) == 0 {
		return
	}

	byServer := make(map[string][]MetricStatus)
	order := make([]string, 0)
	for _, row := range changed {
		if _, ok := byServer[row.ServerID]; !ok {
			order = append(order, row.ServerID)
		}
		byServer[row.ServerID] = append(byServer[row.ServerID], row)
	}

	updates := make([]Update, 0, len(order))
	for _, id := range order {
		updates = append(updates, Update{ServerID: id, Metrics: byServer[id]})
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- updates:
		default:
			// Subscriber is backed up; the next emission catches it up.
		}
	}
}
