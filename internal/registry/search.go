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
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mcpdock/mcpdock/internal/log"
	"github.com/mcpdock/mcpdock/internal/mcp"
)

// immediateFetchLimit caps how many metric-less search results trigger an
// out-of-band fetch per search.
const immediateFetchLimit = 20

// RegistryClient queries the upstream server registry.
type RegistryClient interface {
	Search(ctx context.Context, query string) ([]RegistryServer, error)
}

// SearchResult is a catalog entry annotated with locally cached metrics.
type SearchResult struct {
	RegistryServer

	// MetricStatuses holds the cached metric rows by type.
	MetricStatuses map[MetricType]MetricStatus `json:"metricStatuses"`

	// MetricFreshness classifies each cached value's age.
	MetricFreshness map[MetricType]Freshness `json:"metricFreshness"`
}

// SearchConfig configures the search service.
type SearchConfig struct {
	// Client queries the upstream registry. Required.
	Client RegistryClient

	// Store caches catalog entries and metric rows. Required.
	Store *Store

	// Scheduler receives surfaced/immediate-fetch hints. Optional.
	Scheduler *Scheduler

	// Catalog is the local server catalog Install writes to. Required
	// for Install, unused by Search.
	Catalog *mcp.Store

	// Logger receives search logs.
	Logger *slog.Logger
}

// SearchService fronts the upstream registry: it dedupes and ranks
// results, annotates them with cached metrics, and feeds the scheduler's
// priority windows.
type SearchService struct {
	client    RegistryClient
	store     *Store
	scheduler *Scheduler
	catalog   *mcp.Store
	logger    *slog.Logger
}

// NewSearchService creates a search service.
func NewSearchService(cfg SearchConfig) (*SearchService, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("registry client is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &SearchService{
		client:    cfg.Client,
		store:     cfg.Store,
		scheduler: cfg.Scheduler,
		catalog:   cfg.Catalog,
		logger:    log.WithComponent(cfg.Logger, "registry-search"),
	}, nil
}

// Search queries the upstream registry and returns deduplicated, ranked,
// metric-annotated results. Results are marked surfaced so the scheduler
// keeps their metrics warm, and entries with no popularity signal at all
// get an immediate fetch queued.
func (s *SearchService) Search(ctx context.Context, query string) ([]SearchResult, error) {
	servers, err := s.client.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("registry search failed: %w", err)
	}

	servers = dedupeServers(servers)

	// Cache the catalog entries so the enricher can resolve them later.
	if err := s.store.SaveServers(ctx, servers); err != nil {
		s.logger.Warn("failed to cache catalog entries", log.Error(err))
	}

	ids := make([]string, len(servers))
	for i, srv := range servers {
		ids[i] = srv.ID
	}

	statuses, err := s.store.Statuses(ctx, ids)
	if err != nil {
		s.logger.Warn("failed to load metric statuses", log.Error(err))
		statuses = map[string][]MetricStatus{}
	}

	now := time.Now()
	results := make([]SearchResult, len(servers))
	for i, srv := range servers {
		result := SearchResult{
			RegistryServer:  srv,
			MetricStatuses:  make(map[MetricType]MetricStatus),
			MetricFreshness: make(map[MetricType]Freshness),
		}
		for _, status := range statuses[srv.ID] {
			result.MetricStatuses[status.MetricType] = status
			result.MetricFreshness[status.MetricType] = Classify(status.MetricType, status.LastSuccessAt, now)
		}
		results[i] = result
	}

	sortResults(results)

	if s.scheduler != nil {
		s.scheduler.MarkSurfaced(ids, 0)

		missing := make([]string, 0, immediateFetchLimit)
		for _, result := range results {
			if effectiveStars(result) > 0 || effectiveInstalls(result) > 0 {
				continue
			}
			missing = append(missing, result.ID)
			if len(missing) == immediateFetchLimit {
				break
			}
		}
		s.scheduler.ScheduleImmediateFetch(missing)
	}

	return results, nil
}

// Install converts a cached catalog entry into a persisted server
// configuration with a generated registry id.
func (s *SearchService) Install(ctx context.Context, registryID string) (mcp.ServerConfig, error) {
	if s.catalog == nil {
		return mcp.ServerConfig{}, fmt.Errorf("no local catalog configured")
	}

	entry, ok, err := s.store.Server(ctx, registryID)
	if err != nil {
		return mcp.ServerConfig{}, err
	}
	if !ok {
		return mcp.ServerConfig{}, fmt.Errorf("registry entry %s not found", registryID)
	}
	if entry.Command == "" {
		return mcp.ServerConfig{}, fmt.Errorf("registry entry %s has no launch command", registryID)
	}

	now := time.Now().UTC()
	cfg := mcp.ServerConfig{
		ID:      "registry-" + uuid.NewString(),
		Name:    entry.Name,
		Type:    mcp.ServerTypeCustom,
		Enabled: true,
		Config: mcp.ConnectionSettings{
			Type:    mcp.ServerTypeCustom,
			Command: entry.Command,
			Args:    append([]string(nil), entry.Args...),
		},
		Status:    mcp.StatusDisconnected,
		Tools:     []mcp.ToolDefinition{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	servers := append(s.catalog.List(), cfg)
	if err := s.catalog.Save(servers); err != nil {
		return mcp.ServerConfig{}, fmt.Errorf("failed to persist installed server: %w", err)
	}

	s.logger.Info("installed registry server", log.ServerKey, cfg.ID, "registry_id", registryID)
	return cfg, nil
}

// dedupeServers collapses duplicate listings. Two entries are the same
// server when they share a dedupe key: the first non-empty of package
// name, repository URL, id, then name. First occurrence wins.
func dedupeServers(servers []RegistryServer) []RegistryServer {
	seen := make(map[string]struct{}, len(servers))
	out := make([]RegistryServer, 0, len(servers))

	for _, srv := range servers {
		key := srv.PackageName
		if key == "" {
			key = srv.Repository
		}
		if key == "" {
			key = srv.ID
		}
		if key == "" {
			key = srv.Name
		}

		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, srv)
	}
	return out
}

// sortResults ranks by stars, then installs, then name for a stable
// alphabetical tiebreak.
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := effectiveStars(results[i]), effectiveStars(results[j])
		if si != sj {
			return si > sj
		}
		ii, ij := effectiveInstalls(results[i]), effectiveInstalls(results[j])
		if ii != ij {
			return ii > ij
		}
		return results[i].Name < results[j].Name
	})
}

// effectiveStars prefers the locally fetched star count, falling back to
// the upstream-reported one.
func effectiveStars(result SearchResult) int64 {
	if status, ok := result.MetricStatuses[MetricGitHubStars]; ok && status.Value != nil {
		return *status.Value
	}
	return result.Stars
}

// effectiveInstalls prefers local install/download metrics over the
// upstream count.
func effectiveInstalls(result SearchResult) int64 {
	for _, metricType := range []MetricType{MetricInstallCount, MetricNpmDownloads, MetricPypiDownloads} {
		if status, ok := result.MetricStatuses[metricType]; ok && status.Value != nil {
			return *status.Value
		}
	}
	return result.Installs
}
