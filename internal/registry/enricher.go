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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mcpdock/mcpdock/internal/log"
	"github.com/mcpdock/mcpdock/pkg/httpclient"
)

// Enricher fetches popularity metrics for catalog servers and writes the
// results into the metric store.
type Enricher interface {
	Enrich(ctx context.Context, serverIDs []string) error
}

// HTTPEnricherConfig configures the network enricher.
type HTTPEnricherConfig struct {
	// Store receives the fetched metric rows. Required.
	Store *Store

	// Client is the HTTP client to use. Defaults to a pkg/httpclient
	// client with retries enabled.
	Client *http.Client

	// Logger receives per-fetch logs.
	Logger *slog.Logger

	// GitHubToken, when set, authenticates star lookups to raise the
	// rate limit.
	GitHubToken string

	// GitHubBaseURL and NpmBaseURL and PypiBaseURL override the API
	// hosts, for tests.
	GitHubBaseURL string
	NpmBaseURL    string
	PypiBaseURL   string
}

// HTTPEnricher fetches GitHub stars and npm/PyPI download counts.
type HTTPEnricher struct {
	store  *Store
	client *http.Client
	logger *slog.Logger

	githubToken string
	githubBase  string
	npmBase     string
	pypiBase    string
}

// NewHTTPEnricher creates the network enricher.
func NewHTTPEnricher(cfg HTTPEnricherConfig) (*HTTPEnricher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Client == nil {
		client, err := httpclient.New(httpclient.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to build HTTP client: %w", err)
		}
		cfg.Client = client
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GitHubBaseURL == "" {
		cfg.GitHubBaseURL = "https://api.github.com"
	}
	if cfg.NpmBaseURL == "" {
		cfg.NpmBaseURL = "https://api.npmjs.org"
	}
	if cfg.PypiBaseURL == "" {
		cfg.PypiBaseURL = "https://pypistats.org"
	}

	return &HTTPEnricher{
		store:       cfg.Store,
		client:      cfg.Client,
		logger:      log.WithComponent(cfg.Logger, "enricher"),
		githubToken: cfg.GitHubToken,
		githubBase:  strings.TrimRight(cfg.GitHubBaseURL, "/"),
		npmBase:     strings.TrimRight(cfg.NpmBaseURL, "/"),
		pypiBase:    strings.TrimRight(cfg.PypiBaseURL, "/"),
	}, nil
}

// Enrich fetches every applicable metric for each server. Individual
// fetch failures are recorded as error rows and do not abort the batch.
func (e *HTTPEnricher) Enrich(ctx context.Context, serverIDs []string) error {
	for _, id := range serverIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		srv, ok, err := e.store.Server(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			e.logger.Debug("skipping unknown catalog id", log.ServerKey, id)
			continue
		}

		e.enrichServer(ctx, srv)
	}
	return nil
}

func (e *HTTPEnricher) enrichServer(ctx context.Context, srv RegistryServer) {
	if owner, repo, ok := parseGitHubRepo(srv.Repository); ok {
		e.fetchMetric(ctx, srv.ID, MetricGitHubStars, func() (int64, error) {
			return e.fetchGitHubStars(ctx, owner, repo)
		})
	}

	switch srv.PackageRegistry {
	case "npm":
		if srv.PackageName != "" {
			e.fetchMetric(ctx, srv.ID, MetricNpmDownloads, func() (int64, error) {
				return e.fetchNpmDownloads(ctx, srv.PackageName)
			})
		}
	case "pypi":
		if srv.PackageName != "" {
			e.fetchMetric(ctx, srv.ID, MetricPypiDownloads, func() (int64, error) {
				return e.fetchPypiDownloads(ctx, srv.PackageName)
			})
		}
	}
}

// fetchMetric runs one fetch and records the outcome.
func (e *HTTPEnricher) fetchMetric(ctx context.Context, serverID string, metricType MetricType, fetch func() (int64, error)) {
	value, err := fetch()
	if err != nil {
		e.logger.Debug("metric fetch failed",
			log.ServerKey, serverID, log.MetricKey, string(metricType), log.Error(err))
		if recErr := e.store.RecordFailure(ctx, serverID, metricType, "FETCH_FAILED", err.Error()); recErr != nil {
			e.logger.Warn("failed to record metric failure", log.ServerKey, serverID, log.Error(recErr))
		}
		return
	}

	if err := e.store.RecordSuccess(ctx, serverID, metricType, value); err != nil {
		e.logger.Warn("failed to record metric value", log.ServerKey, serverID, log.Error(err))
	}
}

func (e *HTTPEnricher) fetchGitHubStars(ctx context.Context, owner, repo string) (int64, error) {
	var payload struct {
		StargazersCount int64 `json:"stargazers_count"`
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s", e.githubBase, owner, repo)
	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if e.githubToken != "" {
		headers["Authorization"] = "Bearer " + e.githubToken
	}

	if err := e.getJSON(ctx, endpoint, headers, &payload); err != nil {
		return 0, err
	}
	return payload.StargazersCount, nil
}

func (e *HTTPEnricher) fetchNpmDownloads(ctx context.Context, pkg string) (int64, error) {
	var payload struct {
		Downloads int64 `json:"downloads"`
	}

	endpoint := fmt.Sprintf("%s/downloads/point/last-week/%s", e.npmBase, pkg)
	if err := e.getJSON(ctx, endpoint, nil, &payload); err != nil {
		return 0, err
	}
	return payload.Downloads, nil
}

func (e *HTTPEnricher) fetchPypiDownloads(ctx context.Context, pkg string) (int64, error) {
	var payload struct {
		Data struct {
			LastWeek int64 `json:"last_week"`
		} `json:"data"`
	}

	endpoint := fmt.Sprintf("%s/api/packages/%s/recent", e.pypiBase, url.PathEscape(pkg))
	if err := e.getJSON(ctx, endpoint, nil, &payload); err != nil {
		return 0, err
	}
	return payload.Data.LastWeek, nil
}

func (e *HTTPEnricher) getJSON(ctx context.Context, endpoint string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseGitHubRepo extracts owner and repo from a GitHub repository URL.
func parseGitHubRepo(repoURL string) (owner, repo string, ok bool) {
	if repoURL == "" {
		return "", "", false
	}

	u, err := url.Parse(repoURL)
	if err != nil || !strings.HasSuffix(u.Host, "github.com") {
		return "", "", false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
