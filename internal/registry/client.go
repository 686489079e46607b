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

// defaultSearchLimit caps how many upstream entries a single search pulls.
const defaultSearchLimit = 50

// HTTPRegistryClientConfig configures the upstream registry client.
type HTTPRegistryClientConfig struct {
	// BaseURL is the registry API root. Required.
	BaseURL string

	// Client is the HTTP client to use. Defaults to a pkg/httpclient
	// client with retries enabled.
	Client *http.Client

	// Logger receives per-query logs.
	Logger *slog.Logger

	// Limit bounds results per query. Defaults to 50.
	Limit int
}

// HTTPRegistryClient queries a JSON registry API for server listings.
type HTTPRegistryClient struct {
	base   string
	client *http.Client
	logger *slog.Logger
	limit  int
}

// NewHTTPRegistryClient creates an upstream registry client.
func NewHTTPRegistryClient(cfg HTTPRegistryClientConfig) (*HTTPRegistryClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
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
	if cfg.Limit <= 0 {
		cfg.Limit = defaultSearchLimit
	}

	return &HTTPRegistryClient{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		client: cfg.Client,
		logger: log.WithComponent(cfg.Logger, "registry-client"),
		limit:  cfg.Limit,
	}, nil
}

// registryEntry is the upstream wire shape for a single listing.
type registryEntry struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Repository      string   `json:"repository"`
	PackageName     string   `json:"packageName"`
	PackageRegistry string   `json:"packageRegistry"`
	Command         string   `json:"command"`
	Args            []string `json:"args"`
	Stars           int64    `json:"stars"`
	Installs        int64    `json:"installs"`
}

// Search queries the upstream registry.
func (c *HTTPRegistryClient) Search(ctx context.Context, query string) ([]RegistryServer, error) {
	endpoint := fmt.Sprintf("%s/servers?q=%s&limit=%d",
		c.base, url.QueryEscape(query), c.limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry search returned HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Servers []registryEntry `json:"servers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode registry response: %w", err)
	}

	servers := make([]RegistryServer, 0, len(payload.Servers))
	for _, e := range payload.Servers {
		servers = append(servers, RegistryServer{
			ID:              e.ID,
			Name:            e.Name,
			Description:     e.Description,
			Repository:      e.Repository,
			PackageName:     e.PackageName,
			PackageRegistry: e.PackageRegistry,
			Command:         e.Command,
			Args:            e.Args,
			Stars:           e.Stars,
			Installs:        e.Installs,
		})
	}

	c.logger.Debug("registry search completed",
		slog.String("query", query),
		slog.Int("results", len(servers)))
	return servers, nil
}
