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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mcpdock/mcpdock/internal/config"
	"github.com/mcpdock/mcpdock/internal/ipc"
	"github.com/mcpdock/mcpdock/internal/log"
	"github.com/mcpdock/mcpdock/internal/mcp"
	"github.com/mcpdock/mcpdock/internal/registry"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const defaultRegistryURL = "https://registry.modelcontextprotocol.io"

// options holds the CLI flag overrides applied on top of config.yaml.
type options struct {
	serversPath    string
	registryDBPath string
	registryURL    string
	metricsAddr    string
	connectOnStart bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts        options
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:   "mcpdockd",
		Short: "MCP server connection manager and registry metrics daemon",
		Long: `mcpdockd manages stdio connections to configured MCP servers and keeps
registry popularity metrics fresh in the background.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("mcpdockd %s (commit: %s, built: %s)\n", version, commit, buildDate)
				return nil
			}
			return run(opts)
		},
	}

	cmd.Flags().StringVar(&opts.serversPath, "servers-file", "", "Path to the server catalog JSON file")
	cmd.Flags().StringVar(&opts.registryDBPath, "registry-db", "", "Path to the registry metrics database")
	cmd.Flags().StringVar(&opts.registryURL, "registry-url", defaultRegistryURL, "Upstream registry API base URL")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.connectOnStart, "connect-on-start", true, "Connect enabled servers at startup")
	cmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")

	return cmd
}

func run(opts options) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	settings, err := config.LoadSettings()
	if err != nil {
		logger.Error("Failed to load settings", log.Error(err))
		return err
	}

	serversPath := opts.serversPath
	if serversPath == "" {
		if serversPath, err = config.ServersPath(); err != nil {
			return fmt.Errorf("failed to resolve catalog path: %w", err)
		}
	}
	registryDBPath := opts.registryDBPath
	if registryDBPath == "" {
		if registryDBPath, err = config.RegistryDBPath(); err != nil {
			return fmt.Errorf("failed to resolve registry database path: %w", err)
		}
	}
	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = settings.MetricsListenAddr
	}

	// MCP side: catalog, connection manager, external-edit watcher.
	store, err := mcp.NewStore(serversPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open server catalog: %w", err)
	}

	promReg := prometheus.NewRegistry()
	manager := mcp.NewManager(mcp.ManagerConfig{
		Store:          store,
		Health:         mcp.NewHealthTracker(promReg),
		Logger:         logger,
		ConnectTimeout: settings.ConnectTimeout(),
		ToolFetchDelay: settings.ToolFetchDelay(),
		MaxConcurrency: settings.MaxConcurrency,
	})

	watcher, err := mcp.NewWatcher(mcp.WatcherConfig{
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to watch server catalog: %w", err)
	}
	defer watcher.Close()

	// Registry side: metric store, enricher, scheduler, search.
	regStore, err := registry.OpenStore(registryDBPath)
	if err != nil {
		return fmt.Errorf("failed to open registry database: %w", err)
	}
	defer regStore.Close()

	enricher, err := registry.NewHTTPEnricher(registry.HTTPEnricherConfig{
		Store:       regStore,
		Logger:      logger,
		GitHubToken: os.Getenv("GITHUB_TOKEN"),
	})
	if err != nil {
		return fmt.Errorf("failed to build metric enricher: %w", err)
	}

	scheduler := registry.NewScheduler(registry.SchedulerConfig{
		Store:    regStore,
		Enricher: enricher,
		Logger:   logger,
		Tick:     settings.MetricsTick(),
	})
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	regClient, err := registry.NewHTTPRegistryClient(registry.HTTPRegistryClientConfig{
		BaseURL: opts.registryURL,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build registry client: %w", err)
	}

	search, err := registry.NewSearchService(registry.SearchConfig{
		Client:    regClient,
		Store:     regStore,
		Scheduler: scheduler,
		Catalog:   store,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build search service: %w", err)
	}

	bridge := ipc.NewBridge(ipc.BridgeConfig{
		Manager:   manager,
		Scheduler: scheduler,
		Search:    search,
		Logger:    logger,
	})
	bridge.StartMetricsPump()
	defer bridge.Close()

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			logger.Info("Metrics endpoint listening", slog.String("addr", metricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics endpoint failed", log.Error(err))
			}
		}()
	}

	logger.Info("mcpdockd started",
		slog.String("version", version),
		slog.String("catalog", serversPath),
		slog.Int("servers", len(store.List())))

	if opts.connectOnStart {
		go connectEnabled(context.Background(), manager, logger)
	}

	// Block until asked to stop.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", slog.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics endpoint shutdown failed", log.Error(err))
		}
	}
	manager.Shutdown(shutdownCtx)

	logger.Info("Shutdown complete")
	return nil
}

// connectEnabled brings up every enabled catalog entry in parallel.
// Individual failures are reported per server, never fatal to the daemon.
func connectEnabled(ctx context.Context, manager *mcp.Manager, logger *slog.Logger) {
	var ids []string
	for _, srv := range manager.Store().List() {
		if srv.Enabled {
			ids = append(ids, srv.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	outcomes, err := manager.ConnectServersParallel(ctx, ids, mcp.ParallelOptions{})
	if err != nil {
		logger.Warn("Startup connect pass failed", log.Error(err))
		return
	}
	for _, outcome := range outcomes {
		if !outcome.Success {
			logger.Warn("Startup connect failed",
				log.ServerKey, outcome.ServerID,
				slog.String("error", outcome.Error))
		}
	}
}
