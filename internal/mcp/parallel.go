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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mcpdock/mcpdock/internal/log"
)

// ParallelOptions tunes a batch of parallel connection attempts.
type ParallelOptions struct {
	// MaxConcurrency overrides the manager's bound for the duration of
	// this call; the previous value is restored afterwards. Zero keeps
	// the manager's current bound.
	MaxConcurrency int

	// FailFast cancels remaining attempts after the first failure.
	FailFast bool

	// UseConnectionPool pre-warms transports through the manager's pool
	// before connecting.
	UseConnectionPool bool

	// TaskTimeout bounds each individual attempt. Defaults to 30s.
	TaskTimeout time.Duration

	// MaxAttempts is the per-server retry budget, counting the first
	// attempt. Defaults to 2.
	MaxAttempts int
}

// ConnectOutcome is the per-server result of a parallel connect.
type ConnectOutcome struct {
	// ServerID identifies the server this outcome belongs to.
	ServerID string `json:"serverId"`

	// Success indicates whether the server ended up connected.
	Success bool `json:"success"`

	// Error is the final failure message when Success is false.
	Error string `json:"error,omitempty"`

	// Attempts is how many connection attempts were made.
	Attempts int `json:"attempts"`

	// Duration is the total time spent on this server.
	Duration time.Duration `json:"duration"`
}

// ConnectServersParallel connects the given servers concurrently, bounded
// by the manager's max concurrency. Each server gets its own timeout and
// retry budget with exponential backoff between attempts. Individual
// failures are reported in the outcomes; the error return is non-nil only
// when FailFast is set and a failure occurred.
func (m *Manager) ConnectServersParallel(ctx context.Context, ids []string, opts ParallelOptions) ([]ConnectOutcome, error) {
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}

	if opts.MaxConcurrency > 0 {
		prev := m.SetMaxConcurrency(opts.MaxConcurrency)
		defer m.SetMaxConcurrency(prev)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	sem := make(chan struct{}, m.MaxConcurrency())
	outcomes := make([]ConnectOutcome, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				outcomes[i] = ConnectOutcome{ServerID: id, Error: runCtx.Err().Error()}
				return
			}
			defer func() { <-sem }()

			if opts.UseConnectionPool {
				m.warmPool(runCtx, id)
			}

			outcomes[i] = m.connectWithRetry(runCtx, id, opts)
			if !outcomes[i].Success && opts.FailFast {
				cancelRun()
			}
		}(i, id)
	}
	wg.Wait()

	if opts.FailFast {
		for _, outcome := range outcomes {
			if !outcome.Success {
				return outcomes, fmt.Errorf("connection to %s failed: %s", outcome.ServerID, outcome.Error)
			}
		}
	}
	return outcomes, nil
}

// connectWithRetry drives one server through its retry budget.
func (m *Manager) connectWithRetry(ctx context.Context, id string, opts ParallelOptions) ConnectOutcome {
	start := time.Now()
	attempts := 0

	operation := func() (*ConnectResult, error) {
		attempts++

		taskCtx, cancel := context.WithTimeout(ctx, opts.TaskTimeout)
		defer cancel()

		result, err := m.ConnectServer(taskCtx, id)
		if err != nil {
			var mcpErr *MCPError
			if errors.As(err, &mcpErr) && mcpErr.Code == ErrorCodeAlreadyConnecting {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if !result.Success {
			// Config problems will not fix themselves between attempts.
			failure := errors.New(result.Error)
			switch result.Code {
			case ErrorCodeNotFound, ErrorCodeValidation, ErrorCodeConfig:
				return nil, backoff.Permanent(failure)
			}
			return nil, failure
		}
		return result, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(opts.MaxAttempts)),
	)

	outcome := ConnectOutcome{
		ServerID: id,
		Success:  err == nil,
		Attempts: attempts,
		Duration: time.Since(start),
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	return outcome
}

// warmPool dials a transport for the server ahead of the connect, parking
// it in the pool for ConnectServer to pick up. Failures are silent; the
// regular connect path will surface them.
func (m *Manager) warmPool(ctx context.Context, id string) {
	if m.pool == nil || m.pool.Has(id) || m.IsConnected(id) {
		return
	}

	cfg, ok := m.store.Get(id)
	if !ok {
		return
	}
	spec, err := deriveLaunchSpec(cfg)
	if err != nil {
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	transport, err := m.dial(dialCtx, id, spec)
	if err != nil {
		m.logger.Debug("pool warm failed", log.ServerKey, id, log.Error(err))
		return
	}
	if !m.pool.Put(id, transport) {
		_ = transport.Close()
	}
}

// ConnectServersBatch connects servers in fixed-size chunks with a pause
// between chunks, keeping process spawn storms off slower machines. Each
// chunk runs through ConnectServersParallel with default options.
func (m *Manager) ConnectServersBatch(ctx context.Context, ids []string, batchSize int, pause time.Duration) []ConnectOutcome {
	if batchSize <= 0 {
		batchSize = m.MaxConcurrency()
	}

	outcomes := make([]ConnectOutcome, 0, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		chunk, err := m.ConnectServersParallel(ctx, ids[start:end], ParallelOptions{})
		if err != nil {
			m.logger.Warn("batch chunk failed", log.Error(err))
		}
		outcomes = append(outcomes, chunk...)

		if end < len(ids) && pause > 0 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return outcomes
			}
		}
	}
	return outcomes
}
