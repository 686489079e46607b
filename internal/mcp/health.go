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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthSnapshot carries rolling health statistics for one server.
type HealthSnapshot struct {
	// ConnectionAttempts counts every connect attempt, successful or not.
	ConnectionAttempts int `json:"connectionAttempts"`

	// LastAttemptTime is when the most recent attempt started.
	LastAttemptTime *time.Time `json:"lastAttemptTime,omitempty"`

	// AverageLatencyMs is a rolling blend of handshake latencies: each
	// successful sample is averaged pairwise with the previous value.
	AverageLatencyMs float64 `json:"averageLatencyMs,omitempty"`

	// Uptime is when the current connection was established.
	Uptime *time.Time `json:"uptime,omitempty"`

	// ErrorRate is the failing fraction of attempts, updated incrementally.
	ErrorRate float64 `json:"errorRate"`

	// LastError is the most recent failure message.
	LastError string `json:"lastError,omitempty"`

	// LastErrorTime is when the most recent failure occurred.
	LastErrorTime *time.Time `json:"lastErrorTime,omitempty"`
}

// HealthTracker maintains per-server health snapshots and exports attempt
// and error counters to Prometheus.
type HealthTracker struct {
	mu      sync.Mutex
	records map[string]*healthRecord

	attempts *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

type healthRecord struct {
	snapshot     HealthSnapshot
	attemptStart time.Time
}

// NewHealthTracker creates a health tracker. When reg is non-nil the
// attempt and error counters are registered with it.
func NewHealthTracker(reg prometheus.Registerer) *HealthTracker {
	t := &HealthTracker{
		records: make(map[string]*healthRecord),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpdock",
			Subsystem: "connections",
			Name:      "attempts_total",
			Help:      "Total MCP server connection attempts.",
		}, []string{"server"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpdock",
			Subsystem: "connections",
			Name:      "errors_total",
			Help:      "Total failed MCP server connection attempts.",
		}, []string{"server"}),
	}

	if reg != nil {
		reg.MustRegister(t.attempts, t.errors)
	}

	return t
}

// RecordAttempt notes the start of a connect attempt.
func (t *HealthTracker) RecordAttempt(id string) {
	now := time.Now()

	t.mu.Lock()
	rec := t.record(id)
	rec.snapshot.ConnectionAttempts++
	rec.snapshot.LastAttemptTime = &now
	rec.attemptStart = now
	t.mu.Unlock()

	t.attempts.WithLabelValues(id).Inc()
}

// RecordSuccess notes a completed handshake. Latency is measured from the
// matching RecordAttempt and blended pairwise with the previous average.
func (t *HealthTracker) RecordSuccess(id string) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(id)
	if !rec.attemptStart.IsZero() {
		sample := float64(now.Sub(rec.attemptStart).Milliseconds())
		if rec.snapshot.AverageLatencyMs > 0 {
			rec.snapshot.AverageLatencyMs = (rec.snapshot.AverageLatencyMs + sample) / 2
		} else {
			rec.snapshot.AverageLatencyMs = sample
		}
		rec.attemptStart = time.Time{}
	}
	rec.snapshot.Uptime = &now
}

// RecordError notes a failed attempt and folds it into the error rate:
// with n attempts recorded, the rate becomes (rate*(n-1)+1)/n.
func (t *HealthTracker) RecordError(id, detail string) {
	now := time.Now()

	t.mu.Lock()
	rec := t.record(id)
	n := rec.snapshot.ConnectionAttempts
	if n < 1 {
		n = 1
		rec.snapshot.ConnectionAttempts = n
	}
	rec.snapshot.ErrorRate = (rec.snapshot.ErrorRate*float64(n-1) + 1) / float64(n)
	rec.snapshot.LastError = detail
	rec.snapshot.LastErrorTime = &now
	rec.snapshot.Uptime = nil
	rec.attemptStart = time.Time{}
	t.mu.Unlock()

	t.errors.WithLabelValues(id).Inc()
}

// RecordDisconnect clears the uptime marker for a closed connection.
func (t *HealthTracker) RecordDisconnect(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(id)
	rec.snapshot.Uptime = nil
}

// Snapshot returns the current health statistics for a server.
func (t *HealthTracker) Snapshot(id string) (HealthSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return HealthSnapshot{}, false
	}
	return rec.snapshot, true
}

// record returns the record for id, creating it if needed.
// Caller holds t.mu.
func (t *HealthTracker) record(id string) *healthRecord {
	rec, ok := t.records[id]
	if !ok {
		rec = &healthRecord{}
		t.records[id] = rec
	}
	return rec
}
