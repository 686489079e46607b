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

import "time"

// Freshness classifies how current a cached metric value is.
type Freshness string

const (
	// FreshnessFresh means the value is younger than half its TTL.
	FreshnessFresh Freshness = "fresh"
	// FreshnessStale means the value is past half its TTL but still usable.
	FreshnessStale Freshness = "stale"
	// FreshnessExpired means the value is past its TTL or never fetched.
	FreshnessExpired Freshness = "expired"
)

const defaultMetricTTL = 12 * time.Hour

// metricTTLs maps each metric to how long a fetched value stays valid.
// Stars move faster than download counts.
var metricTTLs = map[MetricType]time.Duration{
	MetricGitHubStars:   6 * time.Hour,
	MetricInstallCount:  24 * time.Hour,
	MetricNpmDownloads:  24 * time.Hour,
	MetricPypiDownloads: 24 * time.Hour,
}

// TTLFor returns the validity window for a metric type.
func TTLFor(metricType MetricType) time.Duration {
	if ttl, ok := metricTTLs[metricType]; ok {
		return ttl
	}
	return defaultMetricTTL
}

// Classify buckets a metric value's age: fresh below half the TTL, stale
// below the full TTL, expired beyond it. A value never fetched is expired.
func Classify(metricType MetricType, lastSuccessAt *time.Time, now time.Time) Freshness {
	if lastSuccessAt == nil {
		return FreshnessExpired
	}

	age := now.Sub(*lastSuccessAt)
	ttl := TTLFor(metricType)

	switch {
	case age < ttl/2:
		return FreshnessFresh
	case age < ttl:
		return FreshnessStale
	default:
		return FreshnessExpired
	}
}
