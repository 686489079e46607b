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
	"testing"
	"time"
)

func TestTTLFor(t *testing.T) {
	tests := []struct {
		metricType MetricType
		want       time.Duration
	}{
		{MetricGitHubStars, 6 * time.Hour},
		{MetricInstallCount, 24 * time.Hour},
		{MetricNpmDownloads, 24 * time.Hour},
		{MetricPypiDownloads, 24 * time.Hour},
		{MetricType("somethingNew"), 12 * time.Hour},
	}

	for _, tt := range tests {
		if got := TTLFor(tt.metricType); got != tt.want {
			t.Errorf("TTLFor(%s) = %v, want %v", tt.metricType, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	now := time.Now()
	at := func(age time.Duration) *time.Time {
		ts := now.Add(-age)
		return &ts
	}

	tests := []struct {
		name          string
		metricType    MetricType
		lastSuccessAt *time.Time
		want          Freshness
	}{
		{"never fetched", MetricGitHubStars, nil, FreshnessExpired},
		{"just fetched", MetricGitHubStars, at(0), FreshnessFresh},
		{"under half ttl", MetricGitHubStars, at(2 * time.Hour), FreshnessFresh},
		{"over half ttl", MetricGitHubStars, at(4 * time.Hour), FreshnessStale},
		{"just under full ttl", MetricGitHubStars, at(6*time.Hour - time.Minute), FreshnessStale},
		{"past full ttl", MetricGitHubStars, at(7 * time.Hour), FreshnessExpired},
		{"downloads fresh at 11h", MetricNpmDownloads, at(11 * time.Hour), FreshnessFresh},
		{"downloads stale at 13h", MetricNpmDownloads, at(13 * time.Hour), FreshnessStale},
		{"downloads expired at 25h", MetricNpmDownloads, at(25 * time.Hour), FreshnessExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.metricType, tt.lastSuccessAt, now); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}
