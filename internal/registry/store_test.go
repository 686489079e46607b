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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordSuccessRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordSuccess(ctx, "s1", MetricGitHubStars, 1234))

	statuses, err := store.Statuses(ctx, []string{"s1"})
	require.NoError(t, err)
	require.Len(t, statuses["s1"], 1)

	row := statuses["s1"][0]
	require.Equal(t, MetricGitHubStars, row.MetricType)
	require.Equal(t, MetricStateSuccess, row.State)
	require.NotNil(t, row.Value)
	require.EqualValues(t, 1234, *row.Value)
	require.NotNil(t, row.LastSuccessAt)
	require.NotNil(t, row.NextUpdateAt)
	require.Empty(t, row.ErrorCode)

	// Next refresh is scheduled one TTL out.
	gap := row.NextUpdateAt.Sub(*row.LastSuccessAt)
	require.InDelta(t, (6 * time.Hour).Seconds(), gap.Seconds(), 1)
}

func TestStore_RecordFailureKeepsPreviousValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordSuccess(ctx, "s1", MetricGitHubStars, 100))
	require.NoError(t, store.RecordFailure(ctx, "s1", MetricGitHubStars, "FETCH_FAILED", "rate limited"))

	statuses, err := store.Statuses(ctx, []string{"s1"})
	require.NoError(t, err)
	require.Len(t, statuses["s1"], 1)

	row := statuses["s1"][0]
	require.Equal(t, MetricStateError, row.State)
	require.Equal(t, "FETCH_FAILED", row.ErrorCode)
	require.Equal(t, "rate limited", row.ErrorMessage)
	require.NotNil(t, row.Value, "failure must not erase the last good value")
	require.EqualValues(t, 100, *row.Value)
	require.NotNil(t, row.LastSuccessAt)
}

func TestStore_SuccessClearsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordFailure(ctx, "s1", MetricNpmDownloads, "FETCH_FAILED", "boom"))
	require.NoError(t, store.RecordSuccess(ctx, "s1", MetricNpmDownloads, 42))

	statuses, err := store.Statuses(ctx, []string{"s1"})
	require.NoError(t, err)

	row := statuses["s1"][0]
	require.Equal(t, MetricStateSuccess, row.State)
	require.Empty(t, row.ErrorCode)
	require.Empty(t, row.ErrorMessage)
}

func TestStore_ChangedSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordSuccess(ctx, "old", MetricGitHubStars, 1))

	cutoff := time.Now().Add(time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, store.RecordSuccess(ctx, "new", MetricGitHubStars, 2))

	changed, err := store.ChangedSince(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	require.Equal(t, "new", changed[0].ServerID)
}

func TestStore_ServersMissingMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveServers(ctx, []RegistryServer{
		{ID: "has-metrics", Name: "A"},
		{ID: "no-metrics", Name: "B"},
		{ID: "failed-only", Name: "C"},
	}))
	require.NoError(t, store.RecordSuccess(ctx, "has-metrics", MetricGitHubStars, 10))
	require.NoError(t, store.RecordFailure(ctx, "failed-only", MetricGitHubStars, "FETCH_FAILED", "x"))

	ids, err := store.ServersMissingMetrics(ctx, 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"no-metrics", "failed-only"}, ids,
		"servers with only failed fetches still count as missing")
}

func TestStore_ServersMissingMetricsHonorsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	servers := make([]RegistryServer, 5)
	for i := range servers {
		servers[i] = RegistryServer{ID: string(rune('a' + i)), Name: "srv"}
	}
	require.NoError(t, store.SaveServers(ctx, servers))

	ids, err := store.ServersMissingMetrics(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestStore_SaveServersUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveServers(ctx, []RegistryServer{
		{ID: "s1", Name: "First", Repository: "https://github.com/a/b"},
	}))
	require.NoError(t, store.SaveServers(ctx, []RegistryServer{
		{ID: "s1", Name: "Renamed", Repository: "https://github.com/a/b"},
	}))

	srv, ok, err := store.Server(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Renamed", srv.Name)
}

func TestStore_ServerNotFound(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.Server(context.Background(), "ghost")
	require.NoError(t, err)
	require.False(t, ok)
}
