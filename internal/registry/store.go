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
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists metric rows and the cached upstream catalog in SQLite.
//
// WAL mode is enabled for concurrent readers; times are stored as unix
// milliseconds so rows survive driver differences.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the registry database at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite with WAL mode can handle multiple concurrent readers
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS metric_status (
			server_id     TEXT NOT NULL,
			metric_type   TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			value         INTEGER,
			last_success_at INTEGER,
			next_update_at  INTEGER,
			last_attempt_at INTEGER,
			error_code    TEXT,
			error_message TEXT,
			updated_at    INTEGER NOT NULL,
			PRIMARY KEY (server_id, metric_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metric_status_updated
			ON metric_status(updated_at)`,
		`CREATE TABLE IF NOT EXISTS registry_servers (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			description      TEXT,
			repository       TEXT,
			package_name     TEXT,
			package_registry TEXT,
			payload          TEXT,
			updated_at       INTEGER NOT NULL
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// RecordSuccess upserts a successful metric fetch and schedules the next
// refresh one TTL out.
func (s *Store) RecordSuccess(ctx context.Context, serverID string, metricType MetricType, value int64) error {
	now := time.Now()
	next := now.Add(TTLFor(metricType))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_status
			(server_id, metric_type, status, value, last_success_at, next_update_at, last_attempt_at, error_code, error_message, updated_at)
		VALUES (?, ?, 'success', ?, ?, ?, ?, NULL, NULL, ?)
		ON CONFLICT (server_id, metric_type) DO UPDATE SET
			status = 'success',
			value = excluded.value,
			last_success_at = excluded.last_success_at,
			next_update_at = excluded.next_update_at,
			last_attempt_at = excluded.last_attempt_at,
			error_code = NULL,
			error_message = NULL,
			updated_at = excluded.updated_at`,
		serverID, string(metricType), value,
		now.UnixMilli(), next.UnixMilli(), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record metric success: %w", err)
	}
	return nil
}

// RecordFailure upserts a failed metric fetch, keeping any previous value.
func (s *Store) RecordFailure(ctx context.Context, serverID string, metricType MetricType, code, message string) error {
	now := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_status
			(server_id, metric_type, status, last_attempt_at, error_code, error_message, updated_at)
		VALUES (?, ?, 'error', ?, ?, ?, ?)
		ON CONFLICT (server_id, metric_type) DO UPDATE SET
			status = 'error',
			last_attempt_at = excluded.last_attempt_at,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		serverID, string(metricType),
		now.UnixMilli(), code, message, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record metric failure: %w", err)
	}
	return nil
}

// Statuses returns the metric rows for the given servers, grouped by id.
func (s *Store) Statuses(ctx context.Context, serverIDs []string) (map[string][]MetricStatus, error) {
	result := make(map[string][]MetricStatus)
	if len(serverIDs) == 0 {
		return result, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(serverIDs)), ",")
	args := make([]any, len(serverIDs))
	for i, id := range serverIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT server_id, metric_type, status, value, last_success_at,
		       next_update_at, last_attempt_at, error_code, error_message, updated_at
		FROM metric_status
		WHERE server_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		status, err := scanMetricStatus(rows)
		if err != nil {
			return nil, err
		}
		result[status.ServerID] = append(result[status.ServerID], status)
	}
	return result, rows.Err()
}

// ChangedSince returns metric rows updated at or after the given time.
func (s *Store) ChangedSince(ctx context.Context, since time.Time) ([]MetricStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, metric_type, status, value, last_success_at,
		       next_update_at, last_attempt_at, error_code, error_message, updated_at
		FROM metric_status
		WHERE updated_at >= ?
		ORDER BY server_id, metric_type`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query changed metrics: %w", err)
	}
	defer rows.Close()

	var changed []MetricStatus
	for rows.Next() {
		status, err := scanMetricStatus(rows)
		if err != nil {
			return nil, err
		}
		changed = append(changed, status)
	}
	return changed, rows.Err()
}

// ServersMissingMetrics returns up to limit catalog ids with no successful
// metric row at all, oldest catalog entries first.
func (s *Store) ServersMissingMetrics(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rs.id
		FROM registry_servers rs
		WHERE NOT EXISTS (
			SELECT 1 FROM metric_status ms
			WHERE ms.server_id = rs.id AND ms.status = 'success'
		)
		ORDER BY rs.updated_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query servers missing metrics: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan server id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveServers upserts catalog entries fetched from the upstream registry.
func (s *Store) SaveServers(ctx context.Context, servers []RegistryServer) error {
	if len(servers) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, srv := range servers {
		payload, err := json.Marshal(srv)
		if err != nil {
			return fmt.Errorf("failed to encode catalog entry %s: %w", srv.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO registry_servers
				(id, name, description, repository, package_name, package_registry, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				repository = excluded.repository,
				package_name = excluded.package_name,
				package_registry = excluded.package_registry,
				payload = excluded.payload,
				updated_at = excluded.updated_at`,
			srv.ID, srv.Name, srv.Description, srv.Repository,
			srv.PackageName, srv.PackageRegistry, string(payload), now); err != nil {
			return fmt.Errorf("failed to upsert catalog entry %s: %w", srv.ID, err)
		}
	}

	return tx.Commit()
}

// Server returns one cached catalog entry.
func (s *Store) Server(ctx context.Context, id string) (RegistryServer, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM registry_servers WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return RegistryServer{}, false, nil
	}
	if err != nil {
		return RegistryServer{}, false, fmt.Errorf("failed to query catalog entry: %w", err)
	}

	var srv RegistryServer
	if err := json.Unmarshal([]byte(payload), &srv); err != nil {
		return RegistryServer{}, false, fmt.Errorf("failed to decode catalog entry %s: %w", id, err)
	}
	return srv, true, nil
}

func scanMetricStatus(rows *sql.Rows) (MetricStatus, error) {
	var (
		status       MetricStatus
		metricType   string
		state        string
		value        sql.NullInt64
		lastSuccess  sql.NullInt64
		nextUpdate   sql.NullInt64
		lastAttempt  sql.NullInt64
		errorCode    sql.NullString
		errorMessage sql.NullString
		updatedAt    int64
	)

	if err := rows.Scan(&status.ServerID, &metricType, &state, &value,
		&lastSuccess, &nextUpdate, &lastAttempt, &errorCode, &errorMessage, &updatedAt); err != nil {
		return MetricStatus{}, fmt.Errorf("failed to scan metric row: %w", err)
	}

	status.MetricType = MetricType(metricType)
	status.State = MetricState(state)
	if value.Valid {
		v := value.Int64
		status.Value = &v
	}
	status.LastSuccessAt = milliTime(lastSuccess)
	status.NextUpdateAt = milliTime(nextUpdate)
	status.LastAttemptAt = milliTime(lastAttempt)
	status.ErrorCode = errorCode.String
	status.ErrorMessage = errorMessage.String
	status.UpdatedAt = time.UnixMilli(updatedAt)

	return status, nil
}

func milliTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
