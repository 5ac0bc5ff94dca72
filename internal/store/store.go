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

// Package store persists run reports in a local SQLite database so past
// runs stay queryable after the process exits. One database per host,
// shared by every pipeline.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/foundry/pkg/errors"
	"github.com/tombee/foundry/pkg/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	pipeline     TEXT NOT NULL,
	verdict      TEXT NOT NULL,
	cancelled    INTEGER NOT NULL DEFAULT 0,
	started_at   TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	duration_ms  INTEGER NOT NULL,
	report       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline, started_at DESC);
`

// timeFormat is RFC 3339 with a fixed-width nanosecond fraction. The
// runs table sorts timestamps lexicographically, and RFC3339Nano drops
// trailing zeros, which mis-orders values within the same second.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// RunSummary is one history row without the full report payload.
type RunSummary struct {
	RunID     string          `json:"run_id"`
	Pipeline  string          `json:"pipeline"`
	Verdict   pipeline.Status `json:"verdict"`
	Cancelled bool            `json:"cancelled,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &errors.ConfigError{Key: "history-db", Reason: "cannot create history directory", Cause: err}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening history database")
	}
	// modernc.org/sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing history schema")
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun records a finished run. Saving the same run twice replaces the
// earlier row.
func (s *Store) SaveRun(ctx context.Context, report *pipeline.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "encoding run report")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, pipeline, verdict, cancelled, started_at, completed_at, duration_ms, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID,
		report.Pipeline,
		string(report.Verdict),
		report.Cancelled,
		report.StartedAt.UTC().Format(timeFormat),
		report.CompletedAt.UTC().Format(timeFormat),
		report.Duration.Milliseconds(),
		string(payload),
	)
	return errors.Wrap(err, "saving run")
}

// ListRuns returns the most recent runs, newest first. An empty pipeline
// name matches every pipeline.
func (s *Store) ListRuns(ctx context.Context, pipelineName string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, pipeline, verdict, cancelled, started_at, duration_ms
		FROM runs`
	args := []any{}
	if pipelineName != "" {
		query += ` WHERE pipeline = ?`
		args = append(args, pipelineName)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			sum       RunSummary
			verdict   string
			startedAt string
			durMS     int64
		)
		if err := rows.Scan(&sum.RunID, &sum.Pipeline, &verdict, &sum.Cancelled, &startedAt, &durMS); err != nil {
			return nil, errors.Wrap(err, "scanning run row")
		}
		sum.Verdict = pipeline.Status(verdict)
		sum.Duration = time.Duration(durMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			sum.StartedAt = t
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetRun loads the full report for one run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*pipeline.RunReport, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM runs WHERE id = ?`, runID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading run")
	}

	var report pipeline.RunReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, errors.Wrap(err, "decoding run report")
	}
	return &report, nil
}

// DefaultPath returns the per-user history database location.
func DefaultPath() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".foundry", "history.db")
	}
	return filepath.Join(os.TempDir(), "foundry-history.db")
}
