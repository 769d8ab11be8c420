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

package telemetry

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// Store records run metadata and every reported metric in a local SQLite
// database, giving each experiment a durable history that survives restarts.
// It implements Sink.
type Store struct {
	db    *sql.DB
	runID string
}

// NewStore opens (creating if needed) the run database at path.
func NewStore(path string) (*Store, error) {
	connStr := path
	if path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, maestroerrors.Wrap(err, "opening run database")
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			config     TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			run_id      TEXT NOT NULL,
			step        INTEGER NOT NULL,
			name        TEXT NOT NULL,
			value       REAL NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run_step ON metrics(run_id, step)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run_name ON metrics(run_id, name)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return maestroerrors.Wrap(err, "migrating run database")
		}
	}
	return nil
}

// StartRun records run metadata and binds subsequent Log calls to the run.
// Call once per process attempt chain, before the first Log.
func (s *Store) StartRun(ctx context.Context, id, name, configDump string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, name, config, started_at) VALUES (?, ?, ?, ?)`,
		id, name, configDump, time.Now().UTC())
	if err != nil {
		return maestroerrors.Wrap(err, "recording run")
	}
	s.runID = id
	return nil
}

// Log appends one row per metric for the bound run.
func (s *Store) Log(ctx context.Context, step uint64, metrics map[string]float64) error {
	if s.runID == "" {
		return maestroerrors.New("telemetry store: Log called before StartRun")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return maestroerrors.Wrap(err, "recording metrics")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for name, value := range metrics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metrics (run_id, step, name, value, recorded_at) VALUES (?, ?, ?, ?, ?)`,
			s.runID, int64(step), name, value, now); err != nil {
			return maestroerrors.Wrap(err, "recording metrics")
		}
	}
	return tx.Commit()
}

// Point is one stored metric observation.
type Point struct {
	Step  uint64
	Value float64
}

// History returns all observations of one metric for the bound run, in step
// order.
func (s *Store) History(ctx context.Context, name string) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, value FROM metrics WHERE run_id = ? AND name = ? ORDER BY step, recorded_at`,
		s.runID, name)
	if err != nil {
		return nil, maestroerrors.Wrap(err, "querying metric history")
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		var step int64
		if err := rows.Scan(&step, &p.Value); err != nil {
			return nil, maestroerrors.Wrap(err, "scanning metric row")
		}
		p.Step = uint64(step)
		points = append(points, p)
	}
	return points, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
