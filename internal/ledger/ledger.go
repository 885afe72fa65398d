// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger records harvest runs in SQLite: which candidates each
// registry query produced and how every identifier's checkpoints ended.
// The ledger is history only. Checkpoint decisions are made from the
// artifact files, never from here.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/cve-harvest/pkg/types"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages the ledger database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Run is one CLI invocation that processed identifiers.
type Run struct {
	ID         string    `json:"id" yaml:"id"`
	Command    string    `json:"command" yaml:"command"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Succeeded  int       `json:"succeeded" yaml:"succeeded"`
	Total      int       `json:"total" yaml:"total"`
}

// Outcome is one identifier's result within a run.
type Outcome struct {
	RunID      string                 `json:"run_id" yaml:"run_id"`
	Identifier string                 `json:"identifier" yaml:"identifier"`
	Evidence   types.CheckpointStatus `json:"evidence" yaml:"evidence"`
	Record     types.CheckpointStatus `json:"record" yaml:"record"`
	Summary    types.CheckpointStatus `json:"summary" yaml:"summary"`
	Captures   int                    `json:"captures" yaml:"captures"`
	Success    bool                   `json:"success" yaml:"success"`
	Errors     []string               `json:"errors,omitempty" yaml:"errors,omitempty"`
	RecordedAt time.Time              `json:"recorded_at" yaml:"recorded_at"`
}

// Candidate is a registry candidate with the times it was first and last
// returned by a query.
type Candidate struct {
	types.VulnerabilityCandidate `yaml:",inline"`
	FirstSeen                    time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen                     time.Time `json:"last_seen" yaml:"last_seen"`
}

// Open opens or creates the ledger database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			succeeded INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			identifier TEXT NOT NULL,
			evidence TEXT NOT NULL,
			record TEXT NOT NULL,
			summary TEXT NOT NULL,
			captures INTEGER NOT NULL,
			success INTEGER NOT NULL,
			errors TEXT,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_identifier ON outcomes(identifier)`,
		`CREATE TABLE IF NOT EXISTS candidates (
			identifier TEXT PRIMARY KEY,
			base_score REAL NOT NULL,
			metric_version TEXT NOT NULL,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			last_run TEXT REFERENCES runs(id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// BeginRun inserts a run row and returns its id.
func (s *Store) BeginRun(ctx context.Context, command string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, started_at) VALUES (?, ?, ?)`,
		id, command, s.now().UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's end time and totals.
func (s *Store) FinishRun(ctx context.Context, runID string, succeeded, total int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, succeeded = ?, total = ? WHERE id = ?`,
		s.now().UTC().Format(timeLayout), succeeded, total, runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: %w", runID, types.ErrNotFound)
	}
	return nil
}

// RecordCandidates upserts the candidates a query returned. FirstSeen is
// kept from the first insert; score and LastSeen are refreshed.
func (s *Store) RecordCandidates(ctx context.Context, runID string, cands []types.VulnerabilityCandidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candidates (identifier, base_score, metric_version, first_seen, last_seen, last_run)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			base_score = excluded.base_score,
			metric_version = excluded.metric_version,
			last_seen = excluded.last_seen,
			last_run = excluded.last_run`)
	if err != nil {
		return fmt.Errorf("preparing candidate upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC().Format(timeLayout)
	for _, c := range cands {
		if _, err := stmt.ExecContext(ctx, c.ID, c.BaseScore, string(c.MetricVersion), now, now, nullable(runID)); err != nil {
			return fmt.Errorf("recording candidate %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// RecordOutcome appends one identifier's result to the run.
func (s *Store) RecordOutcome(ctx context.Context, runID string, r types.HarvestResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (run_id, identifier, evidence, record, summary, captures, success, errors, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Identifier, string(r.Evidence), string(r.Record), string(r.Summary),
		r.Captures, r.Success(), strings.Join(r.Errors, "\n"),
		s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("recording outcome for %s: %w", r.Identifier, err)
	}
	return nil
}

// History returns every recorded outcome for identifier, oldest first.
func (s *Store) History(ctx context.Context, identifier string) ([]Outcome, error) {
	return s.outcomes(ctx, `WHERE identifier = ?`, identifier)
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, command, started_at, COALESCE(finished_at, ''), succeeded, total FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Command, &started, &finished, &r.Succeeded, &r.Total); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Candidates returns every candidate ever recorded, highest score first.
func (s *Store) Candidates(ctx context.Context) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, base_score, metric_version, first_seen, last_seen
		FROM candidates ORDER BY base_score DESC, identifier ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var version, first, last string
		if err := rows.Scan(&c.ID, &c.BaseScore, &version, &first, &last); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		c.MetricVersion = types.MetricVersion(version)
		c.FirstSeen = parseTime(first)
		c.LastSeen = parseTime(last)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) outcomes(ctx context.Context, where string, args ...any) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, identifier, evidence, record, summary, captures, success, COALESCE(errors, ''), recorded_at
		FROM outcomes `+where+` ORDER BY rowid ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var evidence, record, summary, errs, recorded string
		if err := rows.Scan(&o.RunID, &o.Identifier, &evidence, &record, &summary, &o.Captures, &o.Success, &errs, &recorded); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		o.Evidence = types.CheckpointStatus(evidence)
		o.Record = types.CheckpointStatus(record)
		o.Summary = types.CheckpointStatus(summary)
		if errs != "" {
			o.Errors = strings.Split(errs, "\n")
		}
		o.RecordedAt = parseTime(recorded)
		out = append(out, o)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
