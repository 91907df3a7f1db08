// Package store persists run history in SQLite. It is history for the runs
// and report commands, never a work queue: nothing resumes from it.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/fleetrm/pkg/api"
)

// Store is a SQLite-backed persistence layer.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// Run is one persisted purge run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     api.RunStatus
	Transport  string
	Summary    api.Summary
}

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("mkdir store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

const timeLayout = time.RFC3339Nano

// SaveRun persists the run header and its results in one transaction,
// keeping the report order via the ordinal column.
func (s *Store) SaveRun(ctx context.Context, run Run, results []api.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, status, transport, total, removed, failed, absent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		string(run.Status),
		run.Transport,
		run.Summary.Total,
		run.Summary.Removed,
		run.Summary.Failed,
		run.Summary.Absent,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_results (run_id, ordinal, host, path, ts, existed_before, exists_after, action, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare results: %w", err)
	}
	defer stmt.Close()

	for i, r := range results {
		_, err = stmt.ExecContext(ctx,
			run.ID, i, r.Host, r.Path,
			r.Timestamp.UTC().Format(timeLayout),
			r.ExistedBefore, r.ExistsAfter, string(r.Action), r.Error,
		)
		if err != nil {
			return fmt.Errorf("insert result %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetRun loads a run and its ordered results. id may be a unique prefix of
// the stored run id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, []api.Result, error) {
	var run Run
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, transport, total, removed, failed, absent
		 FROM runs WHERE id LIKE ? || '%'`, id)
	if err != nil {
		return run, nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	matches := 0
	for rows.Next() {
		matches++
		if matches > 1 {
			return run, nil, fmt.Errorf("run id %q is ambiguous", id)
		}
		var started, finished, status string
		if err := rows.Scan(&run.ID, &started, &finished, &status, &run.Transport,
			&run.Summary.Total, &run.Summary.Removed, &run.Summary.Failed, &run.Summary.Absent); err != nil {
			return run, nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = api.RunStatus(status)
		if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return run, nil, fmt.Errorf("parse started_at: %w", err)
		}
		if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return run, nil, fmt.Errorf("parse finished_at: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return run, nil, err
	}
	if matches == 0 {
		return run, nil, fmt.Errorf("run not found: %s", id)
	}

	results, err := s.runResults(ctx, run.ID)
	if err != nil {
		return run, nil, err
	}
	return run, results, nil
}

func (s *Store) runResults(ctx context.Context, runID string) ([]api.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host, path, ts, existed_before, exists_after, action, error
		 FROM run_results WHERE run_id = ? ORDER BY ordinal`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []api.Result
	for rows.Next() {
		var r api.Result
		var ts, action string
		if err := rows.Scan(&r.Host, &r.Path, &ts, &r.ExistedBefore, &r.ExistsAfter, &action, &r.Error); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Action = api.Action(action)
		if r.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse result ts: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListRuns returns up to limit runs, most recent first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, started_at, finished_at, status, transport, total, removed, failed, absent
	      FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started, finished, status string
		if err := rows.Scan(&run.ID, &started, &finished, &status, &run.Transport,
			&run.Summary.Total, &run.Summary.Removed, &run.Summary.Failed, &run.Summary.Absent); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = api.RunStatus(status)
		if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
