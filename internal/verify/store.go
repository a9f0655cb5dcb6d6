// SPDX-License-Identifier: MIT

package verify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

// ErrRunNotFound is returned by Latest and Get when no run matches.
var ErrRunNotFound = errors.New("verify: run not found")

// Integrity pragma modes for VerifyIntegrity.
const (
	IntegrityQuick = "quick"
	IntegrityFull  = "full"
)

// trigger is a SQLite keyword and stays quoted everywhere.
const schema = `
CREATE TABLE IF NOT EXISTS verify_runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	overall     TEXT NOT NULL,
	"trigger"   TEXT NOT NULL,
	total       INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	warned      INTEGER NOT NULL,
	failed      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS verify_results (
	run_id      TEXT NOT NULL REFERENCES verify_runs(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, name)
);

CREATE INDEX IF NOT EXISTS idx_verify_runs_started ON verify_runs(started_at DESC);
`

const runColumns = `id, started_at, finished_at, duration_ms, overall, "trigger", total, passed, warned, failed`

// Store persists verification reports in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the history database at path. WAL mode and
// busy_timeout are set in the DSN so they apply to every pooled connection.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save writes the report and its per-check results in one transaction.
func (s *Store) Save(ctx context.Context, rep *Report) error {
	if rep == nil || rep.ID == "" {
		return errors.New("verify: report missing id")
	}
	if !rep.Overall.Valid() {
		return fmt.Errorf("verify: invalid overall status %q", rep.Overall)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO verify_runs
		(`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ID, rep.StartedAt.UnixMilli(), rep.FinishedAt.UnixMilli(), rep.DurationMS,
		string(rep.Overall), rep.Trigger, rep.Total, rep.Passed, rep.Warned, rep.Failed)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, res := range rep.Results {
		if !res.Status.Valid() {
			return fmt.Errorf("verify: invalid status %q for check %s", res.Status, res.Name)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO verify_results
			(run_id, name, status, detail, duration_ms) VALUES (?, ?, ?, ?, ?)`,
			rep.ID, res.Name, string(res.Status), res.Detail, res.DurationMS); err != nil {
			return fmt.Errorf("insert result %s: %w", res.Name, err)
		}
	}
	return tx.Commit()
}

// Latest returns the most recent run with its results.
func (s *Store) Latest(ctx context.Context) (*Report, error) {
	return s.queryRun(ctx, `ORDER BY started_at DESC, rowid DESC LIMIT 1`)
}

// Get returns one run by id with its results.
func (s *Store) Get(ctx context.Context, runID string) (*Report, error) {
	return s.queryRun(ctx, `WHERE id = ?`, runID)
}

// List returns the newest runs, most recent first, without per-check
// results.
func (s *Store) List(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM verify_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		rep, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were
// removed. keep <= 0 keeps everything.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM verify_runs WHERE id NOT IN (
		SELECT id FROM verify_runs ORDER BY started_at DESC, rowid DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) queryRun(ctx context.Context, tail string, args ...any) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM verify_runs `+tail, args...)
	rep, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("query run: %w", err)
	}
	if err := s.loadResults(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func scanRun(row interface{ Scan(...any) error }) (*Report, error) {
	var rep Report
	var started, finished int64
	var overall string
	if err := row.Scan(&rep.ID, &started, &finished, &rep.DurationMS, &overall, &rep.Trigger,
		&rep.Total, &rep.Passed, &rep.Warned, &rep.Failed); err != nil {
		return nil, err
	}
	rep.StartedAt = time.UnixMilli(started).UTC()
	rep.FinishedAt = time.UnixMilli(finished).UTC()
	rep.Overall = Status(overall)
	return &rep, nil
}

func (s *Store) loadResults(ctx context.Context, rep *Report) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, detail, duration_ms FROM verify_results WHERE run_id = ? ORDER BY rowid`, rep.ID)
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var res Result
		var status string
		if err := rows.Scan(&res.Name, &status, &res.Detail, &res.DurationMS); err != nil {
			return fmt.Errorf("scan result: %w", err)
		}
		res.Status = Status(status)
		rep.Results = append(rep.Results, res)
	}
	return rows.Err()
}

// VerifyIntegrity checks a SQLite database for structural corruption.
// mode is IntegrityQuick (PRAGMA quick_check) or IntegrityFull (PRAGMA
// integrity_check). It returns diagnostic rows when corruption is found,
// nil when healthy.
func VerifyIntegrity(path, mode string) ([]string, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=2000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database for verification: %w", err)
	}
	defer db.Close()

	pragma := "PRAGMA quick_check;"
	if mode == IntegrityFull {
		pragma = "PRAGMA integrity_check;"
	}

	rows, err := db.Query(pragma)
	if err != nil {
		return nil, fmt.Errorf("integrity pragma failed: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, fmt.Errorf("scan integrity row: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Success is exactly one row reading "ok".
	if len(results) == 1 && strings.ToLower(results[0]) == "ok" {
		return nil, nil
	}
	if len(results) == 0 {
		return []string{"no rows returned from integrity check"}, nil
	}
	return results, nil
}
