package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// JobRun is the audit record for one ingestion run.
type JobRun struct {
	ID           int64
	Source       string
	StartedAt    time.Time
	CompletedAt  sql.NullTime
	Status       string // "running", "success", "partial", "failed"
	Fetched      int64
	Saved        int64
	Duplicates   int64
	ParseErrors  int64
	SaveErrors   int64
	ErrorMessage sql.NullString
}

// RunCounters are the per-run tallies written at completion.
type RunCounters struct {
	Fetched     int64
	Saved       int64
	Duplicates  int64
	ParseErrors int64
	SaveErrors  int64
}

// StartRun creates a job run record in the running state and returns its
// ID. Any run still marked running for the same source is first marked
// failed; only one ingestion per source runs at a time, so a leftover
// running row means a crash.
func (s *Store) StartRun(source string) (int64, error) {
	_, err := s.db.Exec(`
		UPDATE job_runs
		SET status = 'failed',
		    error_message = 'superseded by new run',
		    completed_at = datetime('now')
		WHERE source = ? AND status = 'running'
	`, source)
	if err != nil {
		return 0, fmt.Errorf("mark stale runs failed: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO job_runs (source, started_at, status)
		VALUES (?, datetime('now'), 'running')
	`, source)
	if err != nil {
		return 0, fmt.Errorf("insert job_run: %w", err)
	}

	return result.LastInsertId()
}

// FinishRun records the outcome of a run. Status must be one of the
// terminal RunStatus values; errMsg is only stored when non-empty.
func (s *Store) FinishRun(runID int64, status string, c RunCounters, errMsg string) error {
	switch status {
	case RunStatusSuccess, RunStatusPartial, RunStatusFailed:
	default:
		return fmt.Errorf("invalid terminal status %q", status)
	}

	var msg sql.NullString
	if errMsg != "" {
		msg = sql.NullString{String: errMsg, Valid: true}
	}

	result, err := s.db.Exec(`
		UPDATE job_runs
		SET status = ?,
		    completed_at = datetime('now'),
		    fetched_count = ?,
		    saved_count = ?,
		    duplicate_count = ?,
		    parse_error_count = ?,
		    save_error_count = ?,
		    error_message = ?
		WHERE id = ?
	`, status, c.Fetched, c.Saved, c.Duplicates, c.ParseErrors, c.SaveErrors, msg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, source, started_at, completed_at, status,
       fetched_count, saved_count, duplicate_count, parse_error_count, save_error_count,
       error_message`

func scanRun(row interface{ Scan(...interface{}) error }) (*JobRun, error) {
	var run JobRun
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&run.ID, &run.Source, &startedAt, &completedAt, &run.Status,
		&run.Fetched, &run.Saved, &run.Duplicates, &run.ParseErrors, &run.SaveErrors,
		&run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		run.CompletedAt = sql.NullTime{Time: parseTime(completedAt), Valid: true}
	}
	return &run, nil
}

// GetRun returns one job run by ID.
func (s *Store) GetRun(id int64) (*JobRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM job_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM job_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []*JobRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// RunMetrics holds run counters aggregated over a period.
type RunMetrics struct {
	Runs        int64
	Succeeded   int64
	Partial     int64
	Failed      int64
	Fetched     int64
	Saved       int64
	Duplicates  int64
	ParseErrors int64
	SaveErrors  int64
}

// GetRunMetrics aggregates completed runs that started at or after since.
// A zero since aggregates everything.
func (s *Store) GetRunMetrics(since time.Time) (*RunMetrics, error) {
	where := "status != 'running'"
	args := []interface{}{}
	if !since.IsZero() {
		where += " AND started_at >= ?"
		args = append(args, since.UTC().Format(timeFormat))
	}

	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(status = 'success'), 0),
		       COALESCE(SUM(status = 'partial'), 0),
		       COALESCE(SUM(status = 'failed'), 0),
		       COALESCE(SUM(fetched_count), 0),
		       COALESCE(SUM(saved_count), 0),
		       COALESCE(SUM(duplicate_count), 0),
		       COALESCE(SUM(parse_error_count), 0),
		       COALESCE(SUM(save_error_count), 0)
		FROM job_runs
		WHERE `+where, args...)

	var m RunMetrics
	err := row.Scan(
		&m.Runs, &m.Succeeded, &m.Partial, &m.Failed,
		&m.Fetched, &m.Saved, &m.Duplicates, &m.ParseErrors, &m.SaveErrors,
	)
	if err != nil {
		return nil, fmt.Errorf("run metrics: %w", err)
	}
	return &m, nil
}
