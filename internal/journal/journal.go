// Package journal records extraction runs and per-station outcomes in
// SQLite, so a long pipeline run leaves an audit trail of which stations
// fetched, which were already current and which gave up.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Station outcomes recorded per run.
const (
	OutcomeFetched  = "fetched"
	OutcomeUpToDate = "up_to_date"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Journal persists run and station records. A nil *Journal is a valid
// no-op receiver for the write methods, so callers that run without an
// audit database do not need to branch.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path and applies pending
// migrations.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := New(db)
	if err := j.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// Run represents one pipeline invocation for auditing.
type Run struct {
	ID            int64
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Kind          string // "fetch", "update"
	WindowStart   sql.NullTime
	WindowEnd     sql.NullTime
	StationsTotal sql.NullInt64
	Fetched       sql.NullInt64
	UpToDate      sql.NullInt64
	Skipped       sql.NullInt64
	Failed        sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

// StartRun creates a run record and returns it with its ID set.
func (j *Journal) StartRun(kind string, windowStart, windowEnd time.Time, stationsTotal int) (*Run, error) {
	if j == nil {
		return nil, nil
	}

	run := &Run{
		StartedAt:     time.Now().UTC(),
		Kind:          kind,
		WindowStart:   sql.NullTime{Time: windowStart, Valid: !windowStart.IsZero()},
		WindowEnd:     sql.NullTime{Time: windowEnd, Valid: !windowEnd.IsZero()},
		StationsTotal: sql.NullInt64{Int64: int64(stationsTotal), Valid: true},
	}

	result, err := j.db.Exec(`
		INSERT INTO runs (started_at, kind, window_start, window_end, stations_total, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.Kind, run.WindowStart, run.WindowEnd, run.StationsTotal)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun updates the run with its results. A nil run is a no-op so
// callers can pass through the result of StartRun on a nil journal.
func (j *Journal) CompleteRun(run *Run) error {
	if j == nil || run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := j.db.Exec(`
		UPDATE runs SET
			finished_at = ?,
			fetched = ?,
			up_to_date = ?,
			skipped = ?,
			failed = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Fetched, run.UpToDate, run.Skipped, run.Failed,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// StationEvent is the outcome of one station within a run.
type StationEvent struct {
	ID           int64
	RunID        int64
	Code         string
	State        string
	Outcome      string
	Attempts     int
	RowsFetched  sql.NullInt64
	FileName     sql.NullString
	ErrorMessage sql.NullString
	CreatedAt    time.Time
}

// RecordStation appends a station outcome to the given run.
func (j *Journal) RecordStation(run *Run, ev StationEvent) error {
	if j == nil || run == nil {
		return nil
	}

	_, err := j.db.Exec(`
		INSERT INTO station_events (run_id, station_code, state, outcome, attempts, rows_fetched, file_name, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, ev.Code, ev.State, ev.Outcome, ev.Attempts, ev.RowsFetched, ev.FileName, ev.ErrorMessage)
	return err
}

// RunEvents returns every station event for a run in recording order.
func (j *Journal) RunEvents(runID int64) ([]StationEvent, error) {
	rows, err := j.db.Query(`
		SELECT id, run_id, station_code, state, outcome, attempts, rows_fetched, file_name, error_message, created_at
		FROM station_events
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StationEvent
	for rows.Next() {
		var ev StationEvent
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Code, &ev.State, &ev.Outcome,
			&ev.Attempts, &ev.RowsFetched, &ev.FileName, &ev.ErrorMessage, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecentRuns returns the most recent runs, newest first.
func (j *Journal) RecentRuns(limit int) ([]Run, error) {
	rows, err := j.db.Query(`
		SELECT id, started_at, finished_at, kind, window_start, window_end,
		       stations_total, fetched, up_to_date, skipped, failed, success, error_message
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Kind, &r.WindowStart, &r.WindowEnd,
			&r.StationsTotal, &r.Fetched, &r.UpToDate, &r.Skipped, &r.Failed, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecentFailures returns the latest station events whose outcome was
// skipped or failed, newest first.
func (j *Journal) RecentFailures(limit int) ([]StationEvent, error) {
	rows, err := j.db.Query(`
		SELECT id, run_id, station_code, state, outcome, attempts, rows_fetched, file_name, error_message, created_at
		FROM station_events
		WHERE outcome IN (?, ?)
		ORDER BY id DESC
		LIMIT ?
	`, OutcomeSkipped, OutcomeFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StationEvent
	for rows.Next() {
		var ev StationEvent
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Code, &ev.State, &ev.Outcome,
			&ev.Attempts, &ev.RowsFetched, &ev.FileName, &ev.ErrorMessage, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
