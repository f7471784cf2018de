// Package telemetry records per-file processing events of a run in a SQLite
// database.
package telemetry

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Event statuses
const (
	StatusSplit   = "split"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	version     TEXT NOT NULL,
	input_dir   TEXT NOT NULL,
	output_dir  TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       INTEGER NOT NULL REFERENCES runs(id),
	input_file   TEXT NOT NULL,
	output_dir   TEXT NOT NULL,
	status       TEXT NOT NULL,
	slices       INTEGER NOT NULL,
	message      TEXT NOT NULL,
	duration_ms  INTEGER NOT NULL,
	recorded_at  TIMESTAMP NOT NULL
);`

// RunInfo describes one invocation of the tool
type RunInfo struct {
	Version   string    `db:"version"`
	InputDir  string    `db:"input_dir"`
	OutputDir string    `db:"output_dir"`
	StartedAt time.Time `db:"started_at"`
}

// Event is the outcome of processing one input file
type Event struct {
	ID         int64     `db:"id"`
	RunID      int64     `db:"run_id"`
	InputFile  string    `db:"input_file"`
	OutputDir  string    `db:"output_dir"`
	Status     string    `db:"status"`
	Slices     int       `db:"slices"`
	Message    string    `db:"message"`
	DurationMS int64     `db:"duration_ms"`
	RecordedAt time.Time `db:"recorded_at"`
}

// Store writes events to a SQLite database
type Store struct {
	db    *sqlx.DB
	runID int64
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	// One writer; the batch is sequential
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create telemetry schema: %w", err)
	}
	return &Store{db: db}, nil
}

// StartRun registers a run; later events are attributed to it.
func (s *Store) StartRun(info RunInfo) (int64, error) {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	res, err := s.db.NamedExec(`INSERT INTO runs (version, input_dir, output_dir, started_at)
		VALUES (:version, :input_dir, :output_dir, :started_at)`, info)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.runID = id
	return id, nil
}

// Record stores one event for the current run
func (s *Store) Record(ev Event) error {
	if s.runID == 0 {
		return fmt.Errorf("telemetry run not started")
	}
	ev.RunID = s.runID
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExec(`INSERT INTO events
		(run_id, input_file, output_dir, status, slices, message, duration_ms, recorded_at)
		VALUES (:run_id, :input_file, :output_dir, :status, :slices, :message, :duration_ms, :recorded_at)`, ev)
	if err != nil {
		return fmt.Errorf("failed to record event for %s: %w", ev.InputFile, err)
	}
	return nil
}

// Events returns the events of a run in insertion order
func (s *Store) Events(runID int64) ([]Event, error) {
	var events []Event
	err := s.db.Select(&events, `SELECT id, run_id, input_file, output_dir, status, slices, message, duration_ms, recorded_at
		FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
