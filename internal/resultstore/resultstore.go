// Package resultstore persists batch-test sessions and per-task outcomes in
// a SQLite database shared with the results dashboard.
package resultstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrSessionNotFound is returned when resuming a session id that was
	// never created.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateResult is returned when a (task, session) pair already has
	// a recorded outcome. The driver checks HasResult before every run, so
	// hitting this means two drivers shared one session id.
	ErrDuplicateResult = errors.New("result already recorded")
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY,
    version TEXT NOT NULL,
    start_time TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tests (
    task_name TEXT NOT NULL,
    session_id INTEGER NOT NULL,
    start_time TIMESTAMP NOT NULL,
    duration DOUBLE NOT NULL,
    killed INTEGER NOT NULL CHECK ( killed = 0 OR killed = 1 ),
    stdout TEXT NOT NULL,
    stderr TEXT NOT NULL,
    return_code INTEGER NOT NULL,
    PRIMARY KEY (task_name, session_id),
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);
`

// Session is one batch-test invocation against a given judge version.
type Session struct {
	ID        int64     `db:"id"`
	Version   string    `db:"version"`
	StartTime time.Time `db:"start_time"`
}

// TestResult is the at-most-once record of one task's execution within a
// session. A killed run carries return code -1 and empty output.
type TestResult struct {
	TaskName   string    `db:"task_name"`
	SessionID  int64     `db:"session_id"`
	StartTime  time.Time `db:"start_time"`
	Duration   float64   `db:"duration"` // seconds
	Killed     bool      `db:"killed"`
	Stdout     string    `db:"stdout"`
	Stderr     string    `db:"stderr"`
	ReturnCode int       `db:"return_code"`
}

// KilledReturnCode is the sentinel recorded for timed-out runs.
const KilledReturnCode = -1

type Store struct {
	db *sqlx.DB
}

// Open creates or opens the database at path and idempotently applies the
// schema. Writes are committed synchronously so that a crash loses at most
// the in-flight result.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open result store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure result store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply result store schema to %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BeginSession inserts a new session row and returns its generated id.
func (s *Store) BeginSession(version string, now time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sessions (version, start_time) VALUES (?, ?)`,
		version, now)
	if err != nil {
		return 0, fmt.Errorf("begin session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("begin session: %w", err)
	}
	return id, nil
}

// ResumeSession verifies that the session exists and returns it.
func (s *Store) ResumeSession(id int64) (Session, error) {
	var sess Session
	err := s.db.Get(&sess, `SELECT id, version, start_time FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("resume session %d: %w", id, err)
	}
	return sess, nil
}

// HasResult reports whether the task already has a recorded outcome within
// the session, regardless of whether that outcome was a kill or a normal
// exit.
func (s *Store) HasResult(sessionID int64, taskName string) (bool, error) {
	var n int
	err := s.db.Get(&n,
		`SELECT COUNT(*) FROM tests WHERE task_name = ? AND session_id = ?`,
		taskName, sessionID)
	if err != nil {
		return false, fmt.Errorf("check result for %s: %w", taskName, err)
	}
	return n > 0, nil
}

// RecordResult inserts the outcome as one committed transaction.
func (s *Store) RecordResult(r TestResult) error {
	_, err := s.db.NamedExec(
		`INSERT INTO tests
		 (task_name, session_id, start_time, duration, killed, stdout, stderr, return_code)
		 VALUES (:task_name, :session_id, :start_time, :duration, :killed, :stdout, :stderr, :return_code)`,
		r)
	if err != nil {
		// Only a PK/UNIQUE violation means "already recorded"; other
		// constraint failures (e.g. a foreign key to a bogus session) are
		// ordinary storage errors.
		var serr sqlite3.Error
		if errors.As(err, &serr) &&
			(serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
				serr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("task %s in session %d: %w", r.TaskName, r.SessionID, ErrDuplicateResult)
		}
		return fmt.Errorf("record result for %s: %w", r.TaskName, err)
	}
	return nil
}

// Results returns every outcome of a session ordered by task name. The
// dashboard is the main consumer; the driver uses it for its end-of-batch
// summary in tests.
func (s *Store) Results(sessionID int64) ([]TestResult, error) {
	var rows []TestResult
	err := s.db.Select(&rows,
		`SELECT task_name, session_id, start_time, duration, killed, stdout, stderr, return_code
		 FROM tests WHERE session_id = ? ORDER BY task_name`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list results for session %d: %w", sessionID, err)
	}
	return rows, nil
}
