// Package runlog records the results of E-step evaluations in a SQLite
// database, so that runs over the same data can be compared later.
package runlog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Entry is the record of one E-step evaluation.
type Entry struct {
	RunID  string
	Time   time.Time
	Source string

	// Model dimensions
	NState int
	NBlock int
	NSig   int

	// Results at the evaluated parameters
	Loglik   float64
	Q        float64
	GradNorm float64
}

// Log is a handle to a run log database.  Every Entry recorded through
// the same Log shares its RunID.
type Log struct {
	RunID string
	db    *sql.DB
}

// Open opens or creates the run log database at path and starts a new run.
func Open(path string) (*Log, error) {

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS estep (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run TEXT NOT NULL,
		ts REAL NOT NULL,
		source TEXT NOT NULL,
		nstate INTEGER NOT NULL,
		nblock INTEGER NOT NULL,
		nsig INTEGER NOT NULL,
		loglik REAL NOT NULL,
		q REAL NOT NULL,
		gradnorm REAL NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create estep table: %w", err)
	}

	return &Log{RunID: uuid.NewString(), db: db}, nil
}

// Record stores e under the current run.  A zero Time is replaced by the
// current time.
func (l *Log) Record(e Entry) error {

	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	_, err := l.db.Exec(`INSERT INTO estep(run, ts, source, nstate, nblock, nsig, loglik, q, gradnorm)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		l.RunID, float64(e.Time.UnixMilli())/1000.0, e.Source, e.NState, e.NBlock, e.NSig,
		e.Loglik, e.Q, e.GradNorm)
	if err != nil {
		return fmt.Errorf("insert estep: %w", err)
	}

	return nil
}

// Entries returns the entries of the given run in the order recorded.
func (l *Log) Entries(runID string) ([]Entry, error) {

	rows, err := l.db.Query(`SELECT run, ts, source, nstate, nblock, nsig, loglik, q, gradnorm
		FROM estep WHERE run = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("select estep: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts float64
		if err := rows.Scan(&e.RunID, &ts, &e.Source, &e.NState, &e.NBlock, &e.NSig,
			&e.Loglik, &e.Q, &e.GradNorm); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.Time = time.UnixMilli(int64(ts*1000 + 0.5))
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}
