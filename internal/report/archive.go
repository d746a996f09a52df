package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vk/signalcheck/internal/check"
)

// Archive persists reports to a SQLite file, retaining at most a bounded
// number of rows per case. Retention is count-based: the oldest rows for a
// case are pruned as new ones arrive.
type Archive struct {
	db *sql.DB
	// retainFor maps a case name to its history limit.
	retainFor func(caseName string) int

	mu sync.Mutex
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS reports (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	case_name  TEXT NOT NULL,
	test_id    TEXT,
	passed     INTEGER NOT NULL,
	skipped    INTEGER NOT NULL,
	runtime_ms INTEGER NOT NULL,
	error      TEXT,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_case_idx ON reports(case_name, id);
`

// OpenArchive opens (creating if needed) the archive at path. retainFor
// returns the per-case history limit; nil retains the default limit for
// every case.
func OpenArchive(path string, retainFor func(caseName string) int) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open report archive %q: %w", path, err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init report archive %q: %w", path, err)
	}
	if retainFor == nil {
		retainFor = func(string) int { return check.DefaultMaxHistory }
	}
	return &Archive{db: db, retainFor: retainFor}, nil
}

// Emit implements Emitter.
func (a *Archive) Emit(ctx context.Context, rep *check.TestReport) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report for case %q: %w", rep.CaseName, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO reports (case_name, test_id, passed, skipped, runtime_ms, error, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.CaseName, rep.Key(), boolInt(rep.Passed), boolInt(rep.Skipped),
		rep.Runtime.Milliseconds(), rep.Error, string(payload),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("archive report for case %q: %w", rep.CaseName, err)
	}

	retain := a.retainFor(rep.CaseName)
	if retain <= 0 {
		retain = check.DefaultMaxHistory
	}
	_, err = a.db.ExecContext(ctx,
		`DELETE FROM reports WHERE case_name = ? AND id NOT IN (
			SELECT id FROM reports WHERE case_name = ? ORDER BY id DESC LIMIT ?)`,
		rep.CaseName, rep.CaseName, retain)
	if err != nil {
		return fmt.Errorf("prune report archive for case %q: %w", rep.CaseName, err)
	}
	return nil
}

// Count returns the number of archived reports for a case.
func (a *Archive) Count(ctx context.Context, caseName string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports WHERE case_name = ?`, caseName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count archived reports for case %q: %w", caseName, err)
	}
	return n, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error { return a.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
