// Package history persists finished pipeline runs in a local SQLite
// database so past questions, their statements and their outcomes can be
// listed later.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/querymend/querymend/core/logger"
	"github.com/querymend/querymend/core/pipeline"
)

// Record is one archived run.
type Record struct {
	ID              string        `json:"id"`
	Session         string        `json:"session,omitempty"`
	Question        string        `json:"question"`
	SourceID        string        `json:"source_id"`
	Status          string        `json:"status"`
	Statement       string        `json:"statement,omitempty"`
	Attempts        int           `json:"attempts"`
	RowCount        int           `json:"row_count"`
	Elapsed         time.Duration `json:"elapsed"`
	FailureCategory string        `json:"failure_category,omitempty"`
	FailureMessage  string        `json:"failure_message,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// FromRun maps a finished run onto a Record. Session groups the runs of one
// request batch and may be empty.
func FromRun(session string, req pipeline.Request, res *pipeline.RunResult) Record {
	rec := Record{
		Session:   session,
		Question:  req.Question,
		SourceID:  req.SourceID,
		Status:    string(res.Status),
		Statement: res.SQL,
		Attempts:  res.Attempts,
		CreatedAt: time.Now().UTC(),
	}
	if res.Result != nil {
		rec.RowCount = res.Result.RowCount
		rec.Elapsed = res.Result.Elapsed
	}
	if res.Failure != nil {
		rec.FailureCategory = string(res.Failure.Category)
		rec.FailureMessage = res.Failure.Message
	}
	return rec
}

// Store is a SQLite-backed run journal.
type Store struct {
	db   *sql.DB
	path string
	log  *logger.Logger
}

// Open creates or opens the database at path and applies the schema. Parent
// directories are created as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite allows a single writer; one pooled connection keeps concurrent
	// saves queued instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, log: logger.New("history")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history db %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		session TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL,
		source_id TEXT NOT NULL,
		status TEXT NOT NULL,
		statement TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		row_count INTEGER NOT NULL DEFAULT 0,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		failure_category TEXT NOT NULL DEFAULT '',
		failure_message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs (created_at);`)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save inserts a record and returns its id. A missing id or timestamp is
// filled in.
func (s *Store) Save(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(id, session, question, source_id, status, statement, attempts,
		 row_count, elapsed_ms, failure_category, failure_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Session,
		rec.Question,
		rec.SourceID,
		rec.Status,
		rec.Statement,
		rec.Attempts,
		rec.RowCount,
		rec.Elapsed.Milliseconds(),
		rec.FailureCategory,
		rec.FailureMessage,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	return rec.ID, nil
}

// Recent returns records newest first. A positive limit bounds the result;
// a non-empty search filters on question and statement text.
func (s *Store) Recent(ctx context.Context, limit int, search string) ([]Record, error) {
	var q strings.Builder
	q.WriteString(`SELECT id, session, question, source_id, status, statement,
		attempts, row_count, elapsed_ms, failure_category, failure_message,
		created_at FROM runs`)
	var args []any
	if search != "" {
		q.WriteString(" WHERE question LIKE ? OR statement LIKE ?")
		args = append(args, "%"+search+"%", "%"+search+"%")
	}
	q.WriteString(" ORDER BY datetime(created_at) DESC, rowid DESC")
	if limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var elapsedMS int64
		var created string
		if err := rows.Scan(&rec.ID, &rec.Session, &rec.Question, &rec.SourceID,
			&rec.Status, &rec.Statement, &rec.Attempts, &rec.RowCount,
			&elapsedMS, &rec.FailureCategory, &rec.FailureMessage, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Clear deletes all archived runs.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs")
	return err
}
