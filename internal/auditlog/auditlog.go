// Package auditlog persists operator-visible events (admin command
// invocations, credential blocks, stamina level transitions) to a local
// SQLite database, queryable by the observability surface. Conversation
// history itself stays in-memory only (see internal/assembler); this is a
// narrower, append-only operational trail, not a memory store.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one row of the audit trail.
type Entry struct {
	ID         int64
	EventType  string
	Detail     string
	RecordedAt time.Time
}

// Log wraps a single-connection SQLite database holding the audit_log
// table.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (if needed) and opens the SQLite file at dbPath, migrating
// the audit_log schema.
func Open(dbPath string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("auditlog: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("auditlog: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Log{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: migration failed: %w", err)
	}
	return l, nil
}

func (l *Log) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS audit_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type  TEXT NOT NULL,
		detail      TEXT,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_log(event_type);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record appends one event to the audit trail.
func (l *Log) Record(ctx context.Context, eventType, detail string) {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log (event_type, detail, recorded_at) VALUES (?, ?, ?)`,
		eventType, detail, time.Now())
	if err != nil {
		l.logger.Error("auditlog: record failed", "event_type", eventType, "error", err)
	}
}

// Recent returns the most recent limit entries, newest first. eventType
// filters to that type alone; empty string matches all.
func (l *Log) Recent(ctx context.Context, eventType string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, event_type, detail, recorded_at FROM audit_log`
	args := []any{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY recorded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.EventType, &e.Detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("auditlog: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }
