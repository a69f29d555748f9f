package eventlog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS events (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	at   TEXT NOT NULL,
	line TEXT NOT NULL
)`

// SQLiteSink stores events in an append-only SQLite table.
type SQLiteSink struct {
	db   *sql.DB
	now  func() time.Time
	fail failureReporter
}

func OpenSQLite(path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event database: %w", err)
	}
	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init event database: %w", err)
		}
	}

	return &SQLiteSink{
		db:   db,
		now:  time.Now,
		fail: failureReporter{logger: logger, sink: path},
	}, nil
}

func (s *SQLiteSink) Log(line string) {
	if _, err := s.db.Exec("INSERT INTO events (at, line) VALUES (?, ?)", stamp(s.now()), line); err != nil {
		s.fail.report(err)
	}
}

// Lines returns every stored line in insertion order.
func (s *SQLiteSink) Lines() ([]string, error) {
	rows, err := s.db.Query("SELECT line FROM events ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
