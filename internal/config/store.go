package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the local-cache tier of the Config Provider's
// document → cache → defaults resolution. It is also the durable home for
// a schedule's last_run_at across restarts, since the document write-back
// is asynchronous and best-effort.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the sqlite file at path inside
// dataDir and ensures its schema exists.
func OpenSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config store: create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "harvestd.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("config store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline avoids SQLITE_BUSY

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS intervals (
			key   TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("config store: create intervals table: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schedule_runs (
			pin         INTEGER NOT NULL,
			schedule_id TEXT NOT NULL,
			last_run_at TEXT NOT NULL,
			PRIMARY KEY (pin, schedule_id)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("config store: create schedule_runs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load returns every cached interval value.
func (s *SQLiteStore) Load() (map[Key]int, error) {
	rows, err := s.db.Query(`SELECT key, value FROM intervals`)
	if err != nil {
		return nil, fmt.Errorf("config store: load: %w", err)
	}
	defer rows.Close()

	out := make(map[Key]int)
	for rows.Next() {
		var key string
		var value int
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("config store: scan: %w", err)
		}
		out[Key(key)] = value
	}
	return out, rows.Err()
}

// Save persists a single interval value.
func (s *SQLiteStore) Save(key Key, value int) error {
	_, err := s.db.Exec(`
		INSERT INTO intervals (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, string(key), value)
	if err != nil {
		return fmt.Errorf("config store: save %s: %w", key, err)
	}
	return nil
}

// SaveScheduleRun persists a schedule's last-run timestamp so it survives a
// restart even if the async document push-back is lost.
func (s *SQLiteStore) SaveScheduleRun(pin int, scheduleID string, lastRunRFC3339 string) error {
	_, err := s.db.Exec(`
		INSERT INTO schedule_runs (pin, schedule_id, last_run_at) VALUES (?, ?, ?)
		ON CONFLICT(pin, schedule_id) DO UPDATE SET last_run_at = excluded.last_run_at`,
		pin, scheduleID, lastRunRFC3339)
	if err != nil {
		return fmt.Errorf("config store: save schedule run: %w", err)
	}
	return nil
}

// LoadScheduleRuns returns every persisted last-run timestamp, keyed by
// "pin/schedule_id", so the Document Watcher can seed the Schedule Cache on
// hot-init before the document's own last_run_at (if any) arrives.
func (s *SQLiteStore) LoadScheduleRuns() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT pin, schedule_id, last_run_at FROM schedule_runs`)
	if err != nil {
		return nil, fmt.Errorf("config store: load schedule runs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var pin int
		var scheduleID, lastRun string
		if err := rows.Scan(&pin, &scheduleID, &lastRun); err != nil {
			return nil, fmt.Errorf("config store: scan schedule run: %w", err)
		}
		out[fmt.Sprintf("%d/%s", pin, scheduleID)] = lastRun
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
