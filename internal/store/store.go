// Package store persists fridge detection history and operator preferences
// in a local SQLite database. History is append-only; snapshots are never
// edited, only added or deleted, so the newest row is always the current
// fridge state.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atakdnz/fridge-order-agent/internal/logging"
)

// HistoryEntry is one fridge snapshot.
type HistoryEntry struct {
	ID        int64          `json:"id"`
	Date      string         `json:"date"`
	Items     map[string]int `json:"items"`
	CreatedAt string         `json:"created_at"`
}

// Preferences is the single operator-preferences row.
type Preferences struct {
	CustomInstructions string  `json:"custom_instructions"`
	DefaultMode        string  `json:"default_mode"`
	PreferredProvider  string  `json:"preferred_provider"`
	DetectionThreshold float64 `json:"detection_threshold"`
}

// DefaultPreferences returns the row installed on first open.
func DefaultPreferences() Preferences {
	return Preferences{
		DefaultMode:        "smart",
		PreferredProvider:  "getir",
		DetectionThreshold: 0.5,
	}
}

// Store wraps the SQLite handle. Safe for concurrent use; writes serialize
// on the single connection.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc/sqlite serializes on a connection; one is enough and avoids
	// SQLITE_BUSY between the server goroutines.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("database ready at %s", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS fridge_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL,
	detected_items TEXT NOT NULL,
	created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS preferences (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	custom_instructions TEXT DEFAULT '',
	default_mode TEXT DEFAULT 'smart',
	preferred_provider TEXT DEFAULT 'getir',
	detection_threshold REAL DEFAULT 0.5
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	def := DefaultPreferences()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO preferences (id, custom_instructions, default_mode, preferred_provider, detection_threshold)
		 VALUES (1, '', ?, ?, ?)`,
		def.DefaultMode, def.PreferredProvider, def.DetectionThreshold)
	if err != nil {
		return fmt.Errorf("seed preferences: %w", err)
	}
	return nil
}

// AddHistory appends a snapshot for date (YYYY-MM-DD) and returns its id.
func (s *Store) AddHistory(date string, items map[string]int) (int64, error) {
	blob, err := json.Marshal(items)
	if err != nil {
		return 0, fmt.Errorf("encode items: %w", err)
	}
	res, err := s.db.Exec(
		"INSERT INTO fridge_history (date, detected_items) VALUES (?, ?)",
		date, string(blob))
	if err != nil {
		return 0, fmt.Errorf("insert history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logging.Store("saved detection to history (id=%d, date=%s)", id, date)
	return id, nil
}

// GetHistory returns up to limit snapshots, newest first. Rows sharing a
// date tie-break on insertion order so the first entry stays the current
// state.
func (s *Store) GetHistory(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.Query(
		"SELECT id, date, detected_items, created_at FROM fridge_history ORDER BY date DESC, id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var blob string
		if err := rows.Scan(&e.ID, &e.Date, &blob, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal([]byte(blob), &e.Items); err != nil {
			logging.StoreDebug("history row %d has bad items json: %v", e.ID, err)
			e.Items = map[string]int{}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteHistory removes one snapshot, reporting whether it existed.
func (s *Store) DeleteHistory(id int64) (bool, error) {
	res, err := s.db.Exec("DELETE FROM fridge_history WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete history %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearHistory removes all snapshots and returns the count removed.
func (s *Store) ClearHistory() (int64, error) {
	res, err := s.db.Exec("DELETE FROM fridge_history")
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	logging.Store("cleared %d history records", n)
	return n, nil
}

// HistoryContext renders the newest limit snapshots as the text block fed to
// the selection prompt:
//
//	- Dec 18: eggs x6, milk x2
//	- Dec 15: eggs x3, milk x1
//
// The first line is the current fridge state. Items are sorted by name so
// the block is stable across runs.
func (s *Store) HistoryContext(limit int) string {
	if limit <= 0 {
		limit = 10
	}
	entries, err := s.GetHistory(limit)
	if err != nil {
		logging.Store("history context unavailable: %v", err)
		return ""
	}
	if len(entries) == 0 {
		return "No previous fridge history available."
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(formatDate(e.Date))
		b.WriteString(": ")

		names := make([]string, 0, len(e.Items))
		for name := range e.Items {
			names = append(names, name)
		}
		sort.Strings(names)
		for j, name := range names {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s x%d", name, e.Items[name])
		}
	}
	return b.String()
}

// formatDate renders YYYY-MM-DD as "Dec 18"; unparseable dates pass through.
func formatDate(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Jan 02")
}

// GetPreferences reads the single preferences row.
func (s *Store) GetPreferences() (Preferences, error) {
	var p Preferences
	err := s.db.QueryRow(
		"SELECT custom_instructions, default_mode, preferred_provider, detection_threshold FROM preferences WHERE id = 1").
		Scan(&p.CustomInstructions, &p.DefaultMode, &p.PreferredProvider, &p.DetectionThreshold)
	if err == sql.ErrNoRows {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return p, fmt.Errorf("read preferences: %w", err)
	}
	if p.DefaultMode == "" {
		p.DefaultMode = "smart"
	}
	return p, nil
}

// SetPreferences replaces the preferences row.
func (s *Store) SetPreferences(p Preferences) error {
	if p.DefaultMode != "smart" && p.DefaultMode != "simple" {
		return fmt.Errorf("invalid default_mode %q", p.DefaultMode)
	}
	_, err := s.db.Exec(
		`UPDATE preferences SET custom_instructions = ?, default_mode = ?, preferred_provider = ?, detection_threshold = ? WHERE id = 1`,
		p.CustomInstructions, p.DefaultMode, p.PreferredProvider, p.DetectionThreshold)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}
