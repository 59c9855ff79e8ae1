// Package store keeps the per-file processing ledger in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// ErrNotFound is returned by Get for files with no record.
var ErrNotFound = errors.New("record not found")

// Record is one file's outcome.
type Record struct {
	File      string          `json:"file"`
	Output    string          `json:"output,omitempty"`
	Status    string          `json:"status"`
	FinalBPM  float64         `json:"final_bpm"`
	BeatInfo  json.RawMessage `json:"beat_info,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is a SQLite-backed record ledger.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at dataSourceName.
func Open(dataSourceName string) (*Store, error) {
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	// workers write concurrently
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	createRecordsTable := `
    CREATE TABLE IF NOT EXISTS records (
        file TEXT PRIMARY KEY,
        output TEXT,
        status TEXT NOT NULL,
        final_bpm REAL NOT NULL DEFAULT 0,
        beat_info TEXT,
        error TEXT,
        updated_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
    `

	if _, err := db.Exec(createRecordsTable); err != nil {
		return fmt.Errorf("error creating records table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put inserts or replaces the record for r.File.
func (s *Store) Put(r Record) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}

	var info any
	if len(r.BeatInfo) > 0 {
		info = string(r.BeatInfo)
	}

	_, err := s.db.Exec(`
    INSERT INTO records (file, output, status, final_bpm, beat_info, error, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(file) DO UPDATE SET
        output = excluded.output,
        status = excluded.status,
        final_bpm = excluded.final_bpm,
        beat_info = excluded.beat_info,
        error = excluded.error,
        updated_at = excluded.updated_at
    `, r.File, r.Output, r.Status, r.FinalBPM, info, r.Error, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error saving record %s: %w", r.File, err)
	}
	return nil
}

// Get returns the record for file or ErrNotFound.
func (s *Store) Get(file string) (Record, error) {
	row := s.db.QueryRow(`
    SELECT file, output, status, final_bpm, beat_info, error, updated_at
    FROM records WHERE file = ?
    `, file)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s: %w", file, ErrNotFound)
	}
	return r, err
}

// List returns all records ordered by file, optionally only those with status.
func (s *Store) List(status string) ([]Record, error) {
	query := `SELECT file, output, status, final_bpm, beat_info, error, updated_at FROM records`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY file`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r              Record
		output, errMsg sql.NullString
		info           sql.NullString
	)
	if err := sc.Scan(&r.File, &output, &r.Status, &r.FinalBPM, &info, &errMsg, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("error scanning record: %w", err)
	}
	r.Output = output.String
	r.Error = errMsg.String
	if info.Valid && info.String != "" {
		r.BeatInfo = json.RawMessage(info.String)
	}
	return r, nil
}
