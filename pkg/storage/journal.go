package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dougsko/radiopanel/pkg/logging"
	"github.com/dougsko/radiopanel/pkg/protocol"
	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath keeps the journal in RAM for the life of the process.
const MemoryPath = ":memory:"

// Journal is a bounded sqlite log of every message handed to the transmitter.
type Journal struct {
	db        *sql.DB
	dbPath    string
	maxEvents int
}

// NewJournal opens (or creates) the journal database. A maxEvents of zero
// or less keeps every event.
func NewJournal(dbPath string, maxEvents int) (*Journal, error) {
	if dbPath == "" {
		dbPath = MemoryPath
	}
	j := &Journal{
		dbPath:    dbPath,
		maxEvents: maxEvents,
	}

	if err := j.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}
	return j, nil
}

func (j *Journal) initialize() error {
	var connectionString string
	if j.dbPath == MemoryPath {
		connectionString = MemoryPath
	} else {
		if err := os.MkdirAll(filepath.Dir(j.dbPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		connectionString = j.dbPath + "?_busy_timeout=10000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	j.db = db

	if err := j.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	logging.Infof("storage", "Journal initialized: %s (max %d events)", j.dbPath, j.maxEvents)
	return nil
}

func (j *Journal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		kind TEXT NOT NULL,
		value INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		delivered BOOLEAN NOT NULL DEFAULT TRUE,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends an event and trims the oldest rows beyond the limit. The
// stored event, with its ID, is returned.
func (j *Journal) Record(event protocol.Event) (protocol.Event, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	tx, err := j.db.Begin()
	if err != nil {
		return event, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO events (timestamp, kind, value, payload, delivered, error) VALUES (?, ?, ?, ?, ?, ?)`,
		event.Timestamp.UTC(), event.Kind, event.Value, event.Payload, event.Delivered, event.Error,
	)
	if err != nil {
		return event, fmt.Errorf("failed to insert event: %w", err)
	}

	event.ID, err = result.LastInsertId()
	if err != nil {
		return event, fmt.Errorf("failed to get event ID: %w", err)
	}

	if err := j.prune(tx); err != nil {
		logging.Warnf("storage", "failed to prune journal: %v", err)
	}

	return event, tx.Commit()
}

// Recent returns up to limit events, newest first. A limit of zero or less
// returns everything.
func (j *Journal) Recent(limit int) ([]protocol.Event, error) {
	query := `SELECT id, timestamp, kind, value, payload, delivered, error FROM events ORDER BY id DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]protocol.Event, 0)
	for rows.Next() {
		var e protocol.Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.Value, &e.Payload, &e.Delivered, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (j *Journal) Count() (int, error) {
	var count int
	if err := j.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Prune removes events beyond the configured maximum.
func (j *Journal) Prune() error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := j.prune(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (j *Journal) prune(tx *sql.Tx) error {
	if j.maxEvents <= 0 {
		return nil
	}

	_, err := tx.Exec(`
		DELETE FROM events
		WHERE id IN (
			SELECT id FROM events
			ORDER BY id DESC
			LIMIT -1 OFFSET ?
		)
	`, j.maxEvents)
	return err
}

// Path returns the database location.
func (j *Journal) Path() string {
	return j.dbPath
}

// Close closes the database connection
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
