package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB handles database operations
type DB struct {
	Db *sql.DB
}

// FileName is the database file created inside the data directory.
const FileName = "ttrace.db"

func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := initPacketSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize packet schema: %w", err)
	}

	if err := initHeapSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize heap schema: %w", err)
	}

	if err := initSigmaSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sigma schema: %w", err)
	}

	return &DB{Db: db}, nil
}

func initPacketSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trace_packets (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session     TEXT NOT NULL,
		timestamp   DATETIME NOT NULL,
		ts_sec      INTEGER NOT NULL,
		ts_usec     INTEGER NOT NULL,
		pid         INTEGER NOT NULL,
		event_type  TEXT NOT NULL,
		kind        TEXT NOT NULL,
		message     TEXT,
		code        INTEGER,
		prev_pid    INTEGER,
		prev_prio   INTEGER,
		prev_state  INTEGER,
		prev_comm   TEXT,
		next_pid    INTEGER,
		next_prio   INTEGER,
		next_comm   TEXT,
		frame       BLOB NOT NULL  -- consumed-length image as read from the stream
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create trace_packets table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_packets_pid ON trace_packets(pid);",
		"CREATE INDEX IF NOT EXISTS idx_packets_session ON trace_packets(session);",
		"CREATE INDEX IF NOT EXISTS idx_packets_event_type ON trace_packets(event_type);",
		"CREATE INDEX IF NOT EXISTS idx_packets_timestamp ON trace_packets(timestamp);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func initHeapSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_heap (
		pid        INTEGER PRIMARY KEY,
		peak_heap  INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create task_heap table: %w", err)
	}
	return nil
}

func initSigmaSchema(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS detector_state (
        id INTEGER PRIMARY KEY,
        event_type TEXT NOT NULL,
        last_id INTEGER NOT NULL,
        last_processed_time DATETIME NOT NULL,
        rule_count INTEGER DEFAULT 0,
        match_count INTEGER DEFAULT 0,
        updated_at DATETIME NOT NULL,
        UNIQUE(event_type)
    );

    CREATE TABLE IF NOT EXISTS sigma_matches (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        event_id INTEGER NOT NULL,
        event_type TEXT NOT NULL,
        rule_id TEXT NOT NULL,
        rule_name TEXT NOT NULL,
        process_id INTEGER,
        process_name TEXT,
        message TEXT,
        timestamp DATETIME NOT NULL,
        severity TEXT NOT NULL,
        status TEXT DEFAULT 'new' NOT NULL,
        match_details TEXT,
        event_data TEXT,
        created_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_sigma_matches_rule_id ON sigma_matches(rule_id);
    CREATE INDEX IF NOT EXISTS idx_sigma_matches_timestamp ON sigma_matches(timestamp);
    CREATE INDEX IF NOT EXISTS idx_sigma_matches_status ON sigma_matches(status);
    CREATE INDEX IF NOT EXISTS idx_sigma_matches_event_id ON sigma_matches(event_id);`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create Sigma tables: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.Db.Close()
}
