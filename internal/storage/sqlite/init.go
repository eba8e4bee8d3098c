package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "transfers.db"

// InitDB opens the SQLite database at path and creates the files table if it
// doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps writers from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY,
		account TEXT NOT NULL,
		path TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		etag TEXT,
		transfer_id TEXT,
		downloaded_at TEXT NOT NULL,
		UNIQUE(account, path)
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create files table: %w", err)
	}

	return db, nil
}
