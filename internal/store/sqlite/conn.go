package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database instead of a file.
const MemoryPath = ":memory:"

const busyTimeout = "_pragma=busy_timeout(5000)"

// Open opens (or creates) the diary database at path. File databases use WAL
// journaling; MemoryPath yields a single-connection in-memory database.
func Open(path string) (*sql.DB, error) {
	var dsn string
	if path == MemoryPath {
		dsn = "file::memory:?" + busyTimeout
	} else {
		// the driver cannot create missing parent directories
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory for %s: %w", path, err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&%s", path, busyTimeout)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == MemoryPath {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	return db, nil
}
