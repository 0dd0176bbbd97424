// Package db owns the SQLite connection for deviation.report: opening with
// the right pragmas, schema migrations, and the admin/debug HTTP surface.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the evaluator database connection.
type DB struct {
	*sql.DB

	path string
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the connection pragmas the evaluator relies on: WAL journaling so readers
// never block the ingest writer, a busy timeout instead of immediate
// SQLITE_BUSY errors, and enforced foreign keys.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the filesystem path this database was opened with.
func (db *DB) Path() string {
	return db.path
}
