// Package sqlite implements store.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo). The same database holds the FTS5 search
// index, so a single file carries a complete deployment.
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Memory opens a private in-memory database.
const Memory = ":memory:"

// BusyTimeout is how long a connection waits on a locked database, in ms.
const BusyTimeout = 10_000

// Open opens the database at path with foreign keys, WAL and a busy timeout
// set on every pooled connection. Transactions begin IMMEDIATE so concurrent
// writers queue on the busy timeout instead of failing on lock upgrade.
//
// An in-memory database is limited to one connection, since each
// connection to ":memory:" is a separate database.
func Open(path string) (*sql.DB, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == Memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", BusyTimeout))
	q.Add("_txlock", "immediate")
	if path != Memory {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	return "file:" + path + "?" + q.Encode()
}
