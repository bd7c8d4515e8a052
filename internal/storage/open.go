package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// OpenOptions controls how Open prepares the database handle.
type OpenOptions struct {
	JournalMode   string
	BusyTimeoutMS int
}

// Open creates the database directory if needed, opens the SQLite file with
// foreign keys and a busy timeout, verifies the connection and applies all
// pending migrations. The returned handle is shared by every connection the
// server accepts; closing it is the caller's responsibility.
func Open(ctx context.Context, path string, opts OpenOptions) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	busy := opts.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d&_txlock=immediate", path, busy)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	runner := NewMigrationRunner(db).WithJournalMode(opts.JournalMode)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}
