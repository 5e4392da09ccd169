// Package db opens the node's local SQLite database.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type Options struct {
	// Path is a file path or a "file:" URI.
	Path         string
	MaxOpenConns int
	// LogSQL logs every statement at debug level.
	LogSQL bool
}

func Open(opts Options, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := BuildDSN(opts.Path)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if opts.LogSQL {
		db = sql.OpenDB(NewTracingConnector(dsn, logger))
	} else {
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
	}

	// One writer avoids SQLITE_BUSY between the journal and the API.
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// BuildDSN appends the connection parameters every node database uses and
// creates the parent directory of file-backed databases.
func BuildDSN(path string) (string, error) {
	params := strings.Join([]string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}, "&")

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + params, nil
	}
	if path == ":memory:" {
		return "file::memory:?" + params, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, params), nil
}
