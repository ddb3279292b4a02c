// Package db opens the provisioner's sqlite state store. Everything
// durable (tracked tasks, the audit log) lives in one file under the
// state directory.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Config locates the store on disk.
type Config struct {
	StateDir string
}

// Open creates the .facet directory under the state dir if needed and
// opens the database with foreign keys enabled.
func Open(cfg Config) (*sql.DB, error) {
	base := cfg.StateDir
	if base == "" {
		base = "."
	}
	stateDir := filepath.Join(base, ".facet")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", filepath.Join(stateDir, "facet.db"))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	return conn, nil
}
