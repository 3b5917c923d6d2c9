package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	serverDBName = "eventreservoir.db"
	kioskDBName  = "eventreservoir_offline.db"
)

type Config struct {
	Workspace string
	Name      string
}

func dbPath(workspace, name string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".eventreservoir", name)
}

// EnsureWorkspace creates the workspace data directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".eventreservoir")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens a SQLite database with foreign keys, WAL journaling, and a busy
// timeout so readers don't fail while a sync cycle is writing.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = serverDBName
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		dbPath(cfg.Workspace, cfg.Name))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// OpenServer opens the authoritative server database for the workspace.
func OpenServer(workspace string) (*sql.DB, error) {
	return Open(Config{Workspace: workspace, Name: serverDBName})
}

// OpenKiosk opens the kiosk's local mirror database for the workspace.
func OpenKiosk(workspace string) (*sql.DB, error) {
	return Open(Config{Workspace: workspace, Name: kioskDBName})
}

// ServerPath returns the server db path for the workspace.
func ServerPath(workspace string) string {
	return dbPath(workspace, serverDBName)
}

// KioskPath returns the kiosk db path for the workspace.
func KioskPath(workspace string) string {
	return dbPath(workspace, kioskDBName)
}
