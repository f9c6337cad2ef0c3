// Package store is the SQLite-backed cross-reference graph: per-file
// import edges and entity references, replaced atomically per file and
// queryable directly or transitively.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the data access layer for the cross-reference graph.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the graph tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  path            TEXT PRIMARY KEY,
  arch_id         TEXT NOT NULL DEFAULT '',
  checksum        TEXT NOT NULL DEFAULT '',
  mtime           TIMESTAMP,
  line_count      INTEGER NOT NULL DEFAULT 0,
  description     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS imports (
  from_file       TEXT NOT NULL,
  to_file         TEXT NOT NULL,
  UNIQUE(from_file, to_file) ON CONFLICT IGNORE
);

CREATE TABLE IF NOT EXISTS entity_refs (
  file_path       TEXT NOT NULL,
  entity_name     TEXT NOT NULL,
  ref_type        TEXT NOT NULL DEFAULT '',
  line_number     INTEGER NOT NULL DEFAULT 0,
  UNIQUE(file_path, entity_name, ref_type, line_number) ON CONFLICT IGNORE
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_arch ON files(arch_id);
CREATE INDEX IF NOT EXISTS idx_imports_from ON imports(from_file);
CREATE INDEX IF NOT EXISTS idx_imports_to ON imports(to_file);
CREATE INDEX IF NOT EXISTS idx_entity_refs_file ON entity_refs(file_path);
CREATE INDEX IF NOT EXISTS idx_entity_refs_name ON entity_refs(entity_name);
`

// SetMetadata upserts a metadata key/value pair.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

// GetMetadata returns the value for key, or "" when absent.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata: %w", err)
	}
	return value, nil
}
