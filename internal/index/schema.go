// Package index keeps a SQLite snapshot of the asset graph: asset and
// relation rows, incoming-reference lookups and optional FTS5 text search.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS assets (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	file_name    TEXT NOT NULL DEFAULT '',
	is_inline    INTEGER NOT NULL DEFAULT 0,
	is_loaded    INTEGER NOT NULL DEFAULT 0,
	is_populated INTEGER NOT NULL DEFAULT 0,
	title        TEXT NOT NULL DEFAULT '',
	checksum     TEXT NOT NULL DEFAULT '',
	attrs        TEXT NOT NULL DEFAULT '{}',
	body         TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_assets_url ON assets(url);
CREATE INDEX IF NOT EXISTS idx_assets_type ON assets(type);

CREATE TABLE IF NOT EXISTS relations (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	from_id     TEXT NOT NULL,
	from_url    TEXT NOT NULL DEFAULT '',
	to_id       TEXT NOT NULL DEFAULT '',
	to_url      TEXT NOT NULL DEFAULT '',
	href        TEXT NOT NULL DEFAULT '',
	href_type   TEXT NOT NULL DEFAULT '',
	fragment    TEXT NOT NULL DEFAULT '',
	canonical   INTEGER NOT NULL DEFAULT 0,
	crossorigin INTEGER NOT NULL DEFAULT 0,
	position    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id);
CREATE INDEX IF NOT EXISTS idx_relations_to_url ON relations(to_url);
CREATE INDEX IF NOT EXISTS idx_relations_to_id ON relations(to_id);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping checks the database connection.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
