// Package registry persists fetch results and processed-work markers in an
// embedded SQLite database.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_to_location (
	id_val      INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset_id  TEXT NOT NULL,
	variable_id TEXT NOT NULL,
	date_str    TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	UNIQUE (dataset_id, variable_id, date_str)
);
CREATE INDEX IF NOT EXISTS idx_file_to_location_path ON file_to_location (file_path);
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Registry is a SQLite-backed store.KV and store.FileIndex.
type Registry struct {
	db   *sql.DB
	path string
}

var (
	_ store.KV        = (*Registry)(nil)
	_ store.FileIndex = (*Registry)(nil)
)

// Open opens or creates the registry database at path.
func Open(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create registry directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open registry %s: %w", path, err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	return &Registry{db: db, path: path}, nil
}

// Path returns the database file path.
func (r *Registry) Path() string {
	return r.path
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Get implements store.KV.
func (r *Registry) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, true, nil
}

// Put implements store.KV.
func (r *Registry) Put(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent implements store.KV.
func (r *Registry) PutIfAbsent(ctx context.Context, key, value string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", key, err)
	}
	return n == 1, nil
}

// LookupFile implements store.FileIndex.
func (r *Registry) LookupFile(ctx context.Context, datasetID, variableID, dateStr string) (string, bool, error) {
	var p string
	err := r.db.QueryRowContext(ctx,
		`SELECT file_path FROM file_to_location WHERE dataset_id = ? AND variable_id = ? AND date_str = ?`,
		datasetID, variableID, dateStr).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up %s/%s/%s: %w", datasetID, variableID, dateStr, err)
	}
	return p, true, nil
}

// RecordFile implements store.FileIndex.
func (r *Registry) RecordFile(ctx context.Context, rec store.FileRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO file_to_location (dataset_id, variable_id, date_str, file_path) VALUES (?, ?, ?, ?)`,
		rec.DatasetID, rec.VariableID, rec.DateStr, rec.FilePath)
	if err != nil {
		return false, fmt.Errorf("failed to record %s: %w", rec.FilePath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record %s: %w", rec.FilePath, err)
	}
	return n == 1, nil
}

// Files implements store.FileIndex.
func (r *Registry) Files(ctx context.Context, datasetID string) ([]store.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT dataset_id, variable_id, date_str, file_path FROM file_to_location WHERE dataset_id = ? ORDER BY date_str, variable_id`,
		datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files for %s: %w", datasetID, err)
	}
	defer rows.Close()

	var out []store.FileRecord
	for rows.Next() {
		var rec store.FileRecord
		if err := rows.Scan(&rec.DatasetID, &rec.VariableID, &rec.DateStr, &rec.FilePath); err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
