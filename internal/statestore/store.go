// Package statestore persists small per-partition state (views, jukebox
// settings and queue) in SQLite. Its presence in the workdir also marks that
// the first startup is over.
package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS state (
	partition TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (partition, key)
)`

// Store provides SQLite-backed persistence for partition state.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the store at path and creates the schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get loads one value.
func (s *Store) Get(ctx context.Context, partition, key string) (string, bool, error) {
	var value string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value FROM state WHERE partition = ? AND key = ?`, partition, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s/%s: %w", partition, key, err)
	}
	return value, true, nil
}

// Put upserts one value.
func (s *Store) Put(ctx context.Context, partition, key, value string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO state (partition, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (partition, key) DO UPDATE SET value = excluded.value`,
		partition, key, value)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", partition, key, err)
	}
	return nil
}

// PutAll upserts values in one transaction.
func (s *Store) PutAll(ctx context.Context, partition string, values map[string]string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for k, v := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state (partition, key, value) VALUES (?, ?, ?)
			 ON CONFLICT (partition, key) DO UPDATE SET value = excluded.value`,
			partition, k, v); err != nil {
			return fmt.Errorf("put %s/%s: %w", partition, k, err)
		}
	}
	return tx.Commit()
}

// List returns all values of partition.
func (s *Store) List(ctx context.Context, partition string) (map[string]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT key, value FROM state WHERE partition = ?`, partition)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", partition, err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("list %s: %w", partition, err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// DeletePartition drops every value of partition.
func (s *Store) DeletePartition(ctx context.Context, partition string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM state WHERE partition = ?`, partition); err != nil {
		return fmt.Errorf("delete %s: %w", partition, err)
	}
	return nil
}
