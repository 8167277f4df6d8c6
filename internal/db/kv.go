package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	kvGetQuery    = "SELECT value FROM kv WHERE key = ?"
	kvDeleteQuery = "DELETE FROM kv WHERE key = ?"
	kvKeysQuery   = "SELECT key FROM kv ORDER BY key"
	kvSizeQuery   = "SELECT COALESCE(SUM(length(key) + length(value)), 0) FROM kv WHERE key <> ?"
	kvSetQuery    = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
)

// KV is the key/value table that holds one JSON blob per key.
type KV struct {
	db *sql.DB

	// Prepared on first use and reused for the life of the KV.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewKV creates a KV over an opened database.
func NewKV(db *DB) *KV {
	return &KV{db: db.DB}
}

// prepare gets or creates a cached prepared statement for query.
func (kv *KV) prepare(query string) (*sql.Stmt, error) {
	if stmt, ok := kv.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := kv.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := kv.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements. The database itself stays open.
func (kv *KV) Close() error {
	var firstErr error
	kv.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		kv.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// Get returns the raw value stored under key. The boolean is false when the
// key is absent.
func (kv *KV) Get(key string) (string, bool, error) {
	stmt, err := kv.prepare(kvGetQuery)
	if err != nil {
		return "", false, err
	}

	var value string
	err = stmt.QueryRow(key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any prior value.
func (kv *KV) Set(key, value string) error {
	stmt, err := kv.prepare(kvSetQuery)
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (kv *KV) Delete(key string) error {
	stmt, err := kv.prepare(kvDeleteQuery)
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys in lexical order.
func (kv *KV) Keys() ([]string, error) {
	stmt, err := kv.prepare(kvKeysQuery)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// TotalSize returns the number of characters held by all keys and values,
// not counting the entry for exclude (the key about to be overwritten).
func (kv *KV) TotalSize(exclude string) (int64, error) {
	stmt, err := kv.prepare(kvSizeQuery)
	if err != nil {
		return 0, err
	}

	var size int64
	if err := stmt.QueryRow(exclude).Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to compute store size: %w", err)
	}
	return size, nil
}
