package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var _ KV = (*SQLite)(nil)

// SQLite stores settings in a single SQLite table.
type SQLite struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLite opens (or creates) the database at dbPath and applies the schema.
func NewSQLite(dbPath string) (*SQLite, error) {
	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseError, err)
	}

	ctx := context.Background()

	// WAL keeps readers from blocking on the occasional write
	if _, err := database.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", ErrDatabaseError, err)
	}

	if _, err := database.ExecContext(ctx, Schema); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %w", ErrDatabaseError, err)
	}

	return &SQLite{db: database}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key.
func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return value, nil
}

// Set inserts or replaces the value stored under key.
func (s *SQLite) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}
