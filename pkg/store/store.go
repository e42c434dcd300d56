// Package store persists small key-value settings that must survive restarts.
package store

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by Get when the key has never been set.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("invalid key")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("database error")
)

// KV is a string key-value slot store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
