package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no record exists for a key.
var ErrNotFound = errors.New("storage: record not found")

// Backend is a namespaced key-value store for JSON records.
// Namespaces isolate one group's records from every other group's.
type Backend interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	// Put overwrites the record. A concurrent Get observes either the old or
	// the new value, never a partial write.
	Put(ctx context.Context, namespace, key string, data []byte) error
	Close() error
}
