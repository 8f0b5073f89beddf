// Package storage provides a small key/value store for JSON documents kept on
// the local filesystem, the process-side equivalent of browser local storage.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("item not found")

// Storage defines the key/value operations
type Storage interface {
	// GetItem returns the value stored under key, or ErrNotFound
	GetItem(ctx context.Context, key string) ([]byte, error)

	// SetItem stores value under key, replacing any previous value
	SetItem(ctx context.Context, key string, value []byte) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Keys lists the stored keys starting with prefix, sorted
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// StorageType identifies the storage backend
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
)

// Config holds storage configuration
type Config struct {
	Type      StorageType
	LocalPath string
}

// New creates a Storage implementation based on configuration
func New(cfg *Config) (Storage, error) {
	switch cfg.Type {
	case StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}
