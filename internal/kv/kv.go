// Package kv is the durable key-value storage the offline queue lives in.
// Every backend stores opaque string values under string keys and must
// survive a process restart.
package kv

import (
	"context"
	"fmt"
)

// Storage is a durable string key-value store.
type Storage interface {
	// GetItem returns the value and true, or "" and false if key is absent.
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Dir       string // file backend directory
	Path      string // sqlite database file
	RedisAddr string
	RedisDB   int
	KeyPrefix string // redis key prefix
}

// Open returns the backend named in opts. An empty name means the file backend.
func Open(opts Options) (Storage, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStorage(opts.Dir)
	case BackendSQLite:
		return NewSQLiteStorage(opts.Path)
	case BackendRedis:
		return NewRedisStorage(opts.RedisAddr, opts.RedisDB, opts.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
