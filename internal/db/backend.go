package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by Get when the key has never been written or was deleted.
var ErrNotFound = errors.New("key not found")

// Backend is the durable key-value surface the persistent store writes through.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend named by kind. dsn is backend specific: a directory for
// file, a database path for sqlite, a connection string for postgres/firebird and a
// redis:// URL for redis.
func Open(ctx context.Context, kind, dsn string, logger *slog.Logger) (Backend, error) {
	switch kind {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "file":
		return NewFileBackend(dsn)
	case "sqlite":
		return NewSQLiteBackend(ctx, dsn)
	case "postgres":
		return NewPostgresBackend(ctx, dsn, logger)
	case "firebird":
		return NewFirebirdBackend(ctx, dsn, logger)
	case "redis":
		return NewRedisBackend(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
