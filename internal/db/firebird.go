package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/go-track/pkg/encoding"

	_ "github.com/nakagami/firebirdsql"
)

// FirebirdBackend stores the snapshot in a legacy Firebird 2.5 database.
type FirebirdBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFirebirdBackend opens a connection pool for Firebird 2.5
func NewFirebirdBackend(ctx context.Context, connString string, logger *slog.Logger) (*FirebirdBackend, error) {
	db, err := sql.Open("firebirdsql", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open firebird connection: %w", err)
	}

	// Connection pool settings optimized for legacy systems
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("firebird ping failed: %w", err)
	}

	b, err := newFirebirdBackend(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Connected to Firebird storage backend", "dialect", 3)
	return b, nil
}

func newFirebirdBackend(ctx context.Context, db *sql.DB, logger *slog.Logger) (*FirebirdBackend, error) {
	b := &FirebirdBackend{db: db, logger: logger}
	if err := b.migrate(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// migrate creates TRACK_STORAGE. Firebird 2.5 has no IF NOT EXISTS, so an
// "already exists" failure is treated as success.
func (b *FirebirdBackend) migrate(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `CREATE TABLE TRACK_STORAGE (
		STORAGE_KEY   VARCHAR(255) NOT NULL PRIMARY KEY,
		STORAGE_VALUE BLOB SUB_TYPE TEXT
	)`
	if _, err := b.db.ExecContext(opCtx, query); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "exist") || strings.Contains(msg, "unsuccessful metadata update") {
			b.logger.Debug("TRACK_STORAGE already present")
			return nil
		}
		return fmt.Errorf("failed to create TRACK_STORAGE: %w", err)
	}
	return nil
}

func (b *FirebirdBackend) Get(ctx context.Context, key string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var raw []byte
	err := b.db.QueryRowContext(opCtx, `SELECT STORAGE_VALUE FROM TRACK_STORAGE WHERE STORAGE_KEY = ?`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return encoding.ToUTF8(raw), nil
}

func (b *FirebirdBackend) Set(ctx context.Context, key, value string) error {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `UPDATE OR INSERT INTO TRACK_STORAGE (STORAGE_KEY, STORAGE_VALUE) VALUES (?, ?) MATCHING (STORAGE_KEY)`
	if _, err := b.db.ExecContext(opCtx, query, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (b *FirebirdBackend) Delete(ctx context.Context, key string) error {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := b.db.ExecContext(opCtx, `DELETE FROM TRACK_STORAGE WHERE STORAGE_KEY = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close gracefully shuts down the database connection pool
func (b *FirebirdBackend) Close() error {
	b.logger.Info("Closing Firebird connection pool")
	return b.db.Close()
}
