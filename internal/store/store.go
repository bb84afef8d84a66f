// Package store is the best-effort local cache for the current user id and
// the pending-event snapshot. Nothing here is authoritative: the in-memory
// queue is, and the snapshot only exists to survive a restart.
package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Guizzs26/go-track/internal/config"
	"github.com/Guizzs26/go-track/internal/db"
	"github.com/Guizzs26/go-track/internal/models"
	"github.com/Guizzs26/go-track/pkg/metrics"
)

const (
	userIDKey        = "user_id"
	pendingEventsKey = "pending_events"
)

type Store struct {
	backend  db.Backend
	prefix   string
	compress bool
	logger   *slog.Logger
}

type Option func(*Store)

// WithCompression snappy-compresses the pending snapshot on write.
func WithCompression(enabled bool) Option {
	return func(s *Store) { s.compress = enabled }
}

// New wraps backend. An empty prefix falls back to config.DefaultStoragePrefix.
func New(backend db.Backend, prefix string, logger *slog.Logger, opts ...Option) *Store {
	if prefix == "" {
		prefix = config.DefaultStoragePrefix
	}
	s := &Store{
		backend: backend,
		prefix:  prefix,
		logger:  logger.With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

// SetUserID persists id. Failures are logged and returned; callers that only
// care about best effort may ignore the error.
func (s *Store) SetUserID(ctx context.Context, id string) error {
	if err := s.backend.Set(ctx, s.key(userIDKey), id); err != nil {
		s.fail("set_user_id", err)
		return err
	}
	return nil
}

// GetUserID returns the persisted user id or "" when absent or unreadable.
func (s *Store) GetUserID(ctx context.Context) string {
	id, err := s.backend.Get(ctx, s.key(userIDKey))
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			s.fail("get_user_id", err)
		}
		return ""
	}
	return id
}

func (s *Store) ClearUserID(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.key(userIDKey)); err != nil {
		s.fail("clear_user_id", err)
		return err
	}
	return nil
}

// SavePendingEvents replaces the persisted snapshot with records.
func (s *Store) SavePendingEvents(ctx context.Context, records []models.Record) error {
	payload, err := encodeRecords(records, s.compress)
	if err != nil {
		s.fail("save_pending_events", err)
		return err
	}
	if err := s.backend.Set(ctx, s.key(pendingEventsKey), payload); err != nil {
		s.fail("save_pending_events", err)
		return err
	}
	s.logger.Debug("Pending events persisted", "count", len(records))
	return nil
}

// GetPendingEvents never fails: missing, unreadable or corrupt data is an empty list.
func (s *Store) GetPendingEvents(ctx context.Context) []models.Record {
	raw, err := s.backend.Get(ctx, s.key(pendingEventsKey))
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			s.fail("get_pending_events", err)
		}
		return nil
	}

	records, err := decodeRecords(raw)
	if err != nil {
		s.logger.Warn("Discarding corrupt pending events snapshot", "error", err)
		metrics.StorageFailures.WithLabelValues("decode_pending_events").Inc()
		return nil
	}
	return records
}

func (s *Store) ClearPendingEvents(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.key(pendingEventsKey)); err != nil {
		s.fail("clear_pending_events", err)
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) fail(op string, err error) {
	metrics.StorageFailures.WithLabelValues(op).Inc()
	s.logger.Error("Storage operation failed", "operation", op, "error", err)
}
