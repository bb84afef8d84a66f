package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/Guizzs26/go-track/internal/config"
	"github.com/Guizzs26/go-track/internal/db"
	"github.com/Guizzs26/go-track/internal/delivery"
	"github.com/Guizzs26/go-track/internal/models"
	"github.com/Guizzs26/go-track/internal/store"
	"github.com/Guizzs26/go-track/internal/tracker"
	"github.com/Guizzs26/go-track/pkg/infra"
)

// The relay replays a pending-events snapshot left behind by a tracker that
// died before delivering it, then exits once the snapshot is empty.
func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StorageBackend == "memory" {
		logger.Error("FATAL: relay needs a durable storage backend", "backend", cfg.StorageBackend)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("FATAL: invalid configuration", "error", err)
		os.Exit(1)
	}

	backend, err := db.Open(ctx, cfg.StorageBackend, cfg.StorageDSN, logger)
	if err != nil {
		logger.Error("FATAL: storage backend unavailable", "error", err)
		os.Exit(1)
	}
	st := store.New(backend, cfg.StoragePrefix, logger, store.WithCompression(cfg.StorageCompression))
	defer st.Close()

	transport, err := tracker.NewTransport(cfg, logger)
	if err != nil {
		logger.Error("FATAL: transport unavailable", "error", err)
		os.Exit(1)
	}
	if c, ok := transport.(io.Closer); ok {
		defer c.Close()
	}

	deliverer := delivery.NewDeliverer(transport, st, cfg, logger)

	logger.Info("Relay started", "backend", cfg.StorageBackend, "pid", os.Getpid())
	if err := drain(ctx, st, deliverer, newRelayBackoff(cfg), logger); err != nil {
		logger.Warn("Relay stopped before the snapshot was drained", "error", err)
		return
	}
	logger.Info("Snapshot drained, relay exiting")
}

// errSnapshotStuck means a fully delivered snapshot could not be cleared, so
// another pass would only deliver the same records again.
var errSnapshotStuck = errors.New("pending snapshot was delivered but could not be cleared")

type snapshot interface {
	GetPendingEvents(ctx context.Context) []models.Record
}

func newRelayBackoff(cfg *config.Config) *infra.Backoff {
	lo := cfg.RelayBackoffMin
	if lo <= 0 {
		lo = time.Second
	}
	return infra.NewBackoff(lo, cfg.RelayBackoffMax, 2.0, infra.WithJitter(cfg.RelayBackoffJitter))
}

// drain resends the snapshot until it is empty. SendBatch rewrites the
// snapshot with whatever failed, so each pass only retries the leftovers.
func drain(ctx context.Context, st snapshot, d *delivery.Deliverer, backoff *infra.Backoff, logger *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		records := st.GetPendingEvents(ctx)
		if len(records) == 0 {
			return nil
		}

		err := d.SendBatch(ctx, records)
		if err == nil {
			if reflect.DeepEqual(st.GetPendingEvents(ctx), records) {
				return errSnapshotStuck
			}
			backoff.Reset()
			continue
		}

		var batchErr *delivery.BatchError
		if errors.As(err, &batchErr) {
			logger.Warn("Partial delivery", "failed", len(batchErr.Failed), "total", batchErr.Total)
		}

		logger.Error("Replay failed, backing off", "attempt", backoff.Attempts()+1, "error", err)
		if _, err := backoff.Wait(ctx); err != nil {
			return err
		}
	}
}
