// Package delivery sends event records to the collector, one request per
// record, with a bounded exponential retry per request and store bookkeeping
// per batch.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-track/internal/config"
	"github.com/Guizzs26/go-track/internal/models"
	"github.com/Guizzs26/go-track/pkg/infra"
	"github.com/Guizzs26/go-track/pkg/metrics"
)

// PendingStore is the part of the persistent store delivery writes to.
type PendingStore interface {
	SavePendingEvents(ctx context.Context, records []models.Record) error
	ClearPendingEvents(ctx context.Context) error
}

// BatchError reports the records that still failed after their retries.
type BatchError struct {
	Failed []models.Record
	Total  int
	Last   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d records failed: %v", len(e.Failed), e.Total, e.Last)
}

func (e *BatchError) Unwrap() error { return e.Last }

func (e *BatchError) FailedRecords() []models.Record { return e.Failed }

type Deliverer struct {
	transport  Transport
	store      PendingStore
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewDeliverer reads Timeout, MaxRetries and RetryDelay from cfg. store may be
// nil when persistence is disabled.
func NewDeliverer(t Transport, store PendingStore, cfg *config.Config, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		transport:  t,
		store:      store,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With("component", "delivery"),
	}
}

// SendBatch delivers every record independently. When all succeed the
// pending snapshot is cleared; otherwise only the failed subset is persisted
// and returned inside a *BatchError. A failed bookkeeping write falls back to
// persisting the whole batch but never changes the result, which reflects
// delivery alone. A panic persists the whole batch and returns a plain error.
func (d *Deliverer) SendBatch(ctx context.Context, records []models.Record) (err error) {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch delivery panicked: %v", r)
			d.logger.Error("Batch delivery aborted", "error", err, "batch", len(records))
			d.persistAll(ctx, records)
		}
	}()

	var failed []models.Record
	var lastErr error
	for _, r := range records {
		if _, sendErr := d.sendWithRetry(ctx, RouteEvent, r); sendErr != nil {
			d.logger.Warn("Event delivery failed", "event_type", r.EventType, "session_id", r.SessionID, "error", sendErr)
			metrics.RecordsDelivered.WithLabelValues("failed").Inc()
			failed = append(failed, r)
			lastErr = sendErr
			continue
		}
		metrics.RecordsDelivered.WithLabelValues("sent").Inc()
	}

	if sent := len(records) - len(failed); sent > 0 {
		d.logger.Info("Events delivered", "sent", sent, "failed", len(failed))
	}

	if d.store != nil {
		var storeErr error
		if len(failed) == 0 {
			storeErr = d.store.ClearPendingEvents(ctx)
		} else {
			storeErr = d.store.SavePendingEvents(ctx, failed)
		}
		if storeErr != nil {
			d.logger.Error("Pending events bookkeeping failed", "failed", len(failed), "batch", len(records), "error", storeErr)
			d.persistAll(ctx, records)
		}
	}

	if len(failed) > 0 {
		return &BatchError{Failed: failed, Total: len(records), Last: lastErr}
	}
	return nil
}

// SendOne bypasses batching. Errors are returned to the caller and nothing
// is persisted.
func (d *Deliverer) SendOne(ctx context.Context, route Route, r models.Record) (*Response, error) {
	resp, err := d.sendWithRetry(ctx, route, r)
	if err != nil {
		d.logger.Error("Immediate delivery failed", "route", route, "event_type", r.EventType, "error", err)
		return nil, err
	}
	d.logger.Debug("Immediate delivery succeeded", "route", route, "event_type", r.EventType)
	return resp, nil
}

// sendWithRetry makes at most maxRetries+1 attempts, sleeping
// retryDelay*2^attempt between them. A collector rejection is final.
func (d *Deliverer) sendWithRetry(ctx context.Context, route Route, r models.Record) (*Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := d.attempt(ctx, route, r)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrRejected) || attempt >= d.maxRetries || ctx.Err() != nil {
			return nil, err
		}

		delay := infra.ExponentialDelay(d.retryDelay, attempt)
		metrics.RequestRetries.WithLabelValues(string(route)).Inc()
		d.logger.Debug("Request failed, retrying", "route", route, "attempt", attempt+1, "max_retries", d.maxRetries, "delay", delay, "error", err)

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (d *Deliverer) attempt(ctx context.Context, route Route, r models.Record) (*Response, error) {
	reqCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := d.transport.Send(reqCtx, route, r)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case !resp.Success:
		status = "rejected"
		err = fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	metrics.RequestDuration.WithLabelValues(string(route), status).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Deliverer) persistAll(ctx context.Context, records []models.Record) {
	if d.store == nil {
		return
	}
	if err := d.store.SavePendingEvents(ctx, records); err != nil {
		d.logger.Error("Failed to persist batch after delivery error", "batch", len(records), "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
