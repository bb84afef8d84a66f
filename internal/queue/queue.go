// Package queue buffers event records in memory and hands them to a delivery
// function in batches, either when the batch size is reached or when the
// flush interval elapses.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-track/internal/models"
	"github.com/Guizzs26/go-track/pkg/metrics"
)

// DeliverFunc transmits one batch. A non-nil error puts records back at the
// head of the queue.
type DeliverFunc func(ctx context.Context, batch []models.Record) error

// PartialFailure is implemented by delivery errors that know which records
// failed. Only those are re-queued.
type PartialFailure interface {
	error
	FailedRecords() []models.Record
}

type Queue struct {
	mu        sync.Mutex
	pending   []models.Record
	timer     *time.Timer
	timerGen  uint64
	destroyed bool

	batchSize int
	interval  time.Duration
	deliver   DeliverFunc
	logger    *slog.Logger

	// inflight counts running deliveries; idle is closed when it drops to zero
	inflight int
	idle     chan struct{}
}

// New starts the flush timer immediately.
func New(batchSize int, interval time.Duration, deliver DeliverFunc, logger *slog.Logger) *Queue {
	if batchSize < 1 {
		batchSize = 1
	}
	q := &Queue{
		batchSize: batchSize,
		interval:  interval,
		deliver:   deliver,
		logger:    logger.With("component", "queue"),
	}
	q.mu.Lock()
	q.resetTimerLocked()
	q.mu.Unlock()
	return q
}

// Push appends r. Reaching the batch size flushes before Push returns.
func (q *Queue) Push(r models.Record) {
	q.mu.Lock()
	q.pending = append(q.pending, r)
	n := len(q.pending)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(n))

	if n >= q.batchSize {
		q.flush("size")
	}
}

// Flush hands everything pending to the delivery function without waiting
// for the result.
func (q *Queue) Flush() {
	q.flush("manual")
}

// GetAll returns a copy of the pending records.
func (q *Queue) GetAll() []models.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.Record, len(q.pending))
	copy(out, q.pending)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear drops pending records without delivering them.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
	metrics.QueueDepth.Set(0)
}

// Destroy flushes one last time and stops the timer for good. In-flight
// deliveries are not cancelled; use Wait to block on them.
func (q *Queue) Destroy() {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.destroyed = true
	batch := q.takeLocked()
	q.stopTimerLocked()
	if batch != nil {
		q.beginLocked()
	}
	q.mu.Unlock()

	if batch != nil {
		q.dispatch(batch, "destroy")
	}
}

// Wait blocks until no delivery is running, including ones started while it
// waits. It is safe to call concurrently with Push and Flush.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if q.inflight == 0 {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) flush(trigger string) {
	q.mu.Lock()
	batch := q.takeLocked()
	if batch == nil {
		q.mu.Unlock()
		return
	}
	if !q.destroyed {
		q.resetTimerLocked()
	}
	q.beginLocked()
	q.mu.Unlock()

	q.dispatch(batch, trigger)
}

func (q *Queue) onTimer(gen uint64) {
	q.mu.Lock()
	if q.destroyed || gen != q.timerGen {
		q.mu.Unlock()
		return
	}
	batch := q.takeLocked()
	q.resetTimerLocked()
	if batch != nil {
		q.beginLocked()
	}
	q.mu.Unlock()

	if batch != nil {
		q.dispatch(batch, "timer")
	}
}

// takeLocked swaps the pending slice for an empty one. Pushes that arrive
// during delivery land in the new slice.
func (q *Queue) takeLocked() []models.Record {
	if len(q.pending) == 0 {
		return nil
	}
	batch := q.pending
	q.pending = nil
	return batch
}

func (q *Queue) resetTimerLocked() {
	q.stopTimerLocked()
	gen := q.timerGen
	q.timer = time.AfterFunc(q.interval, func() { q.onTimer(gen) })
}

func (q *Queue) stopTimerLocked() {
	q.timerGen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) beginLocked() {
	if q.inflight == 0 {
		q.idle = make(chan struct{})
	}
	q.inflight++
}

func (q *Queue) end() {
	q.mu.Lock()
	q.inflight--
	if q.inflight == 0 {
		close(q.idle)
	}
	q.mu.Unlock()
}

// dispatch must be called after beginLocked.
func (q *Queue) dispatch(batch []models.Record, trigger string) {
	metrics.Flushes.WithLabelValues(trigger).Inc()
	metrics.BatchSize.Observe(float64(len(batch)))
	metrics.QueueDepth.Set(float64(q.Len()))
	q.logger.Debug("Flushing batch", "trigger", trigger, "size", len(batch))

	go func() {
		defer q.end()
		if err := q.run(batch); err != nil {
			q.requeue(batch, err)
		}
	}()
}

func (q *Queue) run(batch []models.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
		}
	}()
	return q.deliver(context.Background(), batch)
}

// requeue prepends the failed records so they go out ahead of newer ones.
func (q *Queue) requeue(batch []models.Record, err error) {
	failed := batch
	var partial PartialFailure
	if errors.As(err, &partial) {
		failed = partial.FailedRecords()
	}
	if len(failed) == 0 {
		return
	}

	q.mu.Lock()
	merged := make([]models.Record, 0, len(failed)+len(q.pending))
	merged = append(merged, failed...)
	merged = append(merged, q.pending...)
	q.pending = merged
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.Requeued.Add(float64(len(failed)))
	metrics.QueueDepth.Set(float64(depth))
	q.logger.Warn("Delivery failed, records re-queued", "requeued", len(failed), "batch", len(batch), "error", err)
}
