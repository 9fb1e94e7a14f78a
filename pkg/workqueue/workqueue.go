// Package workqueue is a generic poll-claim-process-ack loop: given a
// Workqueue[T] that knows how to fetch, process, and acknowledge one
// item at a time, PollWorkqueue handles one item per call and reports
// whether it should be called again right away.
package workqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Workqueue is the minimal interface a queue implementation must
// satisfy to be driven by PollWorkqueue. GetItem returns sql.ErrNoRows
// when nothing is currently visible.
type Workqueue[T any] interface {
	GetItem(ctx context.Context) (T, error)
	ProcessItem(ctx context.Context, item T) error
	UpdateItem(ctx context.Context, item T, success bool) error
}

// PollingFunc is run on every tick by a ticker-driven loop; returning
// true asks the caller to invoke it again immediately instead of
// waiting for the next tick, so a drained backlog is consumed without
// idling out the rest of the interval.
type PollingFunc func(ctx context.Context) bool

// PollWorkqueue adapts a Workqueue[T] into a PollingFunc: fetch one
// item, process it, record the outcome, and report whether another
// item might be immediately available.
func PollWorkqueue[T any](wq Workqueue[T], logger *zap.Logger) PollingFunc {
	name := fmt.Sprintf("%T", wq)
	return func(ctx context.Context) bool {
		item, err := wq.GetItem(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return false
		}
		if err != nil {
			logger.Error("workqueue: get item failed", zap.String("queue", name), zap.Error(err))
			return false
		}

		procErr := wq.ProcessItem(ctx, item)
		if procErr != nil {
			logger.Error("workqueue: process item failed", zap.String("queue", name), zap.Error(procErr))
		}

		if err := wq.UpdateItem(ctx, item, procErr == nil); err != nil {
			logger.Error("workqueue: update item failed", zap.String("queue", name), zap.Error(err))
			return false
		}

		return true
	}
}

// Poll runs fn on a ticker of interval. A true return asks for another
// call right away, so a full backlog drains without waiting out the
// rest of the tick; a false return waits for the next tick.
func Poll(ctx context.Context, interval time.Duration, fn PollingFunc) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if fn(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
