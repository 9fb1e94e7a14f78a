package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/supabase/stripe-sync-engine/internal/backfill"
	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/store"
	"github.com/supabase/stripe-sync-engine/pkg/workqueue"
)

// Dispatcher implements workqueue.Workqueue[Message]: GetItem claims
// the next visible message, ProcessItem runs one processNext call for
// its object, and UpdateItem deletes the message on success (or
// re-enqueues it when more pages remain, per spec §6).
type Dispatcher struct {
	queue             *Store
	backfill          *backfill.Controller
	registry          *registry.Registry
	logger            *zap.Logger
	visibilityTimeout time.Duration

	lastHasMore bool
}

func NewDispatcher(q *Store, bc *backfill.Controller, reg *registry.Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:             q,
		backfill:          bc,
		registry:          reg,
		logger:            logger,
		visibilityTimeout: DefaultVisibilityTimeout,
	}
}

var _ workqueue.Workqueue[Message] = (*Dispatcher)(nil)

func (d *Dispatcher) GetItem(ctx context.Context) (Message, error) {
	m, err := d.queue.ClaimNext(ctx, d.visibilityTimeout)
	if err != nil {
		return Message{}, err
	}
	if m == nil {
		return Message{}, sql.ErrNoRows
	}
	return *m, nil
}

func (d *Dispatcher) ProcessItem(ctx context.Context, m Message) error {
	if _, ok := d.registry.Get(m.Object); !ok {
		return fmt.Errorf("queue: unknown object %q", m.Object)
	}

	result, err := d.backfill.ProcessNext(ctx, m.AccountID, m.Object, time.Time{}, nil)
	if err != nil {
		d.lastHasMore = false
		return err
	}
	d.lastHasMore = result.HasMore
	return nil
}

func (d *Dispatcher) UpdateItem(ctx context.Context, m Message, success bool) error {
	if !success {
		return d.queue.Release(ctx, m.ID)
	}
	if d.lastHasMore {
		return d.queue.Requeue(ctx, m)
	}
	return d.queue.Delete(ctx, m.ID)
}

// ProcessBatch claims and processes up to n messages, seeding the
// queue first if it is empty (spec §6). It returns the number of
// messages actually processed.
func (d *Dispatcher) ProcessBatch(ctx context.Context, accountID string, gw *store.Gateway, n int) (int, error) {
	empty, err := d.queue.IsEmpty(ctx)
	if err != nil {
		return 0, err
	}
	if empty {
		if err := d.queue.Seed(ctx, gw, accountID, d.registry.OrderedNames()); err != nil {
			return 0, err
		}
	}

	poll := workqueue.PollWorkqueue[Message](d, d.logger)
	processed := 0
	for processed < n {
		if !poll(ctx) {
			break
		}
		processed++
	}
	return processed, nil
}
