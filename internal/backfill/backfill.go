// Package backfill is the Backfill Controller (spec §4.D): paginated
// historical ingestion via the Resource Registry's list functions,
// with a cursor-selection algorithm that distinguishes a mid-run
// historical traversal from an incremental catch-up.
package backfill

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/stripeclient"
	"github.com/supabase/stripe-sync-engine/internal/store"
)

const (
	pageSize             = 100
	defaultMaxConcurrent = 5
)

// Controller is the Backfill Controller.
type Controller struct {
	store                  *store.Gateway
	registry               *registry.Registry
	stripe                 *stripeclient.Client
	logger                 *zap.Logger
	sigma                  *sigmaClient
	maxConcurrent          int
	maxConcurrentCustomers int
	sigmaEnabled           bool
}

// New constructs a Backfill Controller.
func New(
	s *store.Gateway,
	reg *registry.Registry,
	sc *stripeclient.Client,
	logger *zap.Logger,
	sigmaEnabled bool,
	maxConcurrentCustomers int,
) *Controller {
	if maxConcurrentCustomers <= 0 {
		maxConcurrentCustomers = 10
	}
	return &Controller{
		store:                  s,
		registry:               reg,
		stripe:                 sc,
		logger:                 logger,
		sigma:                  newSigmaClient(sc),
		maxConcurrent:          defaultMaxConcurrent,
		maxConcurrentCustomers: maxConcurrentCustomers,
		sigmaEnabled:           sigmaEnabled,
	}
}

// Result is the outcome of one ProcessNext call.
type Result struct {
	Processed    int
	HasMore      bool
	RunStartedAt time.Time
}

// ProcessNext processes one page of object and returns how many items
// it wrote and whether more pages remain. If runStartedAt is the zero
// value, a sync run is obtained or created (cancelling any stale run
// first) and reused.
func (c *Controller) ProcessNext(ctx context.Context, accountID, object string, runStartedAt time.Time, createdFilter *int64) (Result, error) {
	entry, ok := c.registry.Get(object)
	if !ok {
		return Result{}, fmt.Errorf("backfill: unknown object %q", object)
	}

	if runStartedAt.IsZero() {
		run, err := c.store.GetOrCreateSyncRun(ctx, accountID, "backfill")
		if err != nil {
			return Result{}, fmt.Errorf("backfill: get or create sync run: %w", err)
		}
		runStartedAt = run.StartedAt
	}

	if err := c.store.EnsureObjectRun(ctx, accountID, runStartedAt, object); err != nil {
		return Result{}, fmt.Errorf("backfill: ensure object run: %w", err)
	}

	objRun, err := c.store.GetObjectRun(ctx, accountID, runStartedAt, object)
	if err != nil {
		return Result{}, fmt.Errorf("backfill: get object run: %w", err)
	}

	if objRun.Status == store.StatusComplete || objRun.Status == store.StatusError {
		return Result{Processed: 0, HasMore: false, RunStartedAt: runStartedAt}, nil
	}

	if objRun.Status == store.StatusPending {
		started, err := c.store.TryStartObjectSync(ctx, accountID, runStartedAt, object, c.maxConcurrent)
		if err != nil {
			return Result{}, fmt.Errorf("backfill: try start object sync: %w", err)
		}
		if !started {
			return Result{Processed: 0, HasMore: true, RunStartedAt: runStartedAt}, nil
		}
	}

	if entry.Sigma != nil && c.sigmaEnabled {
		processed, hasMore, err := c.processSigmaPage(ctx, accountID, runStartedAt, entry)
		if err != nil {
			_ = c.store.FailObjectSync(ctx, accountID, runStartedAt, object, err.Error())
			return Result{}, err
		}
		return Result{Processed: processed, HasMore: hasMore, RunStartedAt: runStartedAt}, nil
	}

	processed, hasMore, err := c.processPage(ctx, accountID, runStartedAt, entry, createdFilter)
	if err != nil {
		_ = c.store.FailObjectSync(ctx, accountID, runStartedAt, object, err.Error())
		return Result{}, err
	}
	return Result{Processed: processed, HasMore: hasMore, RunStartedAt: runStartedAt}, nil
}

// selectListParams implements the cursor-selection rules of spec
// §4.D: an explicit created filter wins outright; objects without
// created-filter support list unconstrained; a present page-cursor
// means a historical traversal is mid-flight and must not gain a
// created.gte; otherwise the last completed cursor drives incremental
// catch-up, and a totally fresh object lists unconstrained.
func (c *Controller) selectListParams(ctx context.Context, accountID string, runStartedAt time.Time, entry registry.Entry, objRun store.ObjectRun, createdFilter *int64) (registry.ListParams, error) {
	if createdFilter != nil {
		return registry.ListParams{CreatedGTE: createdFilter, Limit: pageSize}, nil
	}
	if !entry.SupportsCreatedFilter {
		return registry.ListParams{Limit: pageSize}, nil
	}
	if objRun.PageCursor != nil && *objRun.PageCursor != "" {
		return registry.ListParams{StartingAfter: *objRun.PageCursor, Limit: pageSize}, nil
	}

	lastCursor, found, err := c.store.GetLastCursorBeforeRun(ctx, accountID, entry.Name, runStartedAt)
	if err != nil {
		return registry.ListParams{}, err
	}
	if found && lastCursor != "" {
		if n, err := strconv.ParseInt(lastCursor, 10, 64); err == nil {
			return registry.ListParams{CreatedGTE: &n, Limit: pageSize}, nil
		}
	}
	return registry.ListParams{Limit: pageSize}, nil
}

func (c *Controller) processPage(ctx context.Context, accountID string, runStartedAt time.Time, entry registry.Entry, createdFilter *int64) (int, bool, error) {
	objRun, err := c.store.GetObjectRun(ctx, accountID, runStartedAt, entry.Name)
	if err != nil {
		return 0, false, err
	}

	params, err := c.selectListParams(ctx, accountID, runStartedAt, entry, *objRun, createdFilter)
	if err != nil {
		return 0, false, err
	}

	page, err := entry.List(ctx, accountID, params)
	if err != nil {
		return 0, false, fmt.Errorf("list %s: %w", entry.Name, err)
	}

	if page.HasMore && len(page.Items) == 0 {
		msg := fmt.Sprintf("has_more=true with empty page for %s", entry.Name)
		if err := c.store.FailObjectSync(ctx, accountID, runStartedAt, entry.Name, msg); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}

	if err := entry.Upsert(ctx, accountID, page.Items, registry.UpsertOptions{}); err != nil {
		return 0, false, err
	}

	if err := c.store.IncrementObjectProgress(ctx, accountID, runStartedAt, entry.Name, len(page.Items)); err != nil {
		return 0, false, err
	}

	maxCreated := maxCreatedTimestamp(page.Items)
	if maxCreated > 0 {
		if err := c.store.UpdateObjectCursor(ctx, accountID, runStartedAt, entry.Name, strconv.FormatInt(maxCreated, 10)); err != nil {
			return 0, false, err
		}
	}

	if page.HasMore {
		lastID, err := lastItemID(page.Items)
		if err != nil {
			return 0, false, err
		}
		if err := c.store.UpdateObjectPageCursor(ctx, accountID, runStartedAt, entry.Name, lastID); err != nil {
			return 0, false, err
		}
		return len(page.Items), true, nil
	}

	if err := c.store.CompleteObjectSync(ctx, accountID, runStartedAt, entry.Name); err != nil {
		return 0, false, err
	}
	return len(page.Items), false, nil
}

// ProcessUntilDone iterates the registry in declared order (or just
// object, if non-empty), driving ProcessNext until hasMore is false
// for each, then closes the run unconditionally.
func (c *Controller) ProcessUntilDone(ctx context.Context, accountID, object string) error {
	run, err := c.store.GetOrCreateSyncRun(ctx, accountID, "backfill")
	if err != nil {
		return fmt.Errorf("backfill: get or create sync run: %w", err)
	}

	names := c.registry.OrderedNames()
	if object != "" {
		names = []string{object}
	}

	for _, name := range names {
		if name == "payment_method" {
			if err := c.processPaymentMethodsUntilDone(ctx, accountID, run.StartedAt); err != nil {
				c.logger.Error("payment_method backfill failed", zap.Error(err))
			}
			continue
		}
		for {
			result, err := c.ProcessNext(ctx, accountID, name, run.StartedAt, nil)
			if err != nil {
				c.logger.Error("backfill object failed", zap.String("object", name), zap.Error(err))
				break
			}
			if !result.HasMore {
				break
			}
		}
	}

	return c.store.CloseRun(ctx, accountID, run.StartedAt)
}

// processPaymentMethodsUntilDone fans out across every non-deleted
// mirrored customer, capped at maxConcurrentCustomers, paginating each
// customer's payment methods independently (spec §4.D's special case).
func (c *Controller) processPaymentMethodsUntilDone(ctx context.Context, accountID string, runStartedAt time.Time) error {
	if err := c.store.EnsureObjectRun(ctx, accountID, runStartedAt, "payment_method"); err != nil {
		return err
	}
	if _, err := c.store.TryStartObjectSync(ctx, accountID, runStartedAt, "payment_method", c.maxConcurrent); err != nil {
		return err
	}

	customerIDs, err := c.store.ListNonDeletedIDs(ctx, "customers", accountID)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, c.maxConcurrentCustomers)

	entry, _ := c.registry.Get("payment_method")

	for _, customerID := range customerIDs {
		customerID := customerID
		sem <- struct{}{}
		group.Go(func() error {
			defer func() { <-sem }()
			params := registry.ListParams{Limit: pageSize}
			for {
				page, err := c.stripe.ListCustomerPaymentMethods(gctx, customerID, params)
				if err != nil {
					return err
				}
				if err := entry.Upsert(gctx, accountID, page.Items, registry.UpsertOptions{BackfillRelated: true}); err != nil {
					return err
				}
				if err := c.store.IncrementObjectProgress(gctx, accountID, runStartedAt, "payment_method", len(page.Items)); err != nil {
					return err
				}
				if !page.HasMore || len(page.Items) == 0 {
					break
				}
				lastID, err := lastItemID(page.Items)
				if err != nil {
					break
				}
				params.StartingAfter = lastID
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		_ = c.store.FailObjectSync(ctx, accountID, runStartedAt, "payment_method", err.Error())
		return err
	}
	return c.store.CompleteObjectSync(ctx, accountID, runStartedAt, "payment_method")
}
