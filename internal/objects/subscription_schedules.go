package objects

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/store"
)

// UpsertSubscriptionSchedules implements registry.UpsertFunc for
// subscription schedules, backfilling the customer they reference.
func (o *Orchestrator) UpsertSubscriptionSchedules(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	var customerIDs []string
	rows := make([]store.Row, 0, len(items))

	for _, item := range items {
		raw, err := rawObject(item)
		if err != nil {
			return fmt.Errorf("objects: unmarshal subscription schedule: %w", err)
		}
		id := refID(raw, "id")
		if id == "" {
			return fmt.Errorf("objects: subscription schedule payload missing id")
		}
		if cust := refID(raw, "customer"); cust != "" {
			customerIDs = append(customerIDs, cust)
		}
		rows = append(rows, store.Row{ID: id, Payload: item})
	}

	if o.resolveBackfill(opts) {
		if err := o.backfillMissingParents(ctx, accountID, "customers", customerIDs, o.backfillCustomer(accountID)); err != nil {
			return err
		}
	}

	return o.store.UpsertMany(ctx, "subscription_schedules", accountID, rows, opts.SyncTimestamp)
}
