package objects

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/store"
)

// UpsertPaymentIntents implements registry.UpsertFunc for payment
// intents, backfilling the owning customer.
func (o *Orchestrator) UpsertPaymentIntents(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	var customerIDs []string
	rows := make([]store.Row, 0, len(items))

	for _, item := range items {
		raw, err := rawObject(item)
		if err != nil {
			return fmt.Errorf("objects: unmarshal payment intent: %w", err)
		}
		id := refID(raw, "id")
		if id == "" {
			return fmt.Errorf("objects: payment intent payload missing id")
		}
		if v := refID(raw, "customer"); v != "" {
			customerIDs = append(customerIDs, v)
		}
		rows = append(rows, store.Row{ID: id, Payload: item})
	}

	if o.resolveBackfill(opts) {
		if err := o.backfillMissingParents(ctx, accountID, "customers", customerIDs, o.backfillCustomer(accountID)); err != nil {
			return err
		}
	}

	return o.store.UpsertMany(ctx, "payment_intents", accountID, rows, opts.SyncTimestamp)
}
