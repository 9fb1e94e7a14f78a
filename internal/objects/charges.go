package objects

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/store"
)

// UpsertCharges implements registry.UpsertFunc for charges, expanding
// a truncated refunds sub-list and backfilling the owning customer and
// invoice.
func (o *Orchestrator) UpsertCharges(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	var customerIDs, invoiceIDs []string
	rows := make([]store.Row, 0, len(items))

	for _, item := range items {
		raw, err := rawObject(item)
		if err != nil {
			return fmt.Errorf("objects: unmarshal charge: %w", err)
		}
		id := refID(raw, "id")
		if id == "" {
			return fmt.Errorf("objects: charge payload missing id")
		}
		if v := refID(raw, "customer"); v != "" {
			customerIDs = append(customerIDs, v)
		}
		if v := refID(raw, "invoice"); v != "" {
			invoiceIDs = append(invoiceIDs, v)
		}

		if o.autoExpandLists {
			if env, ok := readList(raw, "refunds"); ok && env.HasMore {
				lastID := lastRawID(env.Data)
				err := expandEmbeddedList(raw, "refunds", env, lastID, func(starting string) (dataPage, error) {
					page, err := o.stripe.ListChargeRefunds(ctx, id, registry.ListParams{Limit: 100, StartingAfter: starting})
					if err != nil {
						return dataPage{}, err
					}
					return dataPage{items: page.Items, hasMore: page.HasMore, lastID: lastRawID(page.Items)}, nil
				})
				if err != nil {
					return err
				}
				item, err = json.Marshal(raw)
				if err != nil {
					return err
				}
			}
		}

		rows = append(rows, store.Row{ID: id, Payload: item})
	}

	if o.resolveBackfill(opts) {
		if err := o.backfillMissingParents(ctx, accountID, "customers", customerIDs, o.backfillCustomer(accountID)); err != nil {
			return err
		}
		if err := o.backfillMissingParents(ctx, accountID, "invoices", invoiceIDs, o.backfillInvoice(accountID)); err != nil {
			return err
		}
	}

	return o.store.UpsertMany(ctx, "charges", accountID, rows, opts.SyncTimestamp)
}
