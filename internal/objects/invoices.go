package objects

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/store"
)

// UpsertInvoices implements registry.UpsertFunc for invoices. A
// truncated lines sub-list is expanded in place when auto-expand is
// enabled; the owning customer and, when present, subscription are
// backfilled.
func (o *Orchestrator) UpsertInvoices(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	var customerIDs, subscriptionIDs []string
	rows := make([]store.Row, 0, len(items))

	for _, item := range items {
		raw, err := rawObject(item)
		if err != nil {
			return fmt.Errorf("objects: unmarshal invoice: %w", err)
		}
		id := refID(raw, "id")
		if id == "" {
			return fmt.Errorf("objects: invoice payload missing id")
		}
		if v := refID(raw, "customer"); v != "" {
			customerIDs = append(customerIDs, v)
		}
		if v := refID(raw, "subscription"); v != "" {
			subscriptionIDs = append(subscriptionIDs, v)
		}

		if o.autoExpandLists {
			if env, ok := readList(raw, "lines"); ok && env.HasMore {
				lastID := lastRawID(env.Data)
				err := expandEmbeddedList(raw, "lines", env, lastID, func(starting string) (dataPage, error) {
					page, err := o.stripe.ListInvoiceLines(ctx, id, registry.ListParams{Limit: 100, StartingAfter: starting})
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
		if err := o.backfillMissingParents(ctx, accountID, "subscriptions", subscriptionIDs, o.backfillSubscription(accountID)); err != nil {
			return err
		}
	}

	return o.store.UpsertMany(ctx, "invoices", accountID, rows, opts.SyncTimestamp)
}

func lastRawID(items []json.RawMessage) string {
	if len(items) == 0 {
		return ""
	}
	id, err := extractID(items[len(items)-1])
	if err != nil {
		return ""
	}
	return id
}
