package objects

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/store"
)

// UpsertSubscriptions implements registry.UpsertFunc for subscriptions.
// Each subscription's embedded items sub-list is expanded if truncated,
// flattened into the subscription_items table, and any previously
// stored item no longer present is marked deleted (spec §4.E).
func (o *Orchestrator) UpsertSubscriptions(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	var customerIDs []string
	rows := make([]store.Row, 0, len(items))

	for _, item := range items {
		raw, err := rawObject(item)
		if err != nil {
			return fmt.Errorf("objects: unmarshal subscription: %w", err)
		}
		id := refID(raw, "id")
		if id == "" {
			return fmt.Errorf("objects: subscription payload missing id")
		}
		if cust := refID(raw, "customer"); cust != "" {
			customerIDs = append(customerIDs, cust)
		}

		itemIDs, err := o.syncSubscriptionItems(ctx, accountID, id, raw)
		if err != nil {
			return err
		}
		if err := o.store.MarkDeletedExcept(ctx, "subscription_items", id, itemIDs); err != nil {
			return err
		}

		rows = append(rows, store.Row{ID: id, Payload: item})
	}

	if o.resolveBackfill(opts) {
		if err := o.backfillMissingParents(ctx, accountID, "customers", customerIDs, o.backfillCustomer(accountID)); err != nil {
			return err
		}
	}

	return o.store.UpsertMany(ctx, "subscriptions", accountID, rows, opts.SyncTimestamp)
}

// syncSubscriptionItems writes the flattened subscription_items rows
// for one subscription and returns the full set of item ids now
// current, expanding the sub-list via Stripe first if it was
// truncated and auto-expand is enabled.
func (o *Orchestrator) syncSubscriptionItems(ctx context.Context, accountID, subscriptionID string, subRaw map[string]json.RawMessage) ([]string, error) {
	env, ok := readList(subRaw, "items")
	if !ok {
		return nil, nil
	}

	data := env.Data
	if env.HasMore && o.autoExpandLists {
		more, err := o.drainSubscriptionItems(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		data = append(data, more...)
	}

	rows := make([]store.Row, 0, len(data))
	ids := make([]string, 0, len(data))
	for _, raw := range data {
		flat, err := flattenPriceRef(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := flat["deleted"]; !ok {
			flat["deleted"] = json.RawMessage("false")
		}
		if _, ok := flat["quantity"]; !ok {
			flat["quantity"] = json.RawMessage("null")
		}
		itemID := refID(flat, "id")
		if itemID == "" {
			continue
		}
		payload, err := json.Marshal(flat)
		if err != nil {
			return nil, err
		}
		rows = append(rows, store.Row{ID: itemID, ParentID: subscriptionID, Payload: payload})
		ids = append(ids, itemID)
	}

	if err := o.store.UpsertMany(ctx, "subscription_items", accountID, rows, nil); err != nil {
		return nil, err
	}
	return ids, nil
}

func (o *Orchestrator) drainSubscriptionItems(ctx context.Context, subscriptionID string) ([]json.RawMessage, error) {
	var all []json.RawMessage
	params := registry.ListParams{Limit: 100}
	for {
		page, err := o.stripe.ListSubscriptionItems(ctx, subscriptionID, params)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.HasMore || len(page.Items) == 0 {
			break
		}
		last, err := extractID(page.Items[len(page.Items)-1])
		if err != nil {
			break
		}
		params.StartingAfter = last
	}
	return all, nil
}

// flattenPriceRef rewrites a sub-item's "price" field from an expanded
// object to its bare id, matching the normalization the stored JSON
// payload expects.
func flattenPriceRef(raw json.RawMessage) (map[string]json.RawMessage, error) {
	obj, err := rawObject(raw)
	if err != nil {
		return nil, err
	}
	if id := refID(obj, "price"); id != "" {
		if err := writeField(obj, "price", id); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// backfillCustomer retrieves and upserts one customer by id, used when
// a subscription, invoice, charge, payment intent, or checkout session
// references a customer not yet mirrored.
func (o *Orchestrator) backfillCustomer(accountID string) func(ctx context.Context, id string) error {
	return func(ctx context.Context, id string) error {
		cust, err := o.stripe.RetrieveCustomer(ctx, id)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(cust)
		if err != nil {
			return err
		}
		return o.UpsertCustomers(ctx, accountID, []json.RawMessage{payload}, registry.UpsertOptions{})
	}
}
