package objects

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/store"
)

// UpsertCheckoutSessions implements registry.UpsertFunc for checkout
// sessions. Line items are flattened into checkout_session_line_items
// and backfill runs for the customer, subscription, payment intent, and
// invoice a session may reference.
func (o *Orchestrator) UpsertCheckoutSessions(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	var customerIDs, subscriptionIDs, paymentIntentIDs, invoiceIDs []string
	rows := make([]store.Row, 0, len(items))

	for _, item := range items {
		raw, err := rawObject(item)
		if err != nil {
			return fmt.Errorf("objects: unmarshal checkout session: %w", err)
		}
		id := refID(raw, "id")
		if id == "" {
			return fmt.Errorf("objects: checkout session payload missing id")
		}
		if v := refID(raw, "customer"); v != "" {
			customerIDs = append(customerIDs, v)
		}
		if v := refID(raw, "subscription"); v != "" {
			subscriptionIDs = append(subscriptionIDs, v)
		}
		if v := refID(raw, "payment_intent"); v != "" {
			paymentIntentIDs = append(paymentIntentIDs, v)
		}
		if v := refID(raw, "invoice"); v != "" {
			invoiceIDs = append(invoiceIDs, v)
		}

		if err := o.syncCheckoutSessionLineItems(ctx, accountID, id, raw); err != nil {
			return err
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
		if err := o.backfillMissingParents(ctx, accountID, "payment_intents", paymentIntentIDs, o.backfillPaymentIntent(accountID)); err != nil {
			return err
		}
		if err := o.backfillMissingParents(ctx, accountID, "invoices", invoiceIDs, o.backfillInvoice(accountID)); err != nil {
			return err
		}
	}

	return o.store.UpsertMany(ctx, "checkout_sessions", accountID, rows, opts.SyncTimestamp)
}

func (o *Orchestrator) syncCheckoutSessionLineItems(ctx context.Context, accountID, sessionID string, sessionRaw map[string]json.RawMessage) error {
	env, ok := readList(sessionRaw, "line_items")
	if !ok {
		return nil
	}

	data := env.Data
	if env.HasMore && o.autoExpandLists {
		more, err := o.drainCheckoutSessionLineItems(ctx, sessionID)
		if err != nil {
			return err
		}
		data = append(data, more...)
	}

	rows := make([]store.Row, 0, len(data))
	ids := make([]string, 0, len(data))
	for _, raw := range data {
		flat, err := flattenPriceRef(raw)
		if err != nil {
			return err
		}
		lineID := refID(flat, "id")
		if lineID == "" {
			continue
		}
		payload, err := json.Marshal(flat)
		if err != nil {
			return err
		}
		rows = append(rows, store.Row{ID: lineID, ParentID: sessionID, Payload: payload})
		ids = append(ids, lineID)
	}

	if err := o.store.UpsertMany(ctx, "checkout_session_line_items", accountID, rows, nil); err != nil {
		return err
	}
	return o.store.MarkDeletedExcept(ctx, "checkout_session_line_items", sessionID, ids)
}

func (o *Orchestrator) drainCheckoutSessionLineItems(ctx context.Context, sessionID string) ([]json.RawMessage, error) {
	var all []json.RawMessage
	params := registry.ListParams{Limit: 100}
	for {
		page, err := o.stripe.ListCheckoutSessionLineItems(ctx, sessionID, params)
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

func (o *Orchestrator) backfillSubscription(accountID string) func(ctx context.Context, id string) error {
	return func(ctx context.Context, id string) error {
		sub, err := o.stripe.RetrieveSubscription(ctx, id)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		return o.UpsertSubscriptions(ctx, accountID, []json.RawMessage{payload}, registry.UpsertOptions{})
	}
}

func (o *Orchestrator) backfillPaymentIntent(accountID string) func(ctx context.Context, id string) error {
	return func(ctx context.Context, id string) error {
		pi, err := o.stripe.RetrievePaymentIntent(ctx, id)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(pi)
		if err != nil {
			return err
		}
		return o.UpsertPaymentIntents(ctx, accountID, []json.RawMessage{payload}, registry.UpsertOptions{})
	}
}

func (o *Orchestrator) backfillInvoice(accountID string) func(ctx context.Context, id string) error {
	return func(ctx context.Context, id string) error {
		inv, err := o.stripe.RetrieveInvoice(ctx, id)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(inv)
		if err != nil {
			return err
		}
		return o.UpsertInvoices(ctx, accountID, []json.RawMessage{payload}, registry.UpsertOptions{})
	}
}
