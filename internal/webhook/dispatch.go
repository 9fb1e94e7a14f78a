package webhook

import (
	"context"
	"encoding/json"
)

// buildDispatchTable wires the static event-type -> handler map (spec
// §9's redesign note: a compile-time table of closures, not a
// switch). Upsert handlers hold method values bound to r.orch when the
// table is built; every handler also receives the Router as an argument
// at dispatch time.
func (r *Router) buildDispatchTable() map[string]handlerFunc {
	table := map[string]handlerFunc{}

	add := func(spec upsertSpec, eventTypes ...string) {
		for _, t := range eventTypes {
			table[t] = spec.handle
		}
	}

	add(upsertSpec{kind: "product", upsert: r.orch.UpsertProducts},
		"product.created", "product.updated")
	table["product.deleted"] = deleteHandler("products")

	add(upsertSpec{kind: "price", upsert: r.orch.UpsertPrices},
		"price.created", "price.updated")
	table["price.deleted"] = deleteHandler("prices")

	add(upsertSpec{kind: "plan", upsert: r.orch.UpsertPlans},
		"plan.created", "plan.updated")
	table["plan.deleted"] = deleteHandler("plans")

	add(upsertSpec{kind: "customer", upsert: r.orch.UpsertCustomers},
		"customer.created", "customer.updated")
	table["customer.deleted"] = deleteHandler("customers")

	add(upsertSpec{
		kind:     "subscription",
		upsert:   r.orch.UpsertSubscriptions,
		terminal: terminalPredicates["subscription"],
		refetch: func(ctx context.Context, r *Router, id string) (json.RawMessage, error) {
			sub, err := r.stripe.RetrieveSubscription(ctx, id)
			if err != nil {
				return nil, err
			}
			return json.Marshal(sub)
		},
	},
		"customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
	)

	add(upsertSpec{
		kind:     "invoice",
		upsert:   r.orch.UpsertInvoices,
		refetch: func(ctx context.Context, r *Router, id string) (json.RawMessage, error) {
			inv, err := r.stripe.RetrieveInvoice(ctx, id)
			if err != nil {
				return nil, err
			}
			return json.Marshal(inv)
		},
	},
		"invoice.created", "invoice.finalized", "invoice.updated",
		"invoice.paid", "invoice.payment_failed", "invoice.payment_succeeded",
		"invoice.voided", "invoice.marked_uncollectible",
	)

	add(upsertSpec{
		kind:     "charge",
		upsert:   r.orch.UpsertCharges,
		terminal: terminalPredicates["charge"],
		refetch: func(ctx context.Context, r *Router, id string) (json.RawMessage, error) {
			ch, err := r.stripe.RetrieveCharge(ctx, id)
			if err != nil {
				return nil, err
			}
			return json.Marshal(ch)
		},
	},
		"charge.succeeded", "charge.updated", "charge.failed",
		"charge.refunded", "charge.pending", "charge.captured",
	)

	add(upsertSpec{
		kind:     "payment_intent",
		upsert:   r.orch.UpsertPaymentIntents,
		terminal: terminalPredicates["payment_intent"],
		refetch: func(ctx context.Context, r *Router, id string) (json.RawMessage, error) {
			pi, err := r.stripe.RetrievePaymentIntent(ctx, id)
			if err != nil {
				return nil, err
			}
			return json.Marshal(pi)
		},
	},
		"payment_intent.created", "payment_intent.succeeded",
		"payment_intent.payment_failed", "payment_intent.canceled",
		"payment_intent.processing", "payment_intent.amount_capturable_updated",
	)

	add(upsertSpec{kind: "checkout_sessions", upsert: r.orch.UpsertCheckoutSessions},
		"checkout.session.completed", "checkout.session.expired", "checkout.session.async_payment_succeeded",
	)

	add(upsertSpec{kind: "setup_intent", upsert: r.orch.UpsertSetupIntents},
		"setup_intent.created", "setup_intent.succeeded", "setup_intent.canceled", "setup_intent.setup_failed",
	)

	add(upsertSpec{kind: "payment_method", upsert: r.orch.UpsertPaymentMethods},
		"payment_method.attached", "payment_method.updated", "payment_method.automatically_updated", "payment_method.detached",
	)

	add(upsertSpec{kind: "tax_id", upsert: r.orch.UpsertTaxIDs},
		"customer.tax_id.created", "customer.tax_id.updated",
	)
	table["customer.tax_id.deleted"] = deleteHandler("tax_ids")

	add(upsertSpec{kind: "credit_note", upsert: r.orch.UpsertCreditNotes},
		"credit_note.created", "credit_note.updated", "credit_note.voided",
	)

	add(upsertSpec{kind: "dispute", upsert: r.orch.UpsertDisputes},
		"charge.dispute.created", "charge.dispute.updated", "charge.dispute.closed",
	)

	add(upsertSpec{kind: "early_fraud_warning", upsert: r.orch.UpsertEarlyFraudWarnings},
		"radar.early_fraud_warning.created", "radar.early_fraud_warning.updated",
	)

	add(upsertSpec{kind: "refund", upsert: r.orch.UpsertRefunds},
		"refund.created", "refund.updated", "refund.failed",
	)

	table["entitlements.active_entitlement_summary.updated"] = handleEntitlementSummary

	return table
}
