package stripeclient

import (
	"context"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/charge"
	"github.com/stripe/stripe-go/v76/checkoutsession"
	"github.com/stripe/stripe-go/v76/creditnotelineitem"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/invoice"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/subscription"

	"github.com/supabase/stripe-sync-engine/internal/registry"
)

// RetrieveCustomer fetches one customer, used by the Upsert
// Orchestrator's parent-backfill path (spec §4.E).
func (c *Client) RetrieveCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	var out *stripe.Customer
	err := c.Do(ctx, func() error {
		var innerErr error
		out, innerErr = customer.Get(id, &stripe.CustomerParams{Params: stripe.Params{Context: ctx}})
		return innerErr
	})
	return out, err
}

// RetrieveSubscription fetches one subscription for parent backfill.
func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	var out *stripe.Subscription
	err := c.Do(ctx, func() error {
		var innerErr error
		out, innerErr = subscription.Get(id, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
		return innerErr
	})
	return out, err
}

// RetrieveInvoice fetches one invoice for parent backfill.
func (c *Client) RetrieveInvoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	var out *stripe.Invoice
	err := c.Do(ctx, func() error {
		var innerErr error
		out, innerErr = invoice.Get(id, &stripe.InvoiceParams{Params: stripe.Params{Context: ctx}})
		return innerErr
	})
	return out, err
}

// RetrieveCharge fetches one charge for parent backfill.
func (c *Client) RetrieveCharge(ctx context.Context, id string) (*stripe.Charge, error) {
	var out *stripe.Charge
	err := c.Do(ctx, func() error {
		var innerErr error
		out, innerErr = charge.Get(id, &stripe.ChargeParams{Params: stripe.Params{Context: ctx}})
		return innerErr
	})
	return out, err
}

// RetrievePaymentIntent fetches one payment intent for parent backfill.
func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	var out *stripe.PaymentIntent
	err := c.Do(ctx, func() error {
		var innerErr error
		out, innerErr = paymentintent.Get(id, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
		return innerErr
	})
	return out, err
}

// RetrieveCheckoutSession fetches one checkout session for parent
// backfill, with line items expanded (spec's auto-expand-lists path
// still applies once the object is re-upserted through the normal
// orchestrator call).
func (c *Client) RetrieveCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	var out *stripe.CheckoutSession
	err := c.Do(ctx, func() error {
		var innerErr error
		params := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}
		params.AddExpand("line_items")
		out, innerErr = checkoutsession.Get(id, params)
		return innerErr
	})
	return out, err
}

// ListCreditNoteLines fetches the full lines list for a credit note
// whose embedded sub-list was truncated (has_more=true), used by the
// Upsert Orchestrator's list-expansion step.
func (c *Client) ListCreditNoteLines(ctx context.Context, creditNoteID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.CreditNoteLineItemListParams{ListParams: listParams("", p), CreditNote: stripe.String(creditNoteID)}
		params.Context = ctx
		var innerErr error
		page, innerErr = collectPage(creditnotelineitem.List(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}
