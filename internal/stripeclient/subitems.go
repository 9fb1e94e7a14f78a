package stripeclient

import (
	"context"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkoutsession"
	"github.com/stripe/stripe-go/v76/invoice"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/subscriptionitem"

	"github.com/supabase/stripe-sync-engine/internal/registry"
)

// ListSubscriptionItems fetches the remainder of a subscription's
// truncated items sub-list, used by the Upsert Orchestrator's
// list-expansion step (spec §4.E).
func (c *Client) ListSubscriptionItems(ctx context.Context, subscriptionID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.SubscriptionItemListParams{ListParams: listParams("", p), Subscription: stripe.String(subscriptionID)}
		params.Context = ctx
		var innerErr error
		page, innerErr = collectPage(subscriptionitem.List(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}

// ListCheckoutSessionLineItems fetches the remainder of a checkout
// session's truncated line_items sub-list.
func (c *Client) ListCheckoutSessionLineItems(ctx context.Context, sessionID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.CheckoutSessionListLineItemsParams{ListParams: listParams("", p), Session: stripe.String(sessionID)}
		params.Context = ctx
		var innerErr error
		page, innerErr = collectPage(checkoutsession.ListLineItems(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}

// ListInvoiceLines fetches the remainder of an invoice's truncated
// lines sub-list.
func (c *Client) ListInvoiceLines(ctx context.Context, invoiceID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.InvoiceListLinesParams{ListParams: listParams("", p), Invoice: stripe.String(invoiceID)}
		params.Context = ctx
		var innerErr error
		page, innerErr = collectPage(invoice.ListLines(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}

// ListChargeRefunds fetches the remainder of a charge's truncated
// refunds sub-list.
func (c *Client) ListChargeRefunds(ctx context.Context, chargeID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.RefundListParams{ListParams: listParams("", p), Charge: stripe.String(chargeID)}
		params.Context = ctx
		var innerErr error
		page, innerErr = collectPage(refund.List(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}
