package stripeclient

import (
	"context"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/creditnote"
	"github.com/stripe/stripe-go/v76/dispute"
	"github.com/stripe/stripe-go/v76/plan"
	"github.com/stripe/stripe-go/v76/radar/earlyfraudwarning"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/setupintent"
	"github.com/stripe/stripe-go/v76/subscriptionschedule"

	"github.com/supabase/stripe-sync-engine/internal/registry"
)

// ListPlans implements registry.ListFunc for the legacy plan kind.
func (c *Client) ListPlans(ctx context.Context, accountID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.PlanListParams{ListParams: listParams(accountID, p)}
		params.Context = ctx
		if p.CreatedGTE != nil {
			params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: *p.CreatedGTE}
		}
		var innerErr error
		page, innerErr = collectPage(plan.List(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}

// ListSetupIntents implements registry.ListFunc for setup intents.
func (c *Client) ListSetupIntents(ctx context.Context, accountID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.SetupIntentListParams{ListParams: listParams(accountID, p)}
		params.Context = ctx
		if p.CreatedGTE != nil {
			params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: *p.CreatedGTE}
		}
		var innerErr error
		page, innerErr = collectPage(setupintent.List(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}

// ListCreditNotes implements registry.ListFunc for credit notes.
func (c *Client) ListCreditNotes(ctx context.Context, accountID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.CreditNoteListParams{ListParams: listParams(accountID, p)}
		params.Context = ctx
		if p.CreatedGTE != nil {
			params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: *p.CreatedGTE}
		}
		var innerErr error
		page, innerErr = collectPage(creditnote.List(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}

// ListDisputes implements registry.ListFunc for disputes.
func (c *Client) ListDisputes(ctx context.Context, accountID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.DisputeListParams{ListParams: listParams(accountID, p)}
		params.Context = ctx
		if p.CreatedGTE != nil {
			params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: *p.CreatedGTE}
		}
		var innerErr error
		page, innerErr = collectPage(dispute.List(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}

// ListEarlyFraudWarnings implements registry.ListFunc for Radar early
// fraud warnings.
func (c *Client) ListEarlyFraudWarnings(ctx context.Context, accountID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.RadarEarlyFraudWarningListParams{ListParams: listParams(accountID, p)}
		params.Context = ctx
		var innerErr error
		page, innerErr = collectPage(earlyfraudwarning.List(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}

// ListRefunds implements registry.ListFunc for refunds.
func (c *Client) ListRefunds(ctx context.Context, accountID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.RefundListParams{ListParams: listParams(accountID, p)}
		params.Context = ctx
		if p.CreatedGTE != nil {
			params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: *p.CreatedGTE}
		}
		var innerErr error
		page, innerErr = collectPage(refund.List(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}

// ListSubscriptionSchedules implements registry.ListFunc for
// subscription schedules.
func (c *Client) ListSubscriptionSchedules(ctx context.Context, accountID string, p registry.ListParams) (registry.ListPage, error) {
	var page registry.ListPage
	err := c.Do(ctx, func() error {
		params := &stripe.SubscriptionScheduleListParams{ListParams: listParams(accountID, p)}
		params.Context = ctx
		if p.CreatedGTE != nil {
			params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: *p.CreatedGTE}
		}
		var innerErr error
		page, innerErr = collectPage(subscriptionschedule.List(params).Iter, pageLimit(p))
		return innerErr
	})
	return page, err
}
