package stripeclient

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhookendpoint"
)

// ManagedWebhookMetadataKey is the metadata key the reconciler stamps
// on every endpoint it creates, and the key it scans for on list to
// find endpoints it owns (spec §4.G).
const ManagedWebhookMetadataKey = "managed_by"

// CreateWebhookEndpoint creates a Stripe webhook endpoint listening
// for events, stamped with the given metadata.
func (c *Client) CreateWebhookEndpoint(ctx context.Context, url string, events []string, metadata map[string]string) (*stripe.WebhookEndpoint, error) {
	var ep *stripe.WebhookEndpoint
	err := c.Do(ctx, func() error {
		params := &stripe.WebhookEndpointParams{
			URL:           stripe.String(url),
			EnabledEvents: stripe.StringSlice(events),
			Metadata:      metadata,
		}
		params.Context = ctx
		var innerErr error
		ep, innerErr = webhookendpoint.New(params)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// RetrieveWebhookEndpoint fetches a single endpoint by id. A 404 is
// surfaced as ErrResourceMissing.
func (c *Client) RetrieveWebhookEndpoint(ctx context.Context, id string) (*stripe.WebhookEndpoint, error) {
	var ep *stripe.WebhookEndpoint
	err := c.Do(ctx, func() error {
		params := &stripe.WebhookEndpointParams{Params: stripe.Params{Context: ctx}}
		var innerErr error
		ep, innerErr = webhookendpoint.Get(id, params)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// DeleteWebhookEndpoint deletes an endpoint. A 404 is treated as
// success since the desired end state (no such endpoint) already
// holds.
func (c *Client) DeleteWebhookEndpoint(ctx context.Context, id string) error {
	err := c.Do(ctx, func() error {
		params := &stripe.WebhookEndpointParams{Params: stripe.Params{Context: ctx}}
		_, innerErr := webhookendpoint.Del(id, params)
		return innerErr
	})
	if err != nil && !errors.Is(err, ErrResourceMissing) {
		return err
	}
	return nil
}

// ListWebhookEndpoints drains every endpoint registered on the
// account, page size 100, for the reconciler's orphan-purge scan.
func (c *Client) ListWebhookEndpoints(ctx context.Context) ([]*stripe.WebhookEndpoint, error) {
	var all []*stripe.WebhookEndpoint
	err := c.Do(ctx, func() error {
		all = nil
		params := &stripe.WebhookEndpointListParams{ListParams: stripe.ListParams{Context: ctx}}
		params.Limit = stripe.Int64(100)
		it := webhookendpoint.List(params)
		for it.Next() {
			all = append(all, it.WebhookEndpoint())
		}
		return it.Err()
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}
