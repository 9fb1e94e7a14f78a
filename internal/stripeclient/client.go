// Package stripeclient wraps the Stripe API with the retry policy
// named in spec §7: exponential backoff with jitter up to a configured
// maximum number of attempts.
package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/account"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/supabase/stripe-sync-engine/internal/config"
)

// ErrResourceMissing wraps a Stripe 404 (resource_missing) so callers
// can distinguish "deleted since event" from any other API error.
var ErrResourceMissing = errors.New("stripeclient: resource missing")

// Client wraps stripe-go calls with retry and logging.
type Client struct {
	logger       *zap.Logger
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	secretKey    string
}

// SecretKey returns the configured Stripe secret key, used by
// integrations (the Sigma CSV export fetch) that must authenticate
// directly against a Stripe REST endpoint outside stripe-go.
func (c *Client) SecretKey() string {
	return c.secretKey
}

// New sets the process-wide stripe-go API key (matching the teacher's
// `stripe.Key = stripeKey` pattern) and returns a retry-wrapped client.
func New(cfg config.StripeConfig, logger *zap.Logger) *Client {
	stripe.Key = cfg.SecretKey
	if cfg.APIVersion != "" {
		stripe.APIVersion = cfg.APIVersion
	}
	return &Client{
		logger:       logger,
		maxRetries:   cfg.MaxRetries,
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
		secretKey:    cfg.SecretKey,
	}
}

// Do runs op with exponential backoff and jitter, retrying on any
// error except one already classified as ErrResourceMissing (a 404 is
// not transient and must not be retried).
func (c *Client) Do(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialDelay
	policy.MaxInterval = c.maxDelay
	policy.MaxElapsedTime = 0

	bounded := backoff.WithMaxRetries(policy, uint64(c.maxRetries))
	withCtx := backoff.WithContext(bounded, ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if isResourceMissing(err) {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrResourceMissing, err))
		}
		if c.logger != nil {
			c.logger.Warn("stripe call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, withCtx)

	return err
}

// RetrieveAccount fetches a Stripe account by id, or the account
// attached to the API key when id is empty.
func (c *Client) RetrieveAccount(ctx context.Context, id string) (*stripe.Account, error) {
	var acct *stripe.Account
	err := c.Do(ctx, func() error {
		var innerErr error
		params := &stripe.AccountParams{Params: stripe.Params{Context: ctx}}
		if id == "" {
			acct, innerErr = account.Get(params)
		} else {
			acct, innerErr = account.GetByID(id, params)
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// ConstructEvent verifies a webhook's signature and parses its body.
// Signature failures are returned unchanged so the caller can surface
// them as a 400 (spec §6).
func ConstructEvent(body []byte, signature, secret string) (stripe.Event, error) {
	return webhook.ConstructEvent(body, signature, secret)
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
