// Package reconciler is the Managed Webhook Reconciler (spec §4.G):
// under a per-(account, url) advisory lock, it guarantees exactly one
// enabled Stripe webhook endpoint exists for a target url, mirrored
// into the destination database.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/supabase/stripe-sync-engine/internal/store"
	"github.com/supabase/stripe-sync-engine/internal/stripeclient"
)

// EngineVersion is stamped into metadata.version on every endpoint
// this engine creates.
const EngineVersion = "1"

// managedByValue is written to metadata.managed_by on creation.
const managedByValue = "stripe-sync"

// DefaultEnabledEvents is the event set a newly created managed
// endpoint listens for. It matches the kinds the Event Router's
// dispatch table knows how to handle (internal/webhook/dispatch.go).
var DefaultEnabledEvents = []string{
	"product.created", "product.updated", "product.deleted",
	"price.created", "price.updated", "price.deleted",
	"plan.created", "plan.updated", "plan.deleted",
	"customer.created", "customer.updated", "customer.deleted",
	"customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted",
	"customer.tax_id.created", "customer.tax_id.updated", "customer.tax_id.deleted",
	"invoice.created", "invoice.updated", "invoice.finalized", "invoice.paid",
	"charge.succeeded", "charge.failed", "charge.refunded",
	"payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled",
	"checkout.session.completed", "checkout.session.expired",
	"setup_intent.succeeded", "setup_intent.setup_failed",
	"payment_method.attached", "payment_method.updated", "payment_method.detached",
	"credit_note.created", "credit_note.updated",
	"charge.dispute.created", "charge.dispute.updated", "charge.dispute.closed",
	"radar.early_fraud_warning.created",
	"refund.created", "refund.updated",
	"entitlements.active_entitlement_summary.updated",
}

// Reconciler owns FindOrCreateManagedWebhook.
type Reconciler struct {
	store  *store.Gateway
	stripe *stripeclient.Client
	logger *zap.Logger
}

func New(s *store.Gateway, sc *stripeclient.Client, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: s, stripe: sc, logger: logger}
}

// FindOrCreateManagedWebhook implements spec §4.G's four-step
// algorithm under an advisory lock keyed on (account, url).
func (r *Reconciler) FindOrCreateManagedWebhook(ctx context.Context, accountID, url string) (*store.ManagedWebhook, error) {
	var result *store.ManagedWebhook
	err := r.store.WithLock(ctx, fmt.Sprintf("webhook:%s:%s", accountID, url), func(ctx context.Context) error {
		wh, err := r.verifyExisting(ctx, accountID, url)
		if err != nil {
			return err
		}
		if wh != nil {
			result = wh
			return nil
		}

		if err := r.purgeStaleMirrors(ctx, accountID, url); err != nil {
			return err
		}
		if err := r.purgeOrphanedEndpoints(ctx); err != nil {
			r.logger.Warn("purge orphaned webhook endpoints failed, continuing", zap.Error(err))
		}

		created, err := r.createManaged(ctx, accountID, url)
		if err != nil {
			return err
		}
		result = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// verifyExisting implements step 1: if a mirror row exists for
// (account, url), retrieve the live endpoint. An enabled endpoint is
// returned as-is; a disabled one is deleted both in Stripe and in the
// mirror so the caller falls through to creation. A non-404 retrieve
// error is re-raised with the mirror left untouched (spec's documented
// asymmetry: do not mutate the mirror on a transient error).
func (r *Reconciler) verifyExisting(ctx context.Context, accountID, url string) (*store.ManagedWebhook, error) {
	mirror, err := r.store.GetManagedWebhook(ctx, accountID, url)
	if err != nil {
		return nil, fmt.Errorf("reconciler: get managed webhook: %w", err)
	}
	if mirror == nil {
		return nil, nil
	}

	ep, err := r.stripe.RetrieveWebhookEndpoint(ctx, mirror.ID)
	if err != nil {
		if errors.Is(err, stripeclient.ErrResourceMissing) {
			if delErr := r.store.DeleteManagedWebhook(ctx, mirror.ID); delErr != nil {
				return nil, fmt.Errorf("reconciler: delete stale mirror: %w", delErr)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("reconciler: retrieve webhook endpoint: %w", err)
	}

	if ep.Status == "enabled" {
		mirror.Status = string(ep.Status)
		return mirror, nil
	}

	if err := r.stripe.DeleteWebhookEndpoint(ctx, mirror.ID); err != nil {
		return nil, fmt.Errorf("reconciler: delete disabled endpoint: %w", err)
	}
	if err := r.store.DeleteManagedWebhook(ctx, mirror.ID); err != nil {
		return nil, fmt.Errorf("reconciler: delete disabled mirror: %w", err)
	}
	return nil, nil
}

// purgeStaleMirrors implements step 2: best-effort delete in Stripe,
// then always drop the mirror row, for every mirror of this account
// whose url no longer matches the target.
func (r *Reconciler) purgeStaleMirrors(ctx context.Context, accountID, url string) error {
	stale, err := r.store.ListManagedWebhooksExceptURL(ctx, accountID, url)
	if err != nil {
		return fmt.Errorf("reconciler: list stale mirrors: %w", err)
	}
	for _, wh := range stale {
		if err := r.stripe.DeleteWebhookEndpoint(ctx, wh.ID); err != nil {
			r.logger.Warn("delete stale stripe endpoint failed", zap.String("id", wh.ID), zap.Error(err))
		}
		if err := r.store.DeleteManagedWebhook(ctx, wh.ID); err != nil {
			return fmt.Errorf("reconciler: delete stale mirror row: %w", err)
		}
	}
	return nil
}

// purgeOrphanedEndpoints implements step 3: list every endpoint on
// the Stripe account, identify ones this engine manages (current
// metadata key or the legacy description marker), and delete any
// that have no corresponding mirror row anywhere.
func (r *Reconciler) purgeOrphanedEndpoints(ctx context.Context) error {
	endpoints, err := r.stripe.ListWebhookEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: list webhook endpoints: %w", err)
	}
	known, err := r.store.ListManagedWebhookIDs(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: list known mirror ids: %w", err)
	}

	for _, ep := range endpoints {
		if known[ep.ID] {
			continue
		}
		if !isManagedByThisEngine(ep) {
			continue
		}
		if err := r.stripe.DeleteWebhookEndpoint(ctx, ep.ID); err != nil {
			r.logger.Warn("delete orphaned webhook endpoint failed", zap.String("id", ep.ID), zap.Error(err))
		}
	}
	return nil
}

// isManagedByThisEngine recognizes both the current metadata marker
// and a legacy description-based marker, both normalized by removing
// spaces and hyphens before comparing against "stripesync".
func isManagedByThisEngine(ep *stripe.WebhookEndpoint) bool {
	if v, ok := ep.Metadata["managed_by"]; ok && normalizeManagedBy(v) == "stripesync" {
		return true
	}
	return strings.Contains(normalizeManagedBy(ep.Description), "stripesync")
}

func normalizeManagedBy(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// createManaged implements step 4: create a new endpoint with a fresh
// random-looking id from Stripe's own response, stamp engine metadata,
// and mirror it.
func (r *Reconciler) createManaged(ctx context.Context, accountID, url string) (*store.ManagedWebhook, error) {
	metadata := map[string]string{
		"managed_by": managedByValue,
		"version":    EngineVersion,
	}
	ep, err := r.stripe.CreateWebhookEndpoint(ctx, url, DefaultEnabledEvents, metadata)
	if err != nil {
		return nil, fmt.Errorf("reconciler: create webhook endpoint: %w", err)
	}

	wh := store.ManagedWebhook{
		ID:        ep.ID,
		AccountID: accountID,
		URL:       url,
		Secret:    ep.Secret,
		Status:    string(ep.Status),
	}
	if err := r.store.UpsertManagedWebhook(ctx, wh); err != nil {
		return nil, fmt.Errorf("reconciler: mirror created webhook endpoint: %w", err)
	}
	return &wh, nil
}

// SigningSecretForAccount implements internal/webhook.SecretResolver:
// the router falls back to this when no static signing secret is
// configured.
func (r *Reconciler) SigningSecretForAccount(ctx context.Context, accountID string) (string, error) {
	secret, found, err := r.store.GetManagedWebhookSecret(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("reconciler: no managed webhook secret for account %s", accountID)
	}
	return secret, nil
}
