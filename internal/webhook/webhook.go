// Package webhook is the Event Router (spec §4.C): account
// resolution, static event-type dispatch, and delegation to the
// Upsert Orchestrator.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/supabase/stripe-sync-engine/internal/account"
	"github.com/supabase/stripe-sync-engine/internal/objects"
	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/stripeclient"
	"github.com/supabase/stripe-sync-engine/internal/store"
)

// ErrInvalidSignature is returned when Stripe's signature header does
// not verify against the resolved secret; the HTTP frontend maps this
// to a 400 (spec §6).
var ErrInvalidSignature = errors.New("webhook: invalid signature")

// SecretResolver resolves a per-account managed-webhook signing
// secret, used as the fallback when no static secret is configured.
// internal/reconciler satisfies this.
type SecretResolver interface {
	SigningSecretForAccount(ctx context.Context, accountID string) (string, error)
}

// Router is the Event Router.
type Router struct {
	store    *store.Gateway
	stripe   *stripeclient.Client
	accounts *account.Manager
	registry *registry.Registry
	orch     *objects.Orchestrator
	secrets  SecretResolver
	logger   *zap.Logger

	staticSecret string
	engineAPIKey string
	revalidate   map[string]bool
	handlers     map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, r *Router, accountID string, event stripe.Event) error

// New constructs an Event Router. staticSecret may be empty, in which
// case secrets resolves a per-account managed-webhook secret.
func New(
	s *store.Gateway,
	sc *stripeclient.Client,
	accounts *account.Manager,
	reg *registry.Registry,
	orch *objects.Orchestrator,
	secrets SecretResolver,
	staticSecret, engineAPIKey string,
	revalidate map[string]bool,
	logger *zap.Logger,
) *Router {
	r := &Router{
		store:        s,
		stripe:       sc,
		accounts:     accounts,
		registry:     reg,
		orch:         orch,
		secrets:      secrets,
		staticSecret: staticSecret,
		engineAPIKey: engineAPIKey,
		revalidate:   revalidate,
		logger:       logger,
	}
	r.handlers = r.buildDispatchTable()
	return r
}

// ProcessWebhook verifies body against signature, resolves the owning
// account, ensures its row exists, and dispatches to the registered
// handler for event.Type. Unknown event types are logged and ignored.
func (r *Router) ProcessWebhook(ctx context.Context, body []byte, signature string) error {
	accountID := peekConnectAccount(body)

	secret := r.staticSecret
	if secret == "" {
		if r.secrets == nil {
			return fmt.Errorf("webhook: no static secret configured and no managed secret available")
		}
		if accountID == "" {
			owner, err := r.resolveAccountByEngineKey(ctx)
			if err != nil {
				return fmt.Errorf("webhook: resolve account: %w", err)
			}
			accountID = owner
		}
		resolved, err := r.secrets.SigningSecretForAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("webhook: resolve managed secret: %w", err)
		}
		secret = resolved
	}

	event, err := stripeclient.ConstructEvent(body, signature, secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if accountID == "" {
		accountID = event.Account
	}
	if accountID == "" {
		resolved, err := r.resolveAccountByEngineKey(ctx)
		if err != nil {
			return fmt.Errorf("webhook: resolve account: %w", err)
		}
		accountID = resolved
	}

	if err := r.accounts.EnsureAccountExists(ctx, accountID); err != nil {
		return fmt.Errorf("webhook: ensure account: %w", err)
	}

	handler, ok := r.handlers[string(event.Type)]
	if !ok {
		r.logger.Info("unhandled event type, ignoring", zap.String("type", string(event.Type)))
		return nil
	}

	return handler(ctx, r, accountID, event)
}

func (r *Router) resolveAccountByEngineKey(ctx context.Context) (string, error) {
	id, err := r.accounts.GetAccountIDByAPIKey(ctx, r.engineAPIKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, account.ErrNotFound) {
		return "", err
	}

	acct, err := r.stripe.RetrieveAccount(ctx, "")
	if err != nil {
		return "", fmt.Errorf("retrieve account for engine key: %w", err)
	}
	payload, err := json.Marshal(acct)
	if err != nil {
		return "", err
	}
	hash := account.HashAPIKey(r.engineAPIKey)
	if err := r.accounts.UpsertAccount(ctx, acct.ID, payload, hash); err != nil {
		return "", err
	}
	return acct.ID, nil
}

// peekConnectAccount reads the top-level "account" field from a raw
// webhook body without verifying its signature — safe because the
// value is only used to pick which signing secret to verify against;
// an attacker controlling the body but not the secret still fails
// ConstructEvent.
func peekConnectAccount(body []byte) string {
	var envelope struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Account
}

func eventTimestamp(event stripe.Event) time.Time {
	return time.Unix(event.Created, 0).UTC()
}
