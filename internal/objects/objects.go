// Package objects is the Upsert Orchestrator (spec §4.E): per-kind
// upsert entry points that normalize payloads, optionally backfill
// referenced parents, expand truncated sub-lists, and delegate to the
// Store Gateway.
package objects

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/stripeclient"
	"github.com/supabase/stripe-sync-engine/internal/store"
)

// Orchestrator implements every registry.UpsertFunc.
type Orchestrator struct {
	store   *store.Gateway
	stripe  *stripeclient.Client
	logger  *zap.Logger
	autoExpandLists bool
	backfillRelatedDefault bool
}

// New constructs an Upsert Orchestrator. autoExpandLists and
// backfillRelatedDefault are the engine-wide defaults named in spec
// §6; individual calls may override backfill via opts.
func New(s *store.Gateway, sc *stripeclient.Client, logger *zap.Logger, autoExpandLists, backfillRelatedDefault bool) *Orchestrator {
	return &Orchestrator{
		store:                  s,
		stripe:                 sc,
		logger:                 logger,
		autoExpandLists:        autoExpandLists,
		backfillRelatedDefault: backfillRelatedDefault,
	}
}

type idOnly struct {
	ID string `json:"id"`
}

func extractID(raw json.RawMessage) (string, error) {
	var v idOnly
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("objects: extract id: %w", err)
	}
	if v.ID == "" {
		return "", fmt.Errorf("objects: payload missing id")
	}
	return v.ID, nil
}

// resolveBackfill resolves the effective backfillRelated flag for one
// call: the per-call option wins when explicitly requested, otherwise
// the engine default applies.
func (o *Orchestrator) resolveBackfill(opts registry.UpsertOptions) bool {
	if opts.BackfillRelated {
		return true
	}
	return o.backfillRelatedDefault
}

// genericUpsert is the common path for object kinds with no
// normalization or side effects: extract id, delegate to the gateway.
func (o *Orchestrator) genericUpsert(ctx context.Context, table, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	rows := make([]store.Row, 0, len(items))
	for _, item := range items {
		id, err := extractID(item)
		if err != nil {
			return err
		}
		rows = append(rows, store.Row{ID: id, Payload: item})
	}
	return o.store.UpsertMany(ctx, table, accountID, rows, opts.SyncTimestamp)
}

// backfillMissingParents finds which of parentIDs are absent from
// parentTable and retrieves and upserts the missing ones via
// upsertParent. It does not check whether backfill is enabled; callers
// gate it on resolveBackfill.
func (o *Orchestrator) backfillMissingParents(ctx context.Context, accountID, parentTable string, parentIDs []string, upsertParent func(ctx context.Context, id string) error) error {
	if len(parentIDs) == 0 {
		return nil
	}
	missing, err := o.store.FindMissingIDs(ctx, parentTable, dedupe(parentIDs))
	if err != nil {
		return err
	}
	for _, id := range missing {
		if err := upsertParent(ctx, id); err != nil {
			return fmt.Errorf("objects: backfill parent %s/%s: %w", parentTable, id, err)
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// UpsertProducts implements registry.UpsertFunc for products, a root
// entity with no parent to backfill.
func (o *Orchestrator) UpsertProducts(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	return o.genericUpsert(ctx, "products", accountID, items, opts)
}

// UpsertPrices implements registry.UpsertFunc for prices.
func (o *Orchestrator) UpsertPrices(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	return o.genericUpsert(ctx, "prices", accountID, items, opts)
}

// UpsertPlans implements registry.UpsertFunc for the legacy plan kind.
func (o *Orchestrator) UpsertPlans(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	return o.genericUpsert(ctx, "plans", accountID, items, opts)
}

// UpsertCustomers implements registry.UpsertFunc for customers, also a
// root entity.
func (o *Orchestrator) UpsertCustomers(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	return o.genericUpsert(ctx, "customers", accountID, items, opts)
}

// UpsertTaxIDs implements registry.UpsertFunc for customer tax ids.
func (o *Orchestrator) UpsertTaxIDs(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	return o.genericUpsert(ctx, "tax_ids", accountID, items, opts)
}

// UpsertSetupIntents implements registry.UpsertFunc for setup intents.
func (o *Orchestrator) UpsertSetupIntents(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	return o.genericUpsert(ctx, "setup_intents", accountID, items, opts)
}

// UpsertPaymentMethods implements registry.UpsertFunc for payment
// methods, which require customer context and so have no created
// filter support (spec §4.B).
func (o *Orchestrator) UpsertPaymentMethods(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	return o.genericUpsert(ctx, "payment_methods", accountID, items, opts)
}

// UpsertCreditNotes implements registry.UpsertFunc for credit notes,
// expanding their truncated lines sub-list when enabled.
func (o *Orchestrator) UpsertCreditNotes(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	if o.autoExpandLists {
		var err error
		items, err = mapItems(ctx, items, o.expandCreditNoteLines)
		if err != nil {
			return err
		}
	}
	return o.genericUpsert(ctx, "credit_notes", accountID, items, opts)
}

// UpsertDisputes implements registry.UpsertFunc for disputes.
func (o *Orchestrator) UpsertDisputes(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	return o.genericUpsert(ctx, "disputes", accountID, items, opts)
}

// UpsertEarlyFraudWarnings implements registry.UpsertFunc for early
// fraud warnings.
func (o *Orchestrator) UpsertEarlyFraudWarnings(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	return o.genericUpsert(ctx, "early_fraud_warnings", accountID, items, opts)
}

// UpsertRefunds implements registry.UpsertFunc for refunds.
func (o *Orchestrator) UpsertRefunds(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error {
	return o.genericUpsert(ctx, "refunds", accountID, items, opts)
}

func mapItems(ctx context.Context, items []json.RawMessage, fn func(context.Context, json.RawMessage) (json.RawMessage, error)) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(items))
	for i, item := range items {
		expanded, err := fn(ctx, item)
		if err != nil {
			return nil, err
		}
		out[i] = expanded
	}
	return out, nil
}
