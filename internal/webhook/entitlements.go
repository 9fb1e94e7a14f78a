package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"

	"github.com/supabase/stripe-sync-engine/internal/store"
)

type entitlementItem struct {
	ID string `json:"id"`
}

type entitlementSummary struct {
	Customer    string            `json:"customer"`
	Entitlements struct {
		Data []entitlementItem `json:"data"`
	} `json:"entitlements"`
}

// handleEntitlementSummary implements the active_entitlement_summary
// compare-and-replace: the event carries a customer's full current
// set, so anything stored for that customer but absent from the new
// set is deleted before the new set is upserted (spec §4.C).
func handleEntitlementSummary(ctx context.Context, r *Router, accountID string, event stripe.Event) error {
	var summary entitlementSummary
	if err := json.Unmarshal(event.Data.Raw, &summary); err != nil {
		return fmt.Errorf("webhook: unmarshal entitlement summary: %w", err)
	}
	if summary.Customer == "" {
		return fmt.Errorf("webhook: entitlement summary missing customer")
	}

	keepIDs := make([]string, 0, len(summary.Entitlements.Data))
	rows := make([]store.Row, 0, len(summary.Entitlements.Data))
	for _, ent := range summary.Entitlements.Data {
		if ent.ID == "" {
			continue
		}
		payload, err := json.Marshal(ent)
		if err != nil {
			return err
		}
		keepIDs = append(keepIDs, ent.ID)
		rows = append(rows, store.Row{ID: ent.ID, ParentID: summary.Customer, Payload: payload})
	}

	if err := r.store.DeleteExcept(ctx, "active_entitlements", summary.Customer, keepIDs); err != nil {
		return err
	}
	return r.store.UpsertChildrenUnconditional(ctx, "active_entitlements", accountID, rows)
}
