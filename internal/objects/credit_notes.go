package objects

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase/stripe-sync-engine/internal/registry"
)

// expandCreditNoteLines rewrites a credit note's truncated lines
// sub-list in place, matching the invoice-lines and charge-refunds
// expansion path.
func (o *Orchestrator) expandCreditNoteLines(ctx context.Context, item json.RawMessage) (json.RawMessage, error) {
	raw, err := rawObject(item)
	if err != nil {
		return nil, fmt.Errorf("objects: unmarshal credit note: %w", err)
	}
	id := refID(raw, "id")
	env, ok := readList(raw, "lines")
	if !ok || !env.HasMore || id == "" {
		return item, nil
	}

	lastID := lastRawID(env.Data)
	err = expandEmbeddedList(raw, "lines", env, lastID, func(starting string) (dataPage, error) {
		page, err := o.stripe.ListCreditNoteLines(ctx, id, registry.ListParams{Limit: 100, StartingAfter: starting})
		if err != nil {
			return dataPage{}, err
		}
		return dataPage{items: page.Items, hasMore: page.HasMore, lastID: lastRawID(page.Items)}, nil
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}
