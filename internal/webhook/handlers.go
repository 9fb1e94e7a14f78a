package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"

	"github.com/supabase/stripe-sync-engine/internal/registry"
)

// upsertSpec names one registered upsert kind's handler wiring: the
// orchestrator function it delegates to, and whether revalidate-via-API
// applies to it.
type upsertSpec struct {
	upsert   func(ctx context.Context, accountID string, items []json.RawMessage, opts registry.UpsertOptions) error
	kind     string
	refetch  func(ctx context.Context, r *Router, id string) (json.RawMessage, error)
	terminal func(raw map[string]json.RawMessage) bool
}

func (s upsertSpec) handle(ctx context.Context, r *Router, accountID string, event stripe.Event) error {
	raw := event.Data.Raw

	payload := raw
	syncTimestamp := eventTimestamp(event)

	if r.revalidate[s.kind] && s.refetch != nil {
		obj, err := rawObjectFields(raw)
		if err == nil && (s.terminal == nil || !s.terminal(obj)) {
			id := stringField(obj, "id")
			if id != "" {
				fresh, err := s.refetch(ctx, r, id)
				if err != nil {
					if isResourceMissing(err) {
						return r.store.DeleteByID(ctx, destinationTable(s.kind), id)
					}
					return fmt.Errorf("webhook: refetch %s %s: %w", s.kind, id, err)
				}
				payload = fresh
				syncTimestamp = nowUTC()
			}
		}
	}

	ts := syncTimestamp
	return s.upsert(ctx, accountID, []json.RawMessage{payload}, registry.UpsertOptions{
		BackfillRelated: false,
		SyncTimestamp:   &ts,
	})
}

func deleteHandler(table string) handlerFunc {
	return func(ctx context.Context, r *Router, accountID string, event stripe.Event) error {
		obj, err := rawObjectFields(event.Data.Raw)
		if err != nil {
			return fmt.Errorf("webhook: unmarshal deletion payload: %w", err)
		}
		id := stringField(obj, "id")
		if id == "" {
			return fmt.Errorf("webhook: deletion payload missing id")
		}
		return r.store.DeleteByID(ctx, table, id)
	}
}

func rawObjectFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func stringField(raw map[string]json.RawMessage, field string) string {
	v, ok := raw[field]
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(v, &s)
	return s
}

func destinationTable(kind string) string {
	switch kind {
	case "plan":
		return "plans"
	default:
		return kind + "s"
	}
}
