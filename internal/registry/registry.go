// Package registry is the Resource Registry: a static,
// dependency-ordered catalog of every Stripe object type this engine
// mirrors, and the single source of truth for backfill order and
// cascade-delete order.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// ListParams constrains one Stripe list call.
type ListParams struct {
	// CreatedGTE filters to objects created at or after this unix
	// timestamp. Nil means no created filter.
	CreatedGTE *int64
	// StartingAfter is the opaque Stripe pagination token.
	StartingAfter string
	Limit         int
}

// ListPage is one page of raw Stripe objects.
type ListPage struct {
	Items   []json.RawMessage
	HasMore bool
}

// ListFunc fetches one page for an object kind.
type ListFunc func(ctx context.Context, accountID string, params ListParams) (ListPage, error)

// UpsertOptions controls Upsert Orchestrator behavior for one call.
type UpsertOptions struct {
	BackfillRelated bool
	SyncTimestamp   *time.Time
}

// UpsertFunc normalizes and writes a batch of raw Stripe objects.
type UpsertFunc func(ctx context.Context, accountID string, items []json.RawMessage, opts UpsertOptions) error

// SigmaConfig names the Sigma-backed query/destination pairing for
// object kinds with no conventional list endpoint (spec §4.D).
type SigmaConfig struct {
	DestinationTable string
	CursorColumn     string
	// CursorColumnType is "numeric" or "text"; it decides whether
	// processSigmaPage compares cursor-column values as numbers or as
	// strings.
	CursorColumnType string
	PageSize         int
}

// Entry is one row of the registry.
type Entry struct {
	Name string
	// Table is the destination Postgres table this entry writes to.
	// Several dispatch keys are singular/legacy event-type spellings
	// (e.g. "plan", "tax_id") while their tables are plural (spec
	// §4.F); Table is what CascadeDeleteOrder and account deletion
	// operate on. Entries that leave Table empty fall back to Name.
	Table  string
	Order  int
	List   ListFunc
	Upsert UpsertFunc
	// SupportsCreatedFilter is false for entities Stripe's list
	// endpoint cannot filter by created (payment methods, tax ids)
	// and for Sigma-backed tables.
	SupportsCreatedFilter bool
	Sigma                 *SigmaConfig
}

// table returns e.Table, falling back to e.Name when unset.
func (e Entry) table() string {
	if e.Table != "" {
		return e.Table
	}
	return e.Name
}

// Registry is the static catalog of syncable object types.
type Registry struct {
	entries map[string]Entry
}

// New returns an empty registry ready for Register calls.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces an entry.
func (r *Registry) Register(e Entry) {
	r.entries[e.Name] = e
}

// Get looks up a single entry by name.
func (r *Registry) Get(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// OrderedNames returns every registered object name sorted by Order,
// the order a full backfill visits them in (parents before children).
func (r *Registry) OrderedNames() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.entries[names[i]].Order < r.entries[names[j]].Order
	})
	return names
}

// CascadeDeleteOrder returns destination table names (Entry.Table, not
// the dispatch key Entry.Name) in the order dangerouslyDeleteAccount
// should delete them: the reverse of the backfill order, with customer
// pushed to the very end since it is the most broadly referenced
// parent (spec §4.B, §4.F). The account row itself is not part of the
// registry and is always deleted last by the caller.
func (r *Registry) CascadeDeleteOrder() []string {
	forward := r.OrderedNames()

	reversed := make([]string, 0, len(forward))
	var customer string
	for i := len(forward) - 1; i >= 0; i-- {
		name := forward[i]
		table := r.entries[name].table()
		if name == "customer" {
			customer = table
			continue
		}
		reversed = append(reversed, table)
	}
	if customer != "" {
		reversed = append(reversed, customer)
	}
	return reversed
}

// DefaultOrder is the canonical dependency order named in spec §6:
// parents before children, with tax_id and payment_method placed after
// customer since they require customer context.
var DefaultOrder = []string{
	"product",
	"price",
	"plan",
	"customer",
	"subscription",
	"subscription_schedules",
	"tax_id",
	"setup_intent",
	"invoice",
	"charge",
	"payment_intent",
	"payment_method",
	"credit_note",
	"dispute",
	"early_fraud_warning",
	"refund",
	"checkout_sessions",
}

// DefaultSigmaOrder lists the Sigma-only object kinds, appended after
// DefaultOrder when Sigma is enabled.
var DefaultSigmaOrder = []string{
	"subscription_item_change_events_v2_beta",
	"exchange_rates_from_usd",
}
