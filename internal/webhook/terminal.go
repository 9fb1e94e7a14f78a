package webhook

import "encoding/json"

// entityInFinalState predicates are a per-kind optimization (spec §9):
// skipping a refetch for an object already in a terminal state saves
// an API call. They are never relied on for correctness — invariant
// #1 at the store layer is what actually protects against stale data.
var terminalPredicates = map[string]func(raw map[string]json.RawMessage) bool{
	"charge": func(raw map[string]json.RawMessage) bool {
		status := stringField(raw, "status")
		return status == "succeeded" || status == "failed"
	},
	"subscription": func(raw map[string]json.RawMessage) bool {
		return stringField(raw, "status") == "canceled"
	},
	"payment_intent": func(raw map[string]json.RawMessage) bool {
		status := stringField(raw, "status")
		return status == "succeeded" || status == "canceled"
	},
}
