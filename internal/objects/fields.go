package objects

import "encoding/json"

// refID reads a Stripe reference field that is either a bare id string
// or an expanded object with an "id" key, returning "" when the field
// is absent or null.
func refID(raw map[string]json.RawMessage, field string) string {
	v, ok := raw[field]
	if !ok || string(v) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var obj idOnly
	if err := json.Unmarshal(v, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func rawObject(item json.RawMessage) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(item, &m); err != nil {
		return nil, err
	}
	return m, nil
}

type listEnvelope struct {
	Data    []json.RawMessage `json:"data"`
	HasMore bool               `json:"has_more"`
}

func readList(raw map[string]json.RawMessage, field string) (listEnvelope, bool) {
	v, ok := raw[field]
	if !ok || string(v) == "null" {
		return listEnvelope{}, false
	}
	var env listEnvelope
	if err := json.Unmarshal(v, &env); err != nil {
		return listEnvelope{}, false
	}
	return env, true
}

func writeField(raw map[string]json.RawMessage, field string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	raw[field] = b
	return nil
}

// expandEmbeddedList rewrites raw[field] to include every page drained
// via fetchMore, marking the sub-list as no longer truncated. Used for
// embedded sub-lists that are stored inline (invoice lines, charge
// refunds) rather than flattened into their own table.
func expandEmbeddedList(raw map[string]json.RawMessage, field string, env listEnvelope, lastKnownID string, fetchMore func(starting string) (dataPage, error)) error {
	if !env.HasMore {
		return nil
	}
	data := env.Data
	starting := lastKnownID
	for {
		page, err := fetchMore(starting)
		if err != nil {
			return err
		}
		data = append(data, page.items...)
		if !page.hasMore || len(page.items) == 0 {
			break
		}
		starting = page.lastID
	}
	return writeField(raw, field, listEnvelope{Data: data, HasMore: false})
}

type dataPage struct {
	items   []json.RawMessage
	hasMore bool
	lastID  string
}
