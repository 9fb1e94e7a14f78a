package objects

import (
	"encoding/json"
	"testing"
)

func TestRefIDBareString(t *testing.T) {
	raw, _ := rawObject(json.RawMessage(`{"customer":"cus_123"}`))
	if got := refID(raw, "customer"); got != "cus_123" {
		t.Errorf("refID() = %q, want cus_123", got)
	}
}

func TestRefIDExpandedObject(t *testing.T) {
	raw, _ := rawObject(json.RawMessage(`{"customer":{"id":"cus_456","object":"customer"}}`))
	if got := refID(raw, "customer"); got != "cus_456" {
		t.Errorf("refID() = %q, want cus_456", got)
	}
}

func TestRefIDMissingField(t *testing.T) {
	raw, _ := rawObject(json.RawMessage(`{}`))
	if got := refID(raw, "customer"); got != "" {
		t.Errorf("refID() = %q, want empty", got)
	}
}

func TestRefIDNullField(t *testing.T) {
	raw, _ := rawObject(json.RawMessage(`{"customer":null}`))
	if got := refID(raw, "customer"); got != "" {
		t.Errorf("refID() = %q, want empty", got)
	}
}

func TestFlattenPriceRefExpandedObject(t *testing.T) {
	raw := json.RawMessage(`{"id":"si_1","price":{"id":"price_1","object":"price"},"quantity":1}`)
	flat, err := flattenPriceRef(raw)
	if err != nil {
		t.Fatalf("flattenPriceRef() error = %v", err)
	}
	if got := refID(flat, "price"); got != "price_1" {
		t.Errorf("price = %q, want price_1", got)
	}
	if got := refID(flat, "id"); got != "si_1" {
		t.Errorf("id = %q, want si_1", got)
	}
}

func TestReadListHasMore(t *testing.T) {
	raw, _ := rawObject(json.RawMessage(`{"lines":{"data":[{"id":"li_1"}],"has_more":true}}`))
	env, ok := readList(raw, "lines")
	if !ok {
		t.Fatal("readList() ok = false, want true")
	}
	if !env.HasMore {
		t.Error("HasMore = false, want true")
	}
	if len(env.Data) != 1 {
		t.Errorf("len(Data) = %d, want 1", len(env.Data))
	}
}

func TestDedupePreservesOrderAndDropsBlanks(t *testing.T) {
	got := dedupe([]string{"a", "", "b", "a", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("dedupe() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dedupe()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
