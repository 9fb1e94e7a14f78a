package registry

import "testing"

func buildTestRegistry() *Registry {
	r := New()
	for i, name := range []string{"product", "price", "customer", "subscription", "charge"} {
		name := name
		r.Register(Entry{
			Name:                  name,
			Order:                 i,
			SupportsCreatedFilter: true,
		})
	}
	return r
}

func TestOrderedNamesRespectsOrder(t *testing.T) {
	r := buildTestRegistry()
	got := r.OrderedNames()
	want := []string{"product", "price", "customer", "subscription", "charge"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OrderedNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCascadeDeleteOrderPushesCustomerLast(t *testing.T) {
	r := buildTestRegistry()
	order := r.CascadeDeleteOrder()

	if order[len(order)-1] != "customer" {
		t.Errorf("expected customer last in cascade order, got %v", order)
	}

	// Everything else should be the reverse of backfill order.
	wantPrefix := []string{"charge", "subscription", "price", "product"}
	for i, name := range wantPrefix {
		if order[i] != name {
			t.Errorf("CascadeDeleteOrder()[%d] = %q, want %q (full: %v)", i, order[i], name, order)
		}
	}
}

func TestGetMissingEntry(t *testing.T) {
	r := New()
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("expected Get to report missing entry")
	}
}
