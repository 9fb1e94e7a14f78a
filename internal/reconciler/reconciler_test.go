package reconciler

import (
	"testing"

	"github.com/stripe/stripe-go/v76"
)

func TestNormalizeManagedBy(t *testing.T) {
	cases := map[string]string{
		"stripe-sync": "stripesync",
		"Stripe Sync": "stripesync",
		"STRIPE-SYNC": "stripesync",
		"stripe_sync": "stripe_sync",
	}
	for in, want := range cases {
		if got := normalizeManagedBy(in); got != want {
			t.Errorf("normalizeManagedBy(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsManagedByThisEngineMetadata(t *testing.T) {
	ep := &stripe.WebhookEndpoint{Metadata: map[string]string{"managed_by": "stripe-sync"}}
	if !isManagedByThisEngine(ep) {
		t.Error("expected metadata-tagged endpoint to be recognized as managed")
	}
}

func TestIsManagedByThisEngineLegacyDescription(t *testing.T) {
	ep := &stripe.WebhookEndpoint{Description: "managed by StripeSync v1"}
	if !isManagedByThisEngine(ep) {
		t.Error("expected legacy description marker to be recognized as managed")
	}
}

func TestIsManagedByThisEngineUnrelated(t *testing.T) {
	ep := &stripe.WebhookEndpoint{Description: "manually configured by ops"}
	if isManagedByThisEngine(ep) {
		t.Error("expected unrelated endpoint not to be recognized as managed")
	}
}
