package stripeclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
)

func newTestClient() *Client {
	return &Client{
		maxRetries:   3,
		initialDelay: time.Millisecond,
		maxDelay:     5 * time.Millisecond,
	}
}

func TestIsResourceMissing(t *testing.T) {
	err := &stripe.Error{Code: stripe.ErrorCodeResourceMissing}
	if !isResourceMissing(err) {
		t.Error("expected resource_missing error to be detected")
	}

	other := &stripe.Error{Code: stripe.ErrorCodeRateLimit}
	if isResourceMissing(other) {
		t.Error("rate_limit error misclassified as resource_missing")
	}

	if isResourceMissing(errors.New("boom")) {
		t.Error("non-stripe error misclassified as resource_missing")
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	c := newTestClient()
	attempts := 0

	err := c.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do returned error after eventual success: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoDoesNotRetryResourceMissing(t *testing.T) {
	c := newTestClient()
	attempts := 0

	err := c.Do(context.Background(), func() error {
		attempts++
		return &stripe.Error{Code: stripe.ErrorCodeResourceMissing}
	})

	if !errors.Is(err, ErrResourceMissing) {
		t.Fatalf("expected ErrResourceMissing, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on resource_missing)", attempts)
	}
}

func TestDoExhaustsRetriesAndPropagates(t *testing.T) {
	c := newTestClient()
	attempts := 0

	err := c.Do(context.Background(), func() error {
		attempts++
		return errors.New("still failing")
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != c.maxRetries+1 {
		t.Errorf("attempts = %d, want %d", attempts, c.maxRetries+1)
	}
}
