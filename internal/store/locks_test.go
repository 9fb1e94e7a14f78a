package store

import "testing"

func TestHashKeyDeterministic(t *testing.T) {
	a := HashKey("webhook:acct_A:https://example.com/hooks")
	b := HashKey("webhook:acct_A:https://example.com/hooks")
	if a != b {
		t.Errorf("HashKey not deterministic: %d != %d", a, b)
	}
}

func TestHashKeyDiffers(t *testing.T) {
	a := HashKey("webhook:acct_A:https://example.com/hooks")
	b := HashKey("webhook:acct_B:https://example.com/hooks")
	if a == b {
		t.Error("different keys hashed to the same lock id")
	}
}

func TestHashKeyMatchesDocumentedAlgorithm(t *testing.T) {
	var want int32
	for _, c := range "acct_A" {
		want = (want << 5) - want + int32(c)
	}
	if got := HashKey("acct_A"); got != want {
		t.Errorf("HashKey(%q) = %d, want %d", "acct_A", got, want)
	}
}
