package backfill

import (
	"encoding/json"
	"testing"
)

func TestMaxCreatedTimestamp(t *testing.T) {
	items := []json.RawMessage{
		[]byte(`{"id":"a","created":100}`),
		[]byte(`{"id":"b","created":300}`),
		[]byte(`{"id":"c","created":200}`),
	}
	if got := maxCreatedTimestamp(items); got != 300 {
		t.Errorf("maxCreatedTimestamp() = %d, want 300", got)
	}
}

func TestMaxCreatedTimestampEmpty(t *testing.T) {
	if got := maxCreatedTimestamp(nil); got != 0 {
		t.Errorf("maxCreatedTimestamp(nil) = %d, want 0", got)
	}
}

func TestLastItemID(t *testing.T) {
	items := []json.RawMessage{
		[]byte(`{"id":"a"}`),
		[]byte(`{"id":"b"}`),
	}
	got, err := lastItemID(items)
	if err != nil {
		t.Fatalf("lastItemID() error = %v", err)
	}
	if got != "b" {
		t.Errorf("lastItemID() = %q, want b", got)
	}
}

func TestLastItemIDEmptyPage(t *testing.T) {
	if _, err := lastItemID(nil); err == nil {
		t.Error("expected error for empty page")
	}
}

func TestSigmaValueGreaterNumeric(t *testing.T) {
	if !sigmaValueGreater("10", "9", true) {
		t.Error("expected 10 > 9 under numeric comparison")
	}
	if sigmaValueGreater("9", "10", true) {
		t.Error("expected 9 not > 10 under numeric comparison")
	}
}

func TestSigmaValueGreaterLexicographic(t *testing.T) {
	if sigmaValueGreater("10", "9", false) {
		t.Error("expected \"10\" not > \"9\" lexicographically")
	}
	if !sigmaValueGreater("9", "10", false) {
		t.Error("expected \"9\" > \"10\" lexicographically")
	}
}
