package store

import "testing"

func TestIsNumericCursor(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"1700000200", true},
		{"0", true},
		{"", false},
		{"cn_1", false},
		{"17a", false},
	}
	for _, c := range cases {
		if got := isNumericCursor(c.in); got != c.want {
			t.Errorf("isNumericCursor(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestCursorGreaterNumeric(t *testing.T) {
	if !cursorGreater("1700000500", "1700000400") {
		t.Error("expected 1700000500 > 1700000400 numerically")
	}
	if cursorGreater("1700000400", "1700000500") {
		t.Error("expected 1700000400 not greater than 1700000500")
	}
	// Byte-lexicographic comparison would reverse this: "9" > "10".
	if cursorGreater("9", "10") {
		t.Error("numeric comparison should treat 10 as greater than 9")
	}
}

func TestCursorGreaterLexicographic(t *testing.T) {
	if !cursorGreater("cn_2", "cn_1") {
		t.Error("expected cn_2 > cn_1 lexicographically")
	}
}

func TestAggregateMaxCursorAllNumeric(t *testing.T) {
	got, ok := aggregateMaxCursor([]string{"100", "9", "50"})
	if !ok || got != "100" {
		t.Errorf("aggregateMaxCursor numeric = (%q, %v), want (100, true)", got, ok)
	}
}

func TestAggregateMaxCursorMixedFallsBackToLexicographic(t *testing.T) {
	// A mixed history (some runs numeric, one non-numeric) must fall
	// back to lexicographic order across the whole aggregation.
	got, ok := aggregateMaxCursor([]string{"9", "100", "cn_1"})
	if !ok {
		t.Fatal("expected an aggregate result")
	}
	// Lexicographically "cn_1" > "9" > "100".
	if got != "cn_1" {
		t.Errorf("aggregateMaxCursor mixed = %q, want cn_1", got)
	}
}

func TestAggregateMaxCursorEmpty(t *testing.T) {
	if _, ok := aggregateMaxCursor(nil); ok {
		t.Error("expected no result for empty cursor history")
	}
}
