package streamlog

import "testing"

func TestParseEntryID(t *testing.T) {
	id, err := ParseEntryID("1712345678901-7")
	if err != nil {
		t.Fatalf("ParseEntryID failed: %v", err)
	}
	if id.Ms != 1712345678901 || id.Seq != 7 {
		t.Errorf("Unexpected parse result: %+v", id)
	}
	if id.String() != "1712345678901-7" {
		t.Errorf("Round trip mismatch: %s", id.String())
	}
}

func TestParseEntryIDRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "123", "abc-1", "1-xyz", "1-2-3"} {
		if _, err := ParseEntryID(raw); err == nil {
			t.Errorf("Expected error for %q", raw)
		}
	}
}

func TestCompareEntryIDs(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1-0", "1-0", 0},
		{"1-0", "1-1", -1},
		{"1-1", "1-0", 1},
		{"1-9", "2-0", -1},
		{"10-0", "9-99", 1},
		{"bogus", "1-0", -1},
		{"1-0", "bogus", 1},
	}
	for _, c := range cases {
		if got := CompareEntryIDs(c.a, c.b); got != c.want {
			t.Errorf("CompareEntryIDs(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
