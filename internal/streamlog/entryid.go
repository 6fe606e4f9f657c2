package streamlog

import (
	"fmt"
	"strconv"
	"strings"
)

// EntryID is a parsed stream entry identifier ("<ms>-<seq>"). IDs are
// assigned by the log, monotonic within a stream, and never reused.
type EntryID struct {
	Ms  int64
	Seq int64
}

// ParseEntryID parses a raw entry identifier.
func ParseEntryID(raw string) (EntryID, error) {
	ms, seq, ok := strings.Cut(raw, "-")
	if !ok {
		return EntryID{}, fmt.Errorf("invalid entry id %q", raw)
	}
	msVal, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("invalid entry id %q: %w", raw, err)
	}
	seqVal, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("invalid entry id %q: %w", raw, err)
	}
	return EntryID{Ms: msVal, Seq: seqVal}, nil
}

func (id EntryID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

// Compare returns -1, 0, or 1 in log order.
func (id EntryID) Compare(other EntryID) int {
	switch {
	case id.Ms < other.Ms:
		return -1
	case id.Ms > other.Ms:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// CompareEntryIDs compares two raw entry identifiers in log order.
// An unparsable id is treated as the lowest possible id, which makes a
// corrupted cursor fail safe toward re-application (the idempotent apply
// path tolerates duplicates, not gaps).
func CompareEntryIDs(a, b string) int {
	idA, errA := ParseEntryID(a)
	idB, errB := ParseEntryID(b)
	if errA != nil && errB != nil {
		return 0
	}
	if errA != nil {
		return -1
	}
	if errB != nil {
		return 1
	}
	return idA.Compare(idB)
}
