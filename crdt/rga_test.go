package crdt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestRGAConcurrentInsertSameAnchor places the newer of two concurrent inserts
// directly behind the shared anchor.
func TestRGAConcurrentInsertSameAnchor(t *testing.T) {
	a := NewRGA[string](NewClock("A"))
	b := NewRGA[string](NewClock("B"))

	a.Insert(0, "a")
	b.Merge(a)

	a.Insert(1, "x") // (2, A)
	b.Insert(1, "y") // (2, B), newer

	a.Merge(b)
	b.Merge(a)

	want := []string{"a", "y", "x"}
	for _, r := range []*RGA[string]{a, b} {
		if got := r.ToSequence(); !cmp.Equal(got, want) {
			t.Errorf("got != want; diff = %v\n", cmp.Diff(got, want))
		}
	}
}

// TestRGAOrphanAtom keeps an atom whose anchor is unknown out of the sequence
// until the anchor arrives.
func TestRGAOrphanAtom(t *testing.T) {
	a := NewRGA[string](NewClock("A"))
	first, _ := a.Insert(0, "a")
	second, _ := a.Insert(1, "b")

	b := NewRGA[string](NewClock("B"))
	b.MergeState(a.Delta(second))
	if b.Len() != 0 {
		t.Fatalf("orphan atom should not be visible\n")
	}

	b.MergeState(a.Delta(first))
	if got, want := b.ToSequence(), []string{"a", "b"}; !cmp.Equal(got, want) {
		t.Errorf("got != want; diff = %v\n", cmp.Diff(got, want))
	}
}

func TestRGAClone(t *testing.T) {
	a := NewRGA[string](NewClock("A"))
	a.Insert(0, "a")

	clone := a.Clone()
	clone.Insert(1, "b")

	if a.Len() != 1 || clone.Len() != 2 {
		t.Errorf("got = (%v, %v), expected = (1, 2)\n", a.Len(), clone.Len())
	}
}
