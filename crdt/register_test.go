package crdt

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestLWWDeterminism writes at the same time on two replicas and merges in
// both directions; the replica id breaks the tie identically on both sides.
func TestLWWDeterminism(t *testing.T) {
	a := NewLWWRegister[string](NewClock("A"))
	b := NewLWWRegister[string](NewClock("B"))

	a.SetAt("a", Timestamp{Time: 1, Replica: "A"})
	b.SetAt("b", Timestamp{Time: 1, Replica: "B"})

	aState, bState := a.State(), b.State()
	a.MergeState(bState)
	b.MergeState(aState)

	if a.Get() != b.Get() {
		t.Fatalf("replicas diverged: %q vs %q\n", a.Get(), b.Get())
	}
	if a.Get() != "b" {
		t.Errorf("got != want; got = %v, expected = %v\n", a.Get(), "b")
	}
}

func TestLWWLaterWriteWins(t *testing.T) {
	clockA, clockB := NewClock("A"), NewClock("B")
	a := NewLWWRegister[int](clockA)
	b := NewLWWRegister[int](clockB)

	a.Set(1)
	b.Merge(a)
	b.Set(2) // causally after a's write

	a.Merge(b)
	if a.Get() != 2 {
		t.Errorf("got != want; got = %v, expected = %v\n", a.Get(), 2)
	}

	// Re-merging an old state is a no-op.
	stale := NewLWWRegister[int](NewClock("C"))
	stale.SetAt(9, Timestamp{Time: 1, Replica: "A"})
	a.Merge(stale)
	if a.Get() != 2 {
		t.Errorf("stale merge changed the value to %v\n", a.Get())
	}
}

func TestLWWEmptyStateIgnored(t *testing.T) {
	r := NewLWWRegister[string](NewClock("A"))
	r.Set("x")
	r.MergeState(LWWState[string]{})
	if r.Get() != "x" {
		t.Errorf("got != want; got = %v, expected = %v\n", r.Get(), "x")
	}
}

func sortedStrings(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

// TestMVRegisterConcurrent keeps both concurrent writes.
func TestMVRegisterConcurrent(t *testing.T) {
	a, b := NewMVRegister[string](), NewMVRegister[string]()
	a.Set("red")
	b.Set("blue")

	a.Merge(b)
	b.Merge(a)

	want := []string{"blue", "red"}
	for _, r := range []*MVRegister[string]{a, b} {
		if got := sortedStrings(r.GetAll()); !cmp.Equal(got, want) {
			t.Errorf("got != want; diff = %v\n", cmp.Diff(got, want))
		}
	}
	if !cmp.Equal(a.State(), b.State()) {
		t.Errorf("replicas diverged; diff = %v\n", cmp.Diff(a.State(), b.State()))
	}
}

// TestMVRegisterOverwrite checks that a value overwritten at one replica does
// not come back when merged with a replica still holding it.
func TestMVRegisterOverwrite(t *testing.T) {
	a, b := NewMVRegister[string](), NewMVRegister[string]()
	a.Set("draft")
	b.Merge(a)

	b.Set("final")
	a.Merge(b)

	want := []string{"final"}
	if got := a.GetAll(); !cmp.Equal(got, want) {
		t.Errorf("got != want; diff = %v\n", cmp.Diff(got, want))
	}

	// Local writes dominate everything seen so far, including merged values.
	a.Set("published")
	b.Merge(a)
	if got := b.GetAll(); !cmp.Equal(got, []string{"published"}) {
		t.Errorf("got != want; got = %v\n", got)
	}
}

func TestMVRegisterJSON(t *testing.T) {
	src := NewMVRegister[int]()
	src.Set(1)
	src.Set(2)

	data, err := src.MarshalJSON()
	if err != nil {
		t.Fatalf("error: %v\n", err)
	}
	dst := NewMVRegister[int]()
	if err := dst.MergeJSON(data); err != nil {
		t.Fatalf("error: %v\n", err)
	}
	if !cmp.Equal(dst.State(), src.State()) {
		t.Errorf("got != want; diff = %v\n", cmp.Diff(dst.State(), src.State()))
	}
}
