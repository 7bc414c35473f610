/*
Package crdt implements conflict-free replicated data types: counters,
registers, sets and four sequence variants plus a causal tree.

Every type is a plain in-memory value owned by a single local writer. Replicas
mutate their own instance and exchange states (or deltas, which are just small
states); MergeState is commutative, associative and idempotent, so replicas that
have seen the same updates converge regardless of delivery order or duplication.

Nothing in this package synchronizes access. Wrap an instance in a single owner
(see package replica) when more than one goroutine needs it.

Globally unique tags and atom ids are a precondition, not something merge can
detect: two replicas minting the same Tag or sharing a ReplicaID will silently
diverge.
*/
package crdt

import (
	"errors"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	ErrPositionOutOfBounds = errors.New("position out of bounds")
	ErrUnknownKind         = errors.New("unknown crdt kind")
)

// Replicated is the serialization pair every CRDT exposes. MarshalJSON encodes
// the full state; MergeJSON merges an encoded state or delta into the receiver.
type Replicated interface {
	MarshalJSON() ([]byte, error)
	MergeJSON(data []byte) error
}

// Sequence is the contract shared by the ordered collections.
type Sequence[T any] interface {
	Replicated

	// Insert places value so that it becomes the element at index.
	Insert(index int, value T) (AtomID, error)
	// Delete tombstones the atom. Unknown atoms are remembered so a later
	// insert of the same atom stays hidden.
	Delete(id AtomID)
	// At returns the id of the visible atom at index.
	At(index int) (AtomID, bool)
	// ToSequence returns the visible values in order.
	ToSequence() []T
	// Len returns the number of visible values.
	Len() int
	// Version returns the highest atom time seen per replica.
	Version() VersionVector
	// MarshalDelta encodes a state restricted to the given atoms.
	MarshalDelta(ids ...AtomID) ([]byte, error)
}

// Kind names a CRDT variant on the wire.
type Kind string

const (
	KindGCounter   Kind = "gcounter"
	KindPNCounter  Kind = "pncounter"
	KindLWW        Kind = "lww"
	KindMVRegister Kind = "mvregister"
	KindORSet      Kind = "orset"
	KindLWWSet     Kind = "lwwset"
	KindRGA        Kind = "rga"
	KindWOOT       Kind = "woot"
	KindTreedoc    Kind = "treedoc"
	KindLogoot     Kind = "logoot"
	KindCausalTree Kind = "causaltree"
)

// SequenceKinds lists the kinds accepted by NewTextSequence.
var SequenceKinds = []Kind{KindRGA, KindWOOT, KindTreedoc, KindLogoot, KindCausalTree}

// NewTextSequence returns an empty text sequence of the given kind.
func NewTextSequence(kind Kind, clock *Clock) (Sequence[string], error) {
	switch kind {
	case KindRGA:
		return NewRGA[string](clock), nil
	case KindWOOT:
		return NewWOOT[string](clock), nil
	case KindTreedoc:
		return NewTreedoc[string](clock), nil
	case KindLogoot:
		return NewLogoot[string](clock), nil
	case KindCausalTree:
		return NewCausalTree[string](clock), nil
	}
	return nil, ErrUnknownKind
}

// Content joins the visible values of a text sequence.
func Content(s Sequence[string]) string {
	var b strings.Builder
	for _, v := range s.ToSequence() {
		b.WriteString(v)
	}
	return b.String()
}

// tombstones is the grow-only set of deleted atoms shared by the sequences.
// The owning sequence serializes access, so the set does not lock.
type tombstones struct {
	mapset.Set[AtomID]
}

func newTombstones() tombstones {
	return tombstones{mapset.NewThreadUnsafeSet[AtomID]()}
}

// sorted returns the deleted ids in timestamp order.
func (t tombstones) sorted() []AtomID {
	ids := t.ToSlice()
	sortTimestamps(ids)
	return ids
}
