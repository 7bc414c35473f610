package crdt

import (
	"encoding/json"
	"math/rand"
	"sort"
	"time"
)

const (
	// logootBase bounds the digits of one identifier level.
	logootBase = 1 << 16

	// logootBoundary caps how far past the left neighbour a new digit is
	// placed, leaving room for later inserts to its right.
	logootBoundary = 10
)

// Logoot orders atoms by dense, variable-length positions. A new position is
// interpolated between its neighbours, descending one level whenever the
// current level has no free digit, so allocation between two positions always
// succeeds.
type Logoot[T any] struct {
	clock      *Clock
	rand       *rand.Rand
	atoms      []LogootAtom[T]
	index      map[AtomID]int
	tombstones tombstones
}

// Identifier is one level of a position.
type Identifier struct {
	Digit   uint16    `json:"digit"`
	Replica ReplicaID `json:"replica"`
	Clock   uint64    `json:"clock"`
}

// Compare orders identifiers by digit, then replica, then clock.
func (i Identifier) Compare(other Identifier) int {
	switch {
	case i.Digit < other.Digit:
		return -1
	case i.Digit > other.Digit:
		return +1
	case i.Replica < other.Replica:
		return -1
	case i.Replica > other.Replica:
		return +1
	case i.Clock < other.Clock:
		return -1
	case i.Clock > other.Clock:
		return +1
	}
	return 0
}

// Position represents a position in the document. The last identifier
// carries the id of the atom that allocated it.
type Position []Identifier

// Compare orders positions lexicographically; a prefix sorts first.
func (p Position) Compare(q Position) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		if c := p[i].Compare(q[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(q):
		return -1
	case len(p) > len(q):
		return +1
	}
	return 0
}

// LogootAtom is one element of a Logoot document.
type LogootAtom[T any] struct {
	Position Position `json:"position"`
	Value    T        `json:"value"`
}

// ID returns the id of the atom, taken from its last identifier.
func (a LogootAtom[T]) ID() AtomID {
	last := a.Position[len(a.Position)-1]
	return AtomID{Time: last.Clock, Replica: last.Replica}
}

// LogootState is the serializable state of a Logoot document.
type LogootState[T any] struct {
	Atoms      []LogootAtom[T] `json:"atoms"`
	Tombstones []AtomID        `json:"tombstones,omitempty"`
}

func NewLogoot[T any](clock *Clock) *Logoot[T] {
	return &Logoot[T]{
		clock:      clock,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		index:      make(map[AtomID]int),
		tombstones: newTombstones(),
	}
}

func (l *Logoot[T]) reindex() {
	l.index = make(map[AtomID]int, len(l.atoms))
	for i, a := range l.atoms {
		l.index[a.ID()] = i
	}
}

// between returns a position strictly between p and q, either of which may be
// nil for the start or end of the document. Digit zero is only ever used as a
// filler followed by a deeper level, so no position ends in it and there is
// always a free digit below any existing identifier.
func (l *Logoot[T]) between(p, q Position, id AtomID) Position {
	var out Position
	bounded := q != nil
	for depth := 0; ; depth++ {
		lo := 0
		if depth < len(p) {
			lo = int(p[depth].Digit)
		}
		hi := logootBase
		if bounded {
			hi = int(q[depth].Digit)
		}

		if hi-lo > 1 {
			step := hi - lo - 1
			if step > logootBoundary {
				step = logootBoundary
			}
			digit := lo + 1 + l.rand.Intn(step)
			return append(out, Identifier{Digit: uint16(digit), Replica: id.Replica, Clock: id.Time})
		}

		var next Identifier
		switch {
		case depth < len(p):
			next = p[depth]
		case bounded && hi == 0:
			// p is a prefix of q and q holds a filler here; follow it down.
			next = q[depth]
		default:
			next = Identifier{Digit: uint16(lo), Replica: id.Replica, Clock: id.Time}
		}
		out = append(out, next)
		if bounded && next.Compare(q[depth]) != 0 {
			bounded = false
		}
	}
}

func (l *Logoot[T]) visibleSlot(index int) int {
	count := 0
	for i, a := range l.atoms {
		if l.tombstones.Contains(a.ID()) {
			continue
		}
		if count == index {
			return i
		}
		count++
	}
	return -1
}

// Insert interpolates a position between the visible atom at index-1 and the
// atom following it in the full order.
func (l *Logoot[T]) Insert(index int, value T) (AtomID, error) {
	if index < 0 {
		return AtomID{}, ErrPositionOutOfBounds
	}
	slot := 0
	if index > 0 {
		slot = l.visibleSlot(index - 1)
		if slot == -1 {
			return AtomID{}, ErrPositionOutOfBounds
		}
		slot++
	}

	var p, q Position
	if slot > 0 {
		p = l.atoms[slot-1].Position
	}
	if slot < len(l.atoms) {
		q = l.atoms[slot].Position
	}

	id := l.clock.Now()
	l.Integrate(LogootAtom[T]{Position: l.between(p, q, id), Value: value})
	return id, nil
}

// Integrate adds a remote atom at its position.
func (l *Logoot[T]) Integrate(atom LogootAtom[T]) {
	if len(atom.Position) == 0 {
		return
	}
	id := atom.ID()
	if _, ok := l.index[id]; ok {
		return
	}
	l.clock.Observe(id)

	i := sort.Search(len(l.atoms), func(i int) bool {
		return l.atoms[i].Position.Compare(atom.Position) > 0
	})
	l.atoms = append(l.atoms, LogootAtom[T]{})
	copy(l.atoms[i+1:], l.atoms[i:])
	l.atoms[i] = atom
	l.reindex()
}

func (l *Logoot[T]) Delete(id AtomID) {
	l.tombstones.Add(id)
}

func (l *Logoot[T]) At(index int) (AtomID, bool) {
	i := l.visibleSlot(index)
	if i == -1 {
		return AtomID{}, false
	}
	return l.atoms[i].ID(), true
}

// PositionOf returns the position of a known atom.
func (l *Logoot[T]) PositionOf(id AtomID) (Position, bool) {
	i, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return l.atoms[i].Position, true
}

func (l *Logoot[T]) ToSequence() []T {
	values := make([]T, 0, len(l.atoms))
	for _, a := range l.atoms {
		if !l.tombstones.Contains(a.ID()) {
			values = append(values, a.Value)
		}
	}
	return values
}

func (l *Logoot[T]) Len() int {
	n := 0
	for _, a := range l.atoms {
		if !l.tombstones.Contains(a.ID()) {
			n++
		}
	}
	return n
}

func (l *Logoot[T]) Version() VersionVector {
	v := make(VersionVector)
	for _, a := range l.atoms {
		v.Observe(a.ID())
	}
	for _, id := range l.tombstones.ToSlice() {
		v.Observe(id)
	}
	return v
}

func (l *Logoot[T]) State() LogootState[T] {
	return LogootState[T]{
		Atoms:      append([]LogootAtom[T](nil), l.atoms...),
		Tombstones: l.tombstones.sorted(),
	}
}

// Delta returns a state holding only the given atoms and their tombstones.
func (l *Logoot[T]) Delta(ids ...AtomID) LogootState[T] {
	var state LogootState[T]
	for _, id := range ids {
		if i, ok := l.index[id]; ok {
			state.Atoms = append(state.Atoms, l.atoms[i])
		}
		if l.tombstones.Contains(id) {
			state.Tombstones = append(state.Tombstones, id)
		}
	}
	sort.Slice(state.Atoms, func(i, j int) bool { return state.Atoms[i].Position.Compare(state.Atoms[j].Position) < 0 })
	sortTimestamps(state.Tombstones)
	return state
}

func (l *Logoot[T]) MergeState(s LogootState[T]) {
	for _, a := range s.Atoms {
		l.Integrate(a)
	}
	for _, id := range s.Tombstones {
		l.clock.Observe(id)
		l.tombstones.Add(id)
	}
}

func (l *Logoot[T]) Merge(other *Logoot[T]) {
	l.MergeState(other.State())
}

func (l *Logoot[T]) Clone() *Logoot[T] {
	clone := NewLogoot[T](l.clock)
	clone.Merge(l)
	return clone
}

func (l *Logoot[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.State())
}

func (l *Logoot[T]) MarshalDelta(ids ...AtomID) ([]byte, error) {
	return json.Marshal(l.Delta(ids...))
}

func (l *Logoot[T]) MergeJSON(data []byte) error {
	var s LogootState[T]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	l.MergeState(s)
	return nil
}
