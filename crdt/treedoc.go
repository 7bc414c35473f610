package crdt

import (
	"encoding/json"
	"sort"
)

// Treedoc orders atoms by their position in an unbounded binary tree read in
// infix order. A position is a path of branch selectors; each step also
// carries the id of the atom that took it, which orders atoms that picked the
// same branch concurrently. Between any two positions there is always room: the
// new atom becomes the right child of its left neighbour or the left child of
// its right neighbour.
type Treedoc[T any] struct {
	clock      *Clock
	atoms      []TreedocAtom[T]
	index      map[AtomID]int
	tombstones tombstones
}

// Branch selects the left or right subtree.
type Branch uint8

const (
	Left Branch = iota
	Right
)

// TreedocStep is one edge on a path: a branch and the disambiguator of the
// atom that sits at the end of it.
type TreedocStep struct {
	Branch Branch `json:"b"`
	Dis    AtomID `json:"d"`
}

// TreedocPath is the position of an atom; its last step names the atom itself.
type TreedocPath []TreedocStep

// Compare returns the infix order of two paths.
func (p TreedocPath) Compare(q TreedocPath) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		if p[i].Branch != q[i].Branch {
			if p[i].Branch < q[i].Branch {
				return -1
			}
			return +1
		}
		if c := p[i].Dis.Compare(q[i].Dis); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(q):
		// q lives in p's subtree.
		if q[len(p)].Branch == Left {
			return +1
		}
		return -1
	case len(p) > len(q):
		if p[len(q)].Branch == Left {
			return -1
		}
		return +1
	}
	return 0
}

// isAncestorOf reports whether q lies strictly inside p's subtree.
func (p TreedocPath) isAncestorOf(q TreedocPath) bool {
	if len(p) >= len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

func (p TreedocPath) child(b Branch, id AtomID) TreedocPath {
	path := make(TreedocPath, len(p), len(p)+1)
	copy(path, p)
	return append(path, TreedocStep{Branch: b, Dis: id})
}

// TreedocAtom is one element of a Treedoc.
type TreedocAtom[T any] struct {
	Path  TreedocPath `json:"path"`
	Value T           `json:"value"`
}

// ID returns the disambiguator of the atom's own step.
func (a TreedocAtom[T]) ID() AtomID {
	return a.Path[len(a.Path)-1].Dis
}

// TreedocState is the serializable state of a Treedoc.
type TreedocState[T any] struct {
	Atoms      []TreedocAtom[T] `json:"atoms"`
	Tombstones []AtomID         `json:"tombstones,omitempty"`
}

func NewTreedoc[T any](clock *Clock) *Treedoc[T] {
	return &Treedoc[T]{
		clock:      clock,
		index:      make(map[AtomID]int),
		tombstones: newTombstones(),
	}
}

func (t *Treedoc[T]) reindex() {
	t.index = make(map[AtomID]int, len(t.atoms))
	for i, a := range t.atoms {
		t.index[a.ID()] = i
	}
}

// visibleIndex maps a visible index to its slot in atoms; index == Len()
// maps to len(atoms).
func (t *Treedoc[T]) visibleIndex(index int) int {
	count := 0
	for i, a := range t.atoms {
		if t.tombstones.Contains(a.ID()) {
			continue
		}
		if count == index {
			return i
		}
		count++
	}
	if count == index {
		return len(t.atoms)
	}
	return -1
}

// allocate returns a path strictly between the atoms at slots i-1 and i.
func (t *Treedoc[T]) allocate(i int, id AtomID) TreedocPath {
	var left, right TreedocPath
	if i > 0 {
		left = t.atoms[i-1].Path
	}
	if i < len(t.atoms) {
		right = t.atoms[i].Path
	}

	switch {
	case right == nil:
		// The clock is ahead of every id seen, so a new top-level right
		// step sorts after everything known.
		return TreedocPath{{Branch: Right, Dis: id}}
	case left == nil || left.isAncestorOf(right):
		return right.child(Left, id)
	default:
		return left.child(Right, id)
	}
}

// Insert allocates a position between the visible atoms at index-1 and index,
// adjacent to the former in the full order.
func (t *Treedoc[T]) Insert(index int, value T) (AtomID, error) {
	if index < 0 {
		return AtomID{}, ErrPositionOutOfBounds
	}
	slot := 0
	if index > 0 {
		slot = t.visibleIndex(index - 1)
		if slot == -1 || slot == len(t.atoms) {
			return AtomID{}, ErrPositionOutOfBounds
		}
		slot++
	}

	id := t.clock.Now()
	atom := TreedocAtom[T]{Path: t.allocate(slot, id), Value: value}
	t.Integrate(atom)
	return id, nil
}

// Integrate adds a remote atom at its position.
func (t *Treedoc[T]) Integrate(atom TreedocAtom[T]) {
	if len(atom.Path) == 0 {
		return
	}
	id := atom.ID()
	if _, ok := t.index[id]; ok {
		return
	}
	t.clock.Observe(id)

	i := sort.Search(len(t.atoms), func(i int) bool {
		return t.atoms[i].Path.Compare(atom.Path) > 0
	})
	t.atoms = append(t.atoms, TreedocAtom[T]{})
	copy(t.atoms[i+1:], t.atoms[i:])
	t.atoms[i] = atom
	t.reindex()
}

func (t *Treedoc[T]) Delete(id AtomID) {
	t.tombstones.Add(id)
}

func (t *Treedoc[T]) At(index int) (AtomID, bool) {
	i := t.visibleIndex(index)
	if i < 0 || i == len(t.atoms) {
		return AtomID{}, false
	}
	return t.atoms[i].ID(), true
}

// PathOf returns the position of a known atom.
func (t *Treedoc[T]) PathOf(id AtomID) (TreedocPath, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.atoms[i].Path, true
}

func (t *Treedoc[T]) ToSequence() []T {
	values := make([]T, 0, len(t.atoms))
	for _, a := range t.atoms {
		if !t.tombstones.Contains(a.ID()) {
			values = append(values, a.Value)
		}
	}
	return values
}

func (t *Treedoc[T]) Len() int {
	n := 0
	for _, a := range t.atoms {
		if !t.tombstones.Contains(a.ID()) {
			n++
		}
	}
	return n
}

func (t *Treedoc[T]) Version() VersionVector {
	v := make(VersionVector)
	for _, a := range t.atoms {
		v.Observe(a.ID())
	}
	for _, id := range t.tombstones.ToSlice() {
		v.Observe(id)
	}
	return v
}

func (t *Treedoc[T]) State() TreedocState[T] {
	return TreedocState[T]{
		Atoms:      append([]TreedocAtom[T](nil), t.atoms...),
		Tombstones: t.tombstones.sorted(),
	}
}

// Delta returns a state holding only the given atoms and their tombstones.
func (t *Treedoc[T]) Delta(ids ...AtomID) TreedocState[T] {
	var state TreedocState[T]
	for _, id := range ids {
		if i, ok := t.index[id]; ok {
			state.Atoms = append(state.Atoms, t.atoms[i])
		}
		if t.tombstones.Contains(id) {
			state.Tombstones = append(state.Tombstones, id)
		}
	}
	sort.Slice(state.Atoms, func(i, j int) bool { return state.Atoms[i].Path.Compare(state.Atoms[j].Path) < 0 })
	sortTimestamps(state.Tombstones)
	return state
}

// MergeState inserts every unknown atom at its position and unions the
// tombstones. Positions are self-describing, so arrival order is irrelevant.
func (t *Treedoc[T]) MergeState(s TreedocState[T]) {
	for _, a := range s.Atoms {
		t.Integrate(a)
	}
	for _, id := range s.Tombstones {
		t.clock.Observe(id)
		t.tombstones.Add(id)
	}
}

func (t *Treedoc[T]) Merge(other *Treedoc[T]) {
	t.MergeState(other.State())
}

func (t *Treedoc[T]) Clone() *Treedoc[T] {
	clone := NewTreedoc[T](t.clock)
	clone.Merge(t)
	return clone
}

func (t *Treedoc[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.State())
}

func (t *Treedoc[T]) MarshalDelta(ids ...AtomID) ([]byte, error) {
	return json.Marshal(t.Delta(ids...))
}

func (t *Treedoc[T]) MergeJSON(data []byte) error {
	var s TreedocState[T]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t.MergeState(s)
	return nil
}
