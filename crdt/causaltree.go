package crdt

import (
	"encoding/json"
	"sort"
)

// CausalTree stores each atom with the atom that caused it (its logical
// predecessor) and derives the sequence by weaving: a depth-first walk where
// an atom always follows its cause and atoms sharing a cause are ordered by
// timestamp, newest first. The weave is rebuilt after every mutation or merge.
type CausalTree[T any] struct {
	clock      *Clock
	atoms      map[AtomID]CausalAtom[T]
	tombstones tombstones
	weave      []AtomID
}

// CausalAtom is one atom of a causal tree. A nil Cause starts a new branch at
// the root.
type CausalAtom[T any] struct {
	ID    AtomID  `json:"id"`
	Cause *AtomID `json:"cause,omitempty"`
	Value T       `json:"value"`
}

// CausalTreeState is the serializable state of a CausalTree.
type CausalTreeState[T any] struct {
	Atoms      []CausalAtom[T] `json:"atoms"`
	Tombstones []AtomID        `json:"tombstones,omitempty"`
}

func NewCausalTree[T any](clock *Clock) *CausalTree[T] {
	return &CausalTree[T]{
		clock:      clock,
		atoms:      make(map[AtomID]CausalAtom[T]),
		tombstones: newTombstones(),
	}
}

// InsertAfter adds value as a child of cause, or as a new root branch when
// cause is nil, and returns the new atom's id.
func (t *CausalTree[T]) InsertAfter(cause *AtomID, value T) AtomID {
	atom := CausalAtom[T]{ID: t.clock.Now(), Value: value}
	if cause != nil {
		c := *cause
		atom.Cause = &c
	}
	t.Integrate(atom)
	return atom.ID
}

// Insert makes the visible atom at index-1 the cause of the new atom.
func (t *CausalTree[T]) Insert(index int, value T) (AtomID, error) {
	if index < 0 || index > t.Len() {
		return AtomID{}, ErrPositionOutOfBounds
	}
	if index == 0 {
		return t.InsertAfter(nil, value), nil
	}
	cause, _ := t.At(index - 1)
	return t.InsertAfter(&cause, value), nil
}

// Integrate adds a remote atom. Until its cause arrives the atom is not part
// of the weave.
func (t *CausalTree[T]) Integrate(atom CausalAtom[T]) {
	if !t.add(atom) {
		return
	}
	t.Weave()
}

func (t *CausalTree[T]) add(atom CausalAtom[T]) bool {
	if _, ok := t.atoms[atom.ID]; ok {
		return false
	}
	t.clock.Observe(atom.ID)
	t.atoms[atom.ID] = atom
	return true
}

// Delete tombstones the atom in place; it keeps its slot in the weave so its
// descendants stay anchored.
func (t *CausalTree[T]) Delete(id AtomID) {
	t.tombstones.Add(id)
}

// Weave re-linearizes all reachable atoms and returns the result, tombstones
// included.
func (t *CausalTree[T]) Weave() []AtomID {
	children := make(map[AtomID][]AtomID, len(t.atoms))
	var roots []AtomID
	for id, atom := range t.atoms {
		if atom.Cause == nil {
			roots = append(roots, id)
			continue
		}
		children[*atom.Cause] = append(children[*atom.Cause], id)
	}

	newestFirst := func(ids []AtomID) {
		sort.Slice(ids, func(i, j int) bool { return ids[j].Less(ids[i]) })
	}

	weave := make([]AtomID, 0, len(t.atoms))
	var walk func(ids []AtomID)
	walk = func(ids []AtomID) {
		newestFirst(ids)
		for _, id := range ids {
			weave = append(weave, id)
			walk(children[id])
		}
	}
	walk(roots)

	t.weave = weave
	return weave
}

func (t *CausalTree[T]) visible() []AtomID {
	var ids []AtomID
	for _, id := range t.weave {
		if !t.tombstones.Contains(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *CausalTree[T]) At(index int) (AtomID, bool) {
	visible := t.visible()
	if index < 0 || index >= len(visible) {
		return AtomID{}, false
	}
	return visible[index], true
}

// ToSequence reads the tombstone-filtered weave.
func (t *CausalTree[T]) ToSequence() []T {
	visible := t.visible()
	values := make([]T, len(visible))
	for i, id := range visible {
		values[i] = t.atoms[id].Value
	}
	return values
}

func (t *CausalTree[T]) Len() int {
	return len(t.visible())
}

func (t *CausalTree[T]) Version() VersionVector {
	v := make(VersionVector)
	for id := range t.atoms {
		v.Observe(id)
	}
	for _, id := range t.tombstones.ToSlice() {
		v.Observe(id)
	}
	return v
}

func (t *CausalTree[T]) State() CausalTreeState[T] {
	state := CausalTreeState[T]{
		Atoms:      make([]CausalAtom[T], 0, len(t.atoms)),
		Tombstones: t.tombstones.sorted(),
	}
	for _, atom := range t.atoms {
		state.Atoms = append(state.Atoms, atom)
	}
	sort.Slice(state.Atoms, func(i, j int) bool { return state.Atoms[i].ID.Less(state.Atoms[j].ID) })
	return state
}

// Delta returns a state holding only the given atoms and their tombstones.
func (t *CausalTree[T]) Delta(ids ...AtomID) CausalTreeState[T] {
	var state CausalTreeState[T]
	for _, id := range ids {
		if atom, ok := t.atoms[id]; ok {
			state.Atoms = append(state.Atoms, atom)
		}
		if t.tombstones.Contains(id) {
			state.Tombstones = append(state.Tombstones, id)
		}
	}
	sort.Slice(state.Atoms, func(i, j int) bool { return state.Atoms[i].ID.Less(state.Atoms[j].ID) })
	sortTimestamps(state.Tombstones)
	return state
}

// MergeState adds every unknown atom, unions the tombstones and reweaves once.
func (t *CausalTree[T]) MergeState(s CausalTreeState[T]) {
	for _, atom := range s.Atoms {
		t.add(atom)
	}
	for _, id := range s.Tombstones {
		t.clock.Observe(id)
		t.tombstones.Add(id)
	}
	t.Weave()
}

func (t *CausalTree[T]) Merge(other *CausalTree[T]) {
	t.MergeState(other.State())
}

func (t *CausalTree[T]) Clone() *CausalTree[T] {
	clone := NewCausalTree[T](t.clock)
	clone.Merge(t)
	return clone
}

func (t *CausalTree[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.State())
}

func (t *CausalTree[T]) MarshalDelta(ids ...AtomID) ([]byte, error) {
	return json.Marshal(t.Delta(ids...))
}

func (t *CausalTree[T]) MergeJSON(data []byte) error {
	var s CausalTreeState[T]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t.MergeState(s)
	return nil
}
