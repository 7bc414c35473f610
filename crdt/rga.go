package crdt

import (
	"encoding/json"
	"sort"
)

// RGA is a replicated growable array. Each atom points at the atom it was
// inserted after, threading the atoms into a tree rooted at the head; siblings
// sort newest first, so a fresh insert lands right behind its anchor and
// concurrent inserts at one anchor order by timestamp.
type RGA[T any] struct {
	clock      *Clock
	atoms      map[AtomID]RGAAtom[T]
	children   map[AtomID][]AtomID
	tombstones tombstones

	// order caches the linearization of every reachable atom, tombstones
	// included; nil means it must be rebuilt.
	order []AtomID
}

// RGAAtom is one element of an RGA. A zero After anchors the atom at the head.
type RGAAtom[T any] struct {
	ID    AtomID `json:"id"`
	After AtomID `json:"after"`
	Value T      `json:"value"`
}

// RGAState is the serializable state of an RGA.
type RGAState[T any] struct {
	Atoms      []RGAAtom[T] `json:"atoms"`
	Tombstones []AtomID     `json:"tombstones,omitempty"`
}

func NewRGA[T any](clock *Clock) *RGA[T] {
	return &RGA[T]{
		clock:      clock,
		atoms:      make(map[AtomID]RGAAtom[T]),
		children:   make(map[AtomID][]AtomID),
		tombstones: newTombstones(),
	}
}

func (r *RGA[T]) linear() []AtomID {
	if r.order != nil {
		return r.order
	}
	order := make([]AtomID, 0, len(r.atoms))
	var walk func(AtomID)
	walk = func(parent AtomID) {
		for _, id := range r.children[parent] {
			order = append(order, id)
			walk(id)
		}
	}
	walk(AtomID{})
	r.order = order
	return order
}

func (r *RGA[T]) visible() []AtomID {
	var ids []AtomID
	for _, id := range r.linear() {
		if !r.tombstones.Contains(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Insert anchors the new atom after the visible atom at index-1.
func (r *RGA[T]) Insert(index int, value T) (AtomID, error) {
	visible := r.visible()
	if index < 0 || index > len(visible) {
		return AtomID{}, ErrPositionOutOfBounds
	}

	var after AtomID
	if index > 0 {
		after = visible[index-1]
	}

	atom := RGAAtom[T]{ID: r.clock.Now(), After: after, Value: value}
	r.Integrate(atom)
	return atom.ID, nil
}

// Integrate adds a remote atom. An atom whose anchor is still unknown stays
// out of the sequence until the anchor arrives.
func (r *RGA[T]) Integrate(atom RGAAtom[T]) {
	if _, ok := r.atoms[atom.ID]; ok {
		return
	}
	r.clock.Observe(atom.ID)
	r.atoms[atom.ID] = atom

	siblings := r.children[atom.After]
	i := sort.Search(len(siblings), func(i int) bool { return siblings[i].Less(atom.ID) })
	siblings = append(siblings, AtomID{})
	copy(siblings[i+1:], siblings[i:])
	siblings[i] = atom.ID
	r.children[atom.After] = siblings

	r.order = nil
}

func (r *RGA[T]) Delete(id AtomID) {
	r.tombstones.Add(id)
}

func (r *RGA[T]) At(index int) (AtomID, bool) {
	visible := r.visible()
	if index < 0 || index >= len(visible) {
		return AtomID{}, false
	}
	return visible[index], true
}

func (r *RGA[T]) ToSequence() []T {
	visible := r.visible()
	values := make([]T, len(visible))
	for i, id := range visible {
		values[i] = r.atoms[id].Value
	}
	return values
}

func (r *RGA[T]) Len() int {
	return len(r.visible())
}

func (r *RGA[T]) Version() VersionVector {
	v := make(VersionVector)
	for id := range r.atoms {
		v.Observe(id)
	}
	for _, id := range r.tombstones.ToSlice() {
		v.Observe(id)
	}
	return v
}

func (r *RGA[T]) State() RGAState[T] {
	state := RGAState[T]{
		Atoms:      make([]RGAAtom[T], 0, len(r.atoms)),
		Tombstones: r.tombstones.sorted(),
	}
	for _, atom := range r.atoms {
		state.Atoms = append(state.Atoms, atom)
	}
	sortRGAAtoms(state.Atoms)
	return state
}

func sortRGAAtoms[T any](atoms []RGAAtom[T]) {
	sort.Slice(atoms, func(i, j int) bool { return atoms[i].ID.Less(atoms[j].ID) })
}

// Delta returns a state holding only the given atoms and their tombstones.
// Ids of atoms not held locally are shipped as bare tombstones if deleted.
func (r *RGA[T]) Delta(ids ...AtomID) RGAState[T] {
	var state RGAState[T]
	for _, id := range ids {
		if atom, ok := r.atoms[id]; ok {
			state.Atoms = append(state.Atoms, atom)
		}
		if r.tombstones.Contains(id) {
			state.Tombstones = append(state.Tombstones, id)
		}
	}
	sortRGAAtoms(state.Atoms)
	sortTimestamps(state.Tombstones)
	return state
}

// MergeState integrates every unknown atom and unions the tombstones. Atoms are
// fed in timestamp order, which always places an anchor before its dependants.
func (r *RGA[T]) MergeState(s RGAState[T]) {
	atoms := append([]RGAAtom[T](nil), s.Atoms...)
	sortRGAAtoms(atoms)
	for _, atom := range atoms {
		r.Integrate(atom)
	}
	for _, id := range s.Tombstones {
		r.clock.Observe(id)
		r.tombstones.Add(id)
	}
}

func (r *RGA[T]) Merge(other *RGA[T]) {
	r.MergeState(other.State())
}

func (r *RGA[T]) Clone() *RGA[T] {
	clone := NewRGA[T](r.clock)
	clone.Merge(r)
	return clone
}

func (r *RGA[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.State())
}

func (r *RGA[T]) MarshalDelta(ids ...AtomID) ([]byte, error) {
	return json.Marshal(r.Delta(ids...))
}

func (r *RGA[T]) MergeJSON(data []byte) error {
	var s RGAState[T]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.MergeState(s)
	return nil
}
