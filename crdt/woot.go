package crdt

import (
	"encoding/json"
	"errors"
	"sort"
)

// WOOT is a sequence without operational transformation. Each character
// remembers the neighbours it was generated between; integration scans the
// characters already known between those neighbours, which yields the same
// slot on every replica even under many concurrent inserts at one place.
//
// As per the paper, Data Consistency without Operational Transformation
// (https://hal.inria.fr/inria-00071240/document).
type WOOT[T any] struct {
	clock      *Clock
	characters []Character[T]
	positions  map[AtomID]int
	tombstones tombstones

	// pool holds remote characters whose neighbours are not known yet.
	pool map[AtomID]Character[T]
}

// Character represents a character in the document.
type Character[T any] struct {
	ID         AtomID `json:"id"`
	Visible    bool   `json:"visible"`
	Value      T      `json:"value"`
	IDPrevious AtomID `json:"prev"`
	IDNext     AtomID `json:"next"`
}

// WOOTState is the serializable state of a WOOT sequence.
type WOOTState[T any] struct {
	Characters []Character[T] `json:"characters"`
	Tombstones []AtomID       `json:"tombstones,omitempty"`
}

var (
	// CharacterStart is placed at the start.
	CharacterStart = AtomID{Replica: "start"}

	// CharacterEnd is placed at the end.
	CharacterEnd = AtomID{Replica: "end"}

	ErrBoundsNotPresent = errors.New("subsequence bound(s) not present")
)

// NewWOOT returns a document holding only the start and end characters.
func NewWOOT[T any](clock *Clock) *WOOT[T] {
	w := &WOOT[T]{
		clock: clock,
		characters: []Character[T]{
			{ID: CharacterStart, IDNext: CharacterEnd},
			{ID: CharacterEnd, IDPrevious: CharacterStart},
		},
		tombstones: newTombstones(),
		pool:       make(map[AtomID]Character[T]),
	}
	w.reindex()
	return w
}

func (w *WOOT[T]) reindex() {
	w.positions = make(map[AtomID]int, len(w.characters))
	for i, c := range w.characters {
		w.positions[c.ID] = i
	}
}

//////////////////////
// Utility functions
//////////////////////

// IthVisible returns the ith visible character (zero based).
func (w *WOOT[T]) IthVisible(i int) (Character[T], bool) {
	count := 0
	for _, c := range w.characters {
		if c.Visible {
			if count == i {
				return c, true
			}
			count++
		}
	}
	return Character[T]{}, false
}

// Position returns the index of the character in the full document,
// sentinels and tombstones included, or -1.
func (w *WOOT[T]) Position(id AtomID) int {
	if p, ok := w.positions[id]; ok {
		return p
	}
	return -1
}

// Contains checks if a character is present in the document.
func (w *WOOT[T]) Contains(id AtomID) bool {
	return w.Position(id) != -1
}

// Find returns the character with the given id.
func (w *WOOT[T]) Find(id AtomID) (Character[T], bool) {
	p := w.Position(id)
	if p == -1 {
		return Character[T]{}, false
	}
	return w.characters[p], true
}

// Subseq returns the characters strictly between the two bounds.
func (w *WOOT[T]) Subseq(start, end AtomID) ([]Character[T], error) {
	startPosition := w.Position(start)
	endPosition := w.Position(end)
	if startPosition == -1 || endPosition == -1 {
		return nil, ErrBoundsNotPresent
	}
	if endPosition <= startPosition+1 {
		return []Character[T]{}, nil
	}
	return w.characters[startPosition+1 : endPosition], nil
}

///////////////
// Operations
///////////////

func (w *WOOT[T]) localInsert(c Character[T], position int) {
	w.characters = append(w.characters, Character[T]{})
	copy(w.characters[position+1:], w.characters[position:])
	w.characters[position] = c
	w.reindex()
}

// IntegrateInsert places c between prev and next, both of which must be
// present. Characters between the bounds that were generated in a narrower
// context are skipped; c is ordered by id among the rest and the search
// narrows until the bounds are adjacent.
func (w *WOOT[T]) IntegrateInsert(c Character[T], prev, next AtomID) {
	for {
		prevPosition, nextPosition := w.Position(prev), w.Position(next)
		if nextPosition-prevPosition <= 1 {
			w.localInsert(c, nextPosition)
			return
		}

		bounds := []AtomID{prev}
		for _, d := range w.characters[prevPosition+1 : nextPosition] {
			if w.Position(d.IDPrevious) <= prevPosition && w.Position(d.IDNext) >= nextPosition {
				bounds = append(bounds, d.ID)
			}
		}
		bounds = append(bounds, next)
		if len(bounds) == 2 {
			w.localInsert(c, nextPosition)
			return
		}

		i := 1
		for i < len(bounds)-1 && bounds[i].Less(c.ID) {
			i++
		}
		prev, next = bounds[i-1], bounds[i]
	}
}

// GenerateInsert mints a character for value between the visible characters
// at position-1 and position.
func (w *WOOT[T]) GenerateInsert(position int, value T) (Character[T], error) {
	prev, next := CharacterStart, CharacterEnd
	if position < 0 {
		return Character[T]{}, ErrPositionOutOfBounds
	}
	if position > 0 {
		c, ok := w.IthVisible(position - 1)
		if !ok {
			return Character[T]{}, ErrPositionOutOfBounds
		}
		prev = c.ID
	}
	if c, ok := w.IthVisible(position); ok {
		next = c.ID
	}

	c := Character[T]{
		ID:         w.clock.Now(),
		Visible:    true,
		Value:      value,
		IDPrevious: prev,
		IDNext:     next,
	}
	w.IntegrateInsert(c, prev, next)
	return c, nil
}

// Integrate adds a remote character, parking it in the pool until both of
// its neighbours are known.
func (w *WOOT[T]) Integrate(c Character[T]) {
	if w.Contains(c.ID) {
		return
	}
	w.clock.Observe(c.ID)
	w.pool[c.ID] = c
	w.drainPool()
}

func (w *WOOT[T]) drainPool() {
	for {
		ready := make([]Character[T], 0, len(w.pool))
		for _, c := range w.pool {
			if w.Contains(c.IDPrevious) && w.Contains(c.IDNext) {
				ready = append(ready, c)
			}
		}
		if len(ready) == 0 {
			return
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i].ID.Less(ready[j].ID) })
		for _, c := range ready {
			delete(w.pool, c.ID)
			c.Visible = !w.tombstones.Contains(c.ID)
			w.IntegrateInsert(c, c.IDPrevious, c.IDNext)
		}
	}
}

// IntegrateDelete marks the character invisible. The tombstone is kept even
// if the character has not arrived yet.
func (w *WOOT[T]) IntegrateDelete(id AtomID) {
	w.tombstones.Add(id)
	if p := w.Position(id); p != -1 && id != CharacterStart && id != CharacterEnd {
		w.characters[p].Visible = false
	}
}

// GenerateDelete deletes the visible character at position.
func (w *WOOT[T]) GenerateDelete(position int) (AtomID, error) {
	c, ok := w.IthVisible(position)
	if !ok {
		return AtomID{}, ErrPositionOutOfBounds
	}
	w.IntegrateDelete(c.ID)
	return c.ID, nil
}

////////////////////////////////
// Implement the Sequence interface
////////////////////////////////

func (w *WOOT[T]) Insert(index int, value T) (AtomID, error) {
	c, err := w.GenerateInsert(index, value)
	return c.ID, err
}

func (w *WOOT[T]) Delete(id AtomID) {
	w.IntegrateDelete(id)
}

func (w *WOOT[T]) At(index int) (AtomID, bool) {
	c, ok := w.IthVisible(index)
	return c.ID, ok
}

func (w *WOOT[T]) ToSequence() []T {
	values := make([]T, 0, len(w.characters))
	for _, c := range w.characters {
		if c.Visible {
			values = append(values, c.Value)
		}
	}
	return values
}

func (w *WOOT[T]) Len() int {
	n := 0
	for _, c := range w.characters {
		if c.Visible {
			n++
		}
	}
	return n
}

func (w *WOOT[T]) Version() VersionVector {
	v := make(VersionVector)
	for _, c := range w.characters[1 : len(w.characters)-1] {
		v.Observe(c.ID)
	}
	for id := range w.pool {
		v.Observe(id)
	}
	for _, id := range w.tombstones.ToSlice() {
		v.Observe(id)
	}
	return v
}

func (w *WOOT[T]) State() WOOTState[T] {
	state := WOOTState[T]{Tombstones: w.tombstones.sorted()}
	for _, c := range w.characters[1 : len(w.characters)-1] {
		state.Characters = append(state.Characters, c)
	}
	for _, c := range w.pool {
		state.Characters = append(state.Characters, c)
	}
	sortCharacters(state.Characters)
	return state
}

func sortCharacters[T any](cs []Character[T]) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID.Less(cs[j].ID) })
}

// Delta returns a state holding only the given characters and their
// tombstones.
func (w *WOOT[T]) Delta(ids ...AtomID) WOOTState[T] {
	var state WOOTState[T]
	for _, id := range ids {
		if c, ok := w.Find(id); ok {
			state.Characters = append(state.Characters, c)
		} else if c, ok := w.pool[id]; ok {
			state.Characters = append(state.Characters, c)
		}
		if w.tombstones.Contains(id) {
			state.Tombstones = append(state.Tombstones, id)
		}
	}
	sortCharacters(state.Characters)
	sortTimestamps(state.Tombstones)
	return state
}

func (w *WOOT[T]) MergeState(s WOOTState[T]) {
	for _, id := range s.Tombstones {
		w.clock.Observe(id)
		w.IntegrateDelete(id)
	}
	for _, c := range s.Characters {
		if w.Contains(c.ID) {
			continue
		}
		w.clock.Observe(c.ID)
		w.pool[c.ID] = c
	}
	w.drainPool()
}

func (w *WOOT[T]) Merge(other *WOOT[T]) {
	w.MergeState(other.State())
}

func (w *WOOT[T]) Clone() *WOOT[T] {
	clone := NewWOOT[T](w.clock)
	clone.Merge(w)
	return clone
}

func (w *WOOT[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.State())
}

func (w *WOOT[T]) MarshalDelta(ids ...AtomID) ([]byte, error) {
	return json.Marshal(w.Delta(ids...))
}

func (w *WOOT[T]) MergeJSON(data []byte) error {
	var s WOOTState[T]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	w.MergeState(s)
	return nil
}
