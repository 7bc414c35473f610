package crdt

import (
	"encoding/json"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// ORSet is an observed-remove set. Every add mints a fresh tag; a remove
// tombstones only the tags its replica has observed, so an add made
// concurrently elsewhere survives the merge.
type ORSet[T comparable] struct {
	adds       map[T]mapset.Set[Tag]
	tombstones mapset.Set[Tag]
}

// ORSetEntry lists the tags recorded for one element.
type ORSetEntry[T comparable] struct {
	Element T     `json:"element"`
	Tags    []Tag `json:"tags"`
}

// ORSetState is the serializable state of an ORSet.
type ORSetState[T comparable] struct {
	Adds       []ORSetEntry[T] `json:"adds"`
	Tombstones []Tag           `json:"tombstones,omitempty"`
}

func NewORSet[T comparable]() *ORSet[T] {
	return &ORSet[T]{
		adds:       make(map[T]mapset.Set[Tag]),
		tombstones: mapset.NewThreadUnsafeSet[Tag](),
	}
}

// Add records element under a fresh tag and returns the tag. Repeated adds
// accumulate tags.
func (s *ORSet[T]) Add(element T) Tag {
	tag := NewTag()
	s.AddTag(element, tag)
	return tag
}

// AddTag applies an add carrying an already minted tag.
func (s *ORSet[T]) AddTag(element T, tag Tag) {
	tags, ok := s.adds[element]
	if !ok {
		tags = mapset.NewThreadUnsafeSet[Tag]()
		s.adds[element] = tags
	}
	tags.Add(tag)
}

// Remove tombstones every tag currently observed for element and returns
// them. Removing an absent element is a no-op.
func (s *ORSet[T]) Remove(element T) []Tag {
	tags, ok := s.adds[element]
	if !ok {
		return nil
	}
	removed := tags.Difference(s.tombstones).ToSlice()
	s.RemoveTags(removed...)
	sortTags(removed)
	return removed
}

// RemoveTags applies a remove of the given tags.
func (s *ORSet[T]) RemoveTags(tags ...Tag) {
	for _, tag := range tags {
		s.tombstones.Add(tag)
	}
}

// Contains reports whether at least one of element's tags is alive.
func (s *ORSet[T]) Contains(element T) bool {
	tags, ok := s.adds[element]
	return ok && !s.tombstones.IsSuperset(tags)
}

// Elements returns the live elements in no particular order.
func (s *ORSet[T]) Elements() []T {
	var elements []T
	for e := range s.adds {
		if s.Contains(e) {
			elements = append(elements, e)
		}
	}
	return elements
}

// Len returns the number of live elements.
func (s *ORSet[T]) Len() int {
	n := 0
	for e := range s.adds {
		if s.Contains(e) {
			n++
		}
	}
	return n
}

func (s *ORSet[T]) State() ORSetState[T] {
	state := ORSetState[T]{Adds: make([]ORSetEntry[T], 0, len(s.adds))}
	for e, set := range s.adds {
		tags := set.ToSlice()
		sortTags(tags)
		state.Adds = append(state.Adds, ORSetEntry[T]{Element: e, Tags: tags})
	}
	// Elements are only comparable, so order entries by their first tag,
	// which is unique to the element.
	sort.Slice(state.Adds, func(i, j int) bool {
		return entryKey(state.Adds[i]) < entryKey(state.Adds[j])
	})
	if s.tombstones.Cardinality() > 0 {
		state.Tombstones = s.tombstones.ToSlice()
		sortTags(state.Tombstones)
	}
	return state
}

func entryKey[T comparable](e ORSetEntry[T]) string {
	if len(e.Tags) == 0 {
		return fmt.Sprint(e.Element)
	}
	return e.Tags[0].String()
}

// MergeState unions the add maps and the tombstone sets.
func (s *ORSet[T]) MergeState(state ORSetState[T]) {
	for _, entry := range state.Adds {
		for _, tag := range entry.Tags {
			s.AddTag(entry.Element, tag)
		}
	}
	s.RemoveTags(state.Tombstones...)
}

// Merge unions the tag sets of other into s.
func (s *ORSet[T]) Merge(other *ORSet[T]) {
	for e, tags := range other.adds {
		if mine, ok := s.adds[e]; ok {
			s.adds[e] = mine.Union(tags)
		} else {
			s.adds[e] = tags.Clone()
		}
	}
	s.tombstones = s.tombstones.Union(other.tombstones)
}

func (s *ORSet[T]) Clone() *ORSet[T] {
	clone := NewORSet[T]()
	clone.Merge(s)
	return clone
}

func (s *ORSet[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.State())
}

func (s *ORSet[T]) MergeJSON(data []byte) error {
	var state ORSetState[T]
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.MergeState(state)
	return nil
}

// LWWSet is a last-writer-wins element set: an element is present iff its
// latest add is newer than its latest remove.
type LWWSet[T comparable] struct {
	clock   *Clock
	adds    map[T]Timestamp
	removes map[T]Timestamp
}

// LWWSetEntry is the latest timestamp recorded for an element.
type LWWSetEntry[T comparable] struct {
	Element   T         `json:"element"`
	Timestamp Timestamp `json:"timestamp"`
}

// LWWSetState is the serializable state of an LWWSet.
type LWWSetState[T comparable] struct {
	Adds    []LWWSetEntry[T] `json:"adds"`
	Removes []LWWSetEntry[T] `json:"removes,omitempty"`
}

func NewLWWSet[T comparable](clock *Clock) *LWWSet[T] {
	return &LWWSet[T]{
		clock:   clock,
		adds:    make(map[T]Timestamp),
		removes: make(map[T]Timestamp),
	}
}

func (s *LWWSet[T]) Add(element T) Timestamp {
	ts := s.clock.Now()
	s.AddAt(element, ts)
	return ts
}

func (s *LWWSet[T]) Remove(element T) Timestamp {
	ts := s.clock.Now()
	s.RemoveAt(element, ts)
	return ts
}

func (s *LWWSet[T]) AddAt(element T, ts Timestamp) {
	s.clock.Observe(ts)
	keepLatest(s.adds, element, ts)
}

func (s *LWWSet[T]) RemoveAt(element T, ts Timestamp) {
	s.clock.Observe(ts)
	keepLatest(s.removes, element, ts)
}

func keepLatest[T comparable](m map[T]Timestamp, element T, ts Timestamp) {
	if cur, ok := m[element]; !ok || cur.Less(ts) {
		m[element] = ts
	}
}

func (s *LWWSet[T]) Contains(element T) bool {
	added, ok := s.adds[element]
	if !ok {
		return false
	}
	removed, ok := s.removes[element]
	return !ok || removed.Less(added)
}

// Elements returns the present elements in no particular order.
func (s *LWWSet[T]) Elements() []T {
	var elements []T
	for e := range s.adds {
		if s.Contains(e) {
			elements = append(elements, e)
		}
	}
	return elements
}

func (s *LWWSet[T]) State() LWWSetState[T] {
	return LWWSetState[T]{Adds: lwwEntries(s.adds), Removes: lwwEntries(s.removes)}
}

func lwwEntries[T comparable](m map[T]Timestamp) []LWWSetEntry[T] {
	entries := make([]LWWSetEntry[T], 0, len(m))
	for e, ts := range m {
		entries = append(entries, LWWSetEntry[T]{Element: e, Timestamp: ts})
	}
	// Timestamps are unique per write; equal ones only when one write
	// touched several elements, so fall back to the element's text.
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].Timestamp.Compare(entries[j].Timestamp); c != 0 {
			return c < 0
		}
		return fmt.Sprint(entries[i].Element) < fmt.Sprint(entries[j].Element)
	})
	return entries
}

// MergeState keeps the latest add and the latest remove of every element.
func (s *LWWSet[T]) MergeState(state LWWSetState[T]) {
	for _, e := range state.Adds {
		s.AddAt(e.Element, e.Timestamp)
	}
	for _, e := range state.Removes {
		s.RemoveAt(e.Element, e.Timestamp)
	}
}

func (s *LWWSet[T]) Merge(other *LWWSet[T]) {
	s.MergeState(other.State())
}

func (s *LWWSet[T]) Clone() *LWWSet[T] {
	clone := NewLWWSet[T](s.clock)
	clone.Merge(s)
	return clone
}

func (s *LWWSet[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.State())
}

func (s *LWWSet[T]) MergeJSON(data []byte) error {
	var state LWWSetState[T]
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.MergeState(state)
	return nil
}
