package crdt

import (
	"encoding/json"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// LWWRegister holds a single value; the write with the greatest timestamp wins.
// Equal times fall back to replica ordering, so every replica picks the same
// winner whatever order the writes arrive in.
type LWWRegister[T any] struct {
	clock *Clock
	value T
	ts    Timestamp
}

// LWWState is the serializable state of an LWWRegister.
type LWWState[T any] struct {
	Value     T         `json:"value"`
	Timestamp Timestamp `json:"timestamp"`
}

func NewLWWRegister[T any](clock *Clock) *LWWRegister[T] {
	return &LWWRegister[T]{clock: clock}
}

// Set stamps value with the clock's current time.
func (r *LWWRegister[T]) Set(value T) {
	r.SetAt(value, r.clock.Now())
}

// SetAt applies a write carrying an explicit timestamp. It replaces the
// current value only if ts is greater than the current timestamp.
func (r *LWWRegister[T]) SetAt(value T, ts Timestamp) {
	r.clock.Observe(ts)
	if r.ts.Less(ts) {
		r.value = value
		r.ts = ts
	}
}

// Get returns the current value, the zero value if never written.
func (r *LWWRegister[T]) Get() T {
	return r.value
}

// Timestamp returns the timestamp of the winning write.
func (r *LWWRegister[T]) Timestamp() Timestamp {
	return r.ts
}

func (r *LWWRegister[T]) State() LWWState[T] {
	return LWWState[T]{Value: r.value, Timestamp: r.ts}
}

func (r *LWWRegister[T]) MergeState(s LWWState[T]) {
	if s.Timestamp.IsZero() {
		return
	}
	r.SetAt(s.Value, s.Timestamp)
}

func (r *LWWRegister[T]) Merge(other *LWWRegister[T]) {
	r.MergeState(other.State())
}

func (r *LWWRegister[T]) Clone() *LWWRegister[T] {
	return &LWWRegister[T]{clock: r.clock, value: r.value, ts: r.ts}
}

func (r *LWWRegister[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.State())
}

func (r *LWWRegister[T]) MergeJSON(data []byte) error {
	var s LWWState[T]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.MergeState(s)
	return nil
}

// MVRegister keeps every concurrent write until one is overwritten. A local Set
// overwrites everything visible locally, but writes made concurrently at other
// replicas survive the merge and are returned side by side by GetAll.
type MVRegister[T any] struct {
	entries     map[Tag]T
	overwritten mapset.Set[Tag]
}

// MVEntry is one surviving write.
type MVEntry[T any] struct {
	Tag   Tag `json:"tag"`
	Value T   `json:"value"`
}

// MVState is the serializable state of an MVRegister.
type MVState[T any] struct {
	Entries     []MVEntry[T] `json:"entries"`
	Overwritten []Tag        `json:"overwritten,omitempty"`
}

func NewMVRegister[T any]() *MVRegister[T] {
	return &MVRegister[T]{
		entries:     make(map[Tag]T),
		overwritten: mapset.NewThreadUnsafeSet[Tag](),
	}
}

// Set replaces all locally visible values with value and returns the fresh tag.
func (r *MVRegister[T]) Set(value T) Tag {
	for tag := range r.entries {
		r.overwritten.Add(tag)
		delete(r.entries, tag)
	}
	tag := NewTag()
	r.entries[tag] = value
	return tag
}

// GetAll returns every surviving value ordered by tag. More than one value
// means concurrent writes the caller has to resolve.
func (r *MVRegister[T]) GetAll() []T {
	entries := r.sortedEntries()
	values := make([]T, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values
}

func (r *MVRegister[T]) sortedEntries() []MVEntry[T] {
	entries := make([]MVEntry[T], 0, len(r.entries))
	for tag, v := range r.entries {
		entries = append(entries, MVEntry[T]{Tag: tag, Value: v})
	}
	sortMVEntries(entries)
	return entries
}

func sortMVEntries[T any](entries []MVEntry[T]) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Tag.Compare(entries[j].Tag) < 0 })
}

func (r *MVRegister[T]) State() MVState[T] {
	overwritten := r.overwritten.ToSlice()
	sortTags(overwritten)
	return MVState[T]{Entries: r.sortedEntries(), Overwritten: overwritten}
}

// MergeState unions both entry sets (deduplicated by tag) and drops every
// entry overwritten on either side.
func (r *MVRegister[T]) MergeState(s MVState[T]) {
	for _, tag := range s.Overwritten {
		r.overwritten.Add(tag)
		delete(r.entries, tag)
	}
	for _, e := range s.Entries {
		if r.overwritten.Contains(e.Tag) {
			continue
		}
		r.entries[e.Tag] = e.Value
	}
}

func (r *MVRegister[T]) Merge(other *MVRegister[T]) {
	r.MergeState(other.State())
}

func (r *MVRegister[T]) Clone() *MVRegister[T] {
	clone := NewMVRegister[T]()
	clone.Merge(r)
	return clone
}

func (r *MVRegister[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.State())
}

func (r *MVRegister[T]) MergeJSON(data []byte) error {
	var s MVState[T]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.MergeState(s)
	return nil
}
