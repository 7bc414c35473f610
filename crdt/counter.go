package crdt

import (
	"encoding/json"
	"sort"
)

// GCounter is a grow-only counter. Each replica only ever writes its own slot
// and merge keeps the per-slot maximum, so duplicate delivery is harmless.
type GCounter struct {
	counts map[ReplicaID]uint64
}

// GCounterState is the serializable state of a GCounter.
type GCounterState struct {
	Counts map[ReplicaID]uint64 `json:"counts"`
}

// NewGCounter returns a zeroed counter.
func NewGCounter() *GCounter {
	return &GCounter{counts: make(map[ReplicaID]uint64)}
}

// Increment adds amount to replica's own slot.
func (c *GCounter) Increment(replica ReplicaID, amount uint64) {
	c.counts[replica] += amount
}

// Value returns the sum of all slots.
func (c *GCounter) Value() uint64 {
	var sum uint64
	for _, n := range c.counts {
		sum += n
	}
	return sum
}

// Slot returns the contribution of a single replica.
func (c *GCounter) Slot(replica ReplicaID) uint64 {
	return c.counts[replica]
}

// Replicas returns the replicas with a slot, sorted.
func (c *GCounter) Replicas() []ReplicaID {
	replicas := make([]ReplicaID, 0, len(c.counts))
	for r := range c.counts {
		replicas = append(replicas, r)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i] < replicas[j] })
	return replicas
}

func (c *GCounter) State() GCounterState {
	counts := make(map[ReplicaID]uint64, len(c.counts))
	for r, n := range c.counts {
		counts[r] = n
	}
	return GCounterState{Counts: counts}
}

// MergeState keeps, per slot, the larger of the local and remote values.
func (c *GCounter) MergeState(s GCounterState) {
	for r, n := range s.Counts {
		if n > c.counts[r] {
			c.counts[r] = n
		}
	}
}

func (c *GCounter) Merge(other *GCounter) {
	c.MergeState(GCounterState{Counts: other.counts})
}

func (c *GCounter) Clone() *GCounter {
	clone := NewGCounter()
	clone.Merge(c)
	return clone
}

func (c *GCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.State())
}

func (c *GCounter) MergeJSON(data []byte) error {
	var s GCounterState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.MergeState(s)
	return nil
}

// PNCounter supports decrements by pairing two grow-only counters.
type PNCounter struct {
	positive *GCounter
	negative *GCounter
}

// PNCounterState is the serializable state of a PNCounter.
type PNCounterState struct {
	Positive GCounterState `json:"positive"`
	Negative GCounterState `json:"negative"`
}

func NewPNCounter() *PNCounter {
	return &PNCounter{positive: NewGCounter(), negative: NewGCounter()}
}

func (c *PNCounter) Increment(replica ReplicaID, amount uint64) {
	c.positive.Increment(replica, amount)
}

// Decrement only ever touches the negative counter.
func (c *PNCounter) Decrement(replica ReplicaID, amount uint64) {
	c.negative.Increment(replica, amount)
}

// Value returns increments minus decrements.
func (c *PNCounter) Value() int64 {
	return int64(c.positive.Value()) - int64(c.negative.Value())
}

func (c *PNCounter) State() PNCounterState {
	return PNCounterState{Positive: c.positive.State(), Negative: c.negative.State()}
}

func (c *PNCounter) MergeState(s PNCounterState) {
	c.positive.MergeState(s.Positive)
	c.negative.MergeState(s.Negative)
}

func (c *PNCounter) Merge(other *PNCounter) {
	c.positive.Merge(other.positive)
	c.negative.Merge(other.negative)
}

func (c *PNCounter) Clone() *PNCounter {
	return &PNCounter{positive: c.positive.Clone(), negative: c.negative.Clone()}
}

func (c *PNCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.State())
}

func (c *PNCounter) MergeJSON(data []byte) error {
	var s PNCounterState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.MergeState(s)
	return nil
}
