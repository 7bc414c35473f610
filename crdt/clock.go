package crdt

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ReplicaID names a participant. Replica ids are only ever compared to break
// ties deterministically, never to prioritise one replica over another.
type ReplicaID string

// Timestamp is a Lamport timestamp paired with the replica that minted it.
// Timestamps are totally ordered by (Time, Replica).
type Timestamp struct {
	Time    uint64    `json:"time"`
	Replica ReplicaID `json:"replica"`
}

// AtomID identifies an atom in a sequence or causal tree. It is the timestamp
// minted by the insert that created the atom, so it is unique as long as
// replica ids are.
type AtomID = Timestamp

// Compare returns -1, 0 or +1 depending on whether t sorts before, equal to or
// after other.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Time < other.Time:
		return -1
	case t.Time > other.Time:
		return +1
	case t.Replica < other.Replica:
		return -1
	case t.Replica > other.Replica:
		return +1
	}
	return 0
}

// Less reports whether t sorts before other.
func (t Timestamp) Less(other Timestamp) bool {
	return t.Compare(other) < 0
}

// IsZero reports whether t is the zero timestamp, which is never minted.
func (t Timestamp) IsZero() bool {
	return t.Time == 0 && t.Replica == ""
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d@%s", t.Time, t.Replica)
}

func sortTimestamps(ts []Timestamp) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Less(ts[j]) })
}

// Tag is a globally unique 128-bit operation tag minted once per local
// mutation.
//
// Uniqueness across all replicas is a caller precondition that cannot be
// checked locally: two replicas sharing a tag will silently diverge.
type Tag uuid.UUID

// NewTag returns a fresh random tag.
func NewTag() Tag {
	return Tag(uuid.New())
}

func (t Tag) String() string {
	return uuid.UUID(t).String()
}

// ParseTag parses the string form of a tag.
func ParseTag(s string) (Tag, error) {
	u, err := uuid.Parse(s)
	return Tag(u), err
}

// Compare orders tags bytewise.
func (t Tag) Compare(other Tag) int {
	return bytes.Compare(t[:], other[:])
}

func (t Tag) MarshalText() ([]byte, error) {
	return uuid.UUID(t).MarshalText()
}

func (t *Tag) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(t).UnmarshalText(data)
}

func sortTags(tags []Tag) {
	sort.Slice(tags, func(i, j int) bool { return tags[i].Compare(tags[j]) < 0 })
}

// Clock is the per-replica sync context: the replica id plus its Lamport
// counter. One Clock is shared by every CRDT a replica owns and, like them, it
// is not safe for concurrent use.
type Clock struct {
	replica ReplicaID
	time    uint64
}

// NewClock returns a clock for replica starting at time zero.
func NewClock(replica ReplicaID) *Clock {
	return &Clock{replica: replica}
}

// Replica returns the id of the replica owning the clock.
func (c *Clock) Replica() ReplicaID {
	return c.replica
}

// Time returns the last time handed out or observed.
func (c *Clock) Time() uint64 {
	return c.time
}

// Now ticks the clock and returns a timestamp greater than every timestamp
// previously returned or observed.
func (c *Clock) Now() Timestamp {
	c.time++
	return Timestamp{Time: c.time, Replica: c.replica}
}

// Observe advances the clock to at least ts.Time.
func (c *Clock) Observe(ts Timestamp) {
	if ts.Time > c.time {
		c.time = ts.Time
	}
}

// Ordering is the causal relation between two version vectors.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	}
	return "concurrent"
}

// VersionVector maps each replica to the highest time observed from it.
type VersionVector map[ReplicaID]uint64

// Get returns the entry for replica, zero when absent.
func (v VersionVector) Get(replica ReplicaID) uint64 {
	return v[replica]
}

// Observe raises the entry for ts.Replica to ts.Time.
func (v VersionVector) Observe(ts Timestamp) {
	if ts.Time > v[ts.Replica] {
		v[ts.Replica] = ts.Time
	}
}

// Merge sets every entry of v to the maximum of v and other.
func (v VersionVector) Merge(other VersionVector) {
	for replica, time := range other {
		if time > v[replica] {
			v[replica] = time
		}
	}
}

// Clone returns a copy of v.
func (v VersionVector) Clone() VersionVector {
	c := make(VersionVector, len(v))
	for replica, time := range v {
		c[replica] = time
	}
	return c
}

// Compare returns how v relates causally to other.
func (v VersionVector) Compare(other VersionVector) Ordering {
	less, greater := false, false
	for replica, time := range v {
		switch o := other[replica]; {
		case time < o:
			less = true
		case time > o:
			greater = true
		}
	}
	for replica, time := range other {
		if _, ok := v[replica]; !ok && time > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	}
	return Equal
}

// Dominates reports whether v has seen everything other has.
func (v VersionVector) Dominates(other VersionVector) bool {
	o := v.Compare(other)
	return o == After || o == Equal
}
