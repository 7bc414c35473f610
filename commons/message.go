package commons

import (
	"encoding/json"

	"github.com/burntcarrot/convergent/crdt"
	"github.com/google/uuid"
)

// Message represents the message sent over the wire.
type Message struct {
	Username string `json:"username"`

	// Text represents the body of the message. This is currently used for joining messages, the replica ID, the list of active users and the presence tag of a join delta.
	Text string `json:"text"`

	// Type represents the message type.
	Type MessageType `json:"type"`

	// ID represents the client's UUID. The server overwrites it on every incoming message.
	ID uuid.UUID `json:"ID"`

	// Replica is the id of the replica that produced the message.
	Replica crdt.ReplicaID `json:"replica,omitempty"`

	// Kind is the sequence variant of the session, announced with the replica ID.
	Kind crdt.Kind `json:"kind,omitempty"`

	// Object names the replicated object a delta applies to.
	Object Object `json:"object,omitempty"`

	// Operation describes the edit a delta carries. Only used for display and logs.
	Operation Operation `json:"operation"`

	// Payload is the encoded delta or, for docSync, an encoded Snapshot.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessageType represents the type of the message.
type MessageType string

// Currently, convergent supports 7 message types:
// - docSync (for syncing documents)
// - docReq (for requesting documents)
// - SiteID (for assigning replica IDs)
// - join (for joining messages)
// - leave (for leaving messages)
// - users (for the list of active users)
// - delta (for replicating a change to one object)

const (
	DocSyncMessage MessageType = "docSync"
	DocReqMessage  MessageType = "docReq"
	SiteIDMessage  MessageType = "SiteID"
	JoinMessage    MessageType = "join"
	LeaveMessage   MessageType = "leave"
	UsersMessage   MessageType = "users"
	DeltaMessage   MessageType = "delta"
)

// Object identifies one of the replicated objects every replica holds.
type Object string

const (
	// ObjectDoc is the shared text.
	ObjectDoc Object = "doc"

	// ObjectUsers is the set of present users.
	ObjectUsers Object = "users"

	// ObjectTitle is the document title.
	ObjectTitle Object = "title"

	// ObjectEdits counts inserted minus deleted characters.
	ObjectEdits Object = "edits"
)

// Objects lists every replicated object.
var Objects = []Object{ObjectDoc, ObjectUsers, ObjectTitle, ObjectEdits}

// Snapshot bundles the full state of every object, keyed by the document kind.
type Snapshot struct {
	Kind  crdt.Kind       `json:"kind"`
	Doc   json.RawMessage `json:"doc"`
	Users json.RawMessage `json:"users"`
	Title json.RawMessage `json:"title"`
	Edits json.RawMessage `json:"edits"`
}

// Get returns the encoded state of one object.
func (s Snapshot) Get(object Object) (json.RawMessage, bool) {
	switch object {
	case ObjectDoc:
		return s.Doc, true
	case ObjectUsers:
		return s.Users, true
	case ObjectTitle:
		return s.Title, true
	case ObjectEdits:
		return s.Edits, true
	}
	return nil, false
}

// Set stores the encoded state of one object.
func (s *Snapshot) Set(object Object, state json.RawMessage) bool {
	switch object {
	case ObjectDoc:
		s.Doc = state
	case ObjectUsers:
		s.Users = state
	case ObjectTitle:
		s.Title = state
	case ObjectEdits:
		s.Edits = state
	default:
		return false
	}
	return true
}
