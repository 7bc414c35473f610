package commons

// OperationType names the kind of edit a delta carries.
type OperationType string

const (
	OperationInsert OperationType = "insert"
	OperationDelete OperationType = "delete"
	OperationTitle  OperationType = "title"
	OperationJoin   OperationType = "join"
	OperationLeave  OperationType = "leave"
	OperationCount  OperationType = "count"
)

// Operation describes an edit for humans and logs. Replicas never apply it;
// the payload of the message is what gets merged.
type Operation struct {
	// Type represents the operation type, for example, insert, delete.
	Type OperationType `json:"type,omitempty"`

	// Position represents the position at which the operation has been made.
	Position int `json:"position,omitempty"`

	// Value represents the content of the operation. Mostly a character.
	Value string `json:"value,omitempty"`
}
