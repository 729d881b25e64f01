package wire

import "github.com/taskmesh/taskmesh/id"

// Arg is one positional or keyword task argument as carried in an EXECUTE
// payload (spec §6: `{task, args, kwargs, output: [BaseID]}`). A non-zero
// ID means the argument is a reference the destination worker must resolve
// against its local store (fetching it from the owner if absent); otherwise
// Literal carries the value directly.
type Arg struct {
	Name    string    `json:"name,omitempty"` // empty for positional args
	ID      id.BaseID `json:"id,omitempty"`
	Literal any       `json:"literal,omitempty"`
}

// ExecutePayload is the decoded form of an EXECUTE payload frame.
type ExecutePayload struct {
	Args []Arg `json:"args"`
}
