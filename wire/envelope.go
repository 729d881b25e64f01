package wire

import (
	"github.com/taskmesh/taskmesh/id"
)

// Envelope is the JSON header frame of every message; a payload frame
// follows it when PayloadLen is non-zero.
// Only the fields relevant to Op are populated; the rest are zero values.
type Envelope struct {
	Op  OpCode `json:"op"`
	From uint32 `json:"from"`

	// EXECUTE
	TaskName   string     `json:"task,omitempty"`
	Output     []id.BaseID `json:"output,omitempty"`

	// GET / CLEANUP / PUT_OWNER / PUT_DATA / TASK_DONE / READY target a single id,
	// except CLEANUP which targets a batch.
	ID    id.BaseID   `json:"id,omitempty"`
	IDs   []id.BaseID `json:"ids,omitempty"`
	Owner uint32      `json:"owner,omitempty"`

	// GET
	Blocking bool `json:"blocking,omitempty"`

	// WAIT / WAIT reply
	NumReturns int         `json:"num_returns,omitempty"`
	Ready      []id.BaseID `json:"ready,omitempty"`
	NotReady   []id.BaseID `json:"not_ready,omitempty"`

	// GET_TASK_COUNT reply
	TaskCount int `json:"task_count,omitempty"`

	// PayloadLen is the length of the payload frame that follows this
	// header, mirroring the original backend's metadata-then-data framing.
	PayloadLen int `json:"payload_len"`
}
