// Package wire defines the on-the-wire operation codes, envelope shape,
// and value codec shared by every rank. The two-frame protocol (a small
// Envelope header followed by a payload frame) mirrors the
// metadata-then-data framing used by the MPI backend this system's
// protocol is modeled on: a fixed header declares what the following
// payload is, so the receiver can decode it without guessing its shape.
package wire

// OpCode identifies the kind of message carried by an Envelope.
type OpCode uint8

const (
	// OpExecute carries a task invocation: ctrl -> worker.
	OpExecute OpCode = iota + 1
	// OpGet requests a value: worker -> owner (or ctrl -> owner).
	OpGet
	// OpPutData carries a materialized value: any -> any.
	OpPutData
	// OpPutOwner redirects a destination rank to an id's true owner: ctrl -> worker.
	OpPutOwner
	// OpWait asks the monitor to block until ids become ready: ctrl -> monitor.
	OpWait
	// OpWaitReply carries the monitor's ready/not-ready partition: monitor -> ctrl.
	OpWaitReply
	// OpActorCreate is reserved; no payload schema is defined by this core.
	OpActorCreate
	// OpActorExecute is reserved; no payload schema is defined by this core.
	OpActorExecute
	// OpCleanup instructs a worker to drop ids from its local store: ctrl -> worker.
	OpCleanup
	// OpTaskDone notifies the monitor that one task finished: worker -> monitor.
	OpTaskDone
	// OpGetTaskCount asks the monitor for the current task counter: ctrl -> monitor.
	OpGetTaskCount
	// OpGetTaskCountReply carries the monitor's task counter: monitor -> ctrl.
	OpGetTaskCountReply
	// OpCancel tells a rank's loop to terminate: ctrl -> any.
	OpCancel
	// OpReady notifies the monitor that an output id became available: worker -> monitor.
	OpReady
	// OpTaskSubmit notifies the monitor of a new outstanding task, the
	// increment counterpart to OpTaskDone: ctrl -> monitor.
	OpTaskSubmit
)

// String renders an OpCode for logging.
func (c OpCode) String() string {
	switch c {
	case OpExecute:
		return "EXECUTE"
	case OpGet:
		return "GET"
	case OpPutData:
		return "PUT_DATA"
	case OpPutOwner:
		return "PUT_OWNER"
	case OpWait:
		return "WAIT"
	case OpWaitReply:
		return "WAIT_REPLY"
	case OpActorCreate:
		return "ACTOR_CREATE"
	case OpActorExecute:
		return "ACTOR_EXECUTE"
	case OpCleanup:
		return "CLEANUP"
	case OpTaskDone:
		return "TASK_DONE"
	case OpGetTaskCount:
		return "GET_TASK_COUNT"
	case OpGetTaskCountReply:
		return "GET_TASK_COUNT_REPLY"
	case OpCancel:
		return "CANCEL"
	case OpReady:
		return "READY"
	case OpTaskSubmit:
		return "TASK_SUBMIT"
	default:
		return "UNKNOWN"
	}
}

// Reserved reports whether c is a wire-level reserved op with no payload
// schema implemented by this core (see DESIGN.md, Open Question 3).
func (c OpCode) Reserved() bool {
	return c == OpActorCreate || c == OpActorExecute
}
