// Package taskerr carries user task failures through the object store.
// A submitted task's panic or returned error becomes a Failure value,
// stored under the task's output id exactly like any other value (§7:
// storage of exceptions is indistinguishable at the wire level from
// storage of a normal value); only Get's type inspection on retrieval
// distinguishes it and re-raises.
package taskerr

import "fmt"

// Failure wraps a user task's error so it can be stored as an ordinary
// object-store value and later re-raised by Get.
type Failure struct {
	// Message is the original error's text, preserved across the wire
	// (the original error type is not reconstructible on another rank).
	Message string `json:"message"`
	// Panicked marks failures that originated from a recovered panic
	// rather than a returned error.
	Panicked bool `json:"panicked"`
	// TaskName names the task that failed, for diagnostics.
	TaskName string `json:"task_name,omitempty"`
}

// Error implements the error interface so a Failure can be returned
// directly from Get.
func (f *Failure) Error() string {
	if f.Panicked {
		return fmt.Sprintf("task %q panicked: %s", f.TaskName, f.Message)
	}
	return fmt.Sprintf("task %q failed: %s", f.TaskName, f.Message)
}

// New wraps err as a Failure attributed to taskName.
func New(taskName string, err error) *Failure {
	return &Failure{Message: err.Error(), TaskName: taskName}
}

// NewPanic wraps a recovered panic value as a Failure attributed to taskName.
func NewPanic(taskName string, recovered any) *Failure {
	return &Failure{Message: fmt.Sprint(recovered), Panicked: true, TaskName: taskName}
}
