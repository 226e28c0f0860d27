package a2a

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned for operations on unknown task IDs.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTaskState is returned when an operation requires a state
	// the task is not in.
	ErrInvalidTaskState = errors.New("invalid task state")
)

func invalidStateErr(taskID string, current TaskState, required string) error {
	return fmt.Errorf("%w: task %s is %s, requires %s", ErrInvalidTaskState, taskID, current, required)
}
