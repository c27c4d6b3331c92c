package automation

import "errors"

var (
	// ErrUnknownAction is returned for an action name nothing is registered
	// under. It is never retried.
	ErrUnknownAction = errors.New("unknown automation action")
	// ErrTimeout is recorded when an attempt outlives its timeout.
	ErrTimeout = errors.New("automation timed out")
	// ErrNotServiceTask is returned when an automation is requested for a
	// step that is not a service task.
	ErrNotServiceTask = errors.New("step is not a service task")
	// ErrActionMismatch is returned when the requested action differs from
	// the one the step declares.
	ErrActionMismatch = errors.New("action does not match the step")
	// ErrAutomationNotFound is returned for an unknown automation id.
	ErrAutomationNotFound = errors.New("automation not found")
)
