package engine

import (
	"errors"

	"megicode/backend/internal/workflow"
)

var (
	// ErrDefinitionNotFound is returned when no usable definition exists for
	// a key or version.
	ErrDefinitionNotFound = errors.New("definition not found")
	// ErrInvalidDefinition is returned when a published document cannot be
	// decoded. Graph problems are reported as workflow.ValidationErrors.
	ErrInvalidDefinition = errors.New("invalid definition document")
	// ErrInstanceNotFound is returned for an unknown instance id.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrConcurrentInstance is returned when the project already has a
	// running instance.
	ErrConcurrentInstance = errors.New("project already has a running instance")
	// ErrStaleTransition is returned when the trigger step is no longer the
	// current step or a concurrent writer moved the instance first.
	ErrStaleTransition = errors.New("stale transition")
	// ErrNoMatchingTransition is returned when a branch has no edge for the
	// given outcome.
	ErrNoMatchingTransition = workflow.ErrNoMatchingTransition
	// ErrInstanceTerminal is returned when a completed or canceled instance
	// is asked to change.
	ErrInstanceTerminal = errors.New("instance is terminal")
	// ErrAutomationFailed is returned when a service task cannot move on
	// because its automation exhausted its retries.
	ErrAutomationFailed = errors.New("automation failed")
	// ErrAutomationPending is returned when a service task is advanced by
	// hand before its automation completed.
	ErrAutomationPending = errors.New("automation not completed")
	// ErrRevisitLimit is returned when a loop would enter a step more often
	// than the configured maximum.
	ErrRevisitLimit = errors.New("step revisit limit reached")
	// ErrStepNotSkippable is returned when skip is requested for a step that
	// is neither optional nor blocked by a failed automation.
	ErrStepNotSkippable = errors.New("step cannot be skipped")
)
