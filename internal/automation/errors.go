package automation

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrProcessNotFound) {
//	    // handle not found case
//	}
var (
	// ErrProcessNotFound is returned when a process ID does not exist.
	ErrProcessNotFound = errors.New("process: not found")

	// ErrProcessExists is returned when creating a process with an ID that already exists.
	ErrProcessExists = errors.New("process: already exists")

	// ErrTaskNotFound is returned when a task ID does not exist.
	ErrTaskNotFound = errors.New("task: not found")

	// ErrTaskExists is returned when creating a task with an ID that already exists.
	ErrTaskExists = errors.New("task: already exists")

	// ErrRevisionConflict is returned when a save carries a stale revision.
	// The caller must re-read the document and retry.
	ErrRevisionConflict = errors.New("store: revision conflict")

	// ErrUnknownImplType is returned for an impl tag outside the closed union.
	ErrUnknownImplType = errors.New("automation: unknown impl type")

	// ErrInvalidTaskStatus is returned when a task carries a status
	// outside the known set.
	ErrInvalidTaskStatus = errors.New("task: invalid status")
)

// TemplateValidationError reports why a template cannot be instantiated.
// Problems lists every defect found, not just the first.
type TemplateValidationError struct {
	TemplateID string
	Problems   []string
}

func (e *TemplateValidationError) Error() string {
	return fmt.Sprintf("automation: template %q invalid: %s",
		e.TemplateID, strings.Join(e.Problems, "; "))
}

// HandlerError wraps a failure raised by an item handler. It carries
// the item identity so the engine can attribute the failure in the
// result history.
type HandlerError struct {
	ItemID    string
	ItemTitle string
	ImplType  string
	Err       error
}

func (e *HandlerError) Error() string {
	title := e.ItemTitle
	if title == "" {
		title = e.ItemID
	}
	return fmt.Sprintf("%s (%s): %v", title, e.ImplType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// EngineInvariantError reports persisted state the engine cannot
// interpret, such as a result history with no step boundary. A process
// in this state is force-ended rather than retried forever.
type EngineInvariantError struct {
	ProcessID string
	Detail    string
}

func (e *EngineInvariantError) Error() string {
	return fmt.Sprintf("automation: process %q state invariant violated: %s",
		e.ProcessID, e.Detail)
}
