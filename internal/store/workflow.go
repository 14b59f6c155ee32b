package store

import (
	"errors"
	"fmt"

	"github.com/secfuse/secfuse/internal/models"
)

var (
	// ErrNotFound is returned by Get and Transition for an unknown identity.
	ErrNotFound = errors.New("finding not found")

	// ErrInvalidTransition is returned when a workflow state change violates
	// monotonicity. The only path back to NEW is a new observation of a
	// resolved identity, which goes through Apply, never Transition.
	ErrInvalidTransition = errors.New("invalid workflow transition")
)

var workflowRank = map[models.WorkflowState]int{
	models.WorkflowNew:        0,
	models.WorkflowNotified:   1,
	models.WorkflowSuppressed: 2,
	models.WorkflowResolved:   3,
}

// ValidateTransition enforces the monotonic workflow invariant: states only
// advance. Rejected transitions are surfaced to the caller, never coerced.
func ValidateTransition(from, to models.WorkflowState) error {
	fromRank, ok := workflowRank[from]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}
	toRank, ok := workflowRank[to]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}
	if toRank <= fromRank {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
