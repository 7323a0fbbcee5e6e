package authz

import (
	"errors"
	"fmt"
)

// Reason classifies why an action was denied.
type Reason string

const (
	// ReasonRole: none of the actor's roles appear in the action's row.
	ReasonRole Reason = "role"
	// ReasonScope: a scoped role matched but the manuscript's journal is
	// outside the actor's active grants.
	ReasonScope Reason = "scope"
	// ReasonAssignment: an assignment-gated role matched but the actor is
	// not bound to the manuscript or its production cycle.
	ReasonAssignment Reason = "assignment"
)

// ForbiddenError denies an action. Reason is for logs and metrics only;
// callers render the same denial regardless.
type ForbiddenError struct {
	Action string
	Reason Reason
	Role   string
}

func (e *ForbiddenError) Error() string {
	switch e.Reason {
	case ReasonScope:
		return fmt.Sprintf("forbidden: %s requires an active grant for the manuscript's journal", e.Action)
	case ReasonAssignment:
		return fmt.Sprintf("forbidden: %s requires assignment to the manuscript", e.Action)
	default:
		return fmt.Sprintf("forbidden: %s is not permitted for the actor's roles", e.Action)
	}
}

// IsForbidden reports whether err is an authorization denial.
func IsForbidden(err error) bool {
	var f *ForbiddenError
	return errors.As(err, &f)
}
