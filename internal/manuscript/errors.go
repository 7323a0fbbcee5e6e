package manuscript

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("manuscript: not found")
	ErrCycleNotFound = errors.New("manuscript: production cycle not found")
)

// ValidationError rejects malformed input before any write.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ConflictError signals that a conditional update matched zero rows and the
// current state is neither the expected source nor the intended target.
// It carries enough context for the caller to decide whether to retry.
type ConflictError struct {
	ManuscriptID    string
	Expected        []Status
	Current         Status
	ExpectedStage   []PreCheckStatus
	CurrentStage    PreCheckStatus
	CycleID         string
	ExpectedCycle   []CycleStatus
	CurrentCycle    CycleStatus
	Detail          string
}

func (e *ConflictError) Error() string {
	switch {
	case e.CycleID != "":
		return fmt.Sprintf("cycle %s: expected status %v, found %q", e.CycleID, e.ExpectedCycle, e.CurrentCycle)
	case len(e.ExpectedStage) > 0:
		return fmt.Sprintf("manuscript %s: expected %v/%v, found %q/%q",
			e.ManuscriptID, e.Expected, e.ExpectedStage, e.Current, e.CurrentStage)
	case e.Detail != "":
		return fmt.Sprintf("manuscript %s: %s", e.ManuscriptID, e.Detail)
	default:
		return fmt.Sprintf("manuscript %s: expected status %v, found %q", e.ManuscriptID, e.Expected, e.Current)
	}
}

// IsConflict reports whether err is a state conflict.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// Gate identifies which publish precondition failed.
type Gate string

const (
	GatePayment    Gate = "payment"
	GateCycle      Gate = "production_cycle"
	GateProduction Gate = "production"
	GateProofing   Gate = "proofing"
)

// GateError blocks a pipeline transition on a state-dependent precondition,
// independent of role authorization.
type GateError struct {
	Gate   Gate
	Reason string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s gate: %s", e.Gate, e.Reason)
}

// IsGateBlocked reports whether err is a gate failure.
func IsGateBlocked(err error) bool {
	var g *GateError
	return errors.As(err, &g)
}
