package solver

import (
	"errors"
	"fmt"
)

// PlanError reports that no plan connects the given data to the target.
//
// Planning errors are structural: a run that gets one aborts before any job
// is scheduled.
type PlanError struct {
	// Code identifies the error category.
	Code PlanErrorCode

	// Message is a human-readable description.
	Message string

	// Target names the target transform.
	Target string
}

// PlanErrorCode categorizes planning errors.
type PlanErrorCode string

const (
	// ErrCodeUnsatisfiable means some required kind has no producer reachable
	// from the given data.
	ErrCodeUnsatisfiable PlanErrorCode = "UNSATISFIABLE"

	// ErrCodeHorizonExceeded means the search was cut off by the recursion
	// horizon before any plan was found.
	ErrCodeHorizonExceeded PlanErrorCode = "HORIZON_EXCEEDED"
)

// Error implements the error interface.
func (e *PlanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s: %s (target=%s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnsatisfiable returns true if err is a PlanError of any code.
// Uses errors.As to handle wrapped errors.
func IsUnsatisfiable(err error) bool {
	var pe *PlanError
	return errors.As(err, &pe)
}

// IsHorizonExceeded returns true if the search hit the recursion horizon.
func IsHorizonExceeded(err error) bool {
	var pe *PlanError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeHorizonExceeded
	}
	return false
}
