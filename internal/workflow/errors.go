package workflow

import (
	"errors"
	"fmt"
)

// RunError represents an error that ends or degrades a run.
//
// Planning codes (UNSATISFIABLE_PLAN, INVALID_LINEAGE) and CORRUPT_STATE are
// raised before any job starts. JOB_FAILED and MISSING_RESULT summarize
// per-job failures after the loop finishes.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// Module identifies the affected module, if any.
	Module string

	// Item identifies the affected item, if any.
	Item string

	// JobID identifies the affected job, if any.
	JobID string

	// Err is the underlying cause.
	Err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeUnsatisfiablePlan means no plan connects the given data to the
	// targets.
	ErrCodeUnsatisfiablePlan RunErrorCode = "UNSATISFIABLE_PLAN"

	// ErrCodeInvalidLineage means a module groups by an item the plan does
	// not place upstream of it.
	ErrCodeInvalidLineage RunErrorCode = "INVALID_LINEAGE"

	// ErrCodeJobFailed means at least one job failed.
	ErrCodeJobFailed RunErrorCode = "JOB_FAILED"

	// ErrCodeMissingResult means a job reported success without delivering
	// its promised outputs.
	ErrCodeMissingResult RunErrorCode = "MISSING_RESULT"

	// ErrCodeCorruptState means the saved state could not be resumed.
	ErrCodeCorruptState RunErrorCode = "CORRUPT_STATE"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	switch {
	case e.Module != "" && e.Item != "":
		return fmt.Sprintf("%s: %s (module=%s, item=%s)", e.Code, e.Message, e.Module, e.Item)
	case e.Module != "":
		return fmt.Sprintf("%s: %s (module=%s)", e.Code, e.Message, e.Module)
	case e.Item != "":
		return fmt.Sprintf("%s: %s (item=%s)", e.Code, e.Message, e.Item)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RunErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUnsatisfiable returns true if no plan reaches the targets.
// Uses errors.As to handle wrapped errors.
func IsUnsatisfiable(err error) bool {
	return hasCode(err, ErrCodeUnsatisfiablePlan)
}

// IsInvalidLineage returns true if a group-by declaration cannot be
// supported by the plan.
func IsInvalidLineage(err error) bool {
	return hasCode(err, ErrCodeInvalidLineage)
}

// IsJobFailure returns true for JOB_FAILED and MISSING_RESULT errors.
func IsJobFailure(err error) bool {
	return hasCode(err, ErrCodeJobFailed) || hasCode(err, ErrCodeMissingResult)
}

// IsCorruptState returns true if the saved state could not be resumed.
func IsCorruptState(err error) bool {
	return hasCode(err, ErrCodeCorruptState)
}

// NewLineageError creates a RunError for an unsupported group-by.
func NewLineageError(moduleName, item, by string) *RunError {
	return &RunError{
		Code:    ErrCodeInvalidLineage,
		Message: fmt.Sprintf("[%s] is not upstream of [%s]", by, item),
		Module:  moduleName,
		Item:    item,
	}
}
